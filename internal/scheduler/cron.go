package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"answerbot/pkg/logx"
)

// DefaultTickSpec is the cadence when no cron spec is configured.
const DefaultTickSpec = "@every 10m"

// Ticker drives the periodic tick from a cron spec. Specs support an
// optional seconds field and descriptors like "@every 10m".
type Ticker struct {
	driver *Driver
	log    logx.Logger
	parser cron.Parser

	mu      sync.Mutex
	c       *cron.Cron
	spec    string
	loc     *time.Location
	running bool

	// baseCtx is the lifecycle context ticks inherit from.
	baseCtx context.Context
}

func NewTicker(driver *Driver, log logx.Logger) *Ticker {
	return &Ticker{
		driver:  driver,
		log:     log,
		parser:  cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		baseCtx: context.Background(),
	}
}

// Start schedules ticks per spec in loc. It replaces any previous schedule,
// so it doubles as the hot-reload entry point.
func (t *Ticker) Start(ctx context.Context, spec string, loc *time.Location) error {
	if spec == "" {
		spec = DefaultTickSpec
	}
	if loc == nil {
		loc = time.Local
	}
	sched, err := t.parser.Parse(spec)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.c != nil {
		t.c.Stop()
	}
	t.baseCtx = ctx
	t.spec = spec
	t.loc = loc

	t.c = cron.New(cron.WithParser(t.parser), cron.WithLocation(loc))
	t.c.Schedule(sched, cron.FuncJob(t.tick))
	t.c.Start()
	t.running = true

	t.log.Info("tick schedule started",
		logx.String("spec", spec), logx.String("timezone", loc.String()))
	return nil
}

// Stop halts scheduling and waits for a running tick to finish.
func (t *Ticker) Stop() {
	t.mu.Lock()
	c := t.c
	t.c = nil
	t.running = false
	t.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
}

func (t *Ticker) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

func (t *Ticker) tick() {
	t.mu.Lock()
	ctx := t.baseCtx
	t.mu.Unlock()

	if ctx.Err() != nil {
		return
	}
	if _, err := t.driver.RunTick(ctx); err != nil && !errors.Is(err, ErrTickRunning) {
		t.log.Error("scheduled tick failed", logx.Err(err))
	}
}
