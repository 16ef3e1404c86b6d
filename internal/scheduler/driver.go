// Package scheduler is the tick driver: the component invoked on a fixed
// cadence that walks every runnable session, enforces quotas, selects a
// candidate, runs the answer pipeline and writes the outcome back.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"answerbot/internal/classify"
	"answerbot/internal/pipeline"
	"answerbot/internal/platform"
	"answerbot/internal/quota"
	"answerbot/internal/selector"
	"answerbot/internal/session"
	"answerbot/internal/storage"
	"answerbot/pkg/logx"
)

var (
	// ErrTickRunning is returned when a tick overlaps a still-running one.
	// The caller should treat it as "skip", not as a failure.
	ErrTickRunning = errors.New("tick already in progress")

	// ErrNoSession is returned by StopSession when the user has nothing
	// running.
	ErrNoSession = errors.New("no runnable session for user")
)

// Store is the durable-state surface the driver needs.
type Store interface {
	CreateSession(ctx context.Context, s *session.Session) error
	SaveSession(ctx context.Context, s *session.Session) error
	CurrentSession(ctx context.Context, userID string) (*session.Session, error)
	RunnableSessions(ctx context.Context) ([]*session.Session, error)

	AppendAnswer(ctx context.Context, a *storage.Answer) error
	HasPostedAnswer(ctx context.Context, userID, postID string) (bool, error)
	CountPostedSince(ctx context.Context, userID string, since time.Time) (int, error)

	ActiveChannels(ctx context.Context, userID string) ([]string, error)
	Credentials(ctx context.Context, userID string) (*storage.Credentials, error)
}

// PlatformAPI is the forum platform collaborator, token passed per call.
type PlatformAPI interface {
	RecentPosts(ctx context.Context, token, channel string, limit int) ([]platform.Post, error)
	PostComment(ctx context.Context, token, postID, text string) (string, error)
}

// GeneratorAPI is the answer-generation collaborator, key passed per call.
type GeneratorAPI interface {
	Generate(ctx context.Context, key, prompt string) (string, error)
}

// Alerter receives operator-facing events. Implementations must not block.
type Alerter interface {
	SessionDeactivated(userID string, errorCount int)
	TickFailed(err error)
}

// Config carries every tunable the driver and its parts use. All of it can
// be swapped at runtime via Apply.
type Config struct {
	// ErrorCeiling deactivates a session once its error count reaches it.
	ErrorCeiling int
	// CallTimeout bounds each external HTTP call so one stalled dependency
	// cannot stall the tick indefinitely.
	CallTimeout time.Duration
	// PageSize is the recent-posts fetch size per channel.
	PageSize int
	// Location anchors the local-midnight day boundary for quotas.
	Location *time.Location

	Quota      quota.Limits
	Classifier classify.Rules
	Selector   selector.Options
	Pipeline   pipeline.Options
}

func (c Config) withDefaults() Config {
	if c.ErrorCeiling <= 0 {
		c.ErrorCeiling = session.DefaultErrorCeiling
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 20 * time.Second
	}
	if c.PageSize <= 0 {
		c.PageSize = 25
	}
	if c.Location == nil {
		c.Location = time.Local
	}
	c.Quota.Location = c.Location
	return c
}

// Driver processes sessions one at a time within a tick. Per-user advisory
// locks keep quota read-then-act atomic with respect to that user's other
// entry points (start/stop, a future parallel tick).
type Driver struct {
	store     Store
	platform  PlatformAPI
	generator GeneratorAPI
	alerts    Alerter
	log       logx.Logger

	quota    *quota.Tracker
	selector *selector.Selector
	pipeline *pipeline.Pipeline

	cfgMu sync.Mutex
	cfg   Config

	// tickMu is the invocation-boundary guard: two overlapping ticks must
	// never run.
	tickMu sync.Mutex

	locksMu   sync.Mutex
	userLocks map[string]*sync.Mutex

	now func() time.Time
}

func New(store Store, pf PlatformAPI, gen GeneratorAPI, alerts Alerter, cfg Config, log logx.Logger) *Driver {
	cfg = cfg.withDefaults()
	d := &Driver{
		store:     store,
		platform:  pf,
		generator: gen,
		alerts:    alerts,
		log:       log,
		cfg:       cfg,
		userLocks: map[string]*sync.Mutex{},
		now:       time.Now,
	}
	d.quota = quota.NewTracker(store, cfg.Quota)
	d.selector = selector.New(classify.New(cfg.Classifier), cfg.Selector, log.With(logx.String("comp", "selector")))
	d.pipeline = pipeline.New(cfg.Pipeline, log.With(logx.String("comp", "pipeline")))
	return d
}

// Apply swaps the driver's tunables at runtime (config hot reload).
func (d *Driver) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	d.cfgMu.Lock()
	d.cfg = cfg
	d.cfgMu.Unlock()

	d.quota.SetLimits(cfg.Quota)
	d.selector.SetClassifier(classify.New(cfg.Classifier))
	d.selector.SetOptions(cfg.Selector)
	d.pipeline.SetOptions(cfg.Pipeline)
}

func (d *Driver) config() Config {
	d.cfgMu.Lock()
	defer d.cfgMu.Unlock()
	return d.cfg
}

func (d *Driver) lockFor(userID string) *sync.Mutex {
	d.locksMu.Lock()
	defer d.locksMu.Unlock()
	mu := d.userLocks[userID]
	if mu == nil {
		mu = &sync.Mutex{}
		d.userLocks[userID] = mu
	}
	return mu
}

// StartSession creates a fresh active session for the user, closing any
// prior runnable one. The channel list is snapshotted from the user's
// monitoring entries.
func (d *Driver) StartSession(ctx context.Context, userID string) (*session.Session, error) {
	mu := d.lockFor(userID)
	mu.Lock()
	defer mu.Unlock()

	channels, err := d.store.ActiveChannels(ctx, userID)
	if err != nil {
		return nil, err
	}
	sess := session.New(userID, channels, d.now())
	if err := d.store.CreateSession(ctx, sess); err != nil {
		return nil, err
	}
	d.log.Info("session started",
		logx.String("user", userID), logx.String("session", sess.ID), logx.Int("channels", len(channels)))
	return sess, nil
}

// CurrentSession returns the user's runnable session, or nil when none.
func (d *Driver) CurrentSession(ctx context.Context, userID string) (*session.Session, error) {
	return d.store.CurrentSession(ctx, userID)
}

// StopSession terminates the user's runnable session, if any.
func (d *Driver) StopSession(ctx context.Context, userID string) (*session.Session, error) {
	mu := d.lockFor(userID)
	mu.Lock()
	defer mu.Unlock()

	sess, err := d.store.CurrentSession(ctx, userID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, ErrNoSession
	}
	sess.Stop(d.now())
	if err := d.store.SaveSession(ctx, sess); err != nil {
		return nil, err
	}
	d.log.Info("session stopped",
		logx.String("user", userID), logx.String("session", sess.ID))
	return sess, nil
}

func (d *Driver) alertDeactivated(userID string, errorCount int) {
	if d.alerts != nil {
		d.alerts.SessionDeactivated(userID, errorCount)
	}
}

func (d *Driver) alertTickFailed(err error) {
	if d.alerts != nil {
		d.alerts.TickFailed(err)
	}
}
