// Package app wires configuration, storage, clients and the scheduler into
// one process with hot reload and graceful shutdown.
package app

import (
	"context"
	"time"

	"answerbot/internal/config"
	"answerbot/internal/generate"
	"answerbot/internal/httpapi"
	"answerbot/internal/notify"
	"answerbot/internal/platform"
	"answerbot/internal/runtime/supervisor"
	"answerbot/internal/scheduler"
	"answerbot/internal/storage"
	logx "answerbot/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service

	store  *storage.Store
	alerts *notify.Service
	driver *scheduler.Driver
	ticker *scheduler.Ticker
	http   *httpapi.Server
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := config.Validate(context.Background(), cfg); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg))
	log = log.With(logx.String("comp", "app"))

	storeCfg, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storeCfg, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}

	platCfg, err := mapPlatformConfig(cfg)
	if err != nil {
		return nil, err
	}
	genCfg, err := mapGeneratorConfig(cfg)
	if err != nil {
		return nil, err
	}
	pf, err := platform.New(platCfg, log.With(logx.String("comp", "platform")))
	if err != nil {
		return nil, err
	}
	gen, err := generate.New(genCfg, log.With(logx.String("comp", "generator")))
	if err != nil {
		return nil, err
	}

	alerts, err := notify.New(mapAlertsConfig(cfg), log.With(logx.String("comp", "alerts")))
	if err != nil {
		return nil, err
	}

	driverCfg, err := mapDriverConfig(cfg)
	if err != nil {
		return nil, err
	}
	driver := scheduler.New(store, pf, gen, alerts, driverCfg,
		log.With(logx.String("comp", "scheduler")))
	ticker := scheduler.NewTicker(driver, log.With(logx.String("comp", "ticker")))

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		store:   store,
		alerts:  alerts,
		driver:  driver,
		ticker:  ticker,
	}

	if cfg.HTTP.Enabled {
		httpCfg, err := mapHTTPConfig(cfg)
		if err != nil {
			return nil, err
		}
		a.http = httpapi.New(httpCfg, driver, store, log.With(logx.String("comp", "http")))
	}

	return a, nil
}

// Done is closed when the supervisor context is canceled (fatal error or
// Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log),
		supervisor.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(config.Validate)

	a.alerts.Start(a.sup.Context())

	cfg := a.cfgm.Get()
	if cfg.Scheduler.Enabled {
		loc := a.schedulerLocation(cfg)
		if err := a.ticker.Start(a.sup.Context(), cfg.Scheduler.Spec, loc); err != nil {
			return err
		}
	} else {
		a.log.Info("scheduler disabled; ticks only via http api")
	}

	if a.http != nil {
		a.sup.Go("http.serve", func(ctx context.Context) error {
			return a.http.Serve()
		})
	}

	// Hot reload: watch the file, then apply committed configs as they are
	// published.
	updates := a.cfgm.Subscribe(4)
	a.sup.Go0("config.watch", func(ctx context.Context) {
		_ = a.cfgm.Watch(ctx)
	})
	a.sup.Go0("config.reload", func(ctx context.Context) {
		old := cfg
		for {
			select {
			case <-ctx.Done():
				return
			case next, ok := <-updates:
				if !ok {
					return
				}
				a.applyConfig(ctx, old, next)
				old = next
			}
		}
	})

	a.log.Info("started")
	return nil
}

func (a *App) applyConfig(ctx context.Context, old, next *config.Config) {
	changed, attrs := config.SummarizeConfigChange(old, next)
	if len(changed) == 0 {
		return
	}
	a.log.Info("config reloaded", append([]logx.Field{logx.Any("sections", changed)}, attrs...)...)

	a.logs.Apply(mapLoggingConfig(next))

	driverCfg, err := mapDriverConfig(next)
	if err != nil {
		a.log.Warn("config reload: driver mapping failed", logx.Err(err))
		return
	}
	a.driver.Apply(driverCfg)

	// Cadence changes take effect by rescheduling; everything else inside
	// the driver was already swapped above.
	if old == nil || old.Scheduler != next.Scheduler {
		if next.Scheduler.Enabled {
			if err := a.ticker.Start(ctx, next.Scheduler.Spec, a.schedulerLocation(next)); err != nil {
				a.log.Warn("config reload: reschedule failed", logx.Err(err))
			}
		} else if a.ticker.Running() {
			a.ticker.Stop()
			a.log.Info("scheduler disabled by reload")
		}
	}

	// Sections that require a restart to change.
	for _, section := range changed {
		switch section {
		case "storage", "http", "platform", "generator", "alerts":
			a.log.Warn("config section requires restart to apply", logx.String("section", section))
		}
	}
}

func (a *App) schedulerLocation(cfg *config.Config) *time.Location {
	loc := time.Local
	if tz := cfg.Scheduler.Timezone; tz != "" {
		if l, err := time.LoadLocation(tz); err == nil {
			loc = l
		}
	}
	return loc
}

func (a *App) Stop(ctx context.Context) error {
	a.ticker.Stop()

	if a.http != nil {
		sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := a.http.Shutdown(sctx); err != nil {
			a.log.Warn("http shutdown", logx.Err(err))
		}
		cancel()
	}

	var err error
	if a.sup != nil {
		err = a.sup.Stop(ctx)
	}

	a.alerts.Stop()

	if cerr := a.store.Close(); cerr != nil && err == nil {
		err = cerr
	}
	a.log.Info("stopped")
	_ = a.logs.Close()
	return err
}
