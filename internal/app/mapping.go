package app

import (
	"strings"
	"time"

	"answerbot/internal/classify"
	"answerbot/internal/config"
	"answerbot/internal/generate"
	"answerbot/internal/httpapi"
	"answerbot/internal/notify"
	"answerbot/internal/pipeline"
	"answerbot/internal/platform"
	"answerbot/internal/quota"
	"answerbot/internal/scheduler"
	"answerbot/internal/selector"
	"answerbot/internal/storage"
	logx "answerbot/pkg/logx"
)

// Mapping helpers translate the on-disk config (duration strings, omitted
// sections) into the typed configs each component takes. Validation has
// already happened, so parse errors here are still reported but unexpected.

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Path:        strings.TrimSpace(cfg.Storage.Path),
		BusyTimeout: busy,
	}, nil
}

func mapHTTPConfig(cfg *config.Config) (httpapi.Config, error) {
	rt, err := config.ParseDurationField("http.read_timeout", cfg.HTTP.ReadTimeout)
	if err != nil {
		return httpapi.Config{}, err
	}
	wt, err := config.ParseDurationField("http.write_timeout", cfg.HTTP.WriteTimeout)
	if err != nil {
		return httpapi.Config{}, err
	}
	it, err := config.ParseDurationField("http.idle_timeout", cfg.HTTP.IdleTimeout)
	if err != nil {
		return httpapi.Config{}, err
	}
	return httpapi.Config{
		Addr:         strings.TrimSpace(cfg.HTTP.Addr),
		ReadTimeout:  rt,
		WriteTimeout: wt,
		IdleTimeout:  it,
	}, nil
}

func mapPlatformConfig(cfg *config.Config) (platform.Config, error) {
	timeout, err := config.ParseDurationField("platform.timeout", cfg.Platform.Timeout)
	if err != nil {
		return platform.Config{}, err
	}
	return platform.Config{
		BaseURL:    strings.TrimSpace(cfg.Platform.BaseURL),
		RatePerSec: cfg.Platform.RatePerSec,
		Timeout:    timeout,
	}, nil
}

func mapGeneratorConfig(cfg *config.Config) (generate.Config, error) {
	timeout, err := config.ParseDurationField("generator.timeout", cfg.Generator.Timeout)
	if err != nil {
		return generate.Config{}, err
	}
	return generate.Config{
		BaseURL: strings.TrimSpace(cfg.Generator.BaseURL),
		Model:   strings.TrimSpace(cfg.Generator.Model),
		Timeout: timeout,
	}, nil
}

func mapAlertsConfig(cfg *config.Config) notify.Config {
	a := cfg.Alerts
	if a == nil {
		return notify.Config{}
	}
	return notify.Config{
		Enabled:   a.Enabled,
		Token:     a.Token,
		ChatID:    a.ChatID,
		QueueSize: a.QueueSize,
	}
}

func mapDriverConfig(cfg *config.Config) (scheduler.Config, error) {
	loc := time.Local
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return scheduler.Config{}, err
		}
		loc = l
	}

	callTimeout, err := config.ParseDurationField("scheduler.call_timeout", cfg.Scheduler.CallTimeout)
	if err != nil {
		return scheduler.Config{}, err
	}
	maxAge, err := config.ParseDurationField("selector.max_age", cfg.Selector.MaxAge)
	if err != nil {
		return scheduler.Config{}, err
	}
	delayMin, err := config.ParseDurationField("pipeline.delay_min", cfg.Pipeline.DelayMin)
	if err != nil {
		return scheduler.Config{}, err
	}
	delayMax, err := config.ParseDurationField("pipeline.delay_max", cfg.Pipeline.DelayMax)
	if err != nil {
		return scheduler.Config{}, err
	}

	return scheduler.Config{
		ErrorCeiling: cfg.Scheduler.ErrorCeiling,
		CallTimeout:  callTimeout,
		PageSize:     cfg.Scheduler.PageSize,
		Location:     loc,
		Quota: quota.Limits{
			DailyCap:  cfg.Quota.DailyCap,
			HourlyCap: cfg.Quota.HourlyCap,
			Location:  loc,
		},
		Classifier: classify.Rules{
			DenyList:      cfg.Classifier.DenyList,
			IntentPhrases: cfg.Classifier.IntentPhrases,
			MaxComments:   cfg.Classifier.MaxComments,
			MinChars:      cfg.Classifier.MinChars,
			MaxChars:      cfg.Classifier.MaxChars,
		},
		Selector: selector.Options{
			MaxAttempts: cfg.Selector.MaxAttempts,
			MinScore:    cfg.Selector.MinScore,
			MaxAge:      maxAge,
		},
		Pipeline: pipeline.Options{
			DelayMin: delayMin,
			DelayMax: delayMax,
		},
	}, nil
}
