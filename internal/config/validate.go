package config

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Validate checks a parsed config for internal consistency. It is installed
// as the manager's validator so a bad edit never reaches subscribers.
func Validate(_ context.Context, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	if strings.TrimSpace(cfg.Storage.Path) == "" {
		return fmt.Errorf("storage.path: required")
	}
	if _, err := ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
		return err
	}

	for _, f := range []struct{ path, raw string }{
		{"http.read_timeout", cfg.HTTP.ReadTimeout},
		{"http.write_timeout", cfg.HTTP.WriteTimeout},
		{"http.idle_timeout", cfg.HTTP.IdleTimeout},
		{"scheduler.call_timeout", cfg.Scheduler.CallTimeout},
		{"selector.max_age", cfg.Selector.MaxAge},
		{"platform.timeout", cfg.Platform.Timeout},
		{"generator.timeout", cfg.Generator.Timeout},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			return err
		}
	}

	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("scheduler.timezone: %w", err)
		}
	}
	if cfg.Scheduler.ErrorCeiling < 0 {
		return fmt.Errorf("scheduler.error_ceiling: must be >= 0")
	}
	if cfg.Quota.DailyCap < 0 || cfg.Quota.HourlyCap < 0 {
		return fmt.Errorf("quota: caps must be >= 0")
	}
	if cfg.Quota.DailyCap > 0 && cfg.Quota.HourlyCap > cfg.Quota.DailyCap {
		return fmt.Errorf("quota: hourly_cap must not exceed daily_cap")
	}

	dmin, err := ParseDurationField("pipeline.delay_min", cfg.Pipeline.DelayMin)
	if err != nil {
		return err
	}
	dmax, err := ParseDurationField("pipeline.delay_max", cfg.Pipeline.DelayMax)
	if err != nil {
		return err
	}
	if dmin > 0 && dmax > 0 && dmax < dmin {
		return fmt.Errorf("pipeline: delay_max must be >= delay_min")
	}

	if strings.TrimSpace(cfg.Platform.BaseURL) == "" {
		return fmt.Errorf("platform.base_url: required")
	}
	if strings.TrimSpace(cfg.Generator.BaseURL) == "" {
		return fmt.Errorf("generator.base_url: required")
	}

	if a := cfg.Alerts; a != nil && a.Enabled {
		if strings.TrimSpace(a.Token) == "" {
			return fmt.Errorf("alerts.token: required when alerts are enabled")
		}
		if a.ChatID == 0 {
			return fmt.Errorf("alerts.chat_id: required when alerts are enabled")
		}
	}

	return nil
}
