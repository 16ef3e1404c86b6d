package config

import (
	"reflect"
	"sort"
	"strings"

	logx "answerbot/pkg/logx"
)

// SummarizeConfigChange returns a compact list of changed sections plus
// safe structured attrs for logging. Secrets (tokens, keys) never appear in
// the attrs, only whether they are set.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 24)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.Bool("storage.path_set", strings.TrimSpace(newCfg.Storage.Path) != ""),
			logx.String("storage.busy_timeout", strings.TrimSpace(newCfg.Storage.BusyTimeout)),
		)
	}

	if !reflect.DeepEqual(oldCfg.HTTP, newCfg.HTTP) {
		changed = append(changed, "http")
		attrs = append(attrs,
			logx.Bool("http.enabled", newCfg.HTTP.Enabled),
			logx.String("http.addr", strings.TrimSpace(newCfg.HTTP.Addr)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Scheduler, newCfg.Scheduler) {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.String("scheduler.spec", strings.TrimSpace(newCfg.Scheduler.Spec)),
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
			logx.Int("scheduler.error_ceiling", newCfg.Scheduler.ErrorCeiling),
		)
	}

	if !reflect.DeepEqual(oldCfg.Quota, newCfg.Quota) {
		changed = append(changed, "quota")
		attrs = append(attrs,
			logx.Int("quota.daily_cap", newCfg.Quota.DailyCap),
			logx.Int("quota.hourly_cap", newCfg.Quota.HourlyCap),
		)
	}

	if !reflect.DeepEqual(oldCfg.Classifier, newCfg.Classifier) {
		changed = append(changed, "classifier")
		attrs = append(attrs,
			logx.Int("classifier.deny_list_len", len(newCfg.Classifier.DenyList)),
			logx.Int("classifier.intent_phrases_len", len(newCfg.Classifier.IntentPhrases)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Selector, newCfg.Selector) {
		changed = append(changed, "selector")
		attrs = append(attrs,
			logx.Int("selector.max_attempts", newCfg.Selector.MaxAttempts),
			logx.Int("selector.min_score", newCfg.Selector.MinScore),
			logx.String("selector.max_age", strings.TrimSpace(newCfg.Selector.MaxAge)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Pipeline, newCfg.Pipeline) {
		changed = append(changed, "pipeline")
		attrs = append(attrs,
			logx.String("pipeline.delay_min", strings.TrimSpace(newCfg.Pipeline.DelayMin)),
			logx.String("pipeline.delay_max", strings.TrimSpace(newCfg.Pipeline.DelayMax)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Platform, newCfg.Platform) {
		changed = append(changed, "platform")
		attrs = append(attrs,
			logx.String("platform.base_url", strings.TrimSpace(newCfg.Platform.BaseURL)),
			logx.String("platform.timeout", strings.TrimSpace(newCfg.Platform.Timeout)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Generator, newCfg.Generator) {
		changed = append(changed, "generator")
		attrs = append(attrs,
			logx.String("generator.base_url", strings.TrimSpace(newCfg.Generator.BaseURL)),
			logx.String("generator.model", strings.TrimSpace(newCfg.Generator.Model)),
		)
	}

	// Alerts (never log the token).
	oldA := oldCfg.Alerts
	newA := newCfg.Alerts
	if (oldA == nil) != (newA == nil) || (oldA != nil && newA != nil && !reflect.DeepEqual(*oldA, *newA)) {
		changed = append(changed, "alerts")
		enabled := newA != nil && newA.Enabled
		tokenSet := newA != nil && strings.TrimSpace(newA.Token) != ""
		attrs = append(attrs,
			logx.Bool("alerts.enabled", enabled),
			logx.Bool("alerts.token_set", tokenSet),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}
