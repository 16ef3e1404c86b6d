package config

// Config is the full on-disk configuration. JSON and YAML files are both
// accepted; YAML is coerced to JSON before the strict decode.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	HTTP      HTTPConfig      `json:"http"`
	Scheduler SchedulerConfig `json:"scheduler"`

	Quota      QuotaConfig      `json:"quota,omitempty"`
	Classifier ClassifierConfig `json:"classifier,omitempty"`
	Selector   SelectorConfig   `json:"selector,omitempty"`
	Pipeline   PipelineConfig   `json:"pipeline,omitempty"`

	Platform  PlatformConfig  `json:"platform"`
	Generator GeneratorConfig `json:"generator"`
	Alerts    *AlertsConfig   `json:"alerts,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// HTTPConfig controls the operational HTTP API (health, manual tick,
// session start/stop). Prefer binding to localhost.
type HTTPConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default: "127.0.0.1:8790"

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

// SchedulerConfig controls the tick cadence.
//
// Spec is a cron expression with optional seconds field. When omitted the
// driver runs every 10 minutes.
type SchedulerConfig struct {
	Enabled bool   `json:"enabled"`
	Spec    string `json:"spec,omitempty"` // default: "@every 10m"

	// Timezone anchors both the cron schedule and the daily quota boundary.
	Timezone string `json:"timezone,omitempty"`

	ErrorCeiling int    `json:"error_ceiling,omitempty"`
	CallTimeout  string `json:"call_timeout,omitempty"`
	PageSize     int    `json:"page_size,omitempty"`
}

type QuotaConfig struct {
	DailyCap  int `json:"daily_cap,omitempty"`
	HourlyCap int `json:"hourly_cap,omitempty"`
}

// ClassifierConfig tunes question detection. Nil slices keep the built-in
// lists; explicitly empty slices disable them.
type ClassifierConfig struct {
	DenyList      []string `json:"deny_list,omitempty"`
	IntentPhrases []string `json:"intent_phrases,omitempty"`
	MaxComments   int      `json:"max_comments,omitempty"`
	MinChars      int      `json:"min_chars,omitempty"`
	MaxChars      int      `json:"max_chars,omitempty"`
}

type SelectorConfig struct {
	MaxAttempts int    `json:"max_attempts,omitempty"`
	MinScore    int    `json:"min_score,omitempty"`
	MaxAge      string `json:"max_age,omitempty"`
}

type PipelineConfig struct {
	DelayMin string `json:"delay_min,omitempty"`
	DelayMax string `json:"delay_max,omitempty"`
}

type PlatformConfig struct {
	BaseURL    string `json:"base_url"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
	Timeout    string `json:"timeout,omitempty"`
}

type GeneratorConfig struct {
	BaseURL string `json:"base_url"`
	Model   string `json:"model,omitempty"`
	Timeout string `json:"timeout,omitempty"`
}

// AlertsConfig controls operator alerts over Telegram. Nil means disabled.
type AlertsConfig struct {
	Enabled   bool   `json:"enabled"`
	Token     string `json:"token"`
	ChatID    int64  `json:"chat_id"`
	QueueSize int    `json:"queue_size,omitempty"`
}
