package config

import (
	"os"
	"strings"
)

// Environment fallbacks for fields that carry secrets or deploy-specific
// endpoints, so they can stay out of the config file (main loads .env into
// the environment at startup). A non-empty value in the file wins.
const (
	EnvPlatformBaseURL  = "ANSWERBOT_PLATFORM_BASE_URL"
	EnvGeneratorBaseURL = "ANSWERBOT_GENERATOR_BASE_URL"
	EnvAlertsToken      = "ANSWERBOT_ALERTS_TOKEN"
)

func applyEnv(cfg *Config) {
	if cfg == nil {
		return
	}
	if strings.TrimSpace(cfg.Platform.BaseURL) == "" {
		cfg.Platform.BaseURL = strings.TrimSpace(os.Getenv(EnvPlatformBaseURL))
	}
	if strings.TrimSpace(cfg.Generator.BaseURL) == "" {
		cfg.Generator.BaseURL = strings.TrimSpace(os.Getenv(EnvGeneratorBaseURL))
	}
	if cfg.Alerts != nil && strings.TrimSpace(cfg.Alerts.Token) == "" {
		cfg.Alerts.Token = strings.TrimSpace(os.Getenv(EnvAlertsToken))
	}
}
