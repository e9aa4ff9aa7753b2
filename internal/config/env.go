package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
)

// envOverrides are secrets and deployment paths that may live outside the file.
type envOverrides struct {
	SMTPPassword string `env:"STILLALIVE_SMTP_PASSWORD"`
	APIToken     string `env:"STILLALIVE_API_TOKEN"`
	NATSURL      string `env:"STILLALIVE_NATS_URL"`
	DBPath       string `env:"STILLALIVE_DB_PATH"`
}

// ApplyEnv overlays non-empty environment overrides onto cfg.
func ApplyEnv(cfg *Config) error {
	var o envOverrides
	if err := env.Parse(&o); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	applyOverrides(cfg, o)
	return nil
}

// ApplyEnvMap is ApplyEnv with an explicit environment, for tests and tools.
func ApplyEnvMap(cfg *Config, vars map[string]string) error {
	var o envOverrides
	if err := env.ParseWithOptions(&o, env.Options{Environment: vars}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	applyOverrides(cfg, o)
	return nil
}

func applyOverrides(cfg *Config, o envOverrides) {
	if cfg == nil {
		return
	}
	if v := strings.TrimSpace(o.SMTPPassword); v != "" {
		cfg.Mail.Password = v
	}
	if v := strings.TrimSpace(o.APIToken); v != "" {
		cfg.HTTP.Token = v
	}
	if v := strings.TrimSpace(o.NATSURL); v != "" {
		cfg.Events.NATSURL = v
	}
	if v := strings.TrimSpace(o.DBPath); v != "" {
		cfg.Storage.Path = v
	}
}
