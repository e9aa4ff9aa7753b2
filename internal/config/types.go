package config

// Config is the stillalive runtime configuration, loaded from JSON or YAML.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
// Secrets may be supplied via environment variables instead (see env.go).
type Config struct {
	Logging    LoggingConfig    `json:"logging"`
	Storage    StorageConfig    `json:"storage"`
	Scheduler  SchedulerConfig  `json:"scheduler"`
	TaskEngine TaskEngineConfig `json:"task_engine"`
	Will       WillConfig       `json:"will"`
	Mail       MailConfig       `json:"mail"`
	HTTP       HTTPConfig       `json:"http"`
	Events     EventsConfig     `json:"events"`
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

// StorageConfig points at the SQLite database.
//
// Example:
//
//	"storage": { "path": "./stillalive.db", "busy_timeout": "5s" }
type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// SchedulerConfig controls the trigger service.
type SchedulerConfig struct {
	Enabled  bool   `json:"enabled"`
	Timezone string `json:"timezone,omitempty"`
}

// TaskEngineConfig controls the worker pool that runs sweeps, relay ticks and
// notification deliveries.
//
// Defaults (when fields are omitted/zero):
//   - workers: 2
//   - queue_size: 256
//   - default_timeout: "0s" (disabled)
//   - history_size: 200
type TaskEngineConfig struct {
	Workers        int    `json:"workers,omitempty"`
	QueueSize      int    `json:"queue_size,omitempty"`
	DefaultTimeout string `json:"default_timeout,omitempty"`
	HistorySize    int    `json:"history_size,omitempty"`
}

// WillConfig controls the sweep, the outbox relay and delivery retries.
//
// Defaults:
//   - sweep_schedule: "0 * * * *" (hourly, standard 5-field cron)
//   - relay_interval: "1m"
//   - lease_ttl: "1h"
//   - attempts: 3, retry_base: "5m", retry_max_delay: "1h"
//   - send_timeout: "1m"
type WillConfig struct {
	SweepSchedule       string `json:"sweep_schedule,omitempty"`
	SweepTimeout        string `json:"sweep_timeout,omitempty"`
	RelayInterval       string `json:"relay_interval,omitempty"`
	LeaseTTL            string `json:"lease_ttl,omitempty"`
	BatchSize           int    `json:"batch_size,omitempty"`
	ExpireNeverReported bool   `json:"expire_never_reported,omitempty"`

	// BaseURL is the public site root used for display links in emails.
	BaseURL string `json:"base_url"`
	// Timezone renders the "last updated" line of emails. Empty means UTC.
	Timezone string `json:"timezone,omitempty"`

	Attempts      int    `json:"attempts,omitempty"`
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`
	SendTimeout   string `json:"send_timeout,omitempty"`
}

// MailConfig controls outgoing email. Driver "log" writes messages to the log
// instead of sending them.
type MailConfig struct {
	Driver     string `json:"driver,omitempty"`
	Host       string `json:"host"`
	Port       int    `json:"port,omitempty"`
	Username   string `json:"username,omitempty"`
	Password   string `json:"password,omitempty"` // prefer STILLALIVE_SMTP_PASSWORD; never logged
	From       string `json:"from"`
	UseTLS     *bool  `json:"use_tls,omitempty"`
	Timeout    string `json:"timeout,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// HTTPConfig controls the API server.
type HTTPConfig struct {
	Enabled         bool   `json:"enabled"`
	Addr            string `json:"addr,omitempty"`  // default ":8080"
	Token           string `json:"token,omitempty"` // owner API bearer token; never logged
	ReadTimeout     string `json:"read_timeout,omitempty"`
	WriteTimeout    string `json:"write_timeout,omitempty"`
	ShutdownTimeout string `json:"shutdown_timeout,omitempty"`
	Metrics         bool   `json:"metrics"`
	// Pprof mounts /debug/pprof behind the owner token.
	Pprof bool `json:"pprof,omitempty"`
}

// EventsConfig forwards in-process events to NATS.
type EventsConfig struct {
	Enabled bool   `json:"enabled"`
	NATSURL string `json:"nats_url,omitempty"`
	// Types lists event type prefixes to forward; empty forwards everything.
	Types []string `json:"types,omitempty"`
}
