package app

import (
	"fmt"
	"os"
	"strings"
	"time"

	"stillalive/internal/api"
	"stillalive/internal/config"
	"stillalive/internal/mailer"
	"stillalive/internal/storage"
	"stillalive/internal/task/engine"
	"stillalive/internal/task/scheduler"
	"stillalive/internal/will"
	logx "stillalive/pkg/logx"
)

const (
	defaultSweepSchedule = "0 * * * *"
	defaultRelayInterval = time.Minute
	defaultHTTPAddr      = ":8080"
)

func mapLogging(cfg *config.Config) logx.Config {
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
	path := strings.TrimSpace(cfg.Storage.Path)
	if path == "" {
		return storage.Config{}, fmt.Errorf("storage.path is required")
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{Path: path, BusyTimeout: busy}, nil
}

func mapTaskEngineConfig(cfg *config.Config) (engine.Config, error) {
	te := cfg.TaskEngine
	if te.Workers < 0 {
		return engine.Config{}, fmt.Errorf("task_engine.workers must be >= 0")
	}
	if te.QueueSize < 0 {
		return engine.Config{}, fmt.Errorf("task_engine.queue_size must be >= 0")
	}
	if te.HistorySize < 0 {
		return engine.Config{}, fmt.Errorf("task_engine.history_size must be >= 0")
	}
	defTimeout, err := config.ParseDurationField("task_engine.default_timeout", te.DefaultTimeout)
	if err != nil {
		return engine.Config{}, err
	}
	// The engine carries notification deliveries, so it is always on.
	return engine.Config{
		Enabled:        true,
		Workers:        te.Workers,
		QueueSize:      te.QueueSize,
		DefaultTimeout: defTimeout,
		HistorySize:    te.HistorySize,
	}, nil
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	tz := strings.TrimSpace(cfg.Scheduler.Timezone)
	if tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return scheduler.Config{}, fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
		}
	}
	return scheduler.Config{Enabled: cfg.Scheduler.Enabled, Timezone: tz}, nil
}

func mapMailConfig(cfg *config.Config) (mailer.Config, error) {
	mc := cfg.Mail
	driver := strings.ToLower(strings.TrimSpace(mc.Driver))
	switch driver {
	case "", "smtp":
		driver = "smtp"
		if strings.TrimSpace(mc.Host) == "" {
			return mailer.Config{}, fmt.Errorf("mail.host is required when mail.driver=smtp")
		}
	case "log":
	default:
		return mailer.Config{}, fmt.Errorf("unknown mail.driver: %s", mc.Driver)
	}
	if strings.TrimSpace(mc.From) == "" {
		return mailer.Config{}, fmt.Errorf("mail.from is required")
	}
	if mc.Port < 0 || mc.Port > 65535 {
		return mailer.Config{}, fmt.Errorf("mail.port out of range: %d", mc.Port)
	}
	if mc.RatePerSec < 0 {
		return mailer.Config{}, fmt.Errorf("mail.rate_per_sec must be >= 0")
	}
	timeout, err := config.ParseDurationOrDefault("mail.timeout", mc.Timeout, 30*time.Second)
	if err != nil {
		return mailer.Config{}, err
	}
	useTLS := true
	if mc.UseTLS != nil {
		useTLS = *mc.UseTLS
	}
	port := mc.Port
	if port == 0 {
		port = 587
	}
	return mailer.Config{
		Driver:     driver,
		Host:       strings.TrimSpace(mc.Host),
		Port:       port,
		Username:   mc.Username,
		Password:   mc.Password,
		From:       strings.TrimSpace(mc.From),
		UseTLS:     useTLS,
		Timeout:    timeout,
		RatePerSec: mc.RatePerSec,
	}, nil
}

// willSettings is the resolved will section.
type willSettings struct {
	SweepSchedule string
	SweepTimeout  time.Duration
	RelayInterval time.Duration
	Sweep         will.SweepConfig
	Relay         will.RelayConfig
	Dispatch      will.DispatchConfig
}

func mapWillConfig(cfg *config.Config) (willSettings, error) {
	wc := cfg.Will
	var out willSettings

	out.SweepSchedule = strings.TrimSpace(wc.SweepSchedule)
	if out.SweepSchedule == "" {
		out.SweepSchedule = defaultSweepSchedule
	}
	if _, err := scheduler.ParseTrigger(out.SweepSchedule); err != nil {
		return willSettings{}, fmt.Errorf("will.sweep_schedule: %w", err)
	}

	var err error
	if out.SweepTimeout, err = config.ParseDurationField("will.sweep_timeout", wc.SweepTimeout); err != nil {
		return willSettings{}, err
	}
	if out.RelayInterval, err = config.ParseDurationOrDefault("will.relay_interval", wc.RelayInterval, defaultRelayInterval); err != nil {
		return willSettings{}, err
	}
	leaseTTL, err := config.ParseDurationOrDefault("will.lease_ttl", wc.LeaseTTL, time.Hour)
	if err != nil {
		return willSettings{}, err
	}
	retryBase, err := config.ParseDurationOrDefault("will.retry_base", wc.RetryBase, 5*time.Minute)
	if err != nil {
		return willSettings{}, err
	}
	retryMaxDelay, err := config.ParseDurationOrDefault("will.retry_max_delay", wc.RetryMaxDelay, time.Hour)
	if err != nil {
		return willSettings{}, err
	}
	sendTimeout, err := config.ParseDurationOrDefault("will.send_timeout", wc.SendTimeout, time.Minute)
	if err != nil {
		return willSettings{}, err
	}
	if wc.Attempts < 0 || wc.BatchSize < 0 {
		return willSettings{}, fmt.Errorf("will.attempts and will.batch_size must be >= 0")
	}
	attempts := wc.Attempts
	if attempts == 0 {
		attempts = 3
	}
	// A lease only covers one send; retries go back through the outbox.
	if leaseTTL <= sendTimeout {
		return willSettings{}, fmt.Errorf("will.lease_ttl (%s) must exceed will.send_timeout (%s)", leaseTTL, sendTimeout)
	}

	loc := time.UTC
	if tz := strings.TrimSpace(wc.Timezone); tz != "" {
		if loc, err = time.LoadLocation(tz); err != nil {
			return willSettings{}, fmt.Errorf("will.timezone: invalid %q: %w", tz, err)
		}
	}

	host, _ := os.Hostname()
	out.Sweep = will.SweepConfig{ExpireNeverReported: wc.ExpireNeverReported}
	out.Relay = will.RelayConfig{
		Owner:         fmt.Sprintf("relay:%s:%d", host, os.Getpid()),
		LeaseTTL:      leaseTTL,
		BatchSize:     wc.BatchSize,
		Attempts:      attempts,
		RetryBase:     retryBase,
		RetryFactor:   2,
		RetryMaxDelay: retryMaxDelay,
		SendTimeout:   sendTimeout,
	}
	out.Dispatch = will.DispatchConfig{
		From:     strings.TrimSpace(cfg.Mail.From),
		BaseURL:  strings.TrimRight(strings.TrimSpace(wc.BaseURL), "/"),
		Location: loc,
	}
	return out, nil
}

type httpSettings struct {
	Enabled         bool
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	Metrics         bool
	Pprof           bool
	API             api.Config
}

func mapHTTPConfig(cfg *config.Config) (httpSettings, error) {
	hc := cfg.HTTP
	out := httpSettings{
		Enabled: hc.Enabled,
		Addr:    strings.TrimSpace(hc.Addr),
		Metrics: hc.Metrics,
		Pprof:   hc.Pprof,
		API:     api.Config{Token: strings.TrimSpace(hc.Token)},
	}
	if out.Pprof && out.API.Token == "" {
		return httpSettings{}, fmt.Errorf("http.pprof requires http.token")
	}
	if out.Addr == "" {
		out.Addr = defaultHTTPAddr
	}
	var err error
	if out.ReadTimeout, err = config.ParseDurationOrDefault("http.read_timeout", hc.ReadTimeout, 10*time.Second); err != nil {
		return httpSettings{}, err
	}
	if out.WriteTimeout, err = config.ParseDurationOrDefault("http.write_timeout", hc.WriteTimeout, 10*time.Second); err != nil {
		return httpSettings{}, err
	}
	if out.ShutdownTimeout, err = config.ParseDurationOrDefault("http.shutdown_timeout", hc.ShutdownTimeout, 3*time.Second); err != nil {
		return httpSettings{}, err
	}
	return out, nil
}

// validateConfig runs every mapper so a bad hot reload is rejected whole.
func validateConfig(cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapTaskEngineConfig(cfg); err != nil {
		return err
	}
	if _, err := mapSchedulerConfig(cfg); err != nil {
		return err
	}
	if _, err := mapMailConfig(cfg); err != nil {
		return err
	}
	if _, err := mapWillConfig(cfg); err != nil {
		return err
	}
	if _, err := mapHTTPConfig(cfg); err != nil {
		return err
	}
	if cfg.Events.Enabled && strings.TrimSpace(cfg.Events.NATSURL) == "" {
		return fmt.Errorf("events.nats_url is required when events.enabled is true")
	}
	return nil
}
