package config

import (
	"reflect"
	"strings"

	logx "stillalive/pkg/logx"
)

// SummarizeChange lists the sections that differ between oldCfg and newCfg
// plus log fields describing the new values. Secrets are reported only as
// "set" flags.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}
	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs, logx.String("storage.path", newCfg.Storage.Path))
	}
	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
		)
	}
	if oldCfg.TaskEngine != newCfg.TaskEngine {
		changed = append(changed, "task_engine")
		attrs = append(attrs,
			logx.Int("task_engine.workers", newCfg.TaskEngine.Workers),
			logx.Int("task_engine.queue_size", newCfg.TaskEngine.QueueSize),
		)
	}
	if oldCfg.Will != newCfg.Will {
		changed = append(changed, "will")
		attrs = append(attrs,
			logx.String("will.sweep_schedule", newCfg.Will.SweepSchedule),
			logx.String("will.relay_interval", newCfg.Will.RelayInterval),
			logx.Bool("will.expire_never_reported", newCfg.Will.ExpireNeverReported),
		)
	}
	if mailChanged(oldCfg.Mail, newCfg.Mail) {
		changed = append(changed, "mail")
		attrs = append(attrs,
			logx.String("mail.driver", newCfg.Mail.Driver),
			logx.String("mail.host", newCfg.Mail.Host),
			logx.Bool("mail.password_set", newCfg.Mail.Password != ""),
		)
	}
	if oldCfg.HTTP != newCfg.HTTP {
		changed = append(changed, "http")
		attrs = append(attrs,
			logx.Bool("http.enabled", newCfg.HTTP.Enabled),
			logx.String("http.addr", newCfg.HTTP.Addr),
			logx.Bool("http.token_set", newCfg.HTTP.Token != ""),
		)
	}
	if !reflect.DeepEqual(oldCfg.Events, newCfg.Events) {
		changed = append(changed, "events")
		attrs = append(attrs,
			logx.Bool("events.enabled", newCfg.Events.Enabled),
			logx.Bool("events.nats_url_set", newCfg.Events.NATSURL != ""),
		)
	}
	return changed, attrs
}

func mailChanged(a, b MailConfig) bool {
	ua, ub := a.UseTLS, b.UseTLS
	a.UseTLS, b.UseTLS = nil, nil
	if a != b {
		return true
	}
	if (ua == nil) != (ub == nil) {
		return true
	}
	return ua != nil && *ua != *ub
}
