package scheduler

import (
	"fmt"
	"strings"
	"time"
)

const everyPrefix = "every:"

// Trigger is a parsed schedule: either a cron expression or a fixed interval.
type Trigger struct {
	Cron  string
	Every time.Duration
}

func (t Trigger) IsInterval() bool { return t.Every > 0 }

func (t Trigger) String() string {
	if t.IsInterval() {
		return everyPrefix + t.Every.String()
	}
	return t.Cron
}

// ParseTrigger reads the schedule strings the service configures: cron
// expressions for the sweep ("0 * * * *", "@hourly", optional seconds field)
// and Go durations, optionally prefixed with "every:", for the relay and
// gauge refresh ("1m", "every:30s"). Cron syntax is checked on registration.
func ParseTrigger(raw string) (Trigger, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Trigger{}, fmt.Errorf("schedule required")
	}
	if strings.HasPrefix(strings.ToLower(s), everyPrefix) {
		return parseEvery(s[len(everyPrefix):])
	}
	if strings.HasPrefix(s, "@") || strings.ContainsAny(s, " \t") {
		return Trigger{Cron: s}, nil
	}
	if t, err := parseEvery(s); err == nil {
		return t, nil
	}
	return Trigger{}, fmt.Errorf("invalid schedule %q (use cron like \"0 * * * *\" or an interval like \"1m\")", raw)
}

func parseEvery(v string) (Trigger, error) {
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return Trigger{}, fmt.Errorf("invalid interval %q: %w", v, err)
	}
	if d < time.Second {
		return Trigger{}, fmt.Errorf("interval %s is shorter than one second", d)
	}
	return Trigger{Every: d}, nil
}
