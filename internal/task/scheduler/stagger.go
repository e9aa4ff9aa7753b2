package scheduler

import (
	"hash/fnv"
	"time"

	"github.com/robfig/cron/v3"
)

// maxStagger bounds how far the first run of an interval schedule is pushed.
const maxStagger = 30 * time.Second

// staggered delays only the first run of an interval schedule, by an offset
// derived from the schedule name. will.relay and metrics.outbox both lease or
// count outbox rows; after a start they would otherwise hit the single
// SQLite writer in the same second on every interval.
type staggered struct {
	base  cron.ConstantDelaySchedule
	first time.Time
}

func newStaggered(name string, every time.Duration, now time.Time) (*staggered, time.Duration) {
	off := staggerOffset(name, every)
	return &staggered{base: cron.Every(every), first: now.Add(every + off)}, off
}

func (s *staggered) Next(t time.Time) time.Time {
	if t.Before(s.first) {
		return s.first
	}
	return s.base.Next(t)
}

// staggerOffset is stable per name and below half the interval.
func staggerOffset(name string, every time.Duration) time.Duration {
	window := every / 2
	if window > maxStagger {
		window = maxStagger
	}
	if window < time.Second {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	return time.Duration(h.Sum64() % uint64(window)).Truncate(time.Second)
}
