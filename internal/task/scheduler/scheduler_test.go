package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"stillalive/internal/task/engine"
	logx "stillalive/pkg/logx"
)

type fakeEnqueuer struct {
	mu    sync.Mutex
	tasks []engine.Task
	fired chan struct{}
	err   error
}

func (f *fakeEnqueuer) Enqueue(t engine.Task) error {
	f.mu.Lock()
	f.tasks = append(f.tasks, t)
	f.mu.Unlock()
	select {
	case f.fired <- struct{}{}:
	default:
	}
	return f.err
}

func noop(ctx context.Context) error { return nil }

func TestCronTriggerEnqueuesTask(t *testing.T) {
	fe := &fakeEnqueuer{fired: make(chan struct{}, 1)}
	s := New(Config{Enabled: true, Timezone: "UTC"}, fe, logx.Nop())
	if err := s.AddSchedule("will.sweep", "* * * * * *", time.Minute, noop); err != nil {
		t.Fatalf("AddSchedule: %v", err)
	}
	s.Start(context.Background())
	defer s.Stop(context.Background())

	select {
	case <-fe.fired:
	case <-time.After(3 * time.Second):
		t.Fatal("schedule never fired")
	}

	fe.mu.Lock()
	got := fe.tasks[0]
	fe.mu.Unlock()
	if got.Name != "will.sweep" || got.Timeout != time.Minute {
		t.Fatalf("unexpected task: %+v", got)
	}
	if got.Opt.Overlap != engine.OverlapSkipIfRunning || got.Opt.RetryMax != -1 {
		t.Fatalf("opt = %+v, want skip-if-running without retries", got.Opt)
	}
	if got.State == nil {
		t.Fatal("expected shared run state")
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		info := s.Snapshot().Schedules[0]
		if info.Fired > 0 && !info.Next.IsZero() {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("snapshot = %+v", info)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestAddScheduleUpsertsByName(t *testing.T) {
	s := New(Config{Enabled: true}, &fakeEnqueuer{fired: make(chan struct{}, 1)}, logx.Nop())
	if err := s.AddSchedule("will.relay", "1m", 0, noop); err != nil {
		t.Fatalf("AddSchedule: %v", err)
	}
	if err := s.AddScheduleOpt("will.relay", "every:2m", 0, engine.TaskOptions{RetryMax: 2}, noop); err != nil {
		t.Fatalf("AddScheduleOpt: %v", err)
	}
	snap := s.Snapshot()
	if len(snap.Schedules) != 1 || snap.Schedules[0].Spec != "every:2m0s" {
		t.Fatalf("schedules = %+v", snap.Schedules)
	}
}

func TestAddScheduleRejectsBadCron(t *testing.T) {
	s := New(Config{Enabled: true}, nil, logx.Nop())
	if err := s.AddSchedule("bad", "61 * * * *", 0, noop); err == nil {
		t.Fatal("expected error for invalid cron")
	}
}

func TestTriggerOutcomesAreCounted(t *testing.T) {
	s := New(Config{}, nil, logx.Nop())
	if err := s.AddSchedule("will.sweep", "0 * * * *", 0, noop); err != nil {
		t.Fatalf("AddSchedule: %v", err)
	}
	s.record("will.sweep", nil)
	s.record("will.sweep", engine.ErrOverlapSkip)
	s.record("will.sweep", engine.ErrOverlapSkip)
	s.record("will.sweep", errors.New("queue full"))
	warned := s.stats["will.sweep"].lastWarn
	s.record("will.sweep", engine.ErrQueueFull)
	if !s.stats["will.sweep"].lastWarn.Equal(warned) {
		t.Fatal("second refusal inside the warn window should not warn again")
	}

	info := s.Snapshot().Schedules[0]
	if info.Fired != 1 || info.Skipped != 2 || info.Refused != 2 {
		t.Fatalf("counters = %+v", info)
	}
}

func TestParseTrigger(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw   string
		cron  string
		every time.Duration
	}{
		{raw: "0 * * * *", cron: "0 * * * *"},
		{raw: "@hourly", cron: "@hourly"},
		{raw: "0 30 * * * *", cron: "0 30 * * * *"},
		{raw: "1m", every: time.Minute},
		{raw: "every:90s", every: 90 * time.Second},
		{raw: " EVERY:1h ", every: time.Hour},
	}
	for _, tt := range tests {
		got, err := ParseTrigger(tt.raw)
		if err != nil {
			t.Fatalf("ParseTrigger(%q): %v", tt.raw, err)
		}
		if got.Cron != tt.cron || got.Every != tt.every {
			t.Fatalf("ParseTrigger(%q) = %+v", tt.raw, got)
		}
	}

	for _, raw := range []string{"", "hourly", "every:", "every:0s", "500ms", "01:30"} {
		if _, err := ParseTrigger(raw); err == nil {
			t.Fatalf("ParseTrigger(%q): expected error", raw)
		}
	}
}

func TestStaggerDelaysOnlyFirstRun(t *testing.T) {
	now := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)
	for _, name := range []string{"will.relay", "metrics.outbox"} {
		off := staggerOffset(name, time.Minute)
		if off < 0 || off >= 30*time.Second || off != staggerOffset(name, time.Minute) {
			t.Fatalf("%s offset = %v", name, off)
		}
		sched, got := newStaggered(name, time.Minute, now)
		if got != off {
			t.Fatalf("%s offset = %v, want %v", name, got, off)
		}
		first := sched.Next(now)
		if want := now.Add(time.Minute + off); !first.Equal(want) {
			t.Fatalf("%s first = %v, want %v", name, first, want)
		}
		if second := sched.Next(first); !second.Equal(first.Add(time.Minute)) {
			t.Fatalf("%s second = %v", name, second)
		}
	}
	if off := staggerOffset("will.relay", time.Second); off != 0 {
		t.Fatalf("sub-window offset = %v", off)
	}
}
