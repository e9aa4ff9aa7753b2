package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"stillalive/internal/task/engine"
	logx "stillalive/pkg/logx"
)

// AddSchedule registers job under name with skip-if-running overlap and no
// retries. Registering an existing name replaces it, so reloads never
// duplicate a schedule.
func (s *Service) AddSchedule(name, schedule string, timeout time.Duration, job func(ctx context.Context) error) error {
	return s.AddScheduleOpt(name, schedule, timeout, engine.TaskOptions{RetryMax: -1}, job)
}

// AddScheduleOpt is AddSchedule with a retry policy. The overlap policy is
// always skip-if-running.
func (s *Service) AddScheduleOpt(name, schedule string, timeout time.Duration, opt engine.TaskOptions, job func(ctx context.Context) error) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("name required")
	}
	if job == nil {
		return errors.New("job required")
	}
	trig, err := ParseTrigger(schedule)
	if err != nil {
		return err
	}
	if !trig.IsInterval() {
		if _, err := s.parser.Parse(trig.Cron); err != nil {
			return fmt.Errorf("schedule %q: %w", trig.Cron, err)
		}
	}
	opt.Overlap = engine.OverlapSkipIfRunning

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(name)
	s.defs = append(s.defs, scheduleDef{
		name:    name,
		trig:    trig,
		timeout: timeout,
		job:     job,
		opt:     opt,
		state:   &engine.RunState{},
	})
	if s.c == nil {
		// Registered with cron when Start runs.
		return nil
	}
	d := &s.defs[len(s.defs)-1]
	if err := s.addCronLocked(d); err != nil {
		return err
	}
	args := []logx.Field{logx.String("name", name), logx.String("spec", trig.String()), logx.Duration("timeout", timeout)}
	if e := s.c.Entry(d.entryID); !e.Next.IsZero() {
		args = append(args, logx.Time("next", e.Next))
	}
	s.log.Debug("schedule registered", args...)
	return nil
}

// removeLocked drops every definition named name.
func (s *Service) removeLocked(name string) {
	kept := s.defs[:0]
	for _, d := range s.defs {
		if d.name != name {
			kept = append(kept, d)
			continue
		}
		if s.c != nil && d.entryID != 0 {
			s.c.Remove(d.entryID)
		}
	}
	s.defs = kept
}

func (s *Service) addCronLocked(d *scheduleDef) error {
	name, timeout, run, opt, state := d.name, d.timeout, d.job, d.opt, d.state
	job := cron.FuncJob(func() {
		if s.engine == nil {
			return
		}
		s.record(name, s.engine.Enqueue(engine.Task{
			Name:    name,
			Timeout: timeout,
			Run:     run,
			Opt:     opt,
			State:   state,
		}))
	})

	if d.trig.IsInterval() {
		sched, off := newStaggered(d.name, d.trig.Every, time.Now().In(s.loc))
		d.stagger = off
		d.entryID = s.c.Schedule(sched, job)
		return nil
	}
	d.stagger = 0
	eid, err := s.c.AddJob(d.trig.Cron, job)
	if err != nil {
		return err
	}
	d.entryID = eid
	return nil
}
