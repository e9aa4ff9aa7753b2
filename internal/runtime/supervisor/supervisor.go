package supervisor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	logx "stillalive/pkg/logx"
)

// State is the lifecycle state of one supervised goroutine.
type State string

const (
	StateRunning    State = "running"
	StateRestarting State = "restarting"
	StateExited     State = "exited"
	StateFailed     State = "failed"
)

// healthyRun resets the restart backoff once a run lasted this long.
const healthyRun = 30 * time.Second

// Routine is a point-in-time view of one supervised goroutine.
type Routine struct {
	Name      string    `json:"name"`
	State     State     `json:"state"`
	Restarts  int       `json:"restarts"`
	LastError string    `json:"last_error,omitempty"`
	Since     time.Time `json:"since"`
}

// Supervisor runs named goroutines on a shared context, turns panics into
// errors and keeps the first failure. The app runs its relay, HTTP listener,
// config watcher and event forwarder under one; the task engine runs its
// workers under another.
type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc

	log         logx.Logger
	cancelOnErr bool
	restartMin  time.Duration
	restartMax  time.Duration

	wg       sync.WaitGroup
	waitOnce sync.Once
	done     chan struct{}

	mu       sync.Mutex
	firstErr error
	routines map[string]*Routine
}

type Option func(*Supervisor)

func WithLogger(log logx.Logger) Option {
	return func(s *Supervisor) { s.log = log }
}

// WithCancelOnError cancels the shared context on the first goroutine error.
func WithCancelOnError(enabled bool) Option {
	return func(s *Supervisor) { s.cancelOnErr = enabled }
}

// WithRestartBackoff bounds the wait between GoRestart runs.
func WithRestartBackoff(min, max time.Duration) Option {
	return func(s *Supervisor) {
		if min > 0 {
			s.restartMin = min
		}
		if max >= s.restartMin {
			s.restartMax = max
		}
	}
}

func New(parent context.Context, opts ...Option) *Supervisor {
	ctx, cancel := context.WithCancel(parent)
	s := &Supervisor{
		ctx:        ctx,
		cancel:     cancel,
		log:        logx.Nop(),
		restartMin: 250 * time.Millisecond,
		restartMax: 30 * time.Second,
		done:       make(chan struct{}),
		routines:   map[string]*Routine{},
	}
	for _, o := range opts {
		o(s)
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	return s
}

func (s *Supervisor) Context() context.Context { return s.ctx }

// Cancel cancels the shared context without waiting.
func (s *Supervisor) Cancel() { s.cancel() }

// Err returns the first goroutine failure, if any.
func (s *Supervisor) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.firstErr
}

// Routines lists every goroutine started so far, sorted by name.
func (s *Supervisor) Routines() []Routine {
	s.mu.Lock()
	out := make([]Routine, 0, len(s.routines))
	for _, r := range s.routines {
		out = append(out, *r)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Go runs fn once. A non-nil error other than context.Canceled is recorded
// and, with WithCancelOnError, cancels every sibling.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	if fn == nil {
		return
	}
	s.mark(name, StateRunning, nil)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		err := s.run(name, fn)
		if err != nil && !errors.Is(err, context.Canceled) {
			s.mark(name, StateFailed, err)
			s.fail(fmt.Errorf("%s: %w", name, err))
			return
		}
		s.mark(name, StateExited, nil)
	}()
}

// Go0 is Go for functions that cannot fail.
func (s *Supervisor) Go0(name string, fn func(ctx context.Context)) {
	if fn == nil {
		return
	}
	s.Go(name, func(ctx context.Context) error {
		fn(ctx)
		return nil
	})
}

// GoRestart reruns fn after an error or panic with doubling backoff until it
// returns nil or the context ends.
func (s *Supervisor) GoRestart(name string, fn func(ctx context.Context) error) {
	if fn == nil {
		return
	}
	s.Go(name, func(ctx context.Context) error {
		backoff := s.restartMin
		for {
			started := time.Now()
			err := s.run(name, fn)
			if err == nil || ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			if time.Since(started) >= healthyRun {
				backoff = s.restartMin
			}
			s.restarting(name, err)
			s.log.Warn("goroutine restarting", logx.String("name", name), logx.Duration("backoff", backoff), logx.Err(err))

			t := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				t.Stop()
				return nil
			case <-t.C:
			}
			s.mark(name, StateRunning, nil)
			backoff *= 2
			if backoff > s.restartMax {
				backoff = s.restartMax
			}
		}
	})
}

// Wait blocks until every goroutine returned or ctx ends.
func (s *Supervisor) Wait(ctx context.Context) error {
	s.waitOnce.Do(func() {
		go func() {
			s.wg.Wait()
			close(s.done)
		}()
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return s.Err()
	}
}

func (s *Supervisor) run(name string, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			s.log.Error("goroutine panicked", logx.String("name", name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	s.log.Debug("goroutine started", logx.String("name", name))
	err = fn(s.ctx)
	s.log.Debug("goroutine stopped", logx.String("name", name), logx.Err(err))
	return err
}

func (s *Supervisor) mark(name string, st State, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.routines[name]
	if r == nil {
		r = &Routine{Name: name}
		s.routines[name] = r
	}
	r.State = st
	r.Since = time.Now()
	if err != nil {
		r.LastError = err.Error()
	}
}

func (s *Supervisor) restarting(name string, err error) {
	s.mark(name, StateRestarting, err)
	s.mu.Lock()
	s.routines[name].Restarts++
	s.mu.Unlock()
}

func (s *Supervisor) fail(err error) {
	s.mu.Lock()
	if s.firstErr == nil {
		s.firstErr = err
	}
	s.mu.Unlock()
	if s.cancelOnErr {
		s.cancel()
	}
}
