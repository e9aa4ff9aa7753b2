package engine

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"runtime/debug"
	"sync/atomic"
	"time"

	"stillalive/internal/eventbus"
	logx "stillalive/pkg/logx"
)

const doneTimeout = 10 * time.Second

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue chan queuedTask) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	for {
		// Fast-exit check so a closed stopCh wins over queued work.
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case t, ok := <-queue:
			if !ok {
				return
			}
			atomic.AddInt32(&s.inFlight, 1)
			s.execOne(ctx, stopCh, t, rng)
			atomic.AddInt32(&s.inFlight, -1)
		}
	}
}

func (s *Service) execOne(ctx context.Context, stopCh <-chan struct{}, qt queuedTask, rng *rand.Rand) {
	start := time.Now()
	queueDelay := start.Sub(qt.enqueuedAt)
	if qt.enqueuedAt.IsZero() || queueDelay < 0 {
		queueDelay = 0
	}

	log := s.log.With(logx.String("task", qt.task.Name), logx.String("id", qt.task.ID))
	log.Debug("task.started", logx.Duration("queue_delay", queueDelay))
	eventbus.PublishSafe(s.bus, eventbus.TypeTaskStarted, TaskEvent{ID: qt.task.ID, Name: qt.task.Name, Started: start, QueueDelay: queueDelay})

	if qt.track && qt.state != nil {
		defer qt.state.release()
	}

	var err error
	attempts := 0
	maxAttempts := 1 + qt.opt.RetryMax
attemptLoop:
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attempts = attempt
		err = s.runAttempt(ctx, qt, log)
		if err == nil {
			break
		}
		if IsNoRetry(err) {
			break
		}
		if attempt >= maxAttempts {
			break
		}

		delay := backoffDelay(qt.opt, attempt, rng)
		log.Debug("task retry scheduled", logx.Int("attempt", attempt+1), logx.Duration("delay", delay), logx.Err(err))

		waitCtx, cancel := context.WithCancel(ctx)
		go func() {
			select {
			case <-stopCh:
				cancel()
			case <-waitCtx.Done():
			}
		}()
		werr := s.sleep(waitCtx, delay)
		cancel()
		if werr != nil {
			select {
			case <-stopCh:
				err = ErrStopping
			default:
				err = werr
			}
			break attemptLoop
		}
	}

	dur := time.Since(start)
	item := HistoryItem{ID: qt.task.ID, Name: qt.task.Name, Started: start, QueueDelay: queueDelay, Duration: dur, Attempts: attempts}
	ev := TaskEvent{ID: qt.task.ID, Name: qt.task.Name, Started: start, QueueDelay: queueDelay, Duration: dur, Attempts: attempts}
	if err != nil {
		item.Error = err.Error()
		ev.Error = item.Error
		log.Warn("task.failed", logx.Err(err), logx.Duration("dur", dur), logx.Int("attempts", attempts))
		eventbus.PublishSafe(s.bus, eventbus.TypeTaskFailed, ev)
	} else {
		if dur >= 750*time.Millisecond {
			log.Info("task.completed", logx.Duration("dur", dur), logx.Int("attempts", attempts))
		} else {
			log.Debug("task.completed", logx.Duration("dur", dur), logx.Int("attempts", attempts))
		}
		eventbus.PublishSafe(s.bus, eventbus.TypeTaskFinished, ev)
	}
	s.appendHistory(item)

	if qt.task.Done != nil {
		s.finish(ctx, qt.task, Result{ID: qt.task.ID, Name: qt.task.Name, Attempts: attempts, Duration: dur, Err: err}, log)
	}
}

// runAttempt runs one attempt with the per-task timeout. Panics become errors.
func (s *Service) runAttempt(ctx context.Context, qt queuedTask, log logx.Logger) (err error) {
	runCtx := ctx
	if qt.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, qt.timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			log.Error("task.panic", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	return qt.task.Run(runCtx)
}

// finish runs the Done callback on a context that survives engine shutdown.
func (s *Service) finish(ctx context.Context, t Task, r Result, log logx.Logger) {
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), doneTimeout)
	defer cancel()
	defer func() {
		if rec := recover(); rec != nil {
			log.Error("task.done panic", logx.Any("panic", rec), logx.String("stack", string(debug.Stack())))
		}
	}()
	t.Done(dctx, r)
}

// Delay returns the un-jittered wait before attempt retry+1, with unset
// fields filled from the engine defaults.
func (o TaskOptions) Delay(retry int) time.Duration {
	return backoffDelay(o.withDefaults(Config{}), retry, nil)
}

// backoffDelay returns the wait before attempt retry+1.
func backoffDelay(opt TaskOptions, retry int, rng *rand.Rand) time.Duration {
	if retry < 1 {
		retry = 1
	}
	f := float64(opt.RetryBase) * math.Pow(opt.RetryFactor, float64(retry-1))
	if f > float64(opt.RetryMaxDelay) {
		f = float64(opt.RetryMaxDelay)
	}
	d := time.Duration(f)
	if opt.RetryJitter > 0 && rng != nil {
		r := (rng.Float64()*2 - 1) * opt.RetryJitter
		d = time.Duration(float64(d) * (1 + r))
		if d < 0 {
			d = 0
		}
		if d > opt.RetryMaxDelay {
			d = opt.RetryMaxDelay
		}
	}
	return d
}
