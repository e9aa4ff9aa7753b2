package will

import (
	"context"
	"errors"
	"fmt"
	"time"

	"stillalive/internal/eventbus"
	"stillalive/internal/storage"
	"stillalive/internal/task/engine"
	logx "stillalive/pkg/logx"
)

const (
	OutcomeSent  = "sent"
	OutcomeRetry = "retry"
	OutcomeDead  = "dead"
)

// RelayConfig controls how outbox rows become engine tasks.
//
// Each engine task makes one delivery attempt. A failed attempt goes back to
// the outbox with next_attempt_at pushed out by the backoff, so a worker is
// never parked on a retry delay.
type RelayConfig struct {
	Owner     string
	LeaseTTL  time.Duration
	BatchSize int

	// Attempts is the total number of delivery attempts (first try included).
	Attempts      int
	RetryBase     time.Duration
	RetryFactor   float64
	RetryMaxDelay time.Duration
	SendTimeout   time.Duration

	// RequeueDelay is how long a row waits after the engine refused it or
	// stopped. It does not count as an attempt.
	RequeueDelay time.Duration
}

func (c RelayConfig) withDefaults() RelayConfig {
	if c.Owner == "" {
		c.Owner = "relay"
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = time.Hour
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.Attempts <= 0 {
		c.Attempts = 3
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 5 * time.Minute
	}
	if c.RetryFactor < 1 {
		c.RetryFactor = 2
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = time.Hour
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = time.Minute
	}
	if c.RequeueDelay <= 0 {
		c.RequeueDelay = time.Minute
	}
	return c
}

// NotificationEvent is published after every delivery attempt.
type NotificationEvent struct {
	OutboxID  string    `json:"outbox_id"`
	WillID    string    `json:"will_id"`
	Attempts  int       `json:"attempts"`
	Error     string    `json:"error,omitempty"`
	NextRetry time.Time `json:"next_retry,omitzero"`
}

// Relay leases outbox rows and runs their delivery on the task engine.
type Relay struct {
	store   OutboxStore
	deliver Deliverer
	engine  Enqueuer
	cfg     RelayConfig
	log     logx.Logger
	bus     eventbus.Bus
	metrics Metrics
	now     func() time.Time
}

func NewRelay(store OutboxStore, deliver Deliverer, eng Enqueuer, cfg RelayConfig, log logx.Logger, bus eventbus.Bus, m Metrics) *Relay {
	if log.IsZero() {
		log = logx.Nop()
	}
	if m == nil {
		m = nopMetrics{}
	}
	return &Relay{
		store:   store,
		deliver: deliver,
		engine:  eng,
		cfg:     cfg.withDefaults(),
		log:     log,
		bus:     bus,
		metrics: m,
		now:     time.Now,
	}
}

// Dispatch leases one outbox row and submits it. A row that is not due or is
// leased elsewhere is left alone.
func (r *Relay) Dispatch(ctx context.Context, outboxID string) error {
	e, ok, err := r.store.LeaseOutboxEntry(ctx, outboxID, r.cfg.Owner, r.now(), r.cfg.LeaseTTL)
	if err != nil {
		return fmt.Errorf("lease outbox %s: %w", outboxID, err)
	}
	if !ok {
		return nil
	}
	return r.submit(ctx, e)
}

// Tick leases every due row, including rows whose lease expired after a
// crash, and submits them. It returns how many rows were submitted.
func (r *Relay) Tick(ctx context.Context) (int, error) {
	entries, err := r.store.LeaseOutbox(ctx, r.cfg.Owner, r.cfg.BatchSize, r.now(), r.cfg.LeaseTTL)
	if err != nil {
		return 0, fmt.Errorf("lease outbox: %w", err)
	}
	n := 0
	for _, e := range entries {
		if err := r.submit(ctx, e); err != nil {
			r.log.Warn("relay: submit failed", logx.OutboxID(e.ID), logx.Err(err))
			continue
		}
		n++
	}
	if len(entries) > 0 {
		r.log.Debug("relay tick", logx.Int("leased", len(entries)), logx.Int("submitted", n))
	}
	return n, nil
}

func (r *Relay) submit(ctx context.Context, e storage.OutboxEntry) error {
	willID := e.WillID
	err := r.engine.Enqueue(engine.Task{
		ID:      e.ID,
		Name:    "will.notify",
		Timeout: r.cfg.SendTimeout,
		Run: func(ctx context.Context) error {
			return r.deliver.Deliver(ctx, willID)
		},
		Done: func(ctx context.Context, res engine.Result) {
			r.finish(ctx, e, res)
		},
		Opt: engine.TaskOptions{Overlap: engine.OverlapAllow, RetryMax: -1},
	})
	if err == nil {
		return nil
	}
	now := r.now()
	if rerr := r.store.MarkOutboxRetry(ctx, e.ID, r.cfg.Owner, 0, now.Add(r.cfg.RequeueDelay), err.Error(), now); rerr != nil {
		r.log.Warn("relay: release lease failed", logx.OutboxID(e.ID), logx.Err(rerr))
	}
	return fmt.Errorf("enqueue notification %s: %w", e.ID, err)
}

// backoff returns the wait after the given number of failed attempts.
func (r *Relay) backoff(failed int) time.Duration {
	return engine.TaskOptions{
		RetryBase:     r.cfg.RetryBase,
		RetryFactor:   r.cfg.RetryFactor,
		RetryMaxDelay: r.cfg.RetryMaxDelay,
	}.Delay(failed)
}

func (r *Relay) finish(ctx context.Context, e storage.OutboxEntry, res engine.Result) {
	now := r.now()
	attempt := e.AttemptCount + 1
	log := r.log.With(logx.OutboxID(e.ID), logx.WillID(e.WillID), logx.Int("attempt", attempt))

	if res.Err == nil {
		if err := r.store.MarkOutboxSent(ctx, e.ID, r.cfg.Owner, 1, now); err != nil {
			log.Error("relay: mark sent failed", logx.Err(err))
		}
		eventbus.PublishSafe(r.bus, eventbus.TypeNotificationSent, NotificationEvent{OutboxID: e.ID, WillID: e.WillID, Attempts: attempt})
		r.metrics.NotificationOutcome(OutcomeSent, attempt)
		return
	}

	if interrupted(res.Err) {
		// Shutdown cut the attempt short; hand the row back for the next run.
		if err := r.store.MarkOutboxRetry(ctx, e.ID, r.cfg.Owner, 0, now.Add(r.cfg.RequeueDelay), res.Err.Error(), now); err != nil {
			log.Warn("relay: requeue failed", logx.Err(err))
		}
		log.Warn("notification interrupted; requeued", logx.Err(res.Err))
		return
	}

	if !engine.IsNoRetry(res.Err) && attempt < r.cfg.Attempts {
		next := now.Add(r.backoff(attempt))
		if err := r.store.MarkOutboxRetry(ctx, e.ID, r.cfg.Owner, 1, next, res.Err.Error(), now); err != nil {
			log.Error("relay: schedule retry failed", logx.Err(err))
		}
		log.Warn("notification failed; retry scheduled", logx.Time("next_attempt_at", next), logx.Err(res.Err))
		eventbus.PublishSafe(r.bus, eventbus.TypeNotificationRetry, NotificationEvent{OutboxID: e.ID, WillID: e.WillID, Attempts: attempt, Error: res.Err.Error(), NextRetry: next})
		r.metrics.NotificationOutcome(OutcomeRetry, attempt)
		return
	}

	if err := r.store.MarkOutboxDead(ctx, e.ID, r.cfg.Owner, 1, res.Err.Error(), now); err != nil {
		log.Error("relay: mark dead failed", logx.Err(err))
	}
	log.Error("will notification failed permanently", logx.Err(res.Err))
	eventbus.PublishSafe(r.bus, eventbus.TypeNotificationDead, NotificationEvent{OutboxID: e.ID, WillID: e.WillID, Attempts: attempt, Error: res.Err.Error()})
	r.metrics.NotificationOutcome(OutcomeDead, attempt)
}

func interrupted(err error) bool {
	return errors.Is(err, engine.ErrStopping) || errors.Is(err, context.Canceled)
}
