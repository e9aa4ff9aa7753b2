package will

import (
	"context"
	"time"

	"stillalive/internal/storage"
	"stillalive/internal/task/engine"
)

// SweepStore is the storage surface the sweep needs.
type SweepStore interface {
	ListEnabledWills(ctx context.Context) ([]storage.WillConfig, error)
	LatestActivity(ctx context.Context, characterID string) (time.Time, bool, error)
	GetCharacter(ctx context.Context, id string) (storage.Character, error)
	TriggerWill(ctx context.Context, willID, outboxID string, now time.Time) (bool, error)
}

// DispatchStore is the storage surface the dispatcher needs.
type DispatchStore interface {
	GetWillConfig(ctx context.Context, id string) (storage.WillConfig, error)
	GetCharacter(ctx context.Context, id string) (storage.Character, error)
	LatestActivity(ctx context.Context, characterID string) (time.Time, bool, error)
}

// OutboxStore is the storage surface the relay needs.
type OutboxStore interface {
	LeaseOutbox(ctx context.Context, owner string, limit int, now time.Time, ttl time.Duration) ([]storage.OutboxEntry, error)
	LeaseOutboxEntry(ctx context.Context, id, owner string, now time.Time, ttl time.Duration) (storage.OutboxEntry, bool, error)
	MarkOutboxSent(ctx context.Context, id, owner string, attempts int, now time.Time) error
	MarkOutboxRetry(ctx context.Context, id, owner string, attempts int, nextAttempt time.Time, lastErr string, now time.Time) error
	MarkOutboxDead(ctx context.Context, id, owner string, attempts int, lastErr string, now time.Time) error
}

// Enqueuer accepts work for the task engine without blocking.
type Enqueuer interface {
	Enqueue(t engine.Task) error
}

// Deliverer sends the notification of one will.
type Deliverer interface {
	Deliver(ctx context.Context, willID string) error
}

// Notifier hands a freshly queued outbox row to delivery.
type Notifier interface {
	Dispatch(ctx context.Context, outboxID string) error
}

// Metrics receives sweep and delivery outcomes.
type Metrics interface {
	ObserveSweep(d time.Duration, r Report)
	NotificationOutcome(outcome string, attempts int)
}

type nopMetrics struct{}

func (nopMetrics) ObserveSweep(time.Duration, Report) {}
func (nopMetrics) NotificationOutcome(string, int)    {}
