// Package events exports in-process bus events to external subscribers.
package events

import "context"

// SubjectPrefix is prepended to every bus event type to form the NATS subject.
const SubjectPrefix = "stillalive."

// Publisher is the interface for emitting events.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}

// NoopPublisher is a Publisher that does nothing (used when NATS is not configured).
type NoopPublisher struct{}

func (n *NoopPublisher) Publish(ctx context.Context, topic string, event any) error {
	return nil
}

func (n *NoopPublisher) Close() error {
	return nil
}
