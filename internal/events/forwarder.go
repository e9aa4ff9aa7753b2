package events

import (
	"context"
	"strings"
	"time"

	"stillalive/internal/eventbus"
	logx "stillalive/pkg/logx"
)

// Envelope is the JSON payload published for each bus event.
type Envelope struct {
	Type string    `json:"type"`
	Time time.Time `json:"time"`
	Data any       `json:"data,omitempty"`
}

// Forwarder copies bus events onto a Publisher.
type Forwarder struct {
	bus    eventbus.Bus
	pub    Publisher
	log    logx.Logger
	prefix []string // only forward types with one of these prefixes; empty forwards all
}

func NewForwarder(bus eventbus.Bus, pub Publisher, log logx.Logger, typePrefixes ...string) *Forwarder {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Forwarder{bus: bus, pub: pub, log: log, prefix: typePrefixes}
}

// Run forwards events until ctx is done.
func (f *Forwarder) Run(ctx context.Context) error {
	ch, unsub := f.bus.Subscribe(256)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			if !f.wants(ev.Type) {
				continue
			}
			subject := SubjectPrefix + ev.Type
			if err := f.pub.Publish(ctx, subject, Envelope{Type: ev.Type, Time: ev.Time, Data: ev.Data}); err != nil {
				f.log.Warn("event publish failed", logx.String("subject", subject), logx.Err(err))
			}
		}
	}
}

func (f *Forwarder) wants(typ string) bool {
	if len(f.prefix) == 0 {
		return true
	}
	for _, p := range f.prefix {
		if strings.HasPrefix(typ, p) {
			return true
		}
	}
	return false
}
