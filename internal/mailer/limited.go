package mailer

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const historySize = 50

// Limited throttles sends with a token bucket and remembers recent results.
type Limited struct {
	inner   Mailer
	from    string
	limiter *rate.Limiter

	hmu     sync.Mutex
	history []HistoryItem
}

func NewLimited(inner Mailer, ratePerSec int, defaultFrom string) *Limited {
	if ratePerSec <= 0 {
		ratePerSec = 2
	}
	return &Limited{
		inner: inner,
		from:  defaultFrom,
		// Burst = rate per sec so short spikes don't block too hard.
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec),
	}
}

func (l *Limited) Send(ctx context.Context, msg Message) error {
	if msg.From == "" {
		msg.From = l.from
	}
	if err := l.limiter.Wait(ctx); err != nil {
		return err
	}
	err := l.inner.Send(ctx, msg)
	item := HistoryItem{At: time.Now(), To: msg.To, Subject: msg.Subject}
	if err != nil {
		item.Error = err.Error()
	}
	l.hmu.Lock()
	l.history = append(l.history, item)
	if len(l.history) > historySize {
		l.history = l.history[len(l.history)-historySize:]
	}
	l.hmu.Unlock()
	return err
}

// History returns the most recent sends, oldest first.
func (l *Limited) History() []HistoryItem {
	l.hmu.Lock()
	defer l.hmu.Unlock()
	out := make([]HistoryItem, len(l.history))
	copy(out, l.history)
	return out
}
