package will

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"stillalive/internal/mailer"
	"stillalive/internal/storage"
	logx "stillalive/pkg/logx"
)

var testNow = time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

func openStore(t *testing.T) *storage.Store {
	t.Helper()
	st, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "will.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

// seed creates a character with a will. lastSeen zero means no status events.
func seed(t *testing.T, st *storage.Store, id string, enabled bool, timeoutHours int, lastSeen time.Time) storage.WillConfig {
	t.Helper()
	ctx := context.Background()
	if _, err := st.CreateCharacter(ctx, storage.Character{
		ID: id, Name: "Name-" + id, DisplayCode: "dc" + id, SecretKey: "sk" + id, IsActive: true,
	}); err != nil {
		t.Fatalf("create character: %v", err)
	}
	w, err := st.UpsertWillConfig(ctx, storage.WillConfig{
		ID:           "w" + id,
		CharacterID:  id,
		IsEnabled:    enabled,
		Content:      "my last words",
		TargetEmail:  "target@example.com",
		CcEmails:     []string{"cc1@example.com", "cc2@example.com"},
		TimeoutHours: timeoutHours,
	})
	if err != nil {
		t.Fatalf("upsert will: %v", err)
	}
	if !lastSeen.IsZero() {
		if _, err := st.AppendStatus(ctx, storage.StatusEvent{CharacterID: id, StatusType: "heartbeat", Timestamp: lastSeen}); err != nil {
			t.Fatalf("append status: %v", err)
		}
	}
	return w
}

type recordingNotifier struct {
	mu  sync.Mutex
	ids []string
}

func (n *recordingNotifier) Dispatch(ctx context.Context, outboxID string) error {
	n.mu.Lock()
	n.ids = append(n.ids, outboxID)
	n.mu.Unlock()
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.ids)
}

// flakyMailer fails the first `fails` sends.
type flakyMailer struct {
	mu    sync.Mutex
	fails int
	calls int
	sent  []mailer.Message
}

func (m *flakyMailer) Send(ctx context.Context, msg mailer.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.calls <= m.fails {
		return errors.New("smtp: 451 temporary failure")
	}
	m.sent = append(m.sent, msg)
	return nil
}

func (m *flakyMailer) snapshot() (calls int, sent []mailer.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls, append([]mailer.Message(nil), m.sent...)
}

// testClock is a settable clock shared by the sweeper, dispatcher and relay.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock { return &testClock{now: testNow} }

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// waitOutbox polls until the will's single outbox row reaches a final status.
func waitOutbox(t *testing.T, st *storage.Store, willID string) storage.OutboxEntry {
	t.Helper()
	return waitOutboxRow(t, st, willID, func(e storage.OutboxEntry) bool {
		return e.Status == storage.OutboxSent || e.Status == storage.OutboxDead
	})
}

// waitRetry polls until the will's outbox row is back to pending after the
// given number of attempts.
func waitRetry(t *testing.T, st *storage.Store, willID string, attempts int) storage.OutboxEntry {
	t.Helper()
	return waitOutboxRow(t, st, willID, func(e storage.OutboxEntry) bool {
		return e.Status == storage.OutboxPending && e.AttemptCount == attempts
	})
}

func waitOutboxRow(t *testing.T, st *storage.Store, willID string, done func(storage.OutboxEntry) bool) storage.OutboxEntry {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		rows, err := st.ListOutboxByWill(context.Background(), willID)
		if err != nil {
			t.Fatalf("list outbox: %v", err)
		}
		if len(rows) == 1 && done(rows[0]) {
			return rows[0]
		}
		if time.Now().After(deadline) {
			t.Fatalf("outbox never settled: %+v", rows)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
