package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	logx "stillalive/pkg/logx"
)

func openTempStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(Config{Path: filepath.Join(t.TempDir(), "stillalive.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func seedCharacter(t *testing.T, st *Store, id string) Character {
	t.Helper()
	c, err := st.CreateCharacter(context.Background(), Character{
		ID:          id,
		OwnerID:     "owner-1",
		Name:        "Alice " + id,
		DisplayCode: "dc-" + id,
		SecretKey:   "sk-" + id,
		IsActive:    true,
	})
	if err != nil {
		t.Fatalf("create character: %v", err)
	}
	return c
}

func seedWill(t *testing.T, st *Store, id, characterID string, enabled bool) WillConfig {
	t.Helper()
	w, err := st.UpsertWillConfig(context.Background(), WillConfig{
		ID:           id,
		CharacterID:  characterID,
		IsEnabled:    enabled,
		Content:      "goodbye",
		TargetEmail:  "heir@example.com",
		CcEmails:     []string{"a@example.com", "b@example.com"},
		TimeoutHours: 24,
	})
	if err != nil {
		t.Fatalf("upsert will: %v", err)
	}
	return w
}

func TestCharacterLookups(t *testing.T) {
	st := openTempStore(t)
	ctx := context.Background()
	c := seedCharacter(t, st, "c1")

	for name, get := range map[string]func() (Character, error){
		"id":      func() (Character, error) { return st.GetCharacter(ctx, "c1") },
		"secret":  func() (Character, error) { return st.GetCharacterBySecret(ctx, "sk-c1") },
		"display": func() (Character, error) { return st.GetCharacterByDisplayCode(ctx, "dc-c1") },
	} {
		got, err := get()
		if err != nil {
			t.Fatalf("%s lookup: %v", name, err)
		}
		if got.ID != c.ID || got.Name != c.Name || !got.IsActive {
			t.Fatalf("%s lookup = %+v", name, got)
		}
	}

	if _, err := st.GetCharacterBySecret(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := st.CreateCharacter(ctx, Character{ID: "c2", Name: "x", DisplayCode: "dc-c1", SecretKey: "other"}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for duplicate display code, got %v", err)
	}
}

func TestLatestActivitySpansAllTypes(t *testing.T) {
	st := openTempStore(t)
	ctx := context.Background()
	seedCharacter(t, st, "c1")

	if _, ok, err := st.LatestActivity(ctx, "c1"); err != nil || ok {
		t.Fatalf("LatestActivity on empty history = ok:%v err:%v", ok, err)
	}

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	events := []StatusEvent{
		{CharacterID: "c1", StatusType: "heartbeat", Data: `{"n":1}`, Timestamp: base},
		{CharacterID: "c1", StatusType: "mood", Data: `{"m":"ok"}`, Timestamp: base.Add(2 * time.Hour)},
		{CharacterID: "c1", StatusType: "heartbeat", Data: `{"n":2}`, Timestamp: base.Add(time.Hour)},
	}
	for _, e := range events {
		if _, err := st.AppendStatus(ctx, e); err != nil {
			t.Fatalf("append status: %v", err)
		}
	}

	ts, ok, err := st.LatestActivity(ctx, "c1")
	if err != nil || !ok {
		t.Fatalf("LatestActivity: ok=%v err=%v", ok, err)
	}
	if !ts.Equal(base.Add(2 * time.Hour)) {
		t.Fatalf("latest = %v, want %v", ts, base.Add(2*time.Hour))
	}

	latest, err := st.LatestStatuses(ctx, "c1")
	if err != nil {
		t.Fatalf("LatestStatuses: %v", err)
	}
	if len(latest) != 2 {
		t.Fatalf("latest statuses = %d, want 2", len(latest))
	}
	if latest[0].StatusType != "heartbeat" || latest[0].Data != `{"n":2}` {
		t.Fatalf("heartbeat latest = %+v", latest[0])
	}
	if latest[1].StatusType != "mood" {
		t.Fatalf("mood latest = %+v", latest[1])
	}
}

func TestAppendStatusRejectsUnknownCharacterAndBadJSON(t *testing.T) {
	st := openTempStore(t)
	ctx := context.Background()
	if _, err := st.AppendStatus(ctx, StatusEvent{CharacterID: "ghost", StatusType: "x"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	seedCharacter(t, st, "c1")
	if _, err := st.AppendStatus(ctx, StatusEvent{CharacterID: "c1", StatusType: "x", Data: "{"}); err == nil {
		t.Fatal("expected error for invalid JSON data")
	}
}

func TestUpsertWillKeepsIdentity(t *testing.T) {
	st := openTempStore(t)
	ctx := context.Background()
	seedCharacter(t, st, "c1")
	first := seedWill(t, st, "w1", "c1", true)

	second, err := st.UpsertWillConfig(ctx, WillConfig{ID: "w-other", CharacterID: "c1", Content: "new", TimeoutHours: 48})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("id = %s, want %s", second.ID, first.ID)
	}
	if second.IsEnabled || second.Content != "new" || second.TimeoutHours != 48 || len(second.CcEmails) != 0 {
		t.Fatalf("unexpected will after update: %+v", second)
	}
	if _, err := st.UpsertWillConfig(ctx, WillConfig{ID: "w2", CharacterID: "c1", IsEnabled: true}); err == nil {
		t.Fatal("expected error for enabled will without target email")
	}
}

func TestListEnabledWillsSkipsDisabled(t *testing.T) {
	st := openTempStore(t)
	seedCharacter(t, st, "c1")
	seedCharacter(t, st, "c2")
	seedWill(t, st, "w1", "c1", true)
	seedWill(t, st, "w2", "c2", false)

	wills, err := st.ListEnabledWills(context.Background())
	if err != nil {
		t.Fatalf("ListEnabledWills: %v", err)
	}
	if len(wills) != 1 || wills[0].ID != "w1" {
		t.Fatalf("enabled wills = %+v", wills)
	}
	if len(wills[0].CcEmails) != 2 || wills[0].CcEmails[1] != "b@example.com" {
		t.Fatalf("cc order not kept: %v", wills[0].CcEmails)
	}
}

func TestTriggerWillIsCompareAndSet(t *testing.T) {
	st := openTempStore(t)
	ctx := context.Background()
	seedCharacter(t, st, "c1")
	seedWill(t, st, "w1", "c1", true)
	now := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	ok, err := st.TriggerWill(ctx, "w1", "ob1", now)
	if err != nil || !ok {
		t.Fatalf("first trigger = %v, %v", ok, err)
	}
	ok, err = st.TriggerWill(ctx, "w1", "ob2", now)
	if err != nil || ok {
		t.Fatalf("second trigger = %v, %v; want false, nil", ok, err)
	}

	w, err := st.GetWillConfig(ctx, "w1")
	if err != nil {
		t.Fatalf("get will: %v", err)
	}
	if w.IsEnabled {
		t.Fatal("will should be disabled")
	}
	rows, err := st.ListOutboxByWill(ctx, "w1")
	if err != nil {
		t.Fatalf("list outbox: %v", err)
	}
	if len(rows) != 1 || rows[0].ID != "ob1" || rows[0].Status != OutboxPending {
		t.Fatalf("outbox rows = %+v", rows)
	}
}

func TestOutboxLeaseAckAndExpiry(t *testing.T) {
	st := openTempStore(t)
	ctx := context.Background()
	seedCharacter(t, st, "c1")
	seedWill(t, st, "w1", "c1", true)
	now := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	if _, err := st.TriggerWill(ctx, "w1", "ob1", now); err != nil {
		t.Fatalf("trigger: %v", err)
	}

	leased, err := st.LeaseOutbox(ctx, "relay-1", 10, now, time.Hour)
	if err != nil || len(leased) != 1 {
		t.Fatalf("lease = %v, %v", leased, err)
	}
	if leased[0].LeaseOwner != "relay-1" || leased[0].LeaseExpiresAt == nil {
		t.Fatalf("leased row = %+v", leased[0])
	}

	// A live lease is not handed out twice.
	again, err := st.LeaseOutbox(ctx, "relay-2", 10, now.Add(30*time.Minute), time.Hour)
	if err != nil || len(again) != 0 {
		t.Fatalf("re-lease during live lease = %v, %v", again, err)
	}

	// An expired lease is recovered by another owner.
	stolen, ok, err := st.LeaseOutboxEntry(ctx, "ob1", "relay-2", now.Add(2*time.Hour), time.Hour)
	if err != nil || !ok || stolen.LeaseOwner != "relay-2" {
		t.Fatalf("lease after expiry = %+v, %v, %v", stolen, ok, err)
	}

	if err := st.MarkOutboxSent(ctx, "ob1", "relay-1", 1, now); !errors.Is(err, ErrNotFound) {
		t.Fatalf("stale owner ack: expected ErrNotFound, got %v", err)
	}
	if err := st.MarkOutboxSent(ctx, "ob1", "relay-2", 2, now.Add(2*time.Hour)); err != nil {
		t.Fatalf("ack: %v", err)
	}
	got, err := st.GetOutboxEntry(ctx, "ob1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != OutboxSent || got.AttemptCount != 2 || got.ProcessedAt == nil || got.LeaseExpiresAt != nil {
		t.Fatalf("acked row = %+v", got)
	}
}

func TestOutboxRetryAndDead(t *testing.T) {
	st := openTempStore(t)
	ctx := context.Background()
	seedCharacter(t, st, "c1")
	seedWill(t, st, "w1", "c1", true)
	now := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	_, _ = st.TriggerWill(ctx, "w1", "ob1", now)

	if _, ok, err := st.LeaseOutboxEntry(ctx, "ob1", "r", now, time.Hour); err != nil || !ok {
		t.Fatalf("lease: %v %v", ok, err)
	}
	if err := st.MarkOutboxRetry(ctx, "ob1", "r", 1, now.Add(time.Minute), "engine stopping", now); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if leased, _ := st.LeaseOutbox(ctx, "r", 5, now, time.Hour); len(leased) != 0 {
		t.Fatal("row should not be due before next_attempt_at")
	}
	leased, err := st.LeaseOutbox(ctx, "r", 5, now.Add(time.Minute), time.Hour)
	if err != nil || len(leased) != 1 {
		t.Fatalf("lease after retry delay = %v, %v", leased, err)
	}
	if err := st.MarkOutboxDead(ctx, "ob1", "r", 3, "smtp down", now.Add(time.Hour)); err != nil {
		t.Fatalf("dead: %v", err)
	}
	got, _ := st.GetOutboxEntry(ctx, "ob1")
	if got.Status != OutboxDead || got.AttemptCount != 4 || got.LastError != "smtp down" {
		t.Fatalf("dead row = %+v", got)
	}
	counts, err := st.CountOutbox(ctx)
	if err != nil || counts[OutboxDead] != 1 {
		t.Fatalf("counts = %v, %v", counts, err)
	}
}

func TestDeleteCharacterCascades(t *testing.T) {
	st := openTempStore(t)
	ctx := context.Background()
	seedCharacter(t, st, "c1")
	seedWill(t, st, "w1", "c1", true)
	_, _ = st.AppendStatus(ctx, StatusEvent{CharacterID: "c1", StatusType: "x"})
	_, _ = st.TriggerWill(ctx, "w1", "ob1", time.Now())

	if err := st.DeleteCharacter(ctx, "c1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := st.GetWillConfig(ctx, "w1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("will after delete: %v", err)
	}
	if _, err := st.GetOutboxEntry(ctx, "ob1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("outbox after delete: %v", err)
	}
	if err := st.DeleteCharacter(ctx, "c1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete: %v", err)
	}
}

func TestMigrationVersion(t *testing.T) {
	st := openTempStore(t)
	v, dirty, err := st.MigrationVersion()
	if err != nil {
		t.Fatalf("MigrationVersion: %v", err)
	}
	if v != 1 || dirty {
		t.Fatalf("version = %d dirty = %v", v, dirty)
	}
}
