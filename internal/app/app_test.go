package app

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"stillalive/internal/config"
	"stillalive/internal/storage"
)

func baseConfig(dir string) *config.Config {
	return &config.Config{
		Logging:   config.LoggingConfig{Level: "error"},
		Storage:   config.StorageConfig{Path: filepath.Join(dir, "stillalive.db")},
		Scheduler: config.SchedulerConfig{Enabled: true, Timezone: "UTC"},
		Will:      config.WillConfig{BaseURL: "https://example.com/"},
		Mail:      config.MailConfig{Driver: "log", From: "noreply@example.com"},
	}
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *config.Config)
		wantErr string
	}{
		{name: "ok", mutate: func(*config.Config) {}},
		{name: "no storage path", mutate: func(c *config.Config) { c.Storage.Path = "" }, wantErr: "storage.path"},
		{name: "bad timezone", mutate: func(c *config.Config) { c.Scheduler.Timezone = "Mars/Base" }, wantErr: "scheduler.timezone"},
		{name: "bad sweep schedule", mutate: func(c *config.Config) { c.Will.SweepSchedule = "soonish" }, wantErr: "will.sweep_schedule"},
		{name: "bad relay interval", mutate: func(c *config.Config) { c.Will.RelayInterval = "-1m" }, wantErr: "will.relay_interval"},
		{name: "lease shorter than a send", mutate: func(c *config.Config) { c.Will.LeaseTTL = "30s" }, wantErr: "will.lease_ttl"},
		{name: "smtp without host", mutate: func(c *config.Config) { c.Mail.Driver = "smtp" }, wantErr: "mail.host"},
		{name: "unknown mail driver", mutate: func(c *config.Config) { c.Mail.Driver = "pigeon" }, wantErr: "mail.driver"},
		{name: "missing from", mutate: func(c *config.Config) { c.Mail.From = "" }, wantErr: "mail.from"},
		{name: "negative workers", mutate: func(c *config.Config) { c.TaskEngine.Workers = -1 }, wantErr: "task_engine.workers"},
		{name: "events without url", mutate: func(c *config.Config) { c.Events.Enabled = true }, wantErr: "events.nats_url"},
		{name: "pprof without token", mutate: func(c *config.Config) { c.HTTP.Pprof = true }, wantErr: "http.pprof"},
		{name: "bad http timeout", mutate: func(c *config.Config) { c.HTTP.ReadTimeout = "fast" }, wantErr: "http.read_timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := baseConfig(t.TempDir())
			tt.mutate(c)
			err := validateConfig(c)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestMapWillConfigDefaults(t *testing.T) {
	ws, err := mapWillConfig(baseConfig(t.TempDir()))
	if err != nil {
		t.Fatalf("map: %v", err)
	}
	if ws.SweepSchedule != "0 * * * *" || ws.RelayInterval != time.Minute {
		t.Fatalf("schedule = %q interval = %v", ws.SweepSchedule, ws.RelayInterval)
	}
	r := ws.Relay
	if r.Attempts != 3 || r.RetryBase != 5*time.Minute || r.RetryFactor != 2 || r.LeaseTTL != time.Hour {
		t.Fatalf("relay = %+v", r)
	}
	if ws.Dispatch.BaseURL != "https://example.com" || ws.Dispatch.Location != time.UTC {
		t.Fatalf("dispatch = %+v", ws.Dispatch)
	}
	if !strings.HasPrefix(r.Owner, "relay:") {
		t.Fatalf("owner = %q", r.Owner)
	}
}

func TestMapMailConfigDefaults(t *testing.T) {
	c := baseConfig(t.TempDir())
	c.Mail = config.MailConfig{Host: "smtp.example.com", From: "a@example.com"}
	mc, err := mapMailConfig(c)
	if err != nil {
		t.Fatalf("map: %v", err)
	}
	if mc.Driver != "smtp" || mc.Port != 587 || !mc.UseTLS || mc.Timeout != 30*time.Second {
		t.Fatalf("mail = %+v", mc)
	}
	off := false
	c.Mail.UseTLS = &off
	if mc, _ = mapMailConfig(c); mc.UseTLS {
		t.Fatalf("use_tls override ignored")
	}
}

func writeConfig(t *testing.T, c *config.Config) string {
	t.Helper()
	b, err := json.Marshal(c)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	path := filepath.Join(t.TempDir(), "stillalive.json")
	if err := os.WriteFile(path, b, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestSweepAndRelayOnce(t *testing.T) {
	path := writeConfig(t, baseConfig(t.TempDir()))
	a, err := New(path)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	defer a.Close()

	ctx := context.Background()
	st := a.Store()
	if _, err := st.CreateCharacter(ctx, storage.Character{
		ID: "c1", Name: "Alice", DisplayCode: "dc1", SecretKey: "sk1", IsActive: true,
	}); err != nil {
		t.Fatalf("create character: %v", err)
	}
	if _, err := st.UpsertWillConfig(ctx, storage.WillConfig{
		ID: "w1", CharacterID: "c1", IsEnabled: true, Content: "bye",
		TargetEmail: "heir@example.com", CcEmails: []string{"cc@example.com"}, TimeoutHours: 24,
	}); err != nil {
		t.Fatalf("upsert will: %v", err)
	}
	if _, err := st.AppendStatus(ctx, storage.StatusEvent{
		CharacterID: "c1", StatusType: "heartbeat", Timestamp: time.Now().Add(-48 * time.Hour),
	}); err != nil {
		t.Fatalf("append status: %v", err)
	}

	rep, err := a.SweepOnce(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if rep.Triggered != 1 {
		t.Fatalf("report = %+v", rep)
	}
	rows, err := st.ListOutboxByWill(ctx, "w1")
	if err != nil || len(rows) != 1 || rows[0].Status != storage.OutboxPending {
		t.Fatalf("outbox after sweep = %+v, %v", rows, err)
	}

	rctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	n, err := a.RelayOnce(rctx)
	if err != nil || n != 1 {
		t.Fatalf("relay once = %d, %v", n, err)
	}
	rows, _ = st.ListOutboxByWill(ctx, "w1")
	if len(rows) != 1 || rows[0].Status != storage.OutboxSent {
		t.Fatalf("outbox after relay = %+v", rows)
	}
	hist := a.mail.History()
	if len(hist) != 1 || hist[0].Subject != "来自 Alice 的遗嘱" {
		t.Fatalf("mail history = %+v", hist)
	}

	w, _ := st.GetWillConfig(ctx, "w1")
	if w.IsEnabled {
		t.Fatalf("will still enabled after trigger")
	}
}

func TestStartStop(t *testing.T) {
	c := baseConfig(t.TempDir())
	c.HTTP = config.HTTPConfig{Enabled: true, Addr: "127.0.0.1:0", Metrics: true}
	a, err := New(writeConfig(t, c))
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	snap := a.sched.Snapshot()
	names := map[string]bool{}
	for _, s := range snap.Schedules {
		names[s.Name] = true
	}
	for _, want := range []string{ScheduleSweep, ScheduleRelay, ScheduleOutbox} {
		if !names[want] {
			t.Fatalf("schedule %q not registered: %+v", want, snap.Schedules)
		}
	}

	st := a.debugState(context.Background())
	routines := map[string]bool{}
	for _, r := range st.Routines {
		routines[r.Name] = true
	}
	if !routines["http.serve"] || !routines["config.watch"] {
		t.Fatalf("app routines = %+v", st.Routines)
	}
	if len(st.Engine.Routines) == 0 || len(st.Scheduler.Schedules) != 3 || st.Outbox == nil {
		t.Fatalf("debug state = %+v", st)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.Stop(ctx, StopAppStop); err != nil {
		t.Fatalf("stop: %v", err)
	}
	select {
	case <-a.Done():
	default:
		t.Fatalf("app context not canceled after stop")
	}
}
