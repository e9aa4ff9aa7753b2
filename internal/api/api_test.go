package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"stillalive/internal/eventbus"
	"stillalive/internal/storage"
	logx "stillalive/pkg/logx"
)

const testToken = "owner-token"

type countMetrics struct{ types []string }

func (m *countMetrics) StatusRecorded(t string) { m.types = append(m.types, t) }

func init() { gin.SetMode(gin.TestMode) }

func newTestServer(t *testing.T) (*Server, *storage.Store, *countMetrics, eventbus.Bus) {
	t.Helper()
	st, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "api.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	_, err = st.CreateCharacter(context.Background(), storage.Character{
		ID: "c1", OwnerID: "o1", Name: "Alice", DisplayCode: "dc1", SecretKey: "sk1", IsActive: true,
	})
	if err != nil {
		t.Fatalf("create character: %v", err)
	}
	m := &countMetrics{}
	bus := eventbus.New()
	metricsH := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("ok_metric 1\n")) })
	return New(st, Config{Token: testToken}, logx.Nop(), bus, WithMetrics(m, metricsH)), st, m, bus
}

func do(t *testing.T, s *Server, method, path string, body any, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestStatusUpdate(t *testing.T) {
	s, st, m, bus := newTestServer(t)
	events, unsub := bus.Subscribe(4)
	defer unsub()

	tests := []struct {
		name   string
		key    string
		body   any
		status int
	}{
		{name: "missing key", body: map[string]any{"status_type": "heartbeat"}, status: http.StatusUnauthorized},
		{name: "unknown key", key: "nope", body: map[string]any{"status_type": "heartbeat"}, status: http.StatusUnauthorized},
		{name: "missing type", key: "sk1", body: map[string]any{"data": map[string]any{}}, status: http.StatusBadRequest},
		{name: "bad json", key: "sk1", body: "{", status: http.StatusBadRequest},
		{name: "ok", key: "sk1", body: map[string]any{"status_type": "heartbeat", "data": map[string]any{"hp": 3}}, status: http.StatusCreated},
		{name: "ok without data", key: "sk1", body: map[string]any{"status_type": "mood"}, status: http.StatusCreated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hdr := map[string]string{}
			if tt.key != "" {
				hdr[headerCharacterKey] = tt.key
			}
			rec := do(t, s, http.MethodPost, "/api/v1/status/update", tt.body, hdr)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.status, rec.Body.String())
			}
		})
	}

	if len(m.types) != 2 || m.types[0] != "heartbeat" {
		t.Fatalf("metrics = %v", m.types)
	}
	if _, ok, err := st.LatestActivity(context.Background(), "c1"); err != nil || !ok {
		t.Fatalf("latest activity ok=%v err=%v", ok, err)
	}
	select {
	case ev := <-events:
		if ev.Type != eventbus.TypeStatusRecorded {
			t.Fatalf("event type = %q", ev.Type)
		}
	case <-time.After(time.Second):
		t.Fatalf("no status event")
	}
}

func TestInactiveCharacterRejected(t *testing.T) {
	s, st, _, _ := newTestServer(t)
	_, err := st.CreateCharacter(context.Background(), storage.Character{
		ID: "c2", Name: "Bob", DisplayCode: "dc2", SecretKey: "sk2", IsActive: false,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	rec := do(t, s, http.MethodPost, "/api/v1/status/update", map[string]any{"status_type": "x"}, map[string]string{headerCharacterKey: "sk2"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestWillConfigEndpoints(t *testing.T) {
	s, _, _, _ := newTestServer(t)
	auth := map[string]string{"Authorization": "Bearer " + testToken}

	if rec := do(t, s, http.MethodGet, "/api/v1/characters/c1/will", nil, nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token status = %d", rec.Code)
	}
	if rec := do(t, s, http.MethodGet, "/api/v1/characters/c1/will", nil, auth); rec.Code != http.StatusNotFound {
		t.Fatalf("unset will status = %d", rec.Code)
	}
	if rec := do(t, s, http.MethodGet, "/api/v1/characters/zz/will", nil, auth); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown character status = %d", rec.Code)
	}

	bad := map[string]any{
		"is_enabled":    true,
		"target_email":  "",
		"cc_emails":     []string{"a@example.com", "not-an-email"},
		"timeout_hours": 12,
	}
	rec := do(t, s, http.MethodPut, "/api/v1/characters/c1/will", bad, auth)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid put status = %d", rec.Code)
	}
	var eb errorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &eb); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	for _, f := range []string{"target_email", "cc_emails[1]", "timeout_hours"} {
		if _, ok := eb.Fields[f]; !ok {
			t.Fatalf("missing field error %q in %v", f, eb.Fields)
		}
	}

	good := map[string]any{
		"is_enabled":    true,
		"content":       "farewell",
		"target_email":  " heir@example.com ",
		"cc_emails":     []string{"a@example.com", "", "b@example.com"},
		"timeout_hours": 48,
	}
	rec = do(t, s, http.MethodPut, "/api/v1/characters/c1/will", good, auth)
	if rec.Code != http.StatusOK {
		t.Fatalf("put status = %d (%s)", rec.Code, rec.Body.String())
	}
	var first willBody
	_ = json.Unmarshal(rec.Body.Bytes(), &first)
	if first.TargetEmail != "heir@example.com" || len(first.CcEmails) != 2 || first.CcEmails[1] != "b@example.com" {
		t.Fatalf("saved = %+v", first)
	}

	good["timeout_hours"] = 72
	rec = do(t, s, http.MethodPut, "/api/v1/characters/c1/will", good, auth)
	var second willBody
	_ = json.Unmarshal(rec.Body.Bytes(), &second)
	if second.ID != first.ID || second.TimeoutHours != 72 {
		t.Fatalf("update changed id or lost timeout: first=%s second=%+v", first.ID, second)
	}

	rec = do(t, s, http.MethodGet, "/api/v1/characters/c1/will", nil, auth)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"timeout_hours":72`) {
		t.Fatalf("get = %d %s", rec.Code, rec.Body.String())
	}
}

func TestOwnerAPIDisabledWithoutToken(t *testing.T) {
	st, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "x.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer st.Close()
	s := New(st, Config{}, logx.Nop(), nil)
	rec := do(t, s, http.MethodGet, "/api/v1/characters/c1/will", nil, map[string]string{"Authorization": "Bearer "})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestDisplayAndHealth(t *testing.T) {
	s, st, _, _ := newTestServer(t)
	ctx := context.Background()

	rec := do(t, s, http.MethodGet, "/api/v1/d/dc1", nil, nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"last_activity":null`) {
		t.Fatalf("empty display = %d %s", rec.Code, rec.Body.String())
	}

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, typ := range []string{"mood", "heartbeat", "mood"} {
		_, err := st.AppendStatus(ctx, storage.StatusEvent{
			CharacterID: "c1", StatusType: typ, Data: `{"n":` + string(rune('0'+i)) + `}`, Timestamp: base.Add(time.Duration(i) * time.Hour),
		})
		if err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	rec = do(t, s, http.MethodGet, "/api/v1/d/dc1", nil, nil)
	var got displayResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Name != "Alice" || len(got.Statuses) != 2 {
		t.Fatalf("display = %+v", got)
	}
	if got.LastActivity == nil || !got.LastActivity.Equal(base.Add(2*time.Hour)) {
		t.Fatalf("last activity = %v", got.LastActivity)
	}

	if rec := do(t, s, http.MethodGet, "/api/v1/d/missing", nil, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("missing display = %d", rec.Code)
	}
	if rec := do(t, s, http.MethodGet, "/healthz", nil, nil); rec.Code != http.StatusOK {
		t.Fatalf("healthz = %d", rec.Code)
	}
	if rec := do(t, s, http.MethodGet, "/metrics", nil, nil); rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "ok_metric") {
		t.Fatalf("metrics = %d", rec.Code)
	}
}

func TestPprofBehindToken(t *testing.T) {
	st, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "p.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer st.Close()
	s := New(st, Config{Token: testToken}, logx.Nop(), nil, WithPprof(true))

	if rec := do(t, s, http.MethodGet, "/debug/pprof/goroutine?debug=1", nil, nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated pprof = %d", rec.Code)
	}
	rec := do(t, s, http.MethodGet, "/debug/pprof/goroutine?debug=1", nil, map[string]string{"Authorization": "Bearer " + testToken})
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "goroutine") {
		t.Fatalf("pprof = %d", rec.Code)
	}

	plain := New(st, Config{Token: testToken}, logx.Nop(), nil)
	if rec := do(t, plain, http.MethodGet, "/debug/pprof/", nil, map[string]string{"Authorization": "Bearer " + testToken}); rec.Code != http.StatusNotFound {
		t.Fatalf("pprof mounted without option: %d", rec.Code)
	}
}

func TestTokenComparison(t *testing.T) {
	s, _, _, _ := newTestServer(t)
	tests := []struct {
		name   string
		header string
		status int
	}{
		{name: "same length wrong token", header: "Bearer owner-tokem", status: http.StatusUnauthorized},
		{name: "prefix of token", header: "Bearer owner", status: http.StatusUnauthorized},
		{name: "token with suffix", header: "Bearer " + testToken + "x", status: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic " + testToken, status: http.StatusUnauthorized},
		{name: "padded token", header: "Bearer  " + testToken + " ", status: http.StatusNotFound},
		{name: "exact token", header: "Bearer " + testToken, status: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, http.MethodGet, "/api/v1/characters/c1/will", nil, map[string]string{"Authorization": tt.header})
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
		})
	}
}

func TestDebugStateBehindToken(t *testing.T) {
	st, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "s.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer st.Close()
	state := func(ctx context.Context) any {
		return map[string]any{"engine": map[string]int{"workers": 2}}
	}
	s := New(st, Config{Token: testToken}, logx.Nop(), nil, WithState(state))

	if rec := do(t, s, http.MethodGet, "/debug/state", nil, nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated state = %d", rec.Code)
	}
	rec := do(t, s, http.MethodGet, "/debug/state", nil, map[string]string{"Authorization": "Bearer " + testToken})
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"workers":2`) {
		t.Fatalf("state = %d %s", rec.Code, rec.Body.String())
	}

	plain := New(st, Config{Token: testToken}, logx.Nop(), nil)
	if rec := do(t, plain, http.MethodGet, "/debug/state", nil, map[string]string{"Authorization": "Bearer " + testToken}); rec.Code != http.StatusNotFound {
		t.Fatalf("state mounted without option: %d", rec.Code)
	}
}
