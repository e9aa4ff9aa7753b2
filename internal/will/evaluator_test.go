package will

import (
	"testing"
	"time"
)

func TestExpired(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name     string
		timeout  int
		lastSeen time.Time
		want     bool
	}{
		{name: "never reported", timeout: 24, lastSeen: time.Time{}, want: false},
		{name: "recent", timeout: 24, lastSeen: now.Add(-time.Hour), want: false},
		{name: "exactly timeout", timeout: 24, lastSeen: now.Add(-24 * time.Hour), want: false},
		{name: "timeout plus one second", timeout: 24, lastSeen: now.Add(-24*time.Hour - time.Second), want: true},
		{name: "long silent", timeout: 8760, lastSeen: now.Add(-8761 * time.Hour), want: true},
		{name: "future timestamp", timeout: 24, lastSeen: now.Add(time.Hour), want: false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := Expired(tt.timeout, tt.lastSeen, now); got != tt.want {
				t.Fatalf("Expired(%d, %v, %v) = %v, want %v", tt.timeout, tt.lastSeen, now, got, tt.want)
			}
		})
	}
}
