package storage

import (
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("storage: not found")
	ErrConflict = errors.New("storage: conflict")
)

// Config configures storage.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means 5s
}

type Character struct {
	ID          string
	OwnerID     string
	Name        string
	DisplayCode string
	SecretKey   string
	IsActive    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// StatusEvent is one immutable status report. Data is opaque JSON.
type StatusEvent struct {
	ID          int64
	CharacterID string
	StatusType  string
	Data        string
	Timestamp   time.Time
}

type WillConfig struct {
	ID           string
	CharacterID  string
	IsEnabled    bool
	Content      string
	TargetEmail  string
	CcEmails     []string
	TimeoutHours int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type OutboxStatus string

const (
	OutboxPending OutboxStatus = "pending"
	OutboxLeased  OutboxStatus = "leased"
	OutboxSent    OutboxStatus = "sent"
	OutboxDead    OutboxStatus = "dead"
)

// OutboxEntry is one pending will notification.
type OutboxEntry struct {
	ID             string
	WillID         string
	Status         OutboxStatus
	AttemptCount   int
	NextAttemptAt  time.Time
	LeaseOwner     string
	LeaseExpiresAt *time.Time
	LastError      string
	ProcessedAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
