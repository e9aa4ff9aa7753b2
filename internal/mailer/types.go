package mailer

import (
	"context"
	"errors"
	"time"
)

var ErrNoRecipient = errors.New("mailer: message has no recipient")

// Config mirrors the mail section of the config file.
type Config struct {
	Driver     string // "smtp" (default) or "log"
	Host       string
	Port       int // default 587
	Username   string
	Password   string
	From       string
	UseTLS     bool
	Timeout    time.Duration
	RatePerSec int
}

// Message is one outgoing HTML email.
type Message struct {
	From    string
	To      []string
	Cc      []string
	Subject string
	HTML    string
}

// Mailer sends one message. Any returned error is treated as retryable by callers.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

type HistoryItem struct {
	At      time.Time
	To      []string
	Subject string
	Error   string
}
