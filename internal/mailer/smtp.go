package mailer

import (
	"context"
	"fmt"
	"strings"
	"time"

	mail "github.com/wneessen/go-mail"

	logx "stillalive/pkg/logx"
)

// SMTP sends mail through a single SMTP relay.
type SMTP struct {
	cfg Config
	log logx.Logger
}

func NewSMTP(cfg Config, log logx.Logger) (*SMTP, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, fmt.Errorf("mail.host is required")
	}
	if cfg.Port <= 0 {
		cfg.Port = 587
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &SMTP{cfg: cfg, log: log}, nil
}

func (s *SMTP) client() (*mail.Client, error) {
	opts := []mail.Option{
		mail.WithPort(s.cfg.Port),
		mail.WithTimeout(s.cfg.Timeout),
	}
	if s.cfg.UseTLS {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSOpportunistic))
	}
	if s.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(s.cfg.Username),
			mail.WithPassword(s.cfg.Password),
		)
	}
	return mail.NewClient(s.cfg.Host, opts...)
}

func (s *SMTP) Send(ctx context.Context, msg Message) error {
	m, err := buildMsg(msg, s.cfg.From)
	if err != nil {
		return err
	}
	c, err := s.client()
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	if err := c.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("smtp send to %s: %w", strings.Join(msg.To, ","), err)
	}
	s.log.Debug("mail sent", logx.String("subject", msg.Subject), logx.Int("to", len(msg.To)), logx.Int("cc", len(msg.Cc)))
	return nil
}

func buildMsg(msg Message, defaultFrom string) (*mail.Msg, error) {
	if len(msg.To) == 0 {
		return nil, ErrNoRecipient
	}
	from := msg.From
	if from == "" {
		from = defaultFrom
	}
	m := mail.NewMsg()
	if err := m.From(from); err != nil {
		return nil, fmt.Errorf("invalid from %q: %w", from, err)
	}
	if err := m.To(msg.To...); err != nil {
		return nil, fmt.Errorf("invalid to: %w", err)
	}
	if len(msg.Cc) > 0 {
		if err := m.Cc(msg.Cc...); err != nil {
			return nil, fmt.Errorf("invalid cc: %w", err)
		}
	}
	m.Subject(msg.Subject)
	m.SetDate()
	m.SetMessageID()
	m.SetBodyString(mail.TypeTextHTML, msg.HTML)
	return m, nil
}

// Log writes messages to the logger instead of sending them.
type Log struct {
	From string
	Log  logx.Logger
}

func (l Log) Send(ctx context.Context, msg Message) error {
	if len(msg.To) == 0 {
		return ErrNoRecipient
	}
	from := msg.From
	if from == "" {
		from = l.From
	}
	l.Log.Info("mail (log driver)",
		logx.String("from", from),
		logx.String("to", strings.Join(msg.To, ",")),
		logx.String("cc", strings.Join(msg.Cc, ",")),
		logx.String("subject", msg.Subject),
		logx.Int("html_bytes", len(msg.HTML)),
	)
	return nil
}

// New builds the configured transport wrapped with rate limiting.
func New(cfg Config, log logx.Logger) (*Limited, error) {
	var inner Mailer
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "smtp":
		s, err := NewSMTP(cfg, log)
		if err != nil {
			return nil, err
		}
		inner = s
	case "log":
		inner = Log{From: cfg.From, Log: log}
	default:
		return nil, fmt.Errorf("unknown mail driver: %s", cfg.Driver)
	}
	return NewLimited(inner, cfg.RatePerSec, cfg.From), nil
}
