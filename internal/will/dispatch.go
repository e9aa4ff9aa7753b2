package will

import (
	"context"
	"errors"
	"fmt"
	"time"

	"stillalive/internal/mailer"
	"stillalive/internal/storage"
	"stillalive/internal/task/engine"
	logx "stillalive/pkg/logx"
)

const lastUpdatedLayout = "2006-01-02 15:04:05"

type DispatchConfig struct {
	From     string
	BaseURL  string         // public site root for display links
	Location *time.Location // zone for the "last updated" line; nil means UTC
}

// Dispatcher renders and mails the will of one configuration.
type Dispatcher struct {
	store  DispatchStore
	mailer mailer.Mailer
	cfg    DispatchConfig
	log    logx.Logger
	now    func() time.Time
}

func NewDispatcher(store DispatchStore, m mailer.Mailer, cfg DispatchConfig, log logx.Logger) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Dispatcher{store: store, mailer: m, cfg: cfg, log: log, now: time.Now}
}

// Deliver sends one email for willID. It does not look at is_enabled: the
// configuration is already disabled by the time its notification runs.
// Missing rows are wrapped with engine.NoRetry.
func (d *Dispatcher) Deliver(ctx context.Context, willID string) error {
	w, err := d.store.GetWillConfig(ctx, willID)
	if err != nil {
		return permanentIfMissing(fmt.Errorf("load will %s: %w", willID, err))
	}
	if w.TargetEmail == "" {
		return engine.NoRetry(fmt.Errorf("will %s has no target email", willID))
	}
	c, err := d.store.GetCharacter(ctx, w.CharacterID)
	if err != nil {
		return permanentIfMissing(fmt.Errorf("load character %s: %w", w.CharacterID, err))
	}

	now := d.now()
	lastSeen, ok, err := d.store.LatestActivity(ctx, c.ID)
	if err != nil {
		return fmt.Errorf("latest activity of %s: %w", c.ID, err)
	}
	if !ok {
		lastSeen = w.CreatedAt
	}
	elapsed := now.Sub(lastSeen)

	subject := Subject(c.Name)
	body, err := renderBody(mailView{
		Subject:       subject,
		CharacterName: c.Name,
		Content:       w.Content,
		Elapsed:       FormatElapsed(elapsed),
		TotalHours:    int(elapsed / time.Hour),
		LastUpdated:   lastSeen.In(d.cfg.Location).Format(lastUpdatedLayout),
		Link:          DisplayLink(d.cfg.BaseURL, c.DisplayCode),
	})
	if err != nil {
		return fmt.Errorf("render will %s: %w", willID, err)
	}

	msg := mailer.Message{
		From:    d.cfg.From,
		To:      []string{w.TargetEmail},
		Cc:      append([]string(nil), w.CcEmails...),
		Subject: subject,
		HTML:    body,
	}
	if err := d.mailer.Send(ctx, msg); err != nil {
		return fmt.Errorf("send will %s: %w", willID, err)
	}
	d.log.Info("will email sent",
		logx.WillID(w.ID),
		logx.String("character", c.Name),
		logx.Int("cc", len(msg.Cc)),
	)
	return nil
}

func permanentIfMissing(err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return engine.NoRetry(err)
	}
	return err
}
