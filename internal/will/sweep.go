package will

import (
	"context"
	"errors"
	"fmt"
	"time"

	"stillalive/internal/eventbus"
	"stillalive/internal/idgen"
	"stillalive/internal/storage"
	logx "stillalive/pkg/logx"
)

// Report summarizes one sweep.
type Report struct {
	Checked    int `json:"checked"`
	Triggered  int `json:"triggered"`
	Skipped    int `json:"skipped"`
	NoActivity int `json:"no_activity"`
	Failed     int `json:"failed"`

	// Interrupted is set when ctx ended before every will was checked.
	Interrupted bool `json:"interrupted,omitempty"`
}

// TriggeredEvent is published for every will the sweep fires.
type TriggeredEvent struct {
	WillID      string    `json:"will_id"`
	CharacterID string    `json:"character_id"`
	OutboxID    string    `json:"outbox_id"`
	LastSeen    time.Time `json:"last_seen"`
	At          time.Time `json:"at"`
}

type SweepConfig struct {
	// ExpireNeverReported uses the will's created_at as the liveness baseline
	// for characters that never reported a status.
	ExpireNeverReported bool
}

// Sweeper finds expired wills and queues their notifications.
// It holds no state between runs.
type Sweeper struct {
	store   SweepStore
	notify  Notifier
	cfg     SweepConfig
	log     logx.Logger
	bus     eventbus.Bus
	metrics Metrics

	now   func() time.Time
	newID func() (string, error)
}

type SweepOption func(*Sweeper)

func WithSweepMetrics(m Metrics) SweepOption {
	return func(s *Sweeper) {
		if m != nil {
			s.metrics = m
		}
	}
}

func NewSweeper(store SweepStore, notify Notifier, cfg SweepConfig, log logx.Logger, bus eventbus.Bus, opts ...SweepOption) *Sweeper {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Sweeper{
		store:   store,
		notify:  notify,
		cfg:     cfg,
		log:     log,
		bus:     bus,
		metrics: nopMetrics{},
		now:     time.Now,
		newID:   idgen.OutboxID,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Run performs one sweep over every enabled will. Per-will failures are
// logged and counted; the returned error is set only when the sweep could
// not start or ctx ended. An interrupted sweep still reports what it did.
func (s *Sweeper) Run(ctx context.Context) (Report, error) {
	start := s.now()
	var rep Report

	wills, err := s.store.ListEnabledWills(ctx)
	if err != nil {
		s.log.Error("will sweep: list enabled wills failed", logx.Err(err))
		return rep, fmt.Errorf("list enabled wills: %w", err)
	}
	s.log.Debug("will sweep started", logx.Int("enabled", len(wills)))

	var runErr error
	for _, w := range wills {
		if runErr = ctx.Err(); runErr != nil {
			rep.Interrupted = true
			break
		}
		rep.Checked++
		outcome, err := s.check(ctx, w)
		if err != nil {
			rep.Failed++
			s.log.Error("will sweep: check failed",
				logx.WillID(w.ID),
				logx.CharacterID(w.CharacterID),
				logx.String("character", s.characterName(ctx, w.CharacterID)),
				logx.Err(err),
			)
			continue
		}
		switch outcome {
		case outcomeTriggered:
			rep.Triggered++
		case outcomeNoActivity:
			rep.NoActivity++
		default:
			rep.Skipped++
		}
	}

	dur := s.now().Sub(start)
	fields := []logx.Field{
		logx.Int("checked", rep.Checked),
		logx.Int("enabled", len(wills)),
		logx.Int("triggered", rep.Triggered),
		logx.Int("skipped", rep.Skipped),
		logx.Int("no_activity", rep.NoActivity),
		logx.Int("failed", rep.Failed),
		logx.Duration("took", dur),
	}
	if rep.Interrupted {
		s.log.Warn("will sweep interrupted", append(fields, logx.Err(runErr))...)
	} else {
		s.log.Info("will sweep completed", fields...)
	}
	eventbus.PublishSafe(s.bus, eventbus.TypeSweepCompleted, rep)
	s.metrics.ObserveSweep(dur, rep)
	return rep, runErr
}

type sweepOutcome int

const (
	outcomeActive sweepOutcome = iota
	outcomeNoActivity
	outcomeTriggered
)

func (s *Sweeper) check(ctx context.Context, w storage.WillConfig) (sweepOutcome, error) {
	lastSeen, ok, err := s.store.LatestActivity(ctx, w.CharacterID)
	if err != nil {
		return outcomeActive, err
	}
	if !ok {
		if !s.cfg.ExpireNeverReported {
			s.log.Info("will sweep: character never reported, skipping",
				logx.WillID(w.ID), logx.CharacterID(w.CharacterID))
			return outcomeNoActivity, nil
		}
		lastSeen = w.CreatedAt
	}

	now := s.now()
	if !Expired(w.TimeoutHours, lastSeen, now) {
		if !ok {
			return outcomeNoActivity, nil
		}
		return outcomeActive, nil
	}

	outboxID, err := s.newID()
	if err != nil {
		return outcomeActive, err
	}
	triggered, err := s.store.TriggerWill(ctx, w.ID, outboxID, now)
	if err != nil {
		return outcomeActive, fmt.Errorf("trigger will: %w", err)
	}
	if !triggered {
		// Another sweep disabled it first; its notification is already queued.
		s.log.Debug("will sweep: will already disabled", logx.WillID(w.ID))
		return outcomeActive, nil
	}

	s.log.Info("will triggered",
		logx.WillID(w.ID),
		logx.CharacterID(w.CharacterID),
		logx.String("character", s.characterName(ctx, w.CharacterID)),
		logx.Time("last_seen", lastSeen),
		logx.OutboxID(outboxID),
	)
	eventbus.PublishSafe(s.bus, eventbus.TypeWillTriggered, TriggeredEvent{
		WillID: w.ID, CharacterID: w.CharacterID, OutboxID: outboxID, LastSeen: lastSeen, At: now,
	})

	if s.notify != nil {
		// The row is durable; the relay picks it up later if this hand-off fails.
		if err := s.notify.Dispatch(ctx, outboxID); err != nil {
			s.log.Warn("will sweep: immediate dispatch failed; relay will retry",
				logx.OutboxID(outboxID), logx.Err(err))
		}
	}
	return outcomeTriggered, nil
}

func (s *Sweeper) characterName(ctx context.Context, id string) string {
	c, err := s.store.GetCharacter(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "<deleted>"
		}
		return "<unknown>"
	}
	return c.Name
}
