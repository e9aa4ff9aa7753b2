package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const willColumns = `id, character_id, is_enabled, content, target_email, cc_emails, timeout_hours, created_at, updated_at`

func scanWill(scan rowScanner) (WillConfig, error) {
	var w WillConfig
	var enabled int
	var cc string
	var created, updated int64
	if err := scan(&w.ID, &w.CharacterID, &enabled, &w.Content, &w.TargetEmail, &cc, &w.TimeoutHours, &created, &updated); err != nil {
		return WillConfig{}, err
	}
	w.IsEnabled = enabled != 0
	if cc != "" {
		if err := json.Unmarshal([]byte(cc), &w.CcEmails); err != nil {
			return WillConfig{}, fmt.Errorf("decode cc_emails: %w", err)
		}
	}
	w.CreatedAt = fromMillis(created)
	w.UpdatedAt = fromMillis(updated)
	return w, nil
}

// UpsertWillConfig creates or replaces the will of w.CharacterID.
// On update the stored ID and CreatedAt are kept.
func (s *Store) UpsertWillConfig(ctx context.Context, w WillConfig) (WillConfig, error) {
	w.CharacterID = strings.TrimSpace(w.CharacterID)
	if w.CharacterID == "" {
		return WillConfig{}, errors.New("character id is required")
	}
	if w.IsEnabled && strings.TrimSpace(w.TargetEmail) == "" {
		return WillConfig{}, errors.New("enabled will requires a target email")
	}
	if w.CcEmails == nil {
		w.CcEmails = []string{}
	}
	cc, err := json.Marshal(w.CcEmails)
	if err != nil {
		return WillConfig{}, fmt.Errorf("encode cc_emails: %w", err)
	}
	if w.ID == "" {
		return WillConfig{}, errors.New("will id is required")
	}
	now := time.Now().UTC()

	_, err = s.db.ExecContext(ctx, `
INSERT INTO will_configs (`+willColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(character_id) DO UPDATE SET
	is_enabled = excluded.is_enabled,
	content = excluded.content,
	target_email = excluded.target_email,
	cc_emails = excluded.cc_emails,
	timeout_hours = excluded.timeout_hours,
	updated_at = excluded.updated_at`,
		w.ID, w.CharacterID, boolInt(w.IsEnabled), w.Content, w.TargetEmail, string(cc), w.TimeoutHours, toMillis(now), toMillis(now),
	)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "foreign key") {
			return WillConfig{}, fmt.Errorf("upsert will for %s: %w", w.CharacterID, ErrNotFound)
		}
		return WillConfig{}, fmt.Errorf("upsert will: %w", err)
	}
	return s.GetWillConfigByCharacter(ctx, w.CharacterID)
}

func (s *Store) GetWillConfig(ctx context.Context, id string) (WillConfig, error) {
	return s.getWillWhere(ctx, "id = ?", id)
}

func (s *Store) GetWillConfigByCharacter(ctx context.Context, characterID string) (WillConfig, error) {
	return s.getWillWhere(ctx, "character_id = ?", characterID)
}

func (s *Store) getWillWhere(ctx context.Context, where, arg string) (WillConfig, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+willColumns+` FROM will_configs WHERE `+where, strings.TrimSpace(arg))
	w, err := scanWill(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return WillConfig{}, ErrNotFound
	}
	if err != nil {
		return WillConfig{}, fmt.Errorf("get will: %w", err)
	}
	return w, nil
}

// ListEnabledWills returns every will with is_enabled set.
func (s *Store) ListEnabledWills(ctx context.Context) ([]WillConfig, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+willColumns+` FROM will_configs WHERE is_enabled = 1 ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list enabled wills: %w", err)
	}
	defer rows.Close()

	var out []WillConfig
	for rows.Next() {
		w, err := scanWill(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan will: %w", err)
		}
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate wills: %w", err)
	}
	return out, nil
}

// TriggerWill disables the will and queues its notification in one transaction.
//
// The disable is a compare-and-set on is_enabled; triggered is false when another
// sweep already won, in which case nothing is queued.
func (s *Store) TriggerWill(ctx context.Context, willID, outboxID string, now time.Time) (triggered bool, err error) {
	if strings.TrimSpace(willID) == "" || strings.TrimSpace(outboxID) == "" {
		return false, errors.New("will id and outbox id are required")
	}
	now = now.UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("start trigger transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	res, err := tx.ExecContext(ctx,
		`UPDATE will_configs SET is_enabled = 0, updated_at = ? WHERE id = ? AND is_enabled = 1`,
		toMillis(now), willID,
	)
	if err != nil {
		return false, fmt.Errorf("disable will %s: %w", willID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("disable will rows affected: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	if err := insertOutbox(ctx, tx, outboxID, willID, now); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit trigger transaction: %w", err)
	}
	return true, nil
}
