package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const outboxColumns = `id, will_id, status, attempt_count, next_attempt_at, lease_owner, lease_expires_at, last_error, processed_at, created_at, updated_at`

// dueWhere matches pending rows that are due and leased rows whose lease expired.
const dueWhere = `(
	(status = 'pending' AND next_attempt_at <= ?)
	OR
	(status = 'leased' AND lease_expires_at IS NOT NULL AND lease_expires_at <= ?)
)`

func scanOutbox(scan rowScanner) (OutboxEntry, error) {
	var e OutboxEntry
	var status string
	var next, created, updated int64
	var leaseExp, processed sql.NullInt64
	if err := scan(&e.ID, &e.WillID, &status, &e.AttemptCount, &next, &e.LeaseOwner, &leaseExp, &e.LastError, &processed, &created, &updated); err != nil {
		return OutboxEntry{}, err
	}
	e.Status = OutboxStatus(status)
	e.NextAttemptAt = fromMillis(next)
	e.LeaseExpiresAt = nullMillis(leaseExp)
	e.ProcessedAt = nullMillis(processed)
	e.CreatedAt = fromMillis(created)
	e.UpdatedAt = fromMillis(updated)
	return e, nil
}

func insertOutbox(ctx context.Context, db execContexter, id, willID string, now time.Time) error {
	_, err := db.ExecContext(ctx, `
INSERT INTO will_outbox (id, will_id, status, attempt_count, next_attempt_at, created_at, updated_at)
VALUES (?, ?, ?, 0, ?, ?, ?)`,
		id, willID, string(OutboxPending), toMillis(now), toMillis(now), toMillis(now),
	)
	if err != nil {
		return fmt.Errorf("enqueue will notification %s: %w", willID, err)
	}
	return nil
}

func (s *Store) GetOutboxEntry(ctx context.Context, id string) (OutboxEntry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+outboxColumns+` FROM will_outbox WHERE id = ?`, strings.TrimSpace(id))
	e, err := scanOutbox(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return OutboxEntry{}, ErrNotFound
	}
	if err != nil {
		return OutboxEntry{}, fmt.Errorf("get outbox entry: %w", err)
	}
	return e, nil
}

// ListOutboxByWill returns every outbox row of one will, oldest first.
func (s *Store) ListOutboxByWill(ctx context.Context, willID string) ([]OutboxEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+outboxColumns+` FROM will_outbox WHERE will_id = ? ORDER BY created_at ASC, id ASC`, willID)
	if err != nil {
		return nil, fmt.Errorf("list outbox: %w", err)
	}
	defer rows.Close()
	var out []OutboxEntry
	for rows.Next() {
		e, err := scanOutbox(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan outbox entry: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox: %w", err)
	}
	return out, nil
}

// CountOutbox returns the number of rows per status.
func (s *Store) CountOutbox(ctx context.Context) (map[OutboxStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM will_outbox GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count outbox: %w", err)
	}
	defer rows.Close()
	out := map[OutboxStatus]int{}
	for rows.Next() {
		var st string
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, fmt.Errorf("scan outbox count: %w", err)
		}
		out[OutboxStatus(st)] = n
	}
	return out, rows.Err()
}

// LeaseOutbox leases up to limit due rows for owner.
func (s *Store) LeaseOutbox(ctx context.Context, owner string, limit int, now time.Time, ttl time.Duration) ([]OutboxEntry, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return nil, errors.New("lease owner is required")
	}
	if limit <= 0 {
		return nil, errors.New("limit must be greater than zero")
	}
	if ttl <= 0 {
		return nil, errors.New("lease ttl must be greater than zero")
	}
	now = now.UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("start lease transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	rows, err := tx.QueryContext(ctx, `
SELECT id FROM will_outbox
WHERE `+dueWhere+`
ORDER BY next_attempt_at ASC, created_at ASC, id ASC
LIMIT ?`, toMillis(now), toMillis(now), limit)
	if err != nil {
		return nil, fmt.Errorf("select lease candidates: %w", err)
	}
	ids := make([]string, 0, limit)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan lease candidate: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("iterate lease candidates: %w", err)
	}
	if err := rows.Close(); err != nil {
		return nil, fmt.Errorf("close lease candidates: %w", err)
	}

	leased := make([]OutboxEntry, 0, len(ids))
	for _, id := range ids {
		e, ok, err := leaseOne(ctx, tx, id, owner, now, ttl)
		if err != nil {
			return nil, err
		}
		if ok {
			leased = append(leased, e)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit lease transaction: %w", err)
	}
	return leased, nil
}

// LeaseOutboxEntry leases one row if it is due. ok is false when the row is
// not due or someone else holds a live lease.
func (s *Store) LeaseOutboxEntry(ctx context.Context, id, owner string, now time.Time, ttl time.Duration) (OutboxEntry, bool, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" || ttl <= 0 {
		return OutboxEntry{}, false, errors.New("lease owner and ttl are required")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return OutboxEntry{}, false, fmt.Errorf("start lease transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()
	e, ok, err := leaseOne(ctx, tx, id, owner, now.UTC(), ttl)
	if err != nil || !ok {
		return OutboxEntry{}, false, err
	}
	if err := tx.Commit(); err != nil {
		return OutboxEntry{}, false, fmt.Errorf("commit lease transaction: %w", err)
	}
	return e, true, nil
}

func leaseOne(ctx context.Context, tx *sql.Tx, id, owner string, now time.Time, ttl time.Duration) (OutboxEntry, bool, error) {
	res, err := tx.ExecContext(ctx, `
UPDATE will_outbox
SET status = ?, lease_owner = ?, lease_expires_at = ?, updated_at = ?
WHERE id = ? AND `+dueWhere,
		string(OutboxLeased), owner, toMillis(now.Add(ttl)), toMillis(now),
		id, toMillis(now), toMillis(now),
	)
	if err != nil {
		return OutboxEntry{}, false, fmt.Errorf("lease outbox entry %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return OutboxEntry{}, false, fmt.Errorf("lease rows affected for %s: %w", id, err)
	}
	if n == 0 {
		return OutboxEntry{}, false, nil
	}
	row := tx.QueryRowContext(ctx, `SELECT `+outboxColumns+` FROM will_outbox WHERE id = ?`, id)
	e, err := scanOutbox(row.Scan)
	if err != nil {
		return OutboxEntry{}, false, fmt.Errorf("scan leased outbox entry %s: %w", id, err)
	}
	return e, true, nil
}

// MarkOutboxSent acknowledges a delivered notification. Only the lease owner may ack.
func (s *Store) MarkOutboxSent(ctx context.Context, id, owner string, attempts int, now time.Time) error {
	now = now.UTC()
	res, err := s.db.ExecContext(ctx, `
UPDATE will_outbox
SET status = ?, attempt_count = attempt_count + ?, lease_owner = '', lease_expires_at = NULL,
	last_error = '', processed_at = ?, updated_at = ?
WHERE id = ? AND status = ? AND lease_owner = ?`,
		string(OutboxSent), attempts, toMillis(now), toMillis(now),
		id, string(OutboxLeased), owner,
	)
	if err != nil {
		return fmt.Errorf("mark outbox sent: %w", err)
	}
	return affectedOne(res, "mark outbox sent")
}

// MarkOutboxRetry releases the lease and makes the row due again at nextAttempt.
func (s *Store) MarkOutboxRetry(ctx context.Context, id, owner string, attempts int, nextAttempt time.Time, lastErr string, now time.Time) error {
	now = now.UTC()
	res, err := s.db.ExecContext(ctx, `
UPDATE will_outbox
SET status = ?, attempt_count = attempt_count + ?, next_attempt_at = ?, lease_owner = '',
	lease_expires_at = NULL, last_error = ?, updated_at = ?
WHERE id = ? AND status = ? AND lease_owner = ?`,
		string(OutboxPending), attempts, toMillis(nextAttempt), truncateError(lastErr), toMillis(now),
		id, string(OutboxLeased), owner,
	)
	if err != nil {
		return fmt.Errorf("mark outbox retry: %w", err)
	}
	return affectedOne(res, "mark outbox retry")
}

// MarkOutboxDead records a permanently failed notification.
func (s *Store) MarkOutboxDead(ctx context.Context, id, owner string, attempts int, lastErr string, now time.Time) error {
	now = now.UTC()
	res, err := s.db.ExecContext(ctx, `
UPDATE will_outbox
SET status = ?, attempt_count = attempt_count + ?, lease_owner = '', lease_expires_at = NULL,
	last_error = ?, processed_at = ?, updated_at = ?
WHERE id = ? AND status = ? AND lease_owner = ?`,
		string(OutboxDead), attempts, truncateError(lastErr), toMillis(now), toMillis(now),
		id, string(OutboxLeased), owner,
	)
	if err != nil {
		return fmt.Errorf("mark outbox dead: %w", err)
	}
	return affectedOne(res, "mark outbox dead")
}

func truncateError(s string) string {
	const max = 1024
	if len(s) > max {
		return s[:max]
	}
	return s
}
