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

// AppendStatus records a status event. A zero Timestamp is set to now.
func (s *Store) AppendStatus(ctx context.Context, e StatusEvent) (StatusEvent, error) {
	e.CharacterID = strings.TrimSpace(e.CharacterID)
	e.StatusType = strings.TrimSpace(e.StatusType)
	if e.CharacterID == "" {
		return StatusEvent{}, errors.New("character id is required")
	}
	if e.StatusType == "" {
		return StatusEvent{}, errors.New("status type is required")
	}
	if strings.TrimSpace(e.Data) == "" {
		e.Data = "{}"
	}
	if !json.Valid([]byte(e.Data)) {
		return StatusEvent{}, errors.New("status data must be valid JSON")
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	e.Timestamp = fromMillis(toMillis(e.Timestamp))

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO status_events (character_id, status_type, data, timestamp) VALUES (?, ?, ?, ?)`,
		e.CharacterID, e.StatusType, e.Data, toMillis(e.Timestamp),
	)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "foreign key") {
			return StatusEvent{}, fmt.Errorf("append status for %s: %w", e.CharacterID, ErrNotFound)
		}
		return StatusEvent{}, fmt.Errorf("append status: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return StatusEvent{}, fmt.Errorf("append status id: %w", err)
	}
	e.ID = id
	return e, nil
}

// LatestActivity returns the newest event timestamp across all status types.
// ok is false when the character never reported.
func (s *Store) LatestActivity(ctx context.Context, characterID string) (ts time.Time, ok bool, err error) {
	var ms sql.NullInt64
	err = s.db.QueryRowContext(ctx,
		`SELECT MAX(timestamp) FROM status_events WHERE character_id = ?`, characterID,
	).Scan(&ms)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("latest activity: %w", err)
	}
	if !ms.Valid {
		return time.Time{}, false, nil
	}
	return fromMillis(ms.Int64), true, nil
}

// LatestStatuses returns the newest event of each status type, ordered by type.
func (s *Store) LatestStatuses(ctx context.Context, characterID string) ([]StatusEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT e.id, e.character_id, e.status_type, e.data, e.timestamp
FROM status_events e
WHERE e.character_id = ?
AND e.id = (
	SELECT x.id FROM status_events x
	WHERE x.character_id = e.character_id AND x.status_type = e.status_type
	ORDER BY x.timestamp DESC, x.id DESC
	LIMIT 1
)
ORDER BY e.status_type ASC`, characterID)
	if err != nil {
		return nil, fmt.Errorf("latest statuses: %w", err)
	}
	defer rows.Close()

	var out []StatusEvent
	for rows.Next() {
		var e StatusEvent
		var ts int64
		if err := rows.Scan(&e.ID, &e.CharacterID, &e.StatusType, &e.Data, &ts); err != nil {
			return nil, fmt.Errorf("scan status: %w", err)
		}
		e.Timestamp = fromMillis(ts)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate statuses: %w", err)
	}
	return out, nil
}
