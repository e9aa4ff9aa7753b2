package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const characterColumns = `id, owner_id, name, display_code, secret_key, is_active, created_at, updated_at`

type rowScanner func(dest ...any) error

func scanCharacter(scan rowScanner) (Character, error) {
	var c Character
	var active int
	var created, updated int64
	if err := scan(&c.ID, &c.OwnerID, &c.Name, &c.DisplayCode, &c.SecretKey, &active, &created, &updated); err != nil {
		return Character{}, err
	}
	c.IsActive = active != 0
	c.CreatedAt = fromMillis(created)
	c.UpdatedAt = fromMillis(updated)
	return c, nil
}

// CreateCharacter inserts c. ID, DisplayCode and SecretKey must be set by the caller.
func (s *Store) CreateCharacter(ctx context.Context, c Character) (Character, error) {
	c.ID = strings.TrimSpace(c.ID)
	c.Name = strings.TrimSpace(c.Name)
	if c.ID == "" || c.DisplayCode == "" || c.SecretKey == "" {
		return Character{}, errors.New("character id, display code and secret key are required")
	}
	if c.Name == "" {
		return Character{}, errors.New("character name is required")
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = c.CreatedAt

	_, err := s.db.ExecContext(ctx, `
INSERT INTO characters (`+characterColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.OwnerID, c.Name, c.DisplayCode, c.SecretKey, boolInt(c.IsActive), toMillis(c.CreatedAt), toMillis(c.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return Character{}, fmt.Errorf("create character %s: %w", c.ID, ErrConflict)
		}
		return Character{}, fmt.Errorf("create character: %w", err)
	}
	c.CreatedAt = fromMillis(toMillis(c.CreatedAt))
	c.UpdatedAt = c.CreatedAt
	return c, nil
}

func (s *Store) GetCharacter(ctx context.Context, id string) (Character, error) {
	return s.getCharacterWhere(ctx, "id = ?", strings.TrimSpace(id))
}

// GetCharacterBySecret resolves the character owning a status ingestion key.
func (s *Store) GetCharacterBySecret(ctx context.Context, secret string) (Character, error) {
	return s.getCharacterWhere(ctx, "secret_key = ?", strings.TrimSpace(secret))
}

func (s *Store) GetCharacterByDisplayCode(ctx context.Context, code string) (Character, error) {
	return s.getCharacterWhere(ctx, "display_code = ?", strings.TrimSpace(code))
}

func (s *Store) getCharacterWhere(ctx context.Context, where string, arg string) (Character, error) {
	if arg == "" {
		return Character{}, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+characterColumns+` FROM characters WHERE `+where, arg)
	c, err := scanCharacter(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return Character{}, ErrNotFound
	}
	if err != nil {
		return Character{}, fmt.Errorf("get character: %w", err)
	}
	return c, nil
}

func (s *Store) ListCharacters(ctx context.Context) ([]Character, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+characterColumns+` FROM characters ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list characters: %w", err)
	}
	defer rows.Close()

	var out []Character
	for rows.Next() {
		c, err := scanCharacter(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan character: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate characters: %w", err)
	}
	return out, nil
}

// DeleteCharacter removes the character together with its will, events and outbox rows.
func (s *Store) DeleteCharacter(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM characters WHERE id = ?`, strings.TrimSpace(id))
	if err != nil {
		return fmt.Errorf("delete character: %w", err)
	}
	return affectedOne(res, "delete character")
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "constraint failed: unique")
}
