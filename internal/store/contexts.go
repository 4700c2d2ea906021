package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/soyeahso/concierge/internal/convctx"
)

// ContextStore implements convctx.Store backed by SQLite. Contexts are
// stored as JSON documents and expire ttl after their last save.
type ContextStore struct {
	db  *DB
	ttl time.Duration
}

var _ convctx.Store = (*ContextStore)(nil)

// NewContextStore creates a context store using the given database.
func NewContextStore(db *DB, ttl time.Duration) *ContextStore {
	return &ContextStore{db: db, ttl: ttl}
}

// Load returns the stored context, or an empty one when absent or expired.
func (s *ContextStore) Load(ctx context.Context, id string) (*convctx.Context, error) {
	var data string
	var expires sql.NullString
	err := s.db.sql.QueryRowContext(ctx,
		`SELECT data, expires_at FROM conversation_contexts WHERE id = ?`, id,
	).Scan(&data, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return convctx.New(id), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load context %s: %w", id, err)
	}

	if expires.Valid {
		if t, perr := time.Parse(time.DateTime, expires.String); perr == nil && s.db.now().UTC().After(t) {
			return convctx.New(id), nil
		}
	}

	var c convctx.Context
	if err := json.Unmarshal([]byte(data), &c); err != nil {
		return nil, fmt.Errorf("decode context %s: %w", id, err)
	}
	c.ConversationID = id
	return &c, nil
}

// Save upserts the context.
func (s *ContextStore) Save(ctx context.Context, c *convctx.Context) error {
	now := s.db.now().UTC()
	c.UpdatedAt = now

	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode context %s: %w", c.ConversationID, err)
	}

	var expires sql.NullString
	if s.ttl > 0 {
		expires = sql.NullString{String: now.Add(s.ttl).Format(time.DateTime), Valid: true}
	}

	_, err = s.db.sql.ExecContext(ctx,
		`INSERT INTO conversation_contexts (id, data, updated_at, expires_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   data = excluded.data,
		   updated_at = excluded.updated_at,
		   expires_at = excluded.expires_at`,
		c.ConversationID, string(data), now.Format(time.DateTime), expires,
	)
	if err != nil {
		return fmt.Errorf("save context %s: %w", c.ConversationID, err)
	}
	return nil
}

// Clear deletes the context.
func (s *ContextStore) Clear(ctx context.Context, id string) error {
	if _, err := s.db.sql.ExecContext(ctx, `DELETE FROM conversation_contexts WHERE id = ?`, id); err != nil {
		return fmt.Errorf("clear context %s: %w", id, err)
	}
	return nil
}

// Purge removes expired contexts and returns how many were deleted.
func (s *ContextStore) Purge(ctx context.Context) (int64, error) {
	res, err := s.db.sql.ExecContext(ctx,
		`DELETE FROM conversation_contexts WHERE expires_at IS NOT NULL AND expires_at < ?`,
		s.db.now().UTC().Format(time.DateTime),
	)
	if err != nil {
		return 0, fmt.Errorf("purge contexts: %w", err)
	}
	return res.RowsAffected()
}

// List returns the ids of stored contexts, most recent first.
func (s *ContextStore) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.sql.QueryContext(ctx, `SELECT id FROM conversation_contexts ORDER BY updated_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
