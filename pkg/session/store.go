package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const sessionSchema = `
CREATE TABLE IF NOT EXISTS sessions (
    id          TEXT    PRIMARY KEY,
    data        TEXT    NOT NULL,
    persistent  INTEGER NOT NULL DEFAULT 0,
    expires_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS sessions_expires_at ON sessions (expires_at);
`

// SetupSchema creates the sessions table. It is idempotent.
func SetupSchema(db *sql.DB) error {
	_, err := db.Exec(sessionSchema)
	return err
}

// Store persists sessions in SQLite.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Load returns the session with the given id, or nil when it does not exist or has expired.
func (s *Store) Load(ctx context.Context, id string, now time.Time) (*Session, error) {
	var data string
	var persistent bool
	var expires int64
	err := s.db.QueryRowContext(ctx, `SELECT data, persistent, expires_at FROM sessions WHERE id = ?`, id).
		Scan(&data, &persistent, &expires)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if expires <= now.Unix() {
		return nil, nil
	}
	sess := newSession()
	if err = json.Unmarshal([]byte(data), &sess.values); err != nil {
		return nil, fmt.Errorf("failed to decode session data: %w", err)
	}
	sess.id = id
	sess.persistent = persistent
	sess.expiresAt = time.Unix(expires, 0)
	return sess, nil
}

// Save upserts the session row.
func (s *Store) Save(ctx context.Context, id string, values map[string]string, persistent bool, expiresAt time.Time) error {
	data, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("failed to encode session data: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
        INSERT INTO sessions (id, data, persistent, expires_at) VALUES (?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET data = excluded.data, persistent = excluded.persistent, expires_at = excluded.expires_at
    `, id, string(data), persistent, expiresAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	return err
}

// DeleteExpired removes every session that expired before now and returns how many were removed.
func (s *Store) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= ?`, now.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	return res.RowsAffected()
}
