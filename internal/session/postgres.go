package session

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// PostgresStore keeps one row per username. It has no native expiry, so rows
// older than the TTL window read as absent.
type PostgresStore struct {
	db  *sql.DB
	ttl time.Duration
	now func() time.Time
}

func NewPostgresStore(db *sql.DB, ttl time.Duration) *PostgresStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &PostgresStore{db: db, ttl: ttl, now: time.Now}
}

func (s *PostgresStore) Name() string { return BackendDurable }

// SetActive is a single upsert; the unique key on username serializes
// concurrent logins and the last writer wins.
func (s *PostgresStore) SetActive(ctx context.Context, username, sessionID string) error {
	const q = `
INSERT INTO user_sessions (username, session_id, updated_at)
VALUES ($1, $2, $3)
ON CONFLICT (username) DO UPDATE
SET session_id = EXCLUDED.session_id,
    updated_at = EXCLUDED.updated_at
`
	if _, err := s.db.ExecContext(ctx, q, username, sessionID, s.now().UTC()); err != nil {
		return ErrStore.With(err)
	}
	return nil
}

func (s *PostgresStore) GetActive(ctx context.Context, username string) (string, bool, error) {
	const q = `
SELECT session_id, updated_at
FROM user_sessions
WHERE username = $1
`
	var (
		sid       string
		updatedAt time.Time
	)
	err := s.db.QueryRowContext(ctx, q, username).Scan(&sid, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, ErrStore.With(err)
	}
	if updatedAt.Before(s.now().Add(-s.ttl)) {
		return "", false, nil
	}
	return sid, sid != "", nil
}

func (s *PostgresStore) Clear(ctx context.Context, username string) error {
	const q = `DELETE FROM user_sessions WHERE username = $1`
	if _, err := s.db.ExecContext(ctx, q, username); err != nil {
		return ErrStore.With(err)
	}
	return nil
}

func (s *PostgresStore) ClearIf(ctx context.Context, username, sessionID string) (bool, error) {
	const q = `DELETE FROM user_sessions WHERE username = $1 AND session_id = $2`
	res, err := s.db.ExecContext(ctx, q, username, sessionID)
	if err != nil {
		return false, ErrStore.With(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, ErrStore.With(err)
	}
	return n == 1, nil
}

// PurgeExpired removes rows outside the TTL window.
func (s *PostgresStore) PurgeExpired(ctx context.Context) (int64, error) {
	const q = `DELETE FROM user_sessions WHERE updated_at < $1`
	res, err := s.db.ExecContext(ctx, q, s.now().Add(-s.ttl).UTC())
	if err != nil {
		return 0, ErrStore.With(err)
	}
	return res.RowsAffected()
}
