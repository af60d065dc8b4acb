package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T, now time.Time) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	s := NewPostgresStore(db, 24*time.Hour)
	s.now = func() time.Time { return now }
	return s, mock
}

func TestPostgresStore_SetActiveUpserts(t *testing.T) {
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	s, mock := newMockStore(t, now)

	mock.ExpectExec(`INSERT INTO user_sessions .* ON CONFLICT \(username\) DO UPDATE`).
		WithArgs("bob", "s2", now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.SetActive(context.Background(), "bob", "s2"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetActive(t *testing.T) {
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	s, mock := newMockStore(t, now)
	q := `SELECT session_id, updated_at FROM user_sessions WHERE username = \$1`

	mock.ExpectQuery(q).WithArgs("bob").
		WillReturnRows(sqlmock.NewRows([]string{"session_id", "updated_at"}).AddRow("s1", now.Add(-time.Hour)))
	sid, ok, err := s.GetActive(context.Background(), "bob")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "s1", sid)

	mock.ExpectQuery(q).WithArgs("old").
		WillReturnRows(sqlmock.NewRows([]string{"session_id", "updated_at"}).AddRow("s0", now.Add(-25*time.Hour)))
	_, ok, err = s.GetActive(context.Background(), "old")
	require.NoError(t, err)
	require.False(t, ok, "rows outside the TTL window read as absent")

	mock.ExpectQuery(q).WithArgs("nobody").
		WillReturnRows(sqlmock.NewRows([]string{"session_id", "updated_at"}))
	_, ok, err = s.GetActive(context.Background(), "nobody")
	require.NoError(t, err)
	require.False(t, ok)

	mock.ExpectQuery(q).WithArgs("bob").WillReturnError(errors.New("conn closed"))
	_, _, err = s.GetActive(context.Background(), "bob")
	require.ErrorIs(t, err, ErrStore)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ClearIf(t *testing.T) {
	s, mock := newMockStore(t, time.Now())
	q := `DELETE FROM user_sessions WHERE username = \$1 AND session_id = \$2`

	mock.ExpectExec(q).WithArgs("bob", "s1").WillReturnResult(sqlmock.NewResult(0, 0))
	ok, err := s.ClearIf(context.Background(), "bob", "s1")
	require.NoError(t, err)
	require.False(t, ok)

	mock.ExpectExec(q).WithArgs("bob", "s2").WillReturnResult(sqlmock.NewResult(0, 1))
	ok, err = s.ClearIf(context.Background(), "bob", "s2")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_PurgeExpired(t *testing.T) {
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	s, mock := newMockStore(t, now)

	mock.ExpectExec(`DELETE FROM user_sessions WHERE updated_at < \$1`).
		WithArgs(now.Add(-24 * time.Hour)).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := s.PurgeExpired(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(3), n)
	require.NoError(t, mock.ExpectationsWereMet())
}
