package refresh

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"tenant-auth/pkg/utils"

	"github.com/google/uuid"
)

// PostgresRepo stores records in refresh_tokens. Rows are never deleted.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

const recordColumns = `id, token_hash, owner_kind, owner_id, session_id, expires_at, revoked, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var (
		rec  Record
		kind string
	)
	err := row.Scan(&rec.ID, &rec.TokenHash, &kind, &rec.Owner.ID, &rec.SessionID, &rec.ExpiresAt, &rec.Revoked, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, err
	}
	rec.Owner.Kind = OwnerKind(kind)
	return rec, nil
}

// Upsert serializes issuance per owner with a transaction-scoped advisory
// lock, so two concurrent logins cannot both insert a live record.
func (r *PostgresRepo) Upsert(ctx context.Context, rec Record, now time.Time) (Record, error) {
	var out Record
	err := utils.WithTx(ctx, r.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		if err := utils.AdvisoryXactLock(ctx, tx, rec.Owner.String()); err != nil {
			return err
		}

		const qLive = `
SELECT ` + recordColumns + `
FROM refresh_tokens
WHERE owner_kind = $1 AND owner_id = $2 AND revoked = false AND expires_at > $3
ORDER BY created_at DESC
LIMIT 1
FOR UPDATE
`
		cur, err := scanRecord(tx.QueryRowContext(ctx, qLive, string(rec.Owner.Kind), rec.Owner.ID, now))
		switch {
		case err == nil:
			const qUpdate = `
UPDATE refresh_tokens
SET token_hash = $2, expires_at = $3, session_id = $4, updated_at = $5
WHERE id = $1
`
			if _, err := tx.ExecContext(ctx, qUpdate, cur.ID, rec.TokenHash, rec.ExpiresAt, rec.SessionID, now); err != nil {
				return err
			}
			cur.TokenHash, cur.ExpiresAt, cur.SessionID, cur.UpdatedAt = rec.TokenHash, rec.ExpiresAt, rec.SessionID, now
			out = cur
			return nil
		case !errors.Is(err, ErrNotFound):
			return err
		}

		if rec.ID == "" {
			rec.ID = uuid.NewString()
		}
		rec.CreatedAt, rec.UpdatedAt = now, now
		const qInsert = `
INSERT INTO refresh_tokens (` + recordColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, false, $7, $7)
`
		if _, err := tx.ExecContext(ctx, qInsert,
			rec.ID, rec.TokenHash, string(rec.Owner.Kind), rec.Owner.ID, rec.SessionID, rec.ExpiresAt, now,
		); err != nil {
			return err
		}
		out = rec
		return nil
	})
	return out, err
}

func (r *PostgresRepo) FindByHash(ctx context.Context, hash string) (Record, error) {
	const q = `SELECT ` + recordColumns + ` FROM refresh_tokens WHERE token_hash = $1`
	return scanRecord(r.db.QueryRowContext(ctx, q, hash))
}

func (r *PostgresRepo) Rotate(ctx context.Context, id, oldHash, newHash string, expiresAt, now time.Time) error {
	const q = `
UPDATE refresh_tokens
SET token_hash = $3, expires_at = $4, updated_at = $5
WHERE id = $1 AND token_hash = $2 AND revoked = false
`
	res, err := r.db.ExecContext(ctx, q, id, oldHash, newHash, expiresAt, now)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

func (r *PostgresRepo) Revoke(ctx context.Context, hash string, owner Owner, now time.Time) (Record, error) {
	const q = `
UPDATE refresh_tokens
SET revoked = true, updated_at = $4
WHERE token_hash = $1 AND owner_kind = $2 AND owner_id = $3
RETURNING ` + recordColumns
	return scanRecord(r.db.QueryRowContext(ctx, q, hash, string(owner.Kind), owner.ID, now))
}
