package account

import (
	"context"
	"database/sql"
	"errors"

	"tenant-auth/internal/refresh"
	"tenant-auth/pkg/utils"
)

// PostgresDirectory keeps every account kind in the accounts table.
type PostgresDirectory struct {
	db *sql.DB
}

func NewPostgresDirectory(db *sql.DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

const accountColumns = `id, kind, username, password_hash, tenant_id, role, created_at`

func scanAccount(row interface{ Scan(...any) error }) (Account, error) {
	var (
		a      Account
		kind   string
		tenant sql.NullInt64
		role   sql.NullString
	)
	err := row.Scan(&a.ID, &kind, &a.Username, &a.PasswordHash, &tenant, &role, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Account{}, ErrNotFound
	}
	if err != nil {
		return Account{}, ErrStore.With(err)
	}
	a.Kind = refresh.OwnerKind(kind)
	if tenant.Valid {
		t := tenant.Int64
		a.TenantID = &t
	}
	a.Role = role.String
	return a, nil
}

func (d *PostgresDirectory) FindByUsername(ctx context.Context, username string) (Account, error) {
	const q = `SELECT ` + accountColumns + ` FROM accounts WHERE username = $1`
	return scanAccount(d.db.QueryRowContext(ctx, q, username))
}

func (d *PostgresDirectory) FindByOwner(ctx context.Context, o refresh.Owner) (Account, error) {
	const q = `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1 AND kind = $2`
	return scanAccount(d.db.QueryRowContext(ctx, q, o.ID, string(o.Kind)))
}

func (d *PostgresDirectory) Create(ctx context.Context, a Account) (Account, error) {
	if err := a.Validate(); err != nil {
		return Account{}, err
	}
	const q = `
INSERT INTO accounts (kind, username, password_hash, tenant_id, role)
VALUES ($1, $2, $3, $4, $5)
RETURNING id, created_at
`
	var tenant sql.NullInt64
	if a.TenantID != nil {
		tenant = sql.NullInt64{Int64: *a.TenantID, Valid: true}
	}
	role := sql.NullString{String: a.Role, Valid: a.Role != ""}

	err := d.db.QueryRowContext(ctx, q, string(a.Kind), a.Username, a.PasswordHash, tenant, role).Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		if utils.IsUniqueViolation(err) {
			return Account{}, ErrDuplicate
		}
		return Account{}, ErrStore.With(err)
	}
	return a, nil
}

func (d *PostgresDirectory) RecordIssued(ctx context.Context, o refresh.Owner, accessToken, refreshID string) error {
	const q = `
UPDATE accounts
SET last_access_token = $3, last_refresh_id = $4, updated_at = now()
WHERE id = $1 AND kind = $2
`
	if _, err := d.db.ExecContext(ctx, q, o.ID, string(o.Kind), accessToken, refreshID); err != nil {
		return ErrStore.With(err)
	}
	return nil
}
