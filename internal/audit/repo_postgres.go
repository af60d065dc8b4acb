package audit

import (
	"context"
	"database/sql"
)

// PostgresRepo appends to auth_audit_events. The table has no UPDATE or
// DELETE grants in production.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	const q = `
INSERT INTO auth_audit_events
  (id, type, username, tenant_id, actor_username, ip_address, session_id, reason, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
`
	_, err := r.db.ExecContext(ctx, q,
		e.ID,
		string(e.Type),
		nullString(e.Username),
		e.TenantID,
		nullString(e.ActorUsername),
		nullString(e.IPAddress),
		nullString(e.SessionID),
		nullString(e.Reason),
		e.CreatedAt,
	)
	return err
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
