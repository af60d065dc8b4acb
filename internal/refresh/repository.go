package refresh

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"time"
)

// Record is a stored refresh token. Only the SHA-256 of the token value is
// kept; the raw value exists only in the response to the client.
type Record struct {
	ID        string
	TokenHash string
	Owner     Owner
	SessionID string
	ExpiresAt time.Time
	Revoked   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Live reports whether the record can still be exchanged at now.
func (r Record) Live(now time.Time) bool {
	return !r.Revoked && now.Before(r.ExpiresAt)
}

var (
	ErrNotFound = errors.New("refresh: record not found")
	// ErrConflict means a conditional update matched no row: someone else
	// rotated or revoked the record first.
	ErrConflict = errors.New("refresh: concurrent modification")
)

// Repository persists refresh token records.
type Repository interface {
	// Upsert rotates the owner's live record in place, or inserts rec when
	// the owner has none. It returns the stored record.
	Upsert(ctx context.Context, rec Record, now time.Time) (Record, error)
	FindByHash(ctx context.Context, hash string) (Record, error)
	// Rotate replaces the token hash and expiry of id only while the record
	// still holds oldHash and is not revoked.
	Rotate(ctx context.Context, id, oldHash, newHash string, expiresAt, now time.Time) error
	// Revoke marks the record with hash revoked if it belongs to owner and
	// returns it. A record held by another owner is ErrNotFound.
	Revoke(ctx context.Context, hash string, owner Owner, now time.Time) (Record, error)
}

func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// newTokenValue returns 256 bits of randomness, URL-safe.
func newTokenValue() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
