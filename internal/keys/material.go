package keys

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"
)

// SecretBytes is the amount of entropy in a generated secret (256 bits).
const SecretBytes = 32

// ErrNoKey is returned by a store that has nothing persisted yet.
var ErrNoKey = errors.New("keys: no persisted key")

// Material is one signing secret. Secret is the base64 text form; its bytes
// are used directly as the HMAC key.
type Material struct {
	Secret    string
	CreatedAt time.Time
}

// Bytes returns the HMAC key.
func (m Material) Bytes() []byte { return []byte(m.Secret) }

// Generate returns a fresh random secret.
func Generate(now time.Time) (Material, error) {
	buf := make([]byte, SecretBytes)
	if _, err := rand.Read(buf); err != nil {
		return Material{}, fmt.Errorf("generate secret: %w", err)
	}
	return Material{Secret: base64.StdEncoding.EncodeToString(buf), CreatedAt: now.UTC()}, nil
}

// Retired is a former current secret still accepted for verification.
type Retired struct {
	Material
	RetiredAt time.Time
}

// PrimaryStore is the durable home of the current secret. Save failures are
// fatal to the caller.
type PrimaryStore interface {
	Load(ctx context.Context) (Material, error)
	Save(ctx context.Context, m Material) error
}

// SecondaryStore is a best-effort replica that also keeps retired secrets so
// they survive restarts. Every error it returns is logged and dropped.
type SecondaryStore interface {
	Name() string
	Load(ctx context.Context) (Material, error)
	Save(ctx context.Context, m Material) error
	Retire(ctx context.Context, r Retired, ttl time.Duration) error
	ListRetired(ctx context.Context, notBefore time.Time) ([]Retired, error)
}

// NopStore is the SecondaryStore used when no fast store is deployed.
type NopStore struct{}

func (NopStore) Name() string                                         { return "none" }
func (NopStore) Load(context.Context) (Material, error)               { return Material{}, ErrNoKey }
func (NopStore) Save(context.Context, Material) error                 { return nil }
func (NopStore) Retire(context.Context, Retired, time.Duration) error { return nil }
func (NopStore) ListRetired(context.Context, time.Time) ([]Retired, error) {
	return nil, nil
}
