package refresh

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Denylist is a best-effort fast path for revoked tokens. The durable
// revoked flag stays authoritative.
type Denylist interface {
	Add(ctx context.Context, tokenHash string, ttl time.Duration) error
	Contains(ctx context.Context, tokenHash string) (bool, error)
}

const denylistPrefix = "blacklist:"

// RedisDenylist stores one expiring key per revoked token hash.
type RedisDenylist struct {
	rdb redis.UniversalClient
}

func NewRedisDenylist(rdb redis.UniversalClient) *RedisDenylist {
	return &RedisDenylist{rdb: rdb}
}

func (d *RedisDenylist) Add(ctx context.Context, tokenHash string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return d.rdb.Set(ctx, denylistPrefix+tokenHash, "1", ttl).Err()
}

func (d *RedisDenylist) Contains(ctx context.Context, tokenHash string) (bool, error) {
	err := d.rdb.Get(ctx, denylistPrefix+tokenHash).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// NopDenylist is used when no fast store is deployed.
type NopDenylist struct{}

func (NopDenylist) Add(context.Context, string, time.Duration) error { return nil }
func (NopDenylist) Contains(context.Context, string) (bool, error)   { return false, nil }
