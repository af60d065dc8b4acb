package session

import (
	"context"
	"errors"
	"time"

	"tenant-auth/pkg/utils"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "sess:user:"

// RedisStore keeps one key per username with a native TTL.
type RedisStore struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

func NewRedisStore(rdb redis.UniversalClient, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func (s *RedisStore) Name() string { return BackendFast }

func redisKey(username string) string { return redisKeyPrefix + username }

func (s *RedisStore) SetActive(ctx context.Context, username, sessionID string) error {
	if err := s.rdb.Set(ctx, redisKey(username), sessionID, s.ttl).Err(); err != nil {
		return ErrStore.With(err)
	}
	return nil
}

func (s *RedisStore) GetActive(ctx context.Context, username string) (string, bool, error) {
	v, err := s.rdb.Get(ctx, redisKey(username)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, ErrStore.With(err)
	}
	return v, v != "", nil
}

func (s *RedisStore) Clear(ctx context.Context, username string) error {
	if err := s.rdb.Del(ctx, redisKey(username)).Err(); err != nil {
		return ErrStore.With(err)
	}
	return nil
}

func (s *RedisStore) ClearIf(ctx context.Context, username, sessionID string) (bool, error) {
	ok, err := utils.CompareAndDelete(ctx, s.rdb, redisKey(username), sessionID)
	if err != nil {
		return false, ErrStore.With(err)
	}
	return ok, nil
}

// Ping reports reachability for backend selection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return utils.Probe(ctx, s.rdb, time.Second)
}
