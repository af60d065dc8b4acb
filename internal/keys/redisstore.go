package keys

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisCurrentKey = "jwt:secret"
	redisRetiredKey = "jwt:old_secrets"
)

// RedisStore replicates the current secret and keeps retired secrets in a
// sorted set scored by retirement time (unix ms).
type RedisStore struct {
	rdb redis.UniversalClient
}

func NewRedisStore(rdb redis.UniversalClient) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) Name() string { return "redis" }

func (s *RedisStore) Load(ctx context.Context) (Material, error) {
	v, err := s.rdb.Get(ctx, redisCurrentKey).Result()
	if errors.Is(err, redis.Nil) || (err == nil && v == "") {
		return Material{}, ErrNoKey
	}
	if err != nil {
		return Material{}, err
	}
	return Material{Secret: v}, nil
}

func (s *RedisStore) Save(ctx context.Context, m Material) error {
	return s.rdb.Set(ctx, redisCurrentKey, m.Secret, 0).Err()
}

func (s *RedisStore) Retire(ctx context.Context, r Retired, ttl time.Duration) error {
	cutoff := r.RetiredAt.Add(-ttl).UnixMilli()
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZAdd(ctx, redisRetiredKey, redis.Z{Score: float64(r.RetiredAt.UnixMilli()), Member: r.Secret})
		p.ZRemRangeByScore(ctx, redisRetiredKey, "-inf", "("+strconv.FormatInt(cutoff, 10))
		p.Expire(ctx, redisRetiredKey, ttl)
		return nil
	})
	return err
}

// ListRetired returns secrets retired at or after notBefore, newest first.
func (s *RedisStore) ListRetired(ctx context.Context, notBefore time.Time) ([]Retired, error) {
	zs, err := s.rdb.ZRevRangeByScoreWithScores(ctx, redisRetiredKey, &redis.ZRangeBy{
		Min: strconv.FormatInt(notBefore.UnixMilli(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Retired, 0, len(zs))
	for _, z := range zs {
		secret, ok := z.Member.(string)
		if !ok || secret == "" {
			continue
		}
		out = append(out, Retired{
			Material:  Material{Secret: secret},
			RetiredAt: time.UnixMilli(int64(z.Score)).UTC(),
		})
	}
	return out, nil
}
