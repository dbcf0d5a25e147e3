package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// RedisStore keeps each key as a sorted set of hit timestamps so that every
// instance sees the same window.
type RedisStore struct {
	rdb    redis.Cmdable
	prefix string
	member func(now time.Time) string
}

func NewRedisStore(rdb redis.Cmdable, prefix string) *RedisStore {
	return &RedisStore{
		rdb:    rdb,
		prefix: prefix,
		member: func(now time.Time) string {
			return strconv.FormatInt(now.UnixNano(), 10) + "-" + uuid.NewString()
		},
	}
}

func (s *RedisStore) Hit(ctx context.Context, key string, now time.Time, window time.Duration) (int64, error) {
	k := s.prefix + key
	cutoff := strconv.FormatInt(now.Add(-window).UnixNano(), 10)

	var card *redis.IntCmd
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZRemRangeByScore(ctx, k, "-inf", cutoff)
		p.ZAdd(ctx, k, &redis.Z{Score: float64(now.UnixNano()), Member: s.member(now)})
		card = p.ZCard(ctx, k)
		p.PExpire(ctx, k, window)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("redis rate limit: %w", err)
	}
	return card.Val(), nil
}
