package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisLimiter is a sliding-window limiter over a Redis ZSET, shared across
// server instances. Members are unique per request and scored by millisecond
// timestamp; each check prunes the expired window before counting.
type RedisLimiter struct {
	rdb    *redis.Client
	limit  int
	window time.Duration
	prefix string
	logger *zap.Logger
}

var _ Limiter = (*RedisLimiter)(nil)

func NewRedisLimiter(rdb *redis.Client, limit int, window time.Duration, logger *zap.Logger) *RedisLimiter {
	return &RedisLimiter{
		rdb:    rdb,
		limit:  limit,
		window: window,
		prefix: "ratelimit:generation:",
		logger: logger.Named("redis_limiter"),
	}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	redisKey := l.prefix + key
	now := time.Now().UnixMilli()
	windowStart := now - l.window.Milliseconds()

	pipe := l.rdb.Pipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "0", fmt.Sprintf("%d", windowStart))
	countCmd := pipe.ZCard(ctx, redisKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("rate limit check failed for %s: %w", key, err)
	}

	count := countCmd.Val()
	if count >= int64(l.limit) {
		l.logger.Info("Rate limit exceeded",
			zap.String("key", key), zap.Int64("count", count), zap.Int("limit", l.limit))
		return false, nil
	}

	pipe = l.rdb.Pipeline()
	pipe.ZAdd(ctx, redisKey, redis.Z{Score: float64(now), Member: windowMember(now)})
	pipe.Expire(ctx, redisKey, l.window*2)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("rate limit record failed for %s: %w", key, err)
	}
	return true, nil
}

// windowMember must be unique per request: a bare timestamp member would
// collapse same-millisecond requests into one ZSET entry and undercount.
func windowMember(now int64) string {
	return fmt.Sprintf("%d-%s", now, uuid.NewString())
}
