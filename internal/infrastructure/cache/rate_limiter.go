// Package cache wraps the redis client used for advisory concerns: the
// per-user bid rate limiter. The limiter is never on the correctness path;
// callers fail open when it errors.
package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/allabud/auction-backend/internal/infrastructure/config"
)

const rateLimitPrefix = "ratelimit:"

// NewClient connects a redis client and verifies the connection.
func NewClient(cfg config.RedisConfig, logger *zap.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	logger.Info("redis connected",
		zap.String("addr", cfg.Addr),
		zap.Int("db", cfg.DB))
	return client, nil
}

// SlidingWindowLimiter rate-limits per key with a redis sorted-set sliding
// window: one member per request scored by its nanosecond timestamp.
type SlidingWindowLimiter struct {
	client *redis.Client
	logger *zap.Logger
	limit  int
	window time.Duration
}

func NewSlidingWindowLimiter(client *redis.Client, limit int, window time.Duration, logger *zap.Logger) *SlidingWindowLimiter {
	return &SlidingWindowLimiter{
		client: client,
		logger: logger,
		limit:  limit,
		window: window,
	}
}

// Allow reports whether one more request fits in the key's window.
func (l *SlidingWindowLimiter) Allow(ctx context.Context, key string) (bool, error) {
	now := time.Now()
	windowStart := now.Add(-l.window)
	rateKey := rateLimitPrefix + key

	pipe := l.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, rateKey, "-inf", strconv.FormatInt(windowStart.UnixNano(), 10))
	countCmd := pipe.ZCard(ctx, rateKey)
	member := fmt.Sprintf("%d-%d", now.UnixNano(), now.Nanosecond()%1000)
	pipe.ZAdd(ctx, rateKey, redis.Z{
		Score:  float64(now.UnixNano()),
		Member: member,
	})
	pipe.Expire(ctx, rateKey, l.window+time.Minute)

	if _, err := pipe.Exec(ctx); err != nil {
		l.logger.Error("rate limiter pipeline failed",
			zap.String("key", key),
			zap.Error(err))
		return false, fmt.Errorf("rate limiter pipeline failed: %w", err)
	}

	if countCmd.Val() >= int64(l.limit) {
		// Roll back the member we optimistically added.
		l.client.ZRem(ctx, rateKey, member)
		l.logger.Debug("rate limit exceeded",
			zap.String("key", key),
			zap.Int64("count", countCmd.Val()),
			zap.Int("limit", l.limit))
		return false, nil
	}
	return true, nil
}

// Count returns the live entries in the key's window.
func (l *SlidingWindowLimiter) Count(ctx context.Context, key string) (int, error) {
	now := time.Now()
	rateKey := rateLimitPrefix + key
	if err := l.client.ZRemRangeByScore(ctx, rateKey, "-inf",
		strconv.FormatInt(now.Add(-l.window).UnixNano(), 10)).Err(); err != nil {
		return 0, fmt.Errorf("rate limiter cleanup failed: %w", err)
	}
	count, err := l.client.ZCard(ctx, rateKey).Result()
	if err != nil {
		return 0, fmt.Errorf("rate limiter count failed: %w", err)
	}
	return int(count), nil
}
