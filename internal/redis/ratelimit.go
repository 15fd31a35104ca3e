package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RateLimitConfig tunes the sliding window.
type RateLimitConfig struct {
	Limit  int           // requests permitted per window
	Window time.Duration // window length
}

// RateLimitResult is what a single check observed.
type RateLimitResult struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// RateLimiter is a sliding-window limiter backed by a sorted set per key.
// It guards the enqueue and campaign endpoints against runaway callers.
// Each allowed request is a member scored by its nanosecond timestamp;
// members older than the window are pruned on every check.
type RateLimiter struct {
	client *Client
	logger *zap.Logger
	config RateLimitConfig
}

func NewRateLimiter(client *Client, logger *zap.Logger, config RateLimitConfig) *RateLimiter {
	return &RateLimiter{client: client, logger: logger, config: config}
}

// Allow records a single request against key if the window has room.
func (r *RateLimiter) Allow(ctx context.Context, key string) (*RateLimitResult, error) {
	return r.AllowN(ctx, key, 1)
}

// AllowN atomically checks whether n requests fit in key's window and
// records them if so. A rejected call records nothing.
func (r *RateLimiter) AllowN(ctx context.Context, key string, n int) (*RateLimitResult, error) {
	now := time.Now()
	cutoff := now.Add(-r.config.Window).UnixNano()
	setKey := "ratelimit:" + key

	// Prune and count in one round trip.
	pipe := r.client.rdb.Pipeline()
	pipe.ZRemRangeByScore(ctx, setKey, "0", strconv.FormatInt(cutoff, 10))
	countCmd := pipe.ZCard(ctx, setKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("rate limit prune: %w", err)
	}

	used := int(countCmd.Val())
	result := &RateLimitResult{
		Remaining: r.config.Limit - used,
		ResetAt:   now.Add(r.config.Window),
	}

	if used+n > r.config.Limit {
		if result.Remaining < 0 {
			result.Remaining = 0
		}
		r.logger.Debug("rate limit exceeded",
			zap.String("key", key),
			zap.Int("used", used),
			zap.Int("limit", r.config.Limit),
		)
		return result, nil
	}

	record := r.client.rdb.Pipeline()
	for i := 0; i < n; i++ {
		record.ZAdd(ctx, setKey, redis.Z{
			Score:  float64(now.UnixNano()) + float64(i),
			Member: fmt.Sprintf("%d-%d", now.UnixNano(), i),
		})
	}
	record.Expire(ctx, setKey, r.config.Window+time.Second)
	if _, err := record.Exec(ctx); err != nil {
		return nil, fmt.Errorf("rate limit record: %w", err)
	}

	result.Allowed = true
	result.Remaining -= n
	return result, nil
}
