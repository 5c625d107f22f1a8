package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter is a fixed-window counter shared by every API instance.
type RedisLimiter struct {
	client *redis.Client
	prefix string
	limit  int
	window time.Duration
}

// NewRedisClient parses redisURL and checks the server answers.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return client, nil
}

func NewRedisLimiter(client *redis.Client, prefix string, limit int, window time.Duration) *RedisLimiter {
	if prefix == "" {
		prefix = "ratelimit:"
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &RedisLimiter{client: client, prefix: prefix, limit: limit, window: window}
}

func (l *RedisLimiter) key(key string) string {
	bucket := time.Now().UnixNano() / int64(l.window)
	return fmt.Sprintf("%s%s:%d", l.prefix, key, bucket)
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (Result, error) {
	k := l.key(key)

	count, err := l.client.Incr(ctx, k).Result()
	if err != nil {
		return Result{}, fmt.Errorf("rate limit %s: %w", key, err)
	}
	// The bucket number is part of the key, so a missed expiry cannot block forever.
	if count == 1 {
		if err := l.client.Expire(ctx, k, l.window).Err(); err != nil {
			return Result{}, fmt.Errorf("rate limit expiry %s: %w", key, err)
		}
	}

	if int(count) > l.limit {
		retry, err := l.client.PTTL(ctx, k).Result()
		if err != nil || retry <= 0 {
			retry = l.window
		}
		return Result{Allowed: false, RetryAfter: retry}, nil
	}
	return Result{Allowed: true, Remaining: l.limit - int(count)}, nil
}

func (l *RedisLimiter) Close() error {
	return l.client.Close()
}
