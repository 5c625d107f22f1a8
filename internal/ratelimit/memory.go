package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// MemoryLimiter keeps one token bucket per key in process. Each bucket holds
// limit tokens and refills one every window/limit.
type MemoryLimiter struct {
	mu      sync.Mutex
	limit   int
	every   rate.Limit
	buckets map[string]*rate.Limiter
}

func NewMemoryLimiter(limit int, window time.Duration) *MemoryLimiter {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &MemoryLimiter{
		limit:   limit,
		every:   rate.Every(window / time.Duration(limit)),
		buckets: map[string]*rate.Limiter{},
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (Result, error) {
	l.mu.Lock()
	bucket, ok := l.buckets[key]
	if !ok {
		bucket = rate.NewLimiter(l.every, l.limit)
		l.buckets[key] = bucket
	}
	l.mu.Unlock()

	now := time.Now()
	reservation := bucket.ReserveN(now, 1)
	if delay := reservation.DelayFrom(now); delay > 0 {
		reservation.CancelAt(now)
		return Result{Allowed: false, RetryAfter: delay}, nil
	}
	return Result{Allowed: true, Remaining: int(bucket.TokensAt(now))}, nil
}
