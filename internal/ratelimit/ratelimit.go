// Package ratelimit bounds how often one identity may submit claims.
package ratelimit

import (
	"context"
	"time"
)

// Budget used when a limiter is built with a non-positive limit or window.
const (
	DefaultLimit  = 5
	DefaultWindow = time.Hour
)

type Result struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter counts one attempt for key and reports whether it fits the budget.
type Limiter interface {
	Allow(ctx context.Context, key string) (Result, error)
}
