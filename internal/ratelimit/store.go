package ratelimit

import (
	"context"
	"time"
)

// Store counts requests per key over a sliding window.
type Store interface {
	// Record adds a request under key, drops entries older than window and
	// returns how many remain.
	Record(ctx context.Context, key string, window time.Duration) (count int64, err error)
}
