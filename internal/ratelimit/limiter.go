package ratelimit

import (
	"context"
	"fmt"
)

// Exceeded describes the first limit a request went over.
type Exceeded struct {
	Bucket string
	Limit  LimitConfig
	Count  int64
}

// Limiter checks requests against a Policy using sliding window counters.
type Limiter struct {
	store  Store
	policy Policy
}

func NewLimiter(store Store, policy Policy) *Limiter {
	return &Limiter{store: store, policy: policy}
}

// CheckScopes records one request against each scope's limits. It returns
// nil when every limit still has room.
func (l *Limiter) CheckScopes(ctx context.Context, client string, scopes []Scope) (*Exceeded, error) {
	for _, scope := range scopes {
		exceeded, err := l.check(ctx, client, string(scope), l.policy[scope])
		if exceeded != nil || err != nil {
			return exceeded, err
		}
	}

	return nil, nil
}

// CheckLimits records one request against explicit limits tracked under bucket.
func (l *Limiter) CheckLimits(ctx context.Context, client, bucket string, limits []LimitConfig) (*Exceeded, error) {
	return l.check(ctx, client, "custom:"+bucket, limits)
}

func (l *Limiter) check(ctx context.Context, client, bucket string, limits []LimitConfig) (*Exceeded, error) {
	for _, limit := range limits {
		key := fmt.Sprintf("%s:%s:%d", client, bucket, limit.Window.Milliseconds())

		count, err := l.store.Record(ctx, key, limit.Window)
		if err != nil {
			return nil, fmt.Errorf("record %s: %w", bucket, err)
		}

		if count > limit.Max {
			return &Exceeded{Bucket: bucket, Limit: limit, Count: count}, nil
		}
	}

	return nil, nil
}
