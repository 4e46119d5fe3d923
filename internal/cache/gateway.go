// Package cache wraps a byte-oriented cache store with the record key scheme
// and TTL policy.
//
// The gateway never retries. Callers treat every error as a signal to fall
// back to the record store: a failing cache costs latency, not correctness.
package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/serroba/shortlink/internal/domain"
	"github.com/serroba/shortlink/internal/shortcode"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

const (
	// KeyPrefix namespaces record snapshots in the cache store.
	KeyPrefix = "url:"

	// TTL is applied on every write and restarts rather than accumulates.
	TTL = time.Hour

	// DefaultTimeout bounds a single cache round trip.
	DefaultTimeout = 250 * time.Millisecond
)

// Store is the cache backend the gateway talks to.
type Store interface {
	// Get returns (value, true, nil) on hit and (nil, false, nil) on miss.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete reports whether the key was present.
	Delete(ctx context.Context, key string) (bool, error)
	Keys(ctx context.Context, prefix string) ([]string, error)
	Ping(ctx context.Context) error
}

// Gateway reads, writes and evicts record snapshots.
type Gateway struct {
	store   Store
	timeout time.Duration
	logger  *zap.Logger
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithTimeout bounds each cache round trip. Non-positive values disable the bound.
func WithTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		g.timeout = d
	}
}

// NewGateway creates a gateway over store.
func NewGateway(store Store, logger *zap.Logger, opts ...Option) *Gateway {
	g := &Gateway{
		store:   store,
		timeout: DefaultTimeout,
		logger:  logger,
	}

	for _, opt := range opts {
		opt(g)
	}

	return g
}

// Key returns the cache key for a code.
func Key(code domain.Code) string {
	return KeyPrefix + string(code)
}

// Read returns the cached snapshot for code. A miss is (nil, false, nil).
func (g *Gateway) Read(ctx context.Context, code domain.Code) (*domain.Record, bool, error) {
	ctx, cancel := g.bound(ctx)
	defer cancel()

	raw, ok, err := g.store.Get(ctx, Key(code))
	if err != nil {
		return nil, false, fmt.Errorf("cache read %s: %w", code, err)
	}

	if !ok {
		return nil, false, nil
	}

	var record domain.Record
	if err := msgpack.Unmarshal(raw, &record); err != nil {
		// An undecodable entry is useless to every reader; drop it.
		g.logger.Warn("dropping undecodable cache entry",
			zap.String("code", string(code)),
			zap.Error(err),
		)

		_, _ = g.store.Delete(ctx, Key(code))

		return nil, false, nil
	}

	return &record, true, nil
}

// Write stores a snapshot of record with a fresh TTL.
func (g *Gateway) Write(ctx context.Context, record *domain.Record) error {
	raw, err := msgpack.Marshal(record)
	if err != nil {
		return fmt.Errorf("cache encode %s: %w", record.ShortCode, err)
	}

	ctx, cancel := g.bound(ctx)
	defer cancel()

	if err := g.store.Set(ctx, Key(record.ShortCode), raw, TTL); err != nil {
		return fmt.Errorf("cache write %s: %w", record.ShortCode, err)
	}

	return nil
}

// Evict removes the snapshot for code. Evicting an absent key returns false.
func (g *Gateway) Evict(ctx context.Context, code domain.Code) (bool, error) {
	ctx, cancel := g.bound(ctx)
	defer cancel()

	deleted, err := g.store.Delete(ctx, Key(code))
	if err != nil {
		return false, fmt.Errorf("cache evict %s: %w", code, err)
	}

	return deleted, nil
}

// ListKeys returns the codes of every cached snapshot.
func (g *Gateway) ListKeys(ctx context.Context) ([]domain.Code, error) {
	keys, err := g.store.Keys(ctx, KeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("cache list keys: %w", err)
	}

	codes := make([]domain.Code, 0, len(keys))

	for _, key := range keys {
		// Other writers share the prefix (the invalidation stream lives at
		// "url:cache:eviction"); only well-formed codes are snapshots.
		code, ok := strings.CutPrefix(key, KeyPrefix)
		if !ok || !shortcode.IsValidCode(code) {
			continue
		}

		codes = append(codes, domain.Code(code))
	}

	return codes, nil
}

// IsBackendReachable reports whether the cache store answers a ping.
func (g *Gateway) IsBackendReachable(ctx context.Context) bool {
	ctx, cancel := g.bound(ctx)
	defer cancel()

	return g.store.Ping(ctx) == nil
}

// Ping adapts the gateway to health checkers.
func (g *Gateway) Ping(ctx context.Context) error {
	ctx, cancel := g.bound(ctx)
	defer cancel()

	return g.store.Ping(ctx)
}

func (g *Gateway) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.timeout <= 0 {
		return ctx, func() {}
	}

	return context.WithTimeout(ctx, g.timeout)
}
