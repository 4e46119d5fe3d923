// Package consistency compares one cached snapshot against the record store.
// It is read-only and meant for operators and tests, never the request path.
package consistency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/serroba/shortlink/internal/domain"
)

// Verdict is the outcome of a check.
type Verdict string

const (
	// Consistent means both sides agree, or neither side has a live record.
	Consistent Verdict = "CONSISTENT"
	// CacheMiss means the store has a live record the cache does not hold.
	// A cold cache is a normal state, not an inconsistency.
	CacheMiss Verdict = "CACHE_MISS"
	// Inconsistent means the cache holds data the store contradicts.
	Inconsistent Verdict = "INCONSISTENT"
)

// CacheReader is the read side of the cache gateway.
type CacheReader interface {
	Read(ctx context.Context, code domain.Code) (*domain.Record, bool, error)
}

// Result carries the verdict plus both sides for diagnostics.
type Result struct {
	Verdict  Verdict        `json:"verdict"`
	Reason   string         `json:"reason,omitempty"`
	Cached   *domain.Record `json:"cached,omitempty"`
	Stored   *domain.Record `json:"stored,omitempty"`
	HasCache bool           `json:"hasCache"`
	HasStore bool           `json:"hasStore"`
}

// Checker judges cache/store agreement for a single code.
type Checker struct {
	records domain.RecordStore
	cache   CacheReader
	now     func() time.Time
}

// NewChecker creates a checker.
func NewChecker(records domain.RecordStore, cache CacheReader) *Checker {
	return &Checker{records: records, cache: cache, now: time.Now}
}

// Check returns the verdict for code. Errors from either side are returned
// instead of being folded into a verdict.
func (c *Checker) Check(ctx context.Context, code domain.Code) (Verdict, error) {
	result, err := c.Inspect(ctx, code)
	if err != nil {
		return "", err
	}

	return result.Verdict, nil
}

// Inspect is Check with both snapshots attached.
func (c *Checker) Inspect(ctx context.Context, code domain.Code) (Result, error) {
	cached, hit, err := c.cache.Read(ctx, code)
	if err != nil {
		return Result{}, fmt.Errorf("check %s: %w", code, err)
	}

	stored, err := c.records.GetByCode(ctx, code)
	if errors.Is(err, domain.ErrNotFound) {
		stored, err = nil, nil
	}

	if err != nil {
		return Result{}, fmt.Errorf("check %s: %w", code, err)
	}

	result := Result{
		Cached:   cached,
		Stored:   stored,
		HasCache: hit,
		HasStore: stored != nil,
	}

	now := c.now()
	live := stored != nil && !stored.IsExpired(now)

	switch {
	case !hit && !live:
		result.Verdict = Consistent
	case !hit:
		result.Verdict = CacheMiss
	case stored == nil:
		result.Verdict, result.Reason = Inconsistent, "cached record is absent from the store"
	case !live && !cached.IsExpired(now):
		result.Verdict, result.Reason = Inconsistent, "cached snapshot predates the record's expiry"
	case !cached.SameMapping(stored):
		result.Verdict, result.Reason = Inconsistent, "cached snapshot differs from the store"
	default:
		result.Verdict = Consistent
	}

	return result, nil
}
