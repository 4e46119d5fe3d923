package sweeper_test

import (
	"context"
	"testing"
	"time"

	"github.com/serroba/shortlink/internal/cache"
	"github.com/serroba/shortlink/internal/domain"
	"github.com/serroba/shortlink/internal/events"
	"github.com/serroba/shortlink/internal/store"
	"github.com/serroba/shortlink/internal/sweeper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func cached(t *testing.T, gateway *cache.Gateway, code domain.Code) bool {
	t.Helper()

	_, ok, err := gateway.Read(context.Background(), code)
	require.NoError(t, err)

	return ok
}

func TestReconciliationSweeper_RunOnce(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	records := &flakyStore{
		MemoryStore: store.NewMemoryStore(),
		failCodes:   map[domain.Code]bool{"flaky01": true},
	}
	gateway := newGateway(t)

	// Ghost: cached, never stored.
	require.NoError(t, gateway.Write(ctx, record(1, "ghost01", nil)))

	// Stale expiry: cached while live, expired in the store afterwards.
	stale := record(2, "stale01", nil)
	require.NoError(t, gateway.Write(ctx, stale))
	stale.ExpiresAt = ptr(now.Add(-time.Minute))
	require.NoError(t, records.Put(ctx, stale))

	// Expired: the cached snapshot already carries the expiry.
	expired := record(3, "expir01", ptr(now.Add(-time.Minute)))
	require.NoError(t, records.Put(ctx, expired))
	require.NoError(t, gateway.Write(ctx, expired))

	// Diverged: live record whose mapping changed after caching.
	diverged := record(4, "diver01", nil)
	require.NoError(t, gateway.Write(ctx, diverged))
	diverged.OriginalValue = "https://elsewhere.example"
	require.NoError(t, records.Put(ctx, diverged))

	// Healthy: only the access count moved on.
	healthy := record(5, "healt01", nil)
	require.NoError(t, gateway.Write(ctx, healthy))
	healthy.AccessCount = 10
	require.NoError(t, records.Put(ctx, healthy))

	// Flaky: the store lookup fails and the entry must survive.
	flaky := record(6, "flaky01", nil)
	require.NoError(t, records.MemoryStore.Put(ctx, flaky))
	require.NoError(t, gateway.Write(ctx, flaky))

	publisher := &recordingPublisher{}
	s := sweeper.NewReconciliationSweeper(records, gateway, publisher, zap.NewNop())

	report, err := s.RunOnce(ctx)

	require.NoError(t, err)
	assert.Equal(t, sweeper.ReconcileReport{
		Scanned:     6,
		Ghosts:      1,
		StaleExpiry: 1,
		Diverged:    1,
		Expired:     1,
		Skipped:     1,
	}, report)
	assert.Equal(t, 3, report.Inconsistencies())

	for _, code := range []domain.Code{"ghost01", "stale01", "expir01", "diver01"} {
		assert.False(t, cached(t, gateway, code), code)
	}

	assert.True(t, cached(t, gateway, "healt01"))
	assert.True(t, cached(t, gateway, "flaky01"), "a failed lookup is never treated as absent")

	assert.Equal(t, map[string]events.InconsistencyKind{
		"ghost01": events.KindGhost,
		"stale01": events.KindStaleExpiry,
		"diver01": events.KindDiverged,
	}, publisher.kinds())
}

func TestReconciliationSweeper_IgnoresForeignKeys(t *testing.T) {
	ctx := context.Background()

	cfg := store.DefaultBigCacheConfig()
	cfg.Shards = 16
	cfg.MaxEntriesInWindow = 64

	bc, err := store.NewBigCache(ctx, cfg)
	require.NoError(t, err)

	t.Cleanup(func() { _ = bc.Shutdown() })

	// Shares the prefix but is not a snapshot.
	require.NoError(t, bc.Set(ctx, "url:cache:eviction", []byte("stream"), time.Hour))

	gateway := newGatewayOver(bc)
	s := sweeper.NewReconciliationSweeper(store.NewMemoryStore(), gateway, nil, zap.NewNop())

	report, err := s.RunOnce(ctx)

	require.NoError(t, err)
	assert.Zero(t, report.Scanned)

	_, ok, err := bc.Get(ctx, "url:cache:eviction")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestReconciliationSweeper_ListFailure(t *testing.T) {
	s := sweeper.NewReconciliationSweeper(store.NewMemoryStore(), failingScanner{}, nil, zap.NewNop())

	_, err := s.RunOnce(context.Background())

	assert.ErrorIs(t, err, errBackend)
}

func TestReconciliationSweeper_EvictFailureIsCounted(t *testing.T) {
	s := sweeper.NewReconciliationSweeper(store.NewMemoryStore(), failingScanner{keys: []domain.Code{"ghost01"}}, nil, zap.NewNop())

	report, err := s.RunOnce(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Zero(t, report.Inconsistencies())
}

// Lost invalidation: the record is deleted but no notice is delivered.
func TestReconciliationSweeper_RepairsDroppedInvalidation(t *testing.T) {
	ctx := context.Background()
	records := store.NewMemoryStore()
	gateway := newGateway(t)

	r := record(1, "lost001", nil)
	require.NoError(t, records.Put(ctx, r))
	require.NoError(t, gateway.Write(ctx, r))

	require.NoError(t, records.Delete(ctx, r.ID))
	require.True(t, cached(t, gateway, "lost001"))

	s := sweeper.NewReconciliationSweeper(records, gateway, nil, zap.NewNop())

	report, err := s.RunOnce(ctx)

	require.NoError(t, err)
	assert.Equal(t, 1, report.Ghosts)
	assert.False(t, cached(t, gateway, "lost001"))
}

type failingScanner struct {
	keys []domain.Code
}

func (f failingScanner) ListKeys(context.Context) ([]domain.Code, error) {
	if f.keys == nil {
		return nil, errBackend
	}

	return f.keys, nil
}

func (f failingScanner) Read(_ context.Context, code domain.Code) (*domain.Record, bool, error) {
	return record(99, string(code), nil), true, nil
}

func (failingScanner) Evict(context.Context, domain.Code) (bool, error) {
	return false, errBackend
}
