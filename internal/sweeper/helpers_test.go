package sweeper_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/serroba/shortlink/internal/cache"
	"github.com/serroba/shortlink/internal/domain"
	"github.com/serroba/shortlink/internal/events"
	"github.com/serroba/shortlink/internal/store"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var errBackend = errors.New("backend unavailable")

func newGateway(t *testing.T) *cache.Gateway {
	t.Helper()

	cfg := store.DefaultBigCacheConfig()
	cfg.Shards = 16
	cfg.MaxEntriesInWindow = 64

	bc, err := store.NewBigCache(context.Background(), cfg)
	require.NoError(t, err)

	t.Cleanup(func() { _ = bc.Shutdown() })

	return newGatewayOver(bc)
}

func newGatewayOver(s cache.Store) *cache.Gateway {
	return cache.NewGateway(s, zap.NewNop())
}

func record(id int64, code string, expiresAt *time.Time) *domain.Record {
	return &domain.Record{
		ID:            id,
		OriginalValue: "https://example.com/" + code,
		ShortCode:     domain.Code(code),
		CreatedAt:     time.Now().Add(-time.Hour),
		ExpiresAt:     expiresAt,
	}
}

func ptr(t time.Time) *time.Time {
	return &t
}

// flakyStore fails lookups for selected codes.
type flakyStore struct {
	*store.MemoryStore
	failCodes map[domain.Code]bool
	scanErr   error
}

func (f *flakyStore) GetByCode(ctx context.Context, code domain.Code) (*domain.Record, error) {
	if f.failCodes[code] {
		return nil, errBackend
	}

	return f.MemoryStore.GetByCode(ctx, code)
}

func (f *flakyStore) ScanExpired(ctx context.Context, now time.Time) ([]*domain.Record, error) {
	if f.scanErr != nil {
		return nil, f.scanErr
	}

	return f.MemoryStore.ScanExpired(ctx, now)
}

type announcerFunc func(ctx context.Context, code domain.Code) error

func (f announcerFunc) AnnounceInvalidated(ctx context.Context, code domain.Code) error {
	return f(ctx, code)
}

type recordingAnnouncer struct {
	mu    sync.Mutex
	codes []domain.Code
	fail  map[domain.Code]bool
}

func (r *recordingAnnouncer) AnnounceInvalidated(_ context.Context, code domain.Code) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.fail[code] {
		return errBackend
	}

	r.codes = append(r.codes, code)

	return nil
}

func (r *recordingAnnouncer) announced() []domain.Code {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]domain.Code(nil), r.codes...)
}

type erroringCache struct {
	*cache.Gateway
	failReads map[domain.Code]bool
}

func (e *erroringCache) Read(ctx context.Context, code domain.Code) (*domain.Record, bool, error) {
	if e.failReads[code] {
		return nil, false, errBackend
	}

	return e.Gateway.Read(ctx, code)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []*events.InconsistencyDetectedEvent
}

func (r *recordingPublisher) PublishInconsistency(_ context.Context, event *events.InconsistencyDetectedEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, event)

	return nil
}

func (r *recordingPublisher) kinds() map[string]events.InconsistencyKind {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]events.InconsistencyKind, len(r.events))
	for _, e := range r.events {
		out[e.Code] = e.Kind
	}

	return out
}
