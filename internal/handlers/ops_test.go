package handlers_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/serroba/shortlink/internal/consistency"
	"github.com/serroba/shortlink/internal/domain"
	"github.com/serroba/shortlink/internal/handlers"
	"github.com/serroba/shortlink/internal/idgen"
	"github.com/serroba/shortlink/internal/shortcode"
	"github.com/serroba/shortlink/internal/shortener"
	"github.com/serroba/shortlink/internal/sweeper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeExpiry struct {
	report sweeper.ExpiryReport
	err    error
}

func (f fakeExpiry) RunOnce(context.Context) (sweeper.ExpiryReport, error) {
	return f.report, f.err
}

type fakeReconciler struct {
	report sweeper.ReconcileReport
	err    error
}

func (f fakeReconciler) RunOnce(context.Context) (sweeper.ReconcileReport, error) {
	return f.report, f.err
}

type fakeBulk struct {
	requested int
	err       error
}

func (f *fakeBulk) Insert(_ context.Context, total int) (shortener.BulkResult, error) {
	f.requested = total

	return shortener.BulkResult{Requested: total, Inserted: int64(total)}, f.err
}

func newOps(t *testing.T, expiry handlers.ExpirySweep, reconcile handlers.Reconciler, bulk handlers.BulkInserter) (*handlers.OpsHandler, *env) {
	t.Helper()

	e := newEnv(t)
	checker := consistency.NewChecker(e.records, e.gateway)

	return handlers.NewOpsHandler(expiry, reconcile, checker, bulk, e.records, zap.NewNop()), e
}

type failingAuditor struct{}

func (failingAuditor) Audit(context.Context) (domain.Audit, error) {
	return domain.Audit{}, errMock
}

func (failingAuditor) Recent(context.Context, int) ([]*domain.Record, error) {
	return nil, errMock
}

func TestCleanupExpired(t *testing.T) {
	t.Run("returns the report", func(t *testing.T) {
		ops, _ := newOps(t, fakeExpiry{report: sweeper.ExpiryReport{Expired: 3, Announced: 2}}, fakeReconciler{}, &fakeBulk{})

		resp, err := ops.CleanupExpired(context.Background(), nil)

		require.NoError(t, err)
		assert.Equal(t, 3, resp.Body.Expired)
		assert.Equal(t, 2, resp.Body.Announced)
	})

	t.Run("overlapping sweep is a conflict", func(t *testing.T) {
		ops, _ := newOps(t, fakeExpiry{err: sweeper.ErrInFlight}, fakeReconciler{}, &fakeBulk{})

		_, err := ops.CleanupExpired(context.Background(), nil)

		assert.Equal(t, http.StatusConflict, status(t, err))
	})

	t.Run("stopped sweeper is unavailable", func(t *testing.T) {
		ops, _ := newOps(t, fakeExpiry{err: sweeper.ErrStopped}, fakeReconciler{}, &fakeBulk{})

		_, err := ops.CleanupExpired(context.Background(), nil)

		assert.Equal(t, http.StatusServiceUnavailable, status(t, err))
	})
}

func TestReconcile(t *testing.T) {
	ops, _ := newOps(t, fakeExpiry{}, fakeReconciler{report: sweeper.ReconcileReport{Scanned: 10, Ghosts: 1, Diverged: 2}}, &fakeBulk{})

	resp, err := ops.Reconcile(context.Background(), nil)

	require.NoError(t, err)
	assert.Equal(t, 10, resp.Body.Scanned)
	assert.Equal(t, 3, resp.Body.Inconsistencies)

	ops, _ = newOps(t, fakeExpiry{}, fakeReconciler{err: errMock}, &fakeBulk{})

	_, err = ops.Reconcile(context.Background(), nil)
	assert.Equal(t, http.StatusInternalServerError, status(t, err))
}

func TestValidate(t *testing.T) {
	ctx := context.Background()

	t.Run("fresh link is consistent", func(t *testing.T) {
		ops, e := newOps(t, fakeExpiry{}, fakeReconciler{}, &fakeBulk{})
		created := shorten(t, e.handler, testURL)

		resp, err := ops.Validate(ctx, &handlers.CodePath{Code: created.Body.Code})

		require.NoError(t, err)
		assert.Equal(t, consistency.Consistent, resp.Body.Verdict)
	})

	t.Run("record deleted without invalidation is inconsistent", func(t *testing.T) {
		ops, e := newOps(t, fakeExpiry{}, fakeReconciler{}, &fakeBulk{})
		created := shorten(t, e.handler, testURL)

		_, err := e.handler.Delete(ctx, &handlers.InvalidationQuery{
			CodePath:         handlers.CodePath{Code: created.Body.Code},
			SkipInvalidation: true,
		})
		require.NoError(t, err)

		resp, err := ops.Validate(ctx, &handlers.CodePath{Code: created.Body.Code})

		require.NoError(t, err)
		assert.Equal(t, consistency.Inconsistent, resp.Body.Verdict)
	})

	t.Run("evicted link is a cache miss", func(t *testing.T) {
		ops, e := newOps(t, fakeExpiry{}, fakeReconciler{}, &fakeBulk{})
		created := shorten(t, e.handler, testURL)

		_, err := e.gateway.Evict(ctx, domain.Code(created.Body.Code))
		require.NoError(t, err)

		resp, err := ops.Validate(ctx, &handlers.CodePath{Code: created.Body.Code})

		require.NoError(t, err)
		assert.Equal(t, consistency.CacheMiss, resp.Body.Verdict)
	})

	t.Run("malformed code", func(t *testing.T) {
		ops, _ := newOps(t, fakeExpiry{}, fakeReconciler{}, &fakeBulk{})

		_, err := ops.Validate(ctx, &handlers.CodePath{Code: "no"})

		assert.Equal(t, http.StatusBadRequest, status(t, err))
	})
}

func TestParseSnowflake(t *testing.T) {
	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	gen, err := idgen.New(3, 7, idgen.WithClock(func() int64 { return at.UnixMilli() }))
	require.NoError(t, err)

	id, err := gen.NextID()
	require.NoError(t, err)

	ops, _ := newOps(t, fakeExpiry{}, fakeReconciler{}, &fakeBulk{})

	resp, err := ops.ParseSnowflake(context.Background(), &handlers.SnowflakeRequest{ID: id})

	require.NoError(t, err)
	assert.Equal(t, int64(3), resp.Body.Datacenter)
	assert.Equal(t, int64(7), resp.Body.Worker)
	assert.True(t, at.Equal(resp.Body.Timestamp))
	assert.Equal(t, shortcode.Encode(id), resp.Body.Code)

	_, err = ops.ParseSnowflake(context.Background(), &handlers.SnowflakeRequest{ID: -1})
	assert.Equal(t, http.StatusBadRequest, status(t, err))
}

func TestInsertBulk(t *testing.T) {
	bulk := &fakeBulk{}
	ops, _ := newOps(t, fakeExpiry{}, fakeReconciler{}, bulk)

	req := &handlers.BulkInsertRequest{}
	req.Body.Count = 500

	resp, err := ops.InsertBulk(context.Background(), req)

	require.NoError(t, err)
	assert.Equal(t, 500, bulk.requested)
	assert.Equal(t, int64(500), resp.Body.Inserted)

	bulk.err = errMock

	_, err = ops.InsertBulk(context.Background(), req)
	assert.Equal(t, http.StatusInternalServerError, status(t, err))
}

func TestStatus(t *testing.T) {
	ops, e := newOps(t, fakeExpiry{}, fakeReconciler{}, &fakeBulk{})

	first := shorten(t, e.handler, "https://example.com/first")
	second := shorten(t, e.handler, "https://example.com/second")

	resp, err := ops.Status(context.Background(), &handlers.StatusRequest{Recent: 1})

	require.NoError(t, err)
	assert.Equal(t, int64(2), resp.Body.Records)
	require.Len(t, resp.Body.Recent, 1)
	assert.Contains(t, []int64{first.Body.ID, second.Body.ID}, resp.Body.Recent[0].ID)

	failing := handlers.NewOpsHandler(fakeExpiry{}, fakeReconciler{}, nil, &fakeBulk{}, failingAuditor{}, zap.NewNop())
	_, err = failing.Status(context.Background(), &handlers.StatusRequest{Recent: 1})
	assert.Equal(t, http.StatusServiceUnavailable, status(t, err))
}

func TestCheckDuplicates(t *testing.T) {
	t.Run("intact store", func(t *testing.T) {
		ops, e := newOps(t, fakeExpiry{}, fakeReconciler{}, &fakeBulk{})
		shorten(t, e.handler, testURL)

		resp, err := ops.CheckDuplicates(context.Background(), nil)

		require.NoError(t, err)
		assert.Equal(t, int64(1), resp.Body.Records)
		assert.True(t, resp.Body.Intact)
	})

	t.Run("shared code is reported", func(t *testing.T) {
		ops, e := newOps(t, fakeExpiry{}, fakeReconciler{}, &fakeBulk{})
		created := shorten(t, e.handler, testURL)

		// A writer that skipped the existence check.
		require.NoError(t, e.records.Put(context.Background(), &domain.Record{
			ID:            created.Body.ID + 1,
			OriginalValue: "https://example.com/other",
			ShortCode:     domain.Code(created.Body.Code),
			CreatedAt:     time.Now(),
		}))

		resp, err := ops.CheckDuplicates(context.Background(), nil)

		require.NoError(t, err)
		assert.Equal(t, int64(1), resp.Body.DuplicateCodes)
		assert.False(t, resp.Body.Intact)
	})

	t.Run("audit failure", func(t *testing.T) {
		ops := handlers.NewOpsHandler(fakeExpiry{}, fakeReconciler{}, nil, &fakeBulk{}, failingAuditor{}, zap.NewNop())

		_, err := ops.CheckDuplicates(context.Background(), nil)

		assert.Equal(t, http.StatusServiceUnavailable, status(t, err))
	})
}
