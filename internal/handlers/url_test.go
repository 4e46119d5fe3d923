package handlers_test

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/danielgtaylor/huma/v2"
	"github.com/serroba/shortlink/internal/cache"
	"github.com/serroba/shortlink/internal/domain"
	"github.com/serroba/shortlink/internal/events"
	"github.com/serroba/shortlink/internal/handlers"
	"github.com/serroba/shortlink/internal/idgen"
	"github.com/serroba/shortlink/internal/shortener"
	"github.com/serroba/shortlink/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testURL = "https://example.com/very/long/path"

var errMock = errors.New("backend down")

type nopBus struct{}

func (nopBus) AnnounceInvalidated(context.Context, domain.Code) error { return nil }

type nopEvents struct{}

func (nopEvents) PublishURLCreated(context.Context, *events.URLCreatedEvent) error   { return nil }
func (nopEvents) PublishURLAccessed(context.Context, *events.URLAccessedEvent) error { return nil }

type env struct {
	handler *handlers.URLHandler
	records *store.MemoryStore
	gateway *cache.Gateway
}

func newEnv(t *testing.T) *env {
	t.Helper()

	cfg := store.DefaultBigCacheConfig()
	cfg.Shards = 16
	cfg.MaxEntriesInWindow = 64

	bc, err := store.NewBigCache(context.Background(), cfg)
	require.NoError(t, err)

	t.Cleanup(func() { _ = bc.Shutdown() })

	ids, err := idgen.New(1, 1)
	require.NoError(t, err)

	e := &env{
		records: store.NewMemoryStore(),
		gateway: cache.NewGateway(bc, zap.NewNop()),
	}

	svc := shortener.NewService(ids, e.records, e.gateway, nopBus{}, nopEvents{}, zap.NewNop())
	e.handler = handlers.NewURLHandler(svc, "http://localhost:8888", zap.NewNop())

	return e
}

// failingService fails every call.
type failingService struct{}

func (failingService) Shorten(context.Context, shortener.ShortenInput) (*domain.Record, bool, error) {
	return nil, false, errMock
}

func (failingService) Resolve(context.Context, domain.Code, shortener.Client) (*domain.Record, error) {
	return nil, errMock
}

func (failingService) Lookup(context.Context, domain.Code) (*domain.Record, error) {
	return nil, errMock
}

func (failingService) LookupByID(context.Context, int64) (*domain.Record, error) {
	return nil, errMock
}

func (failingService) Delete(context.Context, domain.Code) error { return errMock }

func (failingService) DeleteRecordOnly(context.Context, domain.Code) error { return errMock }

func (failingService) Expire(context.Context, domain.Code, bool) (*domain.Record, error) {
	return nil, errMock
}

func status(t *testing.T, err error) int {
	t.Helper()

	var se huma.StatusError
	require.ErrorAs(t, err, &se)

	return se.GetStatus()
}

func shorten(t *testing.T, h *handlers.URLHandler, url string) *handlers.ShortenResponse {
	t.Helper()

	req := &handlers.ShortenRequest{}
	req.Body.URL = url

	resp, err := h.Shorten(context.Background(), req)
	require.NoError(t, err)

	return resp
}

func TestShorten(t *testing.T) {
	t.Run("creates a short link", func(t *testing.T) {
		e := newEnv(t)

		resp := shorten(t, e.handler, testURL)

		assert.Equal(t, http.StatusCreated, resp.Status)
		assert.Len(t, resp.Body.Code, 7)
		assert.Equal(t, testURL, resp.Body.OriginalURL)
		assert.Equal(t, "http://localhost:8888/"+resp.Body.Code, resp.Body.ShortURL)
		assert.Equal(t, resp.Body.ShortURL, resp.Headers.Location)
		assert.True(t, resp.Body.Created)
		assert.Nil(t, resp.Body.ExpiresAt)
	})

	t.Run("same value returns the existing link", func(t *testing.T) {
		e := newEnv(t)

		first := shorten(t, e.handler, testURL)
		second := shorten(t, e.handler, testURL)

		assert.Equal(t, http.StatusOK, second.Status)
		assert.Equal(t, first.Body.Code, second.Body.Code)
		assert.False(t, second.Body.Created)
	})

	t.Run("ttl sets an expiry", func(t *testing.T) {
		e := newEnv(t)

		req := &handlers.ShortenRequest{}
		req.Body.URL = testURL
		req.Body.TTLSeconds = 60

		resp, err := e.handler.Shorten(context.Background(), req)

		require.NoError(t, err)
		assert.NotNil(t, resp.Body.ExpiresAt)
	})

	t.Run("blank value is a bad request", func(t *testing.T) {
		e := newEnv(t)

		req := &handlers.ShortenRequest{}
		req.Body.URL = "   "

		_, err := e.handler.Shorten(context.Background(), req)

		assert.Equal(t, http.StatusBadRequest, status(t, err))
	})

	t.Run("service failure is a server error", func(t *testing.T) {
		h := handlers.NewURLHandler(failingService{}, "http://localhost:8888", zap.NewNop())

		req := &handlers.ShortenRequest{}
		req.Body.URL = testURL

		_, err := h.Shorten(context.Background(), req)

		assert.Equal(t, http.StatusInternalServerError, status(t, err))
	})
}

func TestRedirect(t *testing.T) {
	t.Run("redirects with 302", func(t *testing.T) {
		e := newEnv(t)
		created := shorten(t, e.handler, testURL)

		resp, err := e.handler.Redirect(context.Background(), &handlers.CodePath{Code: created.Body.Code})

		require.NoError(t, err)
		assert.Equal(t, http.StatusFound, resp.Status)
		assert.Equal(t, testURL, resp.Headers.Location)
		assert.Equal(t, "no-store", resp.Headers.CacheControl)
	})

	t.Run("unknown and malformed codes are 404", func(t *testing.T) {
		e := newEnv(t)

		for _, code := range []string{"abcdefg", "bad!", ""} {
			_, err := e.handler.Redirect(context.Background(), &handlers.CodePath{Code: code})
			assert.Equal(t, http.StatusNotFound, status(t, err), "code %q", code)
		}
	})

	t.Run("service failure is a server error", func(t *testing.T) {
		h := handlers.NewURLHandler(failingService{}, "http://localhost:8888", zap.NewNop())

		_, err := h.Redirect(context.Background(), &handlers.CodePath{Code: "abcdefg"})

		assert.Equal(t, http.StatusInternalServerError, status(t, err))
	})
}

func TestInfo(t *testing.T) {
	e := newEnv(t)
	created := shorten(t, e.handler, testURL)

	resp, err := e.handler.Info(context.Background(), &handlers.CodePath{Code: created.Body.Code})

	require.NoError(t, err)
	assert.Equal(t, created.Body.ID, resp.Body.ID)
	assert.Equal(t, testURL, resp.Body.OriginalValue)
	assert.False(t, resp.Body.Expired)

	_, err = e.handler.Info(context.Background(), &handlers.CodePath{Code: "nothere"})
	assert.Equal(t, http.StatusNotFound, status(t, err))
}

func TestInfoByID(t *testing.T) {
	e := newEnv(t)
	created := shorten(t, e.handler, testURL)

	resp, err := e.handler.InfoByID(context.Background(), &handlers.SnowflakeRequest{ID: created.Body.ID})

	require.NoError(t, err)
	assert.Equal(t, domain.Code(created.Body.Code), resp.Body.ShortCode)
	assert.Equal(t, testURL, resp.Body.OriginalValue)

	_, err = e.handler.InfoByID(context.Background(), &handlers.SnowflakeRequest{ID: created.Body.ID + 1})
	assert.Equal(t, http.StatusNotFound, status(t, err))

	failing := handlers.NewURLHandler(failingService{}, "http://localhost:8888", zap.NewNop())
	_, err = failing.InfoByID(context.Background(), &handlers.SnowflakeRequest{ID: 1})
	assert.Equal(t, http.StatusInternalServerError, status(t, err))
}

func TestDelete(t *testing.T) {
	t.Run("deletes and evicts", func(t *testing.T) {
		e := newEnv(t)
		created := shorten(t, e.handler, testURL)

		_, err := e.handler.Delete(context.Background(), &handlers.InvalidationQuery{
			CodePath: handlers.CodePath{Code: created.Body.Code},
		})
		require.NoError(t, err)

		_, hit, err := e.gateway.Read(context.Background(), domain.Code(created.Body.Code))
		require.NoError(t, err)
		assert.False(t, hit)

		_, err = e.handler.Redirect(context.Background(), &handlers.CodePath{Code: created.Body.Code})
		assert.Equal(t, http.StatusNotFound, status(t, err))
	})

	t.Run("skipInvalidation leaves the snapshot", func(t *testing.T) {
		e := newEnv(t)
		created := shorten(t, e.handler, testURL)

		_, err := e.handler.Delete(context.Background(), &handlers.InvalidationQuery{
			CodePath:         handlers.CodePath{Code: created.Body.Code},
			SkipInvalidation: true,
		})
		require.NoError(t, err)

		assert.Zero(t, e.records.Len())

		_, hit, err := e.gateway.Read(context.Background(), domain.Code(created.Body.Code))
		require.NoError(t, err)
		assert.True(t, hit)
	})

	t.Run("unknown code is 404", func(t *testing.T) {
		e := newEnv(t)

		_, err := e.handler.Delete(context.Background(), &handlers.InvalidationQuery{
			CodePath: handlers.CodePath{Code: "nothere"},
		})

		assert.Equal(t, http.StatusNotFound, status(t, err))
	})
}

func TestExpire(t *testing.T) {
	e := newEnv(t)
	created := shorten(t, e.handler, testURL)

	resp, err := e.handler.Expire(context.Background(), &handlers.InvalidationQuery{
		CodePath: handlers.CodePath{Code: created.Body.Code},
	})

	require.NoError(t, err)
	assert.True(t, resp.Body.Expired)

	_, err = e.handler.Redirect(context.Background(), &handlers.CodePath{Code: created.Body.Code})
	assert.Equal(t, http.StatusNotFound, status(t, err))
}
