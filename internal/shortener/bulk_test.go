package shortener_test

import (
	"context"
	"testing"

	"github.com/serroba/shortlink/internal/domain"
	"github.com/serroba/shortlink/internal/idgen"
	"github.com/serroba/shortlink/internal/shortener"
	"github.com/serroba/shortlink/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// plainStore hides the batch writer so the loader falls back to single puts.
type plainStore struct {
	domain.RecordStore
}

func TestBulkLoader_Insert(t *testing.T) {
	ctx := context.Background()

	t.Run("batch writer", func(t *testing.T) {
		ids, err := idgen.New(1, 1)
		require.NoError(t, err)

		records := store.NewMemoryStore()
		loader := shortener.NewBulkLoader(ids, records, zap.NewNop())

		result, err := loader.Insert(ctx, 2500)

		require.NoError(t, err)
		assert.Equal(t, 2500, result.Requested)
		assert.Equal(t, int64(records.Len()), result.Inserted)
		assert.Equal(t, int64(2500), result.Inserted+result.Conflicts)
		assert.LessOrEqual(t, result.Workers, shortener.MaxWorkers)
		assert.Positive(t, result.Workers)
	})

	t.Run("single puts skip taken codes", func(t *testing.T) {
		ids, err := idgen.New(1, 2)
		require.NoError(t, err)

		records := store.NewMemoryStore()
		loader := shortener.NewBulkLoader(ids, plainStore{records}, zap.NewNop())

		result, err := loader.Insert(ctx, 300)

		require.NoError(t, err)
		assert.Equal(t, int64(records.Len()), result.Inserted)
		assert.Equal(t, int64(300), result.Inserted+result.Conflicts)
	})

	t.Run("nothing requested", func(t *testing.T) {
		ids, err := idgen.New(0, 0)
		require.NoError(t, err)

		result, err := shortener.NewBulkLoader(ids, store.NewMemoryStore(), zap.NewNop()).Insert(ctx, 0)

		require.NoError(t, err)
		assert.Zero(t, result.Inserted)
	})

	t.Run("cancelled context stops the workers", func(t *testing.T) {
		ids, err := idgen.New(0, 3)
		require.NoError(t, err)

		cctx, cancel := context.WithCancel(ctx)
		cancel()

		_, err = shortener.NewBulkLoader(ids, store.NewMemoryStore(), zap.NewNop()).Insert(cctx, 100)

		assert.ErrorIs(t, err, context.Canceled)
	})
}
