package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/serroba/shortlink/internal/events"
	"github.com/serroba/shortlink/internal/events/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestLog(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	s := store.NewLog(zap.New(core))
	ctx := context.Background()

	require.NoError(t, s.SaveURLCreated(ctx, &events.URLCreatedEvent{
		ID: 1, Code: "abc1234", OriginalValue: "https://example.com", CreatedAt: time.Now(),
	}))
	require.NoError(t, s.SaveURLAccessed(ctx, &events.URLAccessedEvent{
		Code: "abc1234", AccessedAt: time.Now(), Source: events.SourceCache,
	}))
	require.NoError(t, s.SaveInconsistency(ctx, &events.InconsistencyDetectedEvent{
		Code: "abc1234", Kind: events.KindGhost, DetectedAt: time.Now(),
	}))

	require.Equal(t, 3, logs.Len())

	entries := logs.All()
	assert.Equal(t, "url created event received", entries[0].Message)
	assert.Equal(t, "cache", entries[1].ContextMap()["source"])
	assert.Equal(t, zap.WarnLevel, entries[2].Level)
	assert.Equal(t, "ghost", entries[2].ContextMap()["kind"])
}
