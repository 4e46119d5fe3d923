package store

import (
	"context"

	"github.com/serroba/shortlink/internal/events"
	"go.uber.org/zap"
)

// Log is an events.Store that writes every event to the logger.
type Log struct {
	logger *zap.Logger
}

// NewLog creates a logging event store.
func NewLog(logger *zap.Logger) *Log {
	return &Log{logger: logger}
}

func (l *Log) SaveURLCreated(_ context.Context, event *events.URLCreatedEvent) error {
	l.logger.Info("url created event received",
		zap.Int64("id", event.ID),
		zap.String("code", event.Code),
		zap.String("originalValue", event.OriginalValue),
		zap.Time("createdAt", event.CreatedAt),
	)

	return nil
}

func (l *Log) SaveURLAccessed(_ context.Context, event *events.URLAccessedEvent) error {
	l.logger.Info("url accessed event received",
		zap.String("code", event.Code),
		zap.String("source", string(event.Source)),
		zap.Time("accessedAt", event.AccessedAt),
		zap.String("referrer", event.Referrer),
	)

	return nil
}

func (l *Log) SaveInconsistency(_ context.Context, event *events.InconsistencyDetectedEvent) error {
	l.logger.Warn("cache inconsistency event received",
		zap.String("code", event.Code),
		zap.String("kind", string(event.Kind)),
		zap.Time("detectedAt", event.DetectedAt),
	)

	return nil
}

var _ events.Store = (*Log)(nil)
