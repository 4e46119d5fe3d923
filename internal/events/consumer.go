package events

import (
	"context"
	"errors"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/serroba/shortlink/internal/domain"
	"github.com/serroba/shortlink/internal/messaging"
	"go.uber.org/zap"
)

// NewConsumers builds one consumer per event topic. Every accessed event also
// bumps the record's access count when counter is non-nil.
func NewConsumers(
	subscriber message.Subscriber,
	store Store,
	counter domain.AccessCounter,
	logger *zap.Logger,
) []messaging.Runnable {
	return []messaging.Runnable{
		messaging.NewConsumer(subscriber, TopicURLCreated, store.SaveURLCreated, logger),
		messaging.NewConsumer(subscriber, TopicURLAccessed, accessedHandler(store, counter, logger), logger),
		messaging.NewConsumer(subscriber, TopicInconsistency, store.SaveInconsistency, logger),
	}
}

func accessedHandler(store Store, counter domain.AccessCounter, logger *zap.Logger) messaging.Handler[URLAccessedEvent] {
	return func(ctx context.Context, event *URLAccessedEvent) error {
		if err := store.SaveURLAccessed(ctx, event); err != nil {
			return err
		}

		if counter == nil {
			return nil
		}

		err := counter.IncrementAccessCount(ctx, domain.Code(event.Code), 1)
		if errors.Is(err, domain.ErrNotFound) {
			// Deleted between the resolve and now; nothing left to count.
			logger.Debug("access for missing record dropped", zap.String("code", event.Code))

			return nil
		}

		return err
	}
}
