// Package invalidation fans cache eviction notices out to every process.
//
// The channel is at-least-once and unordered, and a process receives its own
// announcements, so every handler must be idempotent. Lost notices are
// repaired by the sweepers.
package invalidation

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/serroba/shortlink/internal/domain"
	"github.com/serroba/shortlink/internal/messaging"
	"go.uber.org/zap"
)

// Topic is the single channel all eviction notices travel on.
const Topic = "url:cache:eviction"

// Handler reacts to one invalidated code.
type Handler func(ctx context.Context, code domain.Code) error

// Bus publishes and receives eviction notices.
type Bus struct {
	publish  messaging.Publish[domain.Code]
	consumer *messaging.Consumer[domain.Code]
	logger   *zap.Logger

	mu       sync.RWMutex
	handlers []Handler
}

// NewBus creates a bus over a publisher and a fan-out subscriber.
func NewBus(publisher message.Publisher, subscriber message.Subscriber, logger *zap.Logger) *Bus {
	b := &Bus{
		publish: messaging.NewCodecPublishFunc(publisher, Topic, messaging.Text[domain.Code]()),
		logger:  logger,
	}

	b.consumer = messaging.NewConsumer(
		subscriber,
		Topic,
		b.dispatch,
		logger,
		messaging.WithCodec(messaging.Text[domain.Code]()),
		messaging.WithAckOnFailure[domain.Code](),
	)

	return b
}

// AnnounceInvalidated publishes code. Failures are logged and returned but
// never retried.
func (b *Bus) AnnounceInvalidated(ctx context.Context, code domain.Code) error {
	if err := b.publish(ctx, &code); err != nil {
		b.logger.Warn("invalidation publish failed",
			zap.String("code", string(code)),
			zap.Error(err),
		)

		return fmt.Errorf("announce %s: %w", code, err)
	}

	b.logger.Debug("invalidation announced", zap.String("code", string(code)))

	return nil
}

// OnInvalidated registers h. Handlers run synchronously, in registration order,
// once per received message.
func (b *Bus) OnInvalidated(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers = append(b.handlers, h)
}

// Start subscribes to the topic.
func (b *Bus) Start(ctx context.Context) error {
	return b.consumer.Start(ctx)
}

// Shutdown stops receiving. The publisher and subscriber belong to the caller.
func (b *Bus) Shutdown() error {
	return b.consumer.Shutdown()
}

func (b *Bus) dispatch(ctx context.Context, code *domain.Code) error {
	b.mu.RLock()
	handlers := b.handlers
	b.mu.RUnlock()

	var errs []error

	for _, h := range handlers {
		if err := h(ctx, *code); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Evictor is the part of the cache gateway the default handler needs.
type Evictor interface {
	Evict(ctx context.Context, code domain.Code) (bool, error)
}

// EvictHandler drops the local cache entry for every notice. A missing key is
// the normal outcome once another path already evicted it.
func EvictHandler(evictor Evictor, logger *zap.Logger) Handler {
	return func(ctx context.Context, code domain.Code) error {
		deleted, err := evictor.Evict(ctx, code)
		if err != nil {
			return err
		}

		logger.Debug("invalidation applied",
			zap.String("code", string(code)),
			zap.Bool("evicted", deleted),
		)

		return nil
	}
}
