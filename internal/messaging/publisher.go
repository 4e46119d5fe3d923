package messaging

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// Metadata keys set on every published message.
const (
	MetadataContentType = "content_type"
	MetadataPublishedAt = "published_at"
)

// Publish sends one typed event.
type Publish[T any] func(ctx context.Context, event *T) error

// NewPublishFunc returns a JSON publish function bound to topic.
func NewPublishFunc[T any](publisher message.Publisher, topic string) Publish[T] {
	return NewCodecPublishFunc(publisher, topic, JSON[T]())
}

// NewCodecPublishFunc returns a publish function bound to topic that encodes
// events with codec.
func NewCodecPublishFunc[T any](publisher message.Publisher, topic string, codec Codec[T]) Publish[T] {
	return func(ctx context.Context, event *T) error {
		payload, err := codec.Marshal(event)
		if err != nil {
			return fmt.Errorf("encode %s: %w", topic, err)
		}

		msg := message.NewMessage(watermill.NewUUID(), payload)
		msg.SetContext(ctx)
		msg.Metadata.Set(MetadataPublishedAt, time.Now().UTC().Format(time.RFC3339Nano))

		if codec.ContentType != "" {
			msg.Metadata.Set(MetadataContentType, codec.ContentType)
		}

		if err := publisher.Publish(topic, msg); err != nil {
			return fmt.Errorf("publish %s: %w", topic, err)
		}

		return nil
	}
}

// PublisherGroup owns the process-wide publisher so the injector closes it once.
type PublisherGroup struct {
	publisher message.Publisher
	once      sync.Once
	closeErr  error
}

func NewPublisherGroup(publisher message.Publisher) *PublisherGroup {
	return &PublisherGroup{publisher: publisher}
}

// Publisher is shared by every typed publish function in the process.
func (g *PublisherGroup) Publisher() message.Publisher {
	return g.publisher
}

// Shutdown closes the publisher. Later calls return the first result.
func (g *PublisherGroup) Shutdown() error {
	g.once.Do(func() {
		g.closeErr = g.publisher.Close()
	})

	return g.closeErr
}
