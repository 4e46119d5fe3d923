package events

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/serroba/shortlink/internal/messaging"
)

// Publisher publishes domain events.
type Publisher struct {
	created       messaging.Publish[URLCreatedEvent]
	accessed      messaging.Publish[URLAccessedEvent]
	inconsistency messaging.Publish[InconsistencyDetectedEvent]
}

// NewPublisher creates a publisher for every event topic.
func NewPublisher(publisher message.Publisher) *Publisher {
	return &Publisher{
		created:       messaging.NewPublishFunc[URLCreatedEvent](publisher, TopicURLCreated),
		accessed:      messaging.NewPublishFunc[URLAccessedEvent](publisher, TopicURLAccessed),
		inconsistency: messaging.NewPublishFunc[InconsistencyDetectedEvent](publisher, TopicInconsistency),
	}
}

func (p *Publisher) PublishURLCreated(ctx context.Context, event *URLCreatedEvent) error {
	return p.created(ctx, event)
}

func (p *Publisher) PublishURLAccessed(ctx context.Context, event *URLAccessedEvent) error {
	return p.accessed(ctx, event)
}

func (p *Publisher) PublishInconsistency(ctx context.Context, event *InconsistencyDetectedEvent) error {
	return p.inconsistency(ctx, event)
}
