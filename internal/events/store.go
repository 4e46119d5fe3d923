package events

import "context"

// Store persists received events.
type Store interface {
	SaveURLCreated(ctx context.Context, event *URLCreatedEvent) error
	SaveURLAccessed(ctx context.Context, event *URLAccessedEvent) error
	SaveInconsistency(ctx context.Context, event *InconsistencyDetectedEvent) error
}
