package messaging

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.uber.org/zap"
)

// Handler processes a single event. Handlers are synchronous and easy to test.
type Handler[T any] func(ctx context.Context, event *T) error

// ConsumerOption configures a Consumer.
type ConsumerOption[T any] func(*Consumer[T])

// WithCodec replaces the default JSON codec.
func WithCodec[T any](codec Codec[T]) ConsumerOption[T] {
	return func(c *Consumer[T]) {
		c.codec = codec
	}
}

// WithAckOnFailure acks messages even when decoding or handling fails, so a
// poison message is logged once instead of being redelivered.
func WithAckOnFailure[T any]() ConsumerOption[T] {
	return func(c *Consumer[T]) {
		c.ackOnFailure = true
	}
}

// Consumer subscribes to a topic and processes messages with a typed handler.
type Consumer[T any] struct {
	subscriber   message.Subscriber
	topic        string
	handler      Handler[T]
	codec        Codec[T]
	ackOnFailure bool
	logger       *zap.Logger
	cancel       context.CancelFunc
	done         chan struct{}
}

// NewConsumer creates a new generic consumer for a specific event type.
func NewConsumer[T any](
	subscriber message.Subscriber,
	topic string,
	handler Handler[T],
	logger *zap.Logger,
	opts ...ConsumerOption[T],
) *Consumer[T] {
	c := &Consumer[T]{
		subscriber: subscriber,
		topic:      topic,
		handler:    handler,
		codec:      JSON[T](),
		logger:     logger,
		done:       make(chan struct{}),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Topic returns the topic this consumer subscribes to.
func (c *Consumer[T]) Topic() string {
	return c.topic
}

// Start begins consuming messages from the topic.
func (c *Consumer[T]) Start(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)

	msgs, err := c.subscriber.Subscribe(ctx, c.topic)
	if err != nil {
		c.cancel()
		close(c.done)

		return err
	}

	go c.consumeLoop(ctx, msgs)

	return nil
}

func (c *Consumer[T]) consumeLoop(ctx context.Context, msgs <-chan *message.Message) {
	defer close(c.done)

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}

			c.handleMessage(ctx, msg)
		}
	}
}

func (c *Consumer[T]) handleMessage(ctx context.Context, msg *message.Message) {
	var event T
	if err := c.codec.Unmarshal(msg.Payload, &event); err != nil {
		c.logger.Error("failed to decode event",
			zap.String("topic", c.topic),
			zap.String("message_uuid", msg.UUID),
			zap.Error(err),
		)
		c.fail(msg)

		return
	}

	if err := c.handler(ctx, &event); err != nil {
		c.logger.Error("failed to handle event",
			zap.String("topic", c.topic),
			zap.String("message_uuid", msg.UUID),
			zap.Error(err),
		)
		c.fail(msg)

		return
	}

	msg.Ack()

	c.logger.Debug("processed event",
		zap.String("topic", c.topic),
	)
}

func (c *Consumer[T]) fail(msg *message.Message) {
	if c.ackOnFailure {
		msg.Ack()

		return
	}

	msg.Nack()
}

// Shutdown stops the consumer and waits for in-flight messages to complete.
func (c *Consumer[T]) Shutdown() error {
	if c.cancel == nil {
		return nil
	}

	c.cancel()
	<-c.done

	return nil
}
