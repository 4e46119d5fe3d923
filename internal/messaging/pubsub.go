package messaging

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/redis/go-redis/v9"
)

// StreamCaps maps a topic to the approximate maximum length of its stream.
// Topics without a cap grow without bound.
type StreamCaps map[string]int64

// RedisPublisherConfig trims every capped stream on each XADD.
func RedisPublisherConfig(client redis.UniversalClient, caps StreamCaps) redisstream.PublisherConfig {
	return redisstream.PublisherConfig{
		Client:     client,
		Marshaller: redisstream.DefaultMarshallerUnmarshaller{},
		Maxlens:    caps,
	}
}

// NewRedisPublisher publishes to Redis streams.
func NewRedisPublisher(
	client redis.UniversalClient,
	caps StreamCaps,
	logger watermill.LoggerAdapter,
) (*redisstream.Publisher, error) {
	return redisstream.NewPublisher(RedisPublisherConfig(client, caps), logger)
}

// NewRedisSubscriber reads Redis streams. An empty consumerGroup puts the
// subscriber in fan-out mode where every instance sees every message; a named
// group load-balances messages across its members.
func NewRedisSubscriber(
	client redis.UniversalClient,
	consumerGroup string,
	logger watermill.LoggerAdapter,
) (*redisstream.Subscriber, error) {
	return redisstream.NewSubscriber(
		redisstream.SubscriberConfig{
			Client:        client,
			Unmarshaller:  redisstream.DefaultMarshallerUnmarshaller{},
			Consumer:      watermill.NewShortUUID(),
			ConsumerGroup: consumerGroup,
		},
		logger,
	)
}

// NewInMemoryPubSub returns a process-local publisher and subscriber in one.
func NewInMemoryPubSub(logger watermill.LoggerAdapter) *gochannel.GoChannel {
	return gochannel.NewGoChannel(
		gochannel.Config{OutputChannelBuffer: 64},
		logger,
	)
}
