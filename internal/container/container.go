// Package container wires the services with samber/do. Every long-lived
// service implements Shutdown so injector.Shutdown tears the process down in
// reverse order of construction.
package container

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	_ "github.com/danielgtaylor/huma/v2/formats/cbor" // CBOR format support for huma
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/samber/do"
	"github.com/serroba/shortlink/internal/cache"
	"github.com/serroba/shortlink/internal/consistency"
	"github.com/serroba/shortlink/internal/domain"
	"github.com/serroba/shortlink/internal/events"
	eventstore "github.com/serroba/shortlink/internal/events/store"
	"github.com/serroba/shortlink/internal/handlers"
	"github.com/serroba/shortlink/internal/health"
	"github.com/serroba/shortlink/internal/idgen"
	"github.com/serroba/shortlink/internal/invalidation"
	"github.com/serroba/shortlink/internal/messaging"
	"github.com/serroba/shortlink/internal/middleware"
	"github.com/serroba/shortlink/internal/ratelimit"
	"github.com/serroba/shortlink/internal/shortener"
	"github.com/serroba/shortlink/internal/store"
	"github.com/serroba/shortlink/internal/sweeper"
	"go.uber.org/zap"
)

// Named subscribers. Invalidation fans out to every process; events are
// shared by the members of one consumer group.
const (
	InvalidationSubscriber = "subscriber.invalidation"
	EventSubscriber        = "subscriber.events"

	eventConsumerGroup = "shortlink-events"
	startupTimeout     = 10 * time.Second
)

// RedisConn owns the process-wide Redis client so the injector closes it.
// The client is not embedded: go-redis already has a Shutdown method with
// another signature.
type RedisConn struct {
	Client redis.UniversalClient
}

func (c *RedisConn) Shutdown() error {
	return c.Client.Close()
}

// subscriber closes the subscriber on shutdown.
type subscriber struct {
	message.Subscriber
}

func (s subscriber) Shutdown() error {
	return s.Close()
}

func LoggerPackage(i *do.Injector) {
	do.Provide(i, func(i *do.Injector) (*zap.Logger, error) {
		opts := do.MustInvoke[*Options](i)

		if opts.LogFormat == "json" {
			return zap.NewProduction()
		}

		return zap.NewDevelopment()
	})

	do.Provide(i, func(i *do.Injector) (watermill.LoggerAdapter, error) {
		return messaging.NewZapLogger(do.MustInvoke[*zap.Logger](i)), nil
	})
}

func RedisPackage(i *do.Injector) {
	do.Provide(i, func(i *do.Injector) (*RedisConn, error) {
		opts := do.MustInvoke[*Options](i)

		return &RedisConn{Client: redis.NewClient(&redis.Options{Addr: opts.RedisAddr})}, nil
	})

	do.Provide(i, func(i *do.Injector) (redis.UniversalClient, error) {
		return do.MustInvoke[*RedisConn](i).Client, nil
	})
}

func PostgresPackage(i *do.Injector) {
	do.Provide(i, func(i *do.Injector) (*store.PostgresStore, error) {
		opts := do.MustInvoke[*Options](i)

		ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
		defer cancel()

		pool, err := pgxpool.New(ctx, opts.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}

		s := store.NewPostgresStore(pool)
		if err := s.EnsureSchema(ctx); err != nil {
			pool.Close()

			return nil, err
		}

		return s, nil
	})
}

// RecordStorePackage provides the record store, its access counter and its
// auditor.
func RecordStorePackage(i *do.Injector) {
	do.Provide(i, func(i *do.Injector) (domain.RecordStore, error) {
		if do.MustInvoke[*Options](i).RecordBackend == BackendMemory {
			return store.NewMemoryStore(), nil
		}

		pg, err := do.Invoke[*store.PostgresStore](i)
		if err != nil {
			return nil, err
		}

		return pg, nil
	})

	do.Provide(i, func(i *do.Injector) (domain.AccessCounter, error) {
		records := do.MustInvoke[domain.RecordStore](i)

		counter, ok := records.(domain.AccessCounter)
		if !ok {
			return nil, fmt.Errorf("record store %T cannot count accesses", records)
		}

		return counter, nil
	})

	do.Provide(i, func(i *do.Injector) (domain.Auditor, error) {
		records := do.MustInvoke[domain.RecordStore](i)

		auditor, ok := records.(domain.Auditor)
		if !ok {
			return nil, fmt.Errorf("record store %T cannot be audited", records)
		}

		return auditor, nil
	})
}

func IDGeneratorPackage(i *do.Injector) {
	do.Provide(i, func(i *do.Injector) (*idgen.Generator, error) {
		opts := do.MustInvoke[*Options](i)

		return idgen.New(int64(opts.Datacenter), int64(opts.Worker))
	})
}

func CachePackage(i *do.Injector) {
	do.Provide(i, func(i *do.Injector) (cache.Store, error) {
		if do.MustInvoke[*Options](i).CacheBackend == BackendLocal {
			bc, err := store.NewBigCache(context.Background(), store.DefaultBigCacheConfig())
			if err != nil {
				return nil, fmt.Errorf("local cache: %w", err)
			}

			return bc, nil
		}

		return store.NewRedisCache(do.MustInvoke[redis.UniversalClient](i)), nil
	})

	do.Provide(i, func(i *do.Injector) (*cache.Gateway, error) {
		opts := do.MustInvoke[*Options](i)

		return cache.NewGateway(
			do.MustInvoke[cache.Store](i),
			do.MustInvoke[*zap.Logger](i).Named("cache"),
			cache.WithTimeout(opts.CacheTimeout()),
		), nil
	})
}

// MessagingPackage provides the publisher and the named subscribers for the
// configured bus backend.
func MessagingPackage(i *do.Injector) {
	if opts := do.MustInvoke[*Options](i); opts.BusBackend == BackendMemory {
		memoryMessaging(i)

		return
	}

	do.Provide(i, func(i *do.Injector) (*messaging.PublisherGroup, error) {
		publisher, err := messaging.NewRedisPublisher(
			do.MustInvoke[redis.UniversalClient](i),
			StreamCaps(),
			do.MustInvoke[watermill.LoggerAdapter](i),
		)
		if err != nil {
			return nil, fmt.Errorf("redis publisher: %w", err)
		}

		return messaging.NewPublisherGroup(publisher), nil
	})

	provideRedisSubscriber(i, InvalidationSubscriber, "")
	provideRedisSubscriber(i, EventSubscriber, eventConsumerGroup)
}

// StreamCaps bounds the streams that share Redis with the cache. Fan-out
// readers start at the tail and never read old evictions; event streams keep
// room for a consumer group that falls behind.
func StreamCaps() messaging.StreamCaps {
	return messaging.StreamCaps{
		invalidation.Topic:        10_000,
		events.TopicURLCreated:    100_000,
		events.TopicURLAccessed:   1_000_000,
		events.TopicInconsistency: 100_000,
	}
}

func provideRedisSubscriber(i *do.Injector, name, consumerGroup string) {
	do.ProvideNamed(i, name, func(i *do.Injector) (message.Subscriber, error) {
		sub, err := messaging.NewRedisSubscriber(
			do.MustInvoke[redis.UniversalClient](i),
			consumerGroup,
			do.MustInvoke[watermill.LoggerAdapter](i),
		)
		if err != nil {
			return nil, fmt.Errorf("redis subscriber %s: %w", name, err)
		}

		return subscriber{sub}, nil
	})
}

func memoryMessaging(i *do.Injector) {
	do.Provide(i, func(i *do.Injector) (*messaging.PublisherGroup, error) {
		return messaging.NewPublisherGroup(messaging.NewInMemoryPubSub(do.MustInvoke[watermill.LoggerAdapter](i))), nil
	})

	// gochannel delivers every message to every subscription, so both names
	// share the publisher's channel.
	shared := func(i *do.Injector) (message.Subscriber, error) {
		pubsub, ok := do.MustInvoke[*messaging.PublisherGroup](i).Publisher().(message.Subscriber)
		if !ok {
			return nil, errors.New("in-memory publisher cannot subscribe")
		}

		return pubsub, nil
	}

	do.ProvideNamed(i, InvalidationSubscriber, shared)
	do.ProvideNamed(i, EventSubscriber, shared)
}

// InvalidationPackage provides the bus with the local eviction handler
// registered.
func InvalidationPackage(i *do.Injector) {
	do.Provide(i, func(i *do.Injector) (*invalidation.Bus, error) {
		logger := do.MustInvoke[*zap.Logger](i).Named("invalidation")

		bus := invalidation.NewBus(
			do.MustInvoke[*messaging.PublisherGroup](i).Publisher(),
			do.MustInvokeNamed[message.Subscriber](i, InvalidationSubscriber),
			logger,
		)
		bus.OnInvalidated(invalidation.EvictHandler(do.MustInvoke[*cache.Gateway](i), logger))

		return bus, nil
	})
}

func EventsPackage(i *do.Injector) {
	do.Provide(i, func(i *do.Injector) (*events.Publisher, error) {
		return events.NewPublisher(do.MustInvoke[*messaging.PublisherGroup](i).Publisher()), nil
	})
}

func SweeperPackage(i *do.Injector) {
	do.Provide(i, func(i *do.Injector) (*sweeper.ExpirySweeper, error) {
		return sweeper.NewExpirySweeper(
			do.MustInvoke[domain.RecordStore](i),
			do.MustInvoke[*cache.Gateway](i),
			do.MustInvoke[*invalidation.Bus](i),
			do.MustInvoke[*zap.Logger](i).Named("expiry"),
		), nil
	})

	do.Provide(i, func(i *do.Injector) (*sweeper.ReconciliationSweeper, error) {
		return sweeper.NewReconciliationSweeper(
			do.MustInvoke[domain.RecordStore](i),
			do.MustInvoke[*cache.Gateway](i),
			do.MustInvoke[*events.Publisher](i),
			do.MustInvoke[*zap.Logger](i).Named("reconciliation"),
		), nil
	})

	do.Provide(i, func(i *do.Injector) (*consistency.Checker, error) {
		return consistency.NewChecker(do.MustInvoke[domain.RecordStore](i), do.MustInvoke[*cache.Gateway](i)), nil
	})
}

func ServicePackage(i *do.Injector) {
	do.Provide(i, func(i *do.Injector) (*shortener.Service, error) {
		return shortener.NewService(
			do.MustInvoke[*idgen.Generator](i),
			do.MustInvoke[domain.RecordStore](i),
			do.MustInvoke[*cache.Gateway](i),
			do.MustInvoke[*invalidation.Bus](i),
			do.MustInvoke[*events.Publisher](i),
			do.MustInvoke[*zap.Logger](i).Named("shortener"),
		), nil
	})

	do.Provide(i, func(i *do.Injector) (*shortener.BulkLoader, error) {
		return shortener.NewBulkLoader(
			do.MustInvoke[*idgen.Generator](i),
			do.MustInvoke[domain.RecordStore](i),
			do.MustInvoke[*zap.Logger](i).Named("bulk"),
		), nil
	})
}

// RateLimitPackage counts in Redis when the cache is shared, otherwise in
// process memory.
func RateLimitPackage(i *do.Injector) {
	do.Provide(i, func(i *do.Injector) (*ratelimit.Limiter, error) {
		opts := do.MustInvoke[*Options](i)

		var s ratelimit.Store = store.NewRateLimitMemoryStore()
		if opts.CacheBackend == BackendRedis {
			s = store.NewRateLimitRedisStore(do.MustInvoke[redis.UniversalClient](i))
		}

		policy := ratelimit.DefaultPolicy(int64(opts.GlobalRateLimit), int64(opts.ReadRateLimit), int64(opts.WriteRateLimit))

		return ratelimit.NewLimiter(s, policy), nil
	})
}

func HTTPPackage(i *do.Injector) {
	do.Provide(i, func(_ *do.Injector) (*chi.Mux, error) {
		return chi.NewMux(), nil
	})

	do.Provide(i, func(i *do.Injector) (huma.API, error) {
		opts := do.MustInvoke[*Options](i)
		logger := do.MustInvoke[*zap.Logger](i).Named("http")

		api := humachi.New(do.MustInvoke[*chi.Mux](i), huma.DefaultConfig("Shortlink", "1.0.0"))
		api.UseMiddleware(middleware.RequestMeta(api))
		api.UseMiddleware(middleware.RateLimit(api, do.MustInvoke[*ratelimit.Limiter](i), logger))

		handlers.RegisterRoutes(api, handlers.NewURLHandler(
			do.MustInvoke[*shortener.Service](i),
			opts.PublicBaseURL(),
			logger,
		))

		handlers.RegisterOpsRoutes(api, handlers.NewOpsHandler(
			do.MustInvoke[*sweeper.ExpirySweeper](i),
			do.MustInvoke[*sweeper.ReconciliationSweeper](i),
			do.MustInvoke[*consistency.Checker](i),
			do.MustInvoke[*shortener.BulkLoader](i),
			do.MustInvoke[domain.Auditor](i),
			logger,
		))

		health.RegisterRoutes(api, health.NewHandler(healthChecks(i)))

		return api, nil
	})
}

func healthChecks(i *do.Injector) map[string]health.Checker {
	checks := map[string]health.Checker{
		"cache": do.MustInvoke[*cache.Gateway](i),
	}

	if p, ok := do.MustInvoke[domain.RecordStore](i).(health.Checker); ok {
		checks["records"] = p
	}

	if do.MustInvoke[*Options](i).BusBackend == BackendRedis {
		checks["bus"] = health.NewRedisChecker(do.MustInvoke[redis.UniversalClient](i))
	}

	return checks
}

// ConsumerGroupPackage provides the event consumers: a logging store and the
// access counter.
func ConsumerGroupPackage(i *do.Injector) {
	do.Provide(i, func(i *do.Injector) (*messaging.ConsumerGroup, error) {
		logger := do.MustInvoke[*zap.Logger](i).Named("events")
		sub := do.MustInvokeNamed[message.Subscriber](i, EventSubscriber)

		group := messaging.NewConsumerGroup(sub, logger)
		group.Add(events.NewConsumers(
			sub,
			eventstore.NewLog(logger),
			do.MustInvoke[domain.AccessCounter](i),
			logger,
		)...)

		return group, nil
	})
}
