package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/go-chi/chi/v5"
	"github.com/samber/do"
	"github.com/serroba/shortlink/internal/container"
	"github.com/serroba/shortlink/internal/invalidation"
	"github.com/serroba/shortlink/internal/messaging"
	"github.com/serroba/shortlink/internal/sweeper"
	"go.uber.org/zap"
)

func registerPackages(injector *do.Injector, options *container.Options) {
	do.ProvideValue(injector, options)
	container.LoggerPackage(injector)
	container.RedisPackage(injector)
	container.PostgresPackage(injector)
	container.RecordStorePackage(injector)
	container.IDGeneratorPackage(injector)
	container.CachePackage(injector)
	container.MessagingPackage(injector)
	container.InvalidationPackage(injector)
	container.EventsPackage(injector)
	container.SweeperPackage(injector)
	container.ServicePackage(injector)
	container.RateLimitPackage(injector)
	container.HTTPPackage(injector)
	container.ConsumerGroupPackage(injector)
}

// startBackground starts everything that runs beside the HTTP server: the
// invalidation subscriber first so no eviction is missed, then the sweeps.
func startBackground(ctx context.Context, injector *do.Injector, options *container.Options) error {
	if err := do.MustInvoke[*invalidation.Bus](injector).Start(ctx); err != nil {
		return fmt.Errorf("start invalidation bus: %w", err)
	}

	if err := do.MustInvoke[*sweeper.ExpirySweeper](injector).Start(ctx); err != nil {
		return fmt.Errorf("start expiry sweeper: %w", err)
	}

	if err := do.MustInvoke[*sweeper.ReconciliationSweeper](injector).Start(ctx); err != nil {
		return fmt.Errorf("start reconciliation sweeper: %w", err)
	}

	if options.InlineConsumers {
		if err := do.MustInvoke[*messaging.ConsumerGroup](injector).Start(ctx); err != nil {
			return fmt.Errorf("start event consumers: %w", err)
		}
	}

	return nil
}

func main() {
	cli := humacli.New(func(hooks humacli.Hooks, options *container.Options) {
		injector := do.New()
		registerPackages(injector, options)

		var (
			server *http.Server
			logger = zap.NewNop()
		)

		ctx, cancel := context.WithCancel(context.Background())

		hooks.OnStart(func() {
			if err := options.Validate(); err != nil {
				fmt.Fprintln(os.Stderr, "invalid options:", err)
				os.Exit(2)
			}

			logger = do.MustInvoke[*zap.Logger](injector)
			router := do.MustInvoke[*chi.Mux](injector)

			// Invoke API to trigger route registration
			_ = do.MustInvoke[huma.API](injector)

			if err := startBackground(ctx, injector, options); err != nil {
				logger.Fatal("startup failed", zap.Error(err))
			}

			server = &http.Server{
				Addr:              fmt.Sprintf(":%d", options.Port),
				Handler:           router,
				ReadHeaderTimeout: 10 * time.Second,
			}

			logger.Info("server starting",
				zap.Int("port", options.Port),
				zap.String("cache", options.CacheBackend),
				zap.String("records", options.RecordBackend),
				zap.String("bus", options.BusBackend),
			)

			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Fatal("server failed", zap.Error(err))
			}
		})

		hooks.OnStop(func() {
			logger.Info("shutting down")

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer shutdownCancel()

			if server != nil {
				if err := server.Shutdown(shutdownCtx); err != nil {
					logger.Error("server shutdown error", zap.Error(err))
				}
			}

			cancel()

			if err := injector.Shutdown(); err != nil {
				logger.Error("service shutdown error", zap.Error(err))
			}

			_ = logger.Sync()

			logger.Info("shutdown complete")
		})
	})

	cli.Run()
}
