package middleware

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"

	"github.com/danielgtaylor/huma/v2"
	"github.com/serroba/shortlink/internal/ratelimit"
	"go.uber.org/zap"
)

// RateLimit rejects clients over their budget with 429. Operations may carry a
// ratelimit.EndpointConfig in their metadata to disable limiting or replace
// the method based scopes with their own limits.
func RateLimit(api huma.API, limiter *ratelimit.Limiter, logger *zap.Logger) func(ctx huma.Context, next func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		op := ctx.Operation()
		cfg, _ := ratelimit.ConfigFor(op)

		if cfg.Disabled {
			next(ctx)

			return
		}

		key := clientKey(ctx)

		var (
			exceeded *ratelimit.Exceeded
			err      error
		)

		if len(cfg.Limits) > 0 && op != nil {
			exceeded, err = limiter.CheckLimits(ctx.Context(), key, op.Path, cfg.Limits)
		} else {
			exceeded, err = limiter.CheckScopes(ctx.Context(), key, ratelimit.ScopesFor(ctx.Method()))
		}

		if err != nil {
			logger.Error("rate limit check failed", zap.String("method", ctx.Method()), zap.Error(err))
			_ = huma.WriteErr(api, ctx, http.StatusInternalServerError, "internal server error", err)

			return
		}

		if exceeded != nil {
			logger.Warn("rate limit exceeded",
				zap.String("method", ctx.Method()),
				zap.String("bucket", exceeded.Bucket),
				zap.Int64("count", exceeded.Count),
				zap.Int64("max", exceeded.Limit.Max),
				zap.Duration("window", exceeded.Limit.Window),
				zap.String("client_ip", extractClientIP(ctx)),
			)

			ctx.SetHeader("Retry-After", strconv.Itoa(int(exceeded.Limit.Window.Seconds())))
			_ = huma.WriteErr(api, ctx, http.StatusTooManyRequests,
				fmt.Sprintf("rate limit exceeded: %d/%d requests in %s", exceeded.Count, exceeded.Limit.Max, exceeded.Limit.Window))

			return
		}

		next(ctx)
	}
}

func clientKey(ctx huma.Context) string {
	hash := sha256.Sum256([]byte(extractClientIP(ctx) + "|" + ctx.Header("User-Agent")))

	return hex.EncodeToString(hash[:])
}
