// Package health reports whether the backends a process depends on respond.
package health

import (
	"context"
	"sort"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

// CheckTimeout bounds every dependency check.
const CheckTimeout = 2 * time.Second

// Checker checks one dependency.
type Checker interface {
	Ping(ctx context.Context) error
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(ctx context.Context) error

func (f CheckerFunc) Ping(ctx context.Context) error {
	return f(ctx)
}

// RedisChecker adapts a redis client to Checker.
type RedisChecker struct {
	client redis.UniversalClient
}

func NewRedisChecker(client redis.UniversalClient) *RedisChecker {
	return &RedisChecker{client: client}
}

func (r *RedisChecker) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Handler serves /health.
type Handler struct {
	checks map[string]Checker
}

// NewHandler creates a handler probing each named dependency.
func NewHandler(checks map[string]Checker) *Handler {
	return &Handler{checks: checks}
}

// Dependency is the state of one checked backend.
type Dependency struct {
	Name   string `json:"name"`
	Status string `json:"status" enum:"healthy,unhealthy"`
	Error  string `json:"error,omitempty"`
}

// Response is the response for the health endpoint.
type Response struct {
	Body struct {
		Status       string       `json:"status"       enum:"ok,degraded"`
		Dependencies []Dependency `json:"dependencies"`
	}
}

// Check queries every dependency concurrently. The endpoint always answers
// 200; a failing dependency only degrades the status.
func (h *Handler) Check(ctx context.Context, _ *struct{}) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, CheckTimeout)
	defer cancel()

	deps := make([]Dependency, 0, len(h.checks))
	results := make(chan Dependency, len(h.checks))

	var g errgroup.Group

	for name, checker := range h.checks {
		g.Go(func() error {
			dep := Dependency{Name: name, Status: "healthy"}
			if err := checker.Ping(ctx); err != nil {
				dep.Status = "unhealthy"
				dep.Error = err.Error()
			}

			results <- dep

			return nil
		})
	}

	_ = g.Wait()
	close(results)

	resp := &Response{}
	resp.Body.Status = "ok"

	for dep := range results {
		if dep.Status != "healthy" {
			resp.Body.Status = "degraded"
		}

		deps = append(deps, dep)
	}

	sort.Slice(deps, func(i, j int) bool { return deps[i].Name < deps[j].Name })
	resp.Body.Dependencies = deps

	return resp, nil
}

// RegisterRoutes registers health check routes.
func RegisterRoutes(api huma.API, h *Handler) {
	huma.Get(api, "/health", h.Check)
}
