package ratelimit

import (
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
)

// Scope groups requests that share a budget.
type Scope string

const (
	ScopeGlobal Scope = "global"
	ScopeRead   Scope = "read"
	ScopeWrite  Scope = "write"
)

// MetadataKey is the huma operation metadata key holding an EndpointConfig.
const MetadataKey = "rateLimit"

// LimitConfig allows Max requests per sliding Window.
type LimitConfig struct {
	Window time.Duration
	Max    int64
}

// Policy maps each scope to the limits that apply to it.
type Policy map[Scope][]LimitConfig

// DefaultPolicy limits every client per minute and tightens writes further.
func DefaultPolicy(globalPerMinute, readPerMinute, writePerMinute int64) Policy {
	return Policy{
		ScopeGlobal: {{Window: time.Minute, Max: globalPerMinute}},
		ScopeRead:   {{Window: time.Minute, Max: readPerMinute}},
		ScopeWrite: {
			{Window: time.Minute, Max: writePerMinute},
			{Window: time.Hour, Max: writePerMinute * 20},
		},
	}
}

// EndpointConfig overrides the policy for one operation.
type EndpointConfig struct {
	// Limits replace the scope limits when set. They are counted per route
	// template, so /{code} shares one counter across codes.
	Limits   []LimitConfig
	Disabled bool
}

// ConfigFor returns the endpoint config attached to op, if any.
func ConfigFor(op *huma.Operation) (EndpointConfig, bool) {
	if op == nil || op.Metadata == nil {
		return EndpointConfig{}, false
	}

	cfg, ok := op.Metadata[MetadataKey].(EndpointConfig)

	return cfg, ok
}

// ScopesFor classifies a request method.
func ScopesFor(method string) []Scope {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return []Scope{ScopeGlobal, ScopeRead}
	default:
		return []Scope{ScopeGlobal, ScopeWrite}
	}
}
