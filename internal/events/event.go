// Package events carries domain events between the API and the consumer
// process. Events are JSON on watermill topics.
package events

import "time"

const (
	TopicURLCreated    = "url.created"
	TopicURLAccessed   = "url.accessed"
	TopicInconsistency = "cache.inconsistency"
)

// URLCreatedEvent is emitted when a new code is minted.
type URLCreatedEvent struct {
	ID            int64      `json:"id"`
	Code          string     `json:"code"`
	OriginalValue string     `json:"originalValue"`
	CreatedAt     time.Time  `json:"createdAt"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty"`
	ClientIP      string     `json:"clientIp,omitempty"`
	UserAgent     string     `json:"userAgent,omitempty"`
}

// Source says which tier answered a resolve.
type Source string

const (
	SourceCache Source = "cache"
	SourceStore Source = "store"
)

// URLAccessedEvent is emitted for every successful resolve.
type URLAccessedEvent struct {
	Code       string    `json:"code"`
	AccessedAt time.Time `json:"accessedAt"`
	Source     Source    `json:"source"`
	ClientIP   string    `json:"clientIp,omitempty"`
	UserAgent  string    `json:"userAgent,omitempty"`
	Referrer   string    `json:"referrer,omitempty"`
}

// InconsistencyKind classifies a cache entry that disagreed with the store.
type InconsistencyKind string

const (
	// KindGhost is a cached snapshot of a record the store no longer has.
	KindGhost InconsistencyKind = "ghost"
	// KindStaleExpiry is a snapshot that predates the record's expiry.
	KindStaleExpiry InconsistencyKind = "stale_expiry"
	// KindDiverged is a snapshot whose mapping differs from a live record.
	KindDiverged InconsistencyKind = "diverged"
)

// InconsistencyDetectedEvent is emitted by reconciliation for each repair.
type InconsistencyDetectedEvent struct {
	Code       string            `json:"code"`
	Kind       InconsistencyKind `json:"kind"`
	DetectedAt time.Time         `json:"detectedAt"`
}
