package domain

import (
	"errors"
	"time"
)

// ErrNotFound is returned when no live record matches a lookup.
var ErrNotFound = errors.New("record not found")

// TimePrecision is the finest timestamp resolution every record store keeps.
// PostgreSQL TIMESTAMPTZ holds microseconds, so records are stamped at that
// resolution before they are stored or cached.
const TimePrecision = time.Microsecond

// Timestamp truncates t to TimePrecision.
func Timestamp(t time.Time) time.Time {
	return t.Truncate(TimePrecision)
}

// Code represents a public short code.
type Code string

// Record is the authoritative mapping from a short code to its original value.
type Record struct {
	ID            int64      `json:"id"                  msgpack:"id"`
	OriginalValue string     `json:"originalValue"       msgpack:"originalValue"`
	ShortCode     Code       `json:"shortCode"           msgpack:"shortCode"`
	CreatedAt     time.Time  `json:"createdAt"           msgpack:"createdAt"`
	AccessCount   int64      `json:"accessCount"         msgpack:"accessCount"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty" msgpack:"expiresAt,omitempty"`
}

// IsExpired reports whether the record's validity window has elapsed at now.
// A record without an expiry never expires.
func (r *Record) IsExpired(now time.Time) bool {
	return r.ExpiresAt != nil && now.After(*r.ExpiresAt)
}

// SameMapping reports whether two snapshots describe the same mapping.
// Access counts are ignored; cached snapshots are allowed to lag them.
func (r *Record) SameMapping(other *Record) bool {
	if r.ID != other.ID || r.OriginalValue != other.OriginalValue || r.ShortCode != other.ShortCode {
		return false
	}

	switch {
	case r.ExpiresAt == nil && other.ExpiresAt == nil:
		return true
	case r.ExpiresAt == nil || other.ExpiresAt == nil:
		return false
	default:
		return r.ExpiresAt.Equal(*other.ExpiresAt)
	}
}
