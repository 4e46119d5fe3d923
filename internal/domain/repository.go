package domain

import (
	"context"
	"time"
)

// RecordStore is the authoritative storage for records.
// Implementations must be read-after-write consistent for a single instance.
type RecordStore interface {
	Get(ctx context.Context, id int64) (*Record, error)
	GetByCode(ctx context.Context, code Code) (*Record, error)
	GetByOriginalValue(ctx context.Context, value string) (*Record, error)
	Put(ctx context.Context, record *Record) error
	Delete(ctx context.Context, id int64) error
	Exists(ctx context.Context, code Code) (bool, error)

	// SetExpiry changes only the expiry of the record with id.
	SetExpiry(ctx context.Context, id int64, expiresAt time.Time) error

	// ScanExpired returns every record whose expiry lies before now.
	ScanExpired(ctx context.Context, now time.Time) ([]*Record, error)
}

// BatchWriter is implemented by record stores that can persist many records
// in one round trip. Records whose code already exists are skipped and not
// counted in inserted.
type BatchWriter interface {
	PutBatch(ctx context.Context, records []*Record) (inserted int, err error)
}

// AccessCounter increments a record's access count in place.
type AccessCounter interface {
	IncrementAccessCount(ctx context.Context, code Code, delta int64) error
}

// Audit counts the records in a store and the groups of records that share a
// value which should identify one record.
type Audit struct {
	Records int64 `json:"records"`

	// DuplicateCodes and DuplicateIDs are integrity failures.
	DuplicateCodes int64 `json:"duplicateCodes"`
	DuplicateIDs   int64 `json:"duplicateIds"`

	// DuplicateValues is expected: an expired value is shortened again.
	DuplicateValues int64 `json:"duplicateValues"`
}

// Intact reports whether no code and no id is shared by two records.
func (a Audit) Intact() bool {
	return a.DuplicateCodes == 0 && a.DuplicateIDs == 0
}

// Auditor is implemented by record stores that can report their contents.
type Auditor interface {
	Audit(ctx context.Context) (Audit, error)
	// Recent returns up to limit records, newest first.
	Recent(ctx context.Context, limit int) ([]*Record, error)
}
