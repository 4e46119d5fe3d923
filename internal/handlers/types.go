package handlers

import (
	"time"

	"github.com/serroba/shortlink/internal/consistency"
	"github.com/serroba/shortlink/internal/domain"
	"github.com/serroba/shortlink/internal/shortener"
	"github.com/serroba/shortlink/internal/sweeper"
)

// CodePath addresses a record by its short code.
type CodePath struct {
	Code string `doc:"The short code" example:"dBvJIh2" path:"code"`
}

// ShortenRequest is the request body for creating a short link.
type ShortenRequest struct {
	Body struct {
		URL        string `doc:"The value to shorten"             example:"https://example.com/very/long/path" json:"url"                  minLength:"1"`
		TTLSeconds int64  `doc:"Seconds until the link expires"   example:"3600"                               json:"ttlSeconds,omitempty" minimum:"0"`
	}
}

// ShortenResponse is answered with 201 for a new link and 200 when a live
// link for the same value already existed.
type ShortenResponse struct {
	Status  int
	Headers struct {
		Location string `doc:"The short link" header:"Location"`
	}
	Body struct {
		Code        string     `doc:"The short code"       example:"dBvJIh2"                            json:"code"`
		ShortURL    string     `doc:"The full short link"  example:"http://localhost:8888/dBvJIh2"      json:"shortUrl"`
		OriginalURL string     `doc:"The original value"   example:"https://example.com/very/long/path" json:"originalUrl"`
		ID          int64      `doc:"The identifier"       example:"1541815603606036480"                json:"id"`
		Created     bool       `doc:"Whether it was minted" json:"created"`
		ExpiresAt   *time.Time `doc:"When it expires"       json:"expiresAt,omitempty"`
	}
}

// RedirectResponse sends the client to the original value.
type RedirectResponse struct {
	Status  int
	Headers struct {
		Location     string `header:"Location"`
		CacheControl string `header:"Cache-Control"`
	}
}

// RecordResponse carries the authoritative record.
type RecordResponse struct {
	Body RecordBody
}

// RecordBody is a record as stored, plus whether it has expired.
type RecordBody struct {
	domain.Record
	Expired bool `doc:"Whether the expiry has passed" json:"expired"`
}

// InvalidationQuery lets operators skip the cache eviction to reproduce a
// lost invalidation.
type InvalidationQuery struct {
	CodePath
	SkipInvalidation bool `doc:"Leave cached snapshots in place" query:"skipInvalidation"`
}

// ExpiryResponse reports one on-demand expiry sweep.
type ExpiryResponse struct {
	Body sweeper.ExpiryReport
}

// ReconcileResponse reports one on-demand reconciliation sweep.
type ReconcileResponse struct {
	Body struct {
		sweeper.ReconcileReport
		Inconsistencies int `doc:"Ghosts, stale expiries and diverged snapshots repaired" json:"inconsistencies"`
	}
}

// ValidateResponse is the checker verdict for one code.
type ValidateResponse struct {
	Body consistency.Result
}

// SnowflakeRequest addresses an identifier to decode.
type SnowflakeRequest struct {
	ID int64 `doc:"A snowflake identifier" example:"1541815603606036480" path:"id"`
}

// SnowflakeResponse holds the decoded fields of an identifier.
type SnowflakeResponse struct {
	Body struct {
		ID         int64     `json:"id"`
		Timestamp  time.Time `json:"timestamp"`
		Datacenter int64     `json:"datacenter"`
		Worker     int64     `json:"worker"`
		Sequence   int64     `json:"sequence"`
		Code       string    `doc:"The short code this identifier encodes to" json:"code"`
	}
}

// BulkInsertRequest asks for a number of synthetic records.
type BulkInsertRequest struct {
	Body struct {
		Count int `doc:"Records to insert" example:"100000" json:"count" maximum:"10000000" minimum:"1"`
	}
}

// BulkInsertResponse reports a bulk insert run.
type BulkInsertResponse struct {
	Body shortener.BulkResult
}

// StatusRequest selects how many recent records the status report lists.
type StatusRequest struct {
	Recent int `default:"3" doc:"Number of newest records to include" maximum:"100" minimum:"0" query:"recent"`
}

// StatusResponse is a summary of the record store.
type StatusResponse struct {
	Body struct {
		Records int64           `json:"records"`
		Recent  []domain.Record `json:"recent"`
	}
}

// DuplicatesResponse reports records that share a code, an id or a value.
type DuplicatesResponse struct {
	Body struct {
		domain.Audit
		Intact bool `doc:"No code and no id is shared by two records" json:"intact"`
	}
}
