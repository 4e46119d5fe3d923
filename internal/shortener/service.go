// Package shortener mints short codes for original values and resolves them
// through the cache with the record store as the source of truth.
package shortener

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/serroba/shortlink/internal/domain"
	"github.com/serroba/shortlink/internal/events"
	"github.com/serroba/shortlink/internal/shortcode"
	"go.uber.org/zap"
)

// MaxMintAttempts bounds how many identifiers are tried for one new code.
const MaxMintAttempts = 5

var (
	// ErrCodeGeneration is returned when every mint attempt hit a taken code.
	ErrCodeGeneration = errors.New("could not mint an unused short code")
	// ErrEmptyValue is returned when there is nothing to shorten.
	ErrEmptyValue = errors.New("original value is empty")
)

// IDGenerator mints identifiers.
type IDGenerator interface {
	NextID() (int64, error)
}

// Cache is the slice of the cache gateway the service uses.
type Cache interface {
	Read(ctx context.Context, code domain.Code) (*domain.Record, bool, error)
	Write(ctx context.Context, record *domain.Record) error
	Evict(ctx context.Context, code domain.Code) (bool, error)
}

// Invalidator announces evictions to every process.
type Invalidator interface {
	AnnounceInvalidated(ctx context.Context, code domain.Code) error
}

// EventPublisher emits domain events.
type EventPublisher interface {
	PublishURLCreated(ctx context.Context, event *events.URLCreatedEvent) error
	PublishURLAccessed(ctx context.Context, event *events.URLAccessedEvent) error
}

// Client describes who made a request, for events.
type Client struct {
	IP        string
	UserAgent string
	Referrer  string
}

// ShortenInput is a request to map an original value to a code.
type ShortenInput struct {
	OriginalValue string
	// TTL sets an expiry relative to now; zero means the record never expires.
	TTL    time.Duration
	Client Client
}

// Service implements shorten, resolve and the operator mutations.
type Service struct {
	ids     IDGenerator
	records domain.RecordStore
	cache   Cache
	bus     Invalidator
	events  EventPublisher
	now     func() time.Time
	logger  *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates a service.
func NewService(
	ids IDGenerator,
	records domain.RecordStore,
	cache Cache,
	bus Invalidator,
	publisher EventPublisher,
	logger *zap.Logger,
	opts ...Option,
) *Service {
	s := &Service{
		ids:     ids,
		records: records,
		cache:   cache,
		bus:     bus,
		events:  publisher,
		now:     time.Now,
		logger:  logger,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Shorten returns the live record for in.OriginalValue, minting one if none
// exists. created reports whether a new record was stored.
func (s *Service) Shorten(ctx context.Context, in ShortenInput) (record *domain.Record, created bool, err error) {
	value := strings.TrimSpace(in.OriginalValue)
	if value == "" {
		return nil, false, ErrEmptyValue
	}

	existing, err := s.records.GetByOriginalValue(ctx, value)

	switch {
	case err == nil && !existing.IsExpired(s.now()):
		return existing, false, nil
	case err != nil && !errors.Is(err, domain.ErrNotFound):
		return nil, false, fmt.Errorf("lookup original value: %w", err)
	}

	record, err = s.mint(ctx, value, in.TTL)
	if err != nil {
		return nil, false, err
	}

	if err := s.cache.Write(ctx, record); err != nil {
		s.logger.Warn("cache populate failed after shorten",
			zap.String("code", string(record.ShortCode)),
			zap.Error(err),
		)
	}

	s.publishCreated(ctx, record, in.Client)

	return record, true, nil
}

func (s *Service) mint(ctx context.Context, value string, ttl time.Duration) (*domain.Record, error) {
	for attempt := 1; attempt <= MaxMintAttempts; attempt++ {
		id, err := s.ids.NextID()
		if err != nil {
			return nil, fmt.Errorf("next id: %w", err)
		}

		code := domain.Code(shortcode.Encode(id))

		taken, err := s.records.Exists(ctx, code)
		if err != nil {
			return nil, fmt.Errorf("check code %s: %w", code, err)
		}

		if taken {
			s.logger.Info("short code collision, re-minting",
				zap.String("code", string(code)),
				zap.Int("attempt", attempt),
			)

			continue
		}

		now := domain.Timestamp(s.now())
		record := &domain.Record{
			ID:            id,
			OriginalValue: value,
			ShortCode:     code,
			CreatedAt:     now,
		}

		if ttl > 0 {
			expiresAt := now.Add(ttl)
			record.ExpiresAt = &expiresAt
		}

		if err := s.records.Put(ctx, record); err != nil {
			return nil, fmt.Errorf("store record: %w", err)
		}

		return record, nil
	}

	return nil, ErrCodeGeneration
}

// Resolve returns the live record for code. Deleted, expired and malformed
// codes all yield domain.ErrNotFound.
func (s *Service) Resolve(ctx context.Context, code domain.Code, client Client) (*domain.Record, error) {
	if !shortcode.IsValidCode(string(code)) {
		return nil, domain.ErrNotFound
	}

	cached, hit, err := s.cache.Read(ctx, code)
	cacheUsable := err == nil

	if err != nil {
		s.logger.Warn("cache read failed, falling back to store",
			zap.String("code", string(code)),
			zap.Error(err),
		)
	}

	if hit {
		if cached.IsExpired(s.now()) {
			s.invalidate(ctx, code)

			return nil, domain.ErrNotFound
		}

		s.publishAccessed(ctx, code, events.SourceCache, client)

		return cached, nil
	}

	record, err := s.records.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}

	if record.IsExpired(s.now()) {
		// Other processes may still hold a snapshot taken before the expiry.
		if err := s.bus.AnnounceInvalidated(ctx, code); err != nil {
			s.logger.Debug("expiry announce failed", zap.String("code", string(code)), zap.Error(err))
		}

		return nil, domain.ErrNotFound
	}

	if cacheUsable {
		if err := s.cache.Write(ctx, record); err != nil {
			s.logger.Warn("cache write-back failed",
				zap.String("code", string(code)),
				zap.Error(err),
			)
		}
	}

	s.publishAccessed(ctx, code, events.SourceStore, client)

	return record, nil
}

// Lookup reads the authoritative record, expired or not.
func (s *Service) Lookup(ctx context.Context, code domain.Code) (*domain.Record, error) {
	return s.records.GetByCode(ctx, code)
}

// LookupByID reads the authoritative record minted from the snowflake id.
func (s *Service) LookupByID(ctx context.Context, id int64) (*domain.Record, error) {
	return s.records.Get(ctx, id)
}

// Delete removes the record, evicts it locally and announces the eviction.
func (s *Service) Delete(ctx context.Context, code domain.Code) error {
	record, err := s.records.GetByCode(ctx, code)
	if err != nil {
		return err
	}

	if err := s.records.Delete(ctx, record.ID); err != nil {
		return fmt.Errorf("delete record: %w", err)
	}

	s.invalidate(ctx, code)

	return nil
}

// DeleteRecordOnly removes the record and leaves every cache untouched. It
// reproduces a lost invalidation; reconciliation repairs the ghost.
func (s *Service) DeleteRecordOnly(ctx context.Context, code domain.Code) error {
	record, err := s.records.GetByCode(ctx, code)
	if err != nil {
		return err
	}

	if err := s.records.Delete(ctx, record.ID); err != nil {
		return fmt.Errorf("delete record: %w", err)
	}

	s.logger.Info("record deleted without invalidation", zap.String("code", string(code)))

	return nil
}

// Expire marks the record as expired now. With invalidate set the cached
// snapshot is evicted everywhere; otherwise the sweeps converge it.
func (s *Service) Expire(ctx context.Context, code domain.Code, invalidate bool) (*domain.Record, error) {
	record, err := s.records.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}

	expiresAt := domain.Timestamp(s.now().Add(-time.Millisecond))

	// Only the expiry column is written; access counts keep moving meanwhile.
	if err := s.records.SetExpiry(ctx, record.ID, expiresAt); err != nil {
		return nil, fmt.Errorf("set expiry: %w", err)
	}

	record.ExpiresAt = &expiresAt

	if invalidate {
		s.invalidate(ctx, code)
	}

	return record, nil
}

// invalidate evicts locally and announces. Neither failure is fatal: the
// store already holds the truth and the sweeps converge the caches.
func (s *Service) invalidate(ctx context.Context, code domain.Code) {
	if _, err := s.cache.Evict(ctx, code); err != nil {
		s.logger.Warn("local evict failed", zap.String("code", string(code)), zap.Error(err))
	}

	_ = s.bus.AnnounceInvalidated(ctx, code)
}

func (s *Service) publishCreated(ctx context.Context, record *domain.Record, client Client) {
	event := &events.URLCreatedEvent{
		ID:            record.ID,
		Code:          string(record.ShortCode),
		OriginalValue: record.OriginalValue,
		CreatedAt:     record.CreatedAt,
		ExpiresAt:     record.ExpiresAt,
		ClientIP:      client.IP,
		UserAgent:     client.UserAgent,
	}

	if err := s.events.PublishURLCreated(ctx, event); err != nil {
		s.logger.Error("failed to publish created event",
			zap.String("code", event.Code),
			zap.Error(err),
		)
	}
}

func (s *Service) publishAccessed(ctx context.Context, code domain.Code, source events.Source, client Client) {
	event := &events.URLAccessedEvent{
		Code:       string(code),
		AccessedAt: s.now(),
		Source:     source,
		ClientIP:   client.IP,
		UserAgent:  client.UserAgent,
		Referrer:   client.Referrer,
	}

	if err := s.events.PublishURLAccessed(ctx, event); err != nil {
		s.logger.Error("failed to publish access event",
			zap.String("code", event.Code),
			zap.Error(err),
		)
	}
}
