package sweeper

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/serroba/shortlink/internal/domain"
	"go.uber.org/zap"
)

// ExpiryInterval is the fixed period of the expiry sweep.
const ExpiryInterval = time.Minute

// Phase is where an expiry sweep currently is.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseScanning
	PhaseAnnouncing
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseScanning:
		return "scanning"
	case PhaseAnnouncing:
		return "announcing"
	default:
		return "unknown"
	}
}

// CacheReader is the read side of the cache gateway.
type CacheReader interface {
	Read(ctx context.Context, code domain.Code) (*domain.Record, bool, error)
}

// Announcer publishes eviction notices.
type Announcer interface {
	AnnounceInvalidated(ctx context.Context, code domain.Code) error
}

// ExpiryReport summarises one expiry sweep.
type ExpiryReport struct {
	Expired     int `json:"expired"`
	Announced   int `json:"announced"`
	SkippedCold int `json:"skippedCold"`
	Failed      int `json:"failed"`
}

// Option configures a sweeper.
type Option func(*options)

type options struct {
	interval time.Duration
	now      func() time.Time
}

// WithInterval overrides the sweep period.
func WithInterval(d time.Duration) Option {
	return func(o *options) {
		o.interval = d
	}
}

// WithClock overrides the time source used to judge expiry.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func buildOptions(interval time.Duration, opts []Option) options {
	o := options{interval: interval, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	return o
}

// ExpirySweeper announces invalidation for records whose expiry has passed
// while a snapshot may still be cached.
type ExpirySweeper struct {
	records domain.RecordStore
	cache   CacheReader
	bus     Announcer
	now     func() time.Time
	logger  *zap.Logger

	phase atomic.Int32
	loop  *Loop
}

// NewExpirySweeper creates an expiry sweeper; call Start to schedule it.
func NewExpirySweeper(
	records domain.RecordStore,
	cache CacheReader,
	bus Announcer,
	logger *zap.Logger,
	opts ...Option,
) *ExpirySweeper {
	o := buildOptions(ExpiryInterval, opts)

	s := &ExpirySweeper{
		records: records,
		cache:   cache,
		bus:     bus,
		now:     o.now,
		logger:  logger,
	}

	s.loop = NewLoop("expiry", o.interval, func(ctx context.Context) error {
		_, err := s.sweep(ctx)

		return err
	}, logger)

	return s
}

func (s *ExpirySweeper) Start(ctx context.Context) error {
	return s.loop.Start(ctx)
}

func (s *ExpirySweeper) Shutdown() error {
	return s.loop.Shutdown()
}

// Phase reports the current phase.
func (s *ExpirySweeper) Phase() Phase {
	return Phase(s.phase.Load())
}

// RunOnce sweeps immediately. It fails with ErrInFlight if a sweep is running.
func (s *ExpirySweeper) RunOnce(ctx context.Context) (ExpiryReport, error) {
	var report ExpiryReport

	err := s.loop.Do(ctx, func(ctx context.Context) error {
		var err error
		report, err = s.sweep(ctx)

		return err
	})

	return report, err
}

func (s *ExpirySweeper) sweep(ctx context.Context) (ExpiryReport, error) {
	var report ExpiryReport

	defer s.phase.Store(int32(PhaseIdle))

	s.phase.Store(int32(PhaseScanning))

	expired, err := s.records.ScanExpired(ctx, s.now())
	if err != nil {
		return report, fmt.Errorf("scan expired: %w", err)
	}

	report.Expired = len(expired)

	s.phase.Store(int32(PhaseAnnouncing))

	for _, record := range expired {
		code := record.ShortCode

		_, warm, err := s.cache.Read(ctx, code)
		if err != nil {
			// Unknown cache state: announce anyway.
			s.logger.Warn("cache read failed during expiry sweep",
				zap.String("code", string(code)),
				zap.Error(err),
			)

			warm = true
		}

		if !warm {
			report.SkippedCold++

			continue
		}

		if err := s.bus.AnnounceInvalidated(ctx, code); err != nil {
			report.Failed++

			continue
		}

		report.Announced++
	}

	s.logger.Info("expiry sweep complete",
		zap.Int("expired", report.Expired),
		zap.Int("announced", report.Announced),
		zap.Int("skippedCold", report.SkippedCold),
		zap.Int("failed", report.Failed),
	)

	return report, nil
}
