package sweeper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/serroba/shortlink/internal/domain"
	"github.com/serroba/shortlink/internal/events"
	"go.uber.org/zap"
)

// ReconcileInterval is the fixed period of the reconciliation sweep.
const ReconcileInterval = 5 * time.Minute

// CacheScanner is the part of the cache gateway reconciliation walks.
type CacheScanner interface {
	ListKeys(ctx context.Context) ([]domain.Code, error)
	Read(ctx context.Context, code domain.Code) (*domain.Record, bool, error)
	Evict(ctx context.Context, code domain.Code) (bool, error)
}

// InconsistencyPublisher reports repaired entries.
type InconsistencyPublisher interface {
	PublishInconsistency(ctx context.Context, event *events.InconsistencyDetectedEvent) error
}

// ReconcileReport summarises one reconciliation sweep.
type ReconcileReport struct {
	Scanned     int `json:"scanned"`
	Ghosts      int `json:"ghosts"`
	StaleExpiry int `json:"staleExpiry"`
	Diverged    int `json:"diverged"`
	// Expired counts entries evicted because the record expired after a
	// snapshot that already carried the expiry was written. Not an inconsistency.
	Expired int `json:"expired"`
	// Skipped counts keys left alone because a lookup failed or the entry
	// vanished mid-sweep.
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// Inconsistencies is the number of counted correctness events.
func (r ReconcileReport) Inconsistencies() int {
	return r.Ghosts + r.StaleExpiry + r.Diverged
}

// ReconciliationSweeper compares every cached snapshot against the record
// store and evicts the ones that should not be served.
type ReconciliationSweeper struct {
	records   domain.RecordStore
	cache     CacheScanner
	publisher InconsistencyPublisher
	now       func() time.Time
	logger    *zap.Logger

	loop *Loop
}

// NewReconciliationSweeper creates a reconciliation sweeper. publisher may be nil.
func NewReconciliationSweeper(
	records domain.RecordStore,
	cache CacheScanner,
	publisher InconsistencyPublisher,
	logger *zap.Logger,
	opts ...Option,
) *ReconciliationSweeper {
	o := buildOptions(ReconcileInterval, opts)

	s := &ReconciliationSweeper{
		records:   records,
		cache:     cache,
		publisher: publisher,
		now:       o.now,
		logger:    logger,
	}

	s.loop = NewLoop("reconciliation", o.interval, func(ctx context.Context) error {
		_, err := s.sweep(ctx)

		return err
	}, logger)

	return s
}

func (s *ReconciliationSweeper) Start(ctx context.Context) error {
	return s.loop.Start(ctx)
}

func (s *ReconciliationSweeper) Shutdown() error {
	return s.loop.Shutdown()
}

// RunOnce reconciles immediately. It fails with ErrInFlight if a sweep is running.
func (s *ReconciliationSweeper) RunOnce(ctx context.Context) (ReconcileReport, error) {
	var report ReconcileReport

	err := s.loop.Do(ctx, func(ctx context.Context) error {
		var err error
		report, err = s.sweep(ctx)

		return err
	})

	return report, err
}

type verdict int

const (
	keep verdict = iota
	skip
	evictExpired
	evictGhost
	evictStaleExpiry
	evictDiverged
)

func (s *ReconciliationSweeper) sweep(ctx context.Context) (ReconcileReport, error) {
	var report ReconcileReport

	codes, err := s.cache.ListKeys(ctx)
	if err != nil {
		return report, fmt.Errorf("list cache keys: %w", err)
	}

	now := s.now()

	for _, code := range codes {
		report.Scanned++

		v := s.judge(ctx, code, now)
		switch v {
		case keep:
			continue
		case skip:
			report.Skipped++

			continue
		}

		if _, err := s.cache.Evict(ctx, code); err != nil {
			s.logger.Warn("reconciliation evict failed",
				zap.String("code", string(code)),
				zap.Error(err),
			)

			report.Failed++

			continue
		}

		switch v {
		case evictExpired:
			report.Expired++
		case evictGhost:
			report.Ghosts++
			s.reportInconsistency(ctx, code, events.KindGhost)
		case evictStaleExpiry:
			report.StaleExpiry++
			s.reportInconsistency(ctx, code, events.KindStaleExpiry)
		case evictDiverged:
			report.Diverged++
			s.reportInconsistency(ctx, code, events.KindDiverged)
		}
	}

	s.logger.Info("reconciliation sweep complete",
		zap.Int("scanned", report.Scanned),
		zap.Int("inconsistencies", report.Inconsistencies()),
		zap.Int("expired", report.Expired),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
	)

	return report, nil
}

func (s *ReconciliationSweeper) judge(ctx context.Context, code domain.Code, now time.Time) verdict {
	snapshot, ok, err := s.cache.Read(ctx, code)
	if err != nil {
		s.logger.Warn("reconciliation cache read failed",
			zap.String("code", string(code)),
			zap.Error(err),
		)

		return skip
	}

	if !ok {
		// Evicted or expired since ListKeys.
		return skip
	}

	record, err := s.records.GetByCode(ctx, code)
	if errors.Is(err, domain.ErrNotFound) {
		return evictGhost
	}

	if err != nil {
		// A failed lookup is not an absent record.
		s.logger.Warn("reconciliation store lookup failed",
			zap.String("code", string(code)),
			zap.Error(err),
		)

		return skip
	}

	if record.IsExpired(now) {
		if snapshot.IsExpired(now) {
			return evictExpired
		}

		return evictStaleExpiry
	}

	if !snapshot.SameMapping(record) {
		return evictDiverged
	}

	return keep
}

func (s *ReconciliationSweeper) reportInconsistency(ctx context.Context, code domain.Code, kind events.InconsistencyKind) {
	s.logger.Warn("cache inconsistency repaired",
		zap.String("code", string(code)),
		zap.String("kind", string(kind)),
	)

	if s.publisher == nil {
		return
	}

	event := &events.InconsistencyDetectedEvent{
		Code:       string(code),
		Kind:       kind,
		DetectedAt: s.now(),
	}

	if err := s.publisher.PublishInconsistency(ctx, event); err != nil {
		s.logger.Warn("inconsistency event publish failed",
			zap.String("code", string(code)),
			zap.Error(err),
		)
	}
}
