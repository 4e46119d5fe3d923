package shortener

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/jaevor/go-nanoid"
	"github.com/serroba/shortlink/internal/domain"
	"github.com/serroba/shortlink/internal/shortcode"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultBatchSize is the number of records written per round trip.
	DefaultBatchSize = 1000
	// MaxWorkers caps the bulk worker pool regardless of core count.
	MaxWorkers = 20
	// LocalSetLimit is the size at which a worker forgets the codes it has
	// minted. Forgetting early lets a repeated code reach the store, where the
	// unique constraint drops it and it is counted as a conflict.
	LocalSetLimit = 200_000

	progressEvery = 100
)

// BulkResult summarises a bulk insert run.
type BulkResult struct {
	Requested  int           `json:"requested"`
	Inserted   int64         `json:"inserted"`
	// Duplicates are codes a worker re-minted because it had already used them.
	Duplicates int64         `json:"duplicates"`
	// Conflicts are records the store rejected because the code was taken.
	Conflicts  int64         `json:"conflicts"`
	Workers    int           `json:"workers"`
	Elapsed    time.Duration `json:"elapsed"`
}

// BulkLoader inserts synthetic records to load-test the stores.
type BulkLoader struct {
	ids       IDGenerator
	records   domain.RecordStore
	batchSize int
	workers   int
	logger    *zap.Logger

	batches atomic.Int64
}

// NewBulkLoader creates a loader with a pool of min(2×GOMAXPROCS, MaxWorkers).
func NewBulkLoader(ids IDGenerator, records domain.RecordStore, logger *zap.Logger) *BulkLoader {
	return &BulkLoader{
		ids:       ids,
		records:   records,
		batchSize: DefaultBatchSize,
		workers:   min(2*runtime.GOMAXPROCS(0), MaxWorkers),
		logger:    logger,
	}
}

// Insert writes total synthetic records. It stops early when ctx is cancelled.
func (l *BulkLoader) Insert(ctx context.Context, total int) (BulkResult, error) {
	result := BulkResult{Requested: total, Workers: l.workers}
	if total <= 0 {
		return result, nil
	}

	randomSuffix, err := nanoid.Standard(21)
	if err != nil {
		return result, fmt.Errorf("value generator: %w", err)
	}

	start := time.Now()

	var inserted, duplicates, conflicts atomic.Int64

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(l.workers)

	share, rest := total/l.workers, total%l.workers

	for w := range l.workers {
		quota := share
		if w < rest {
			quota++
		}

		if quota == 0 {
			continue
		}

		g.Go(func() error {
			stats, err := l.work(ctx, quota, randomSuffix)

			inserted.Add(stats.inserted)
			duplicates.Add(stats.duplicates)
			conflicts.Add(stats.conflicts)

			return err
		})
	}

	err = g.Wait()

	result.Inserted = inserted.Load()
	result.Duplicates = duplicates.Load()
	result.Conflicts = conflicts.Load()
	result.Elapsed = time.Since(start)

	l.logger.Info("bulk insert finished",
		zap.Int("requested", total),
		zap.Int64("inserted", result.Inserted),
		zap.Int64("duplicates", result.Duplicates),
		zap.Int64("conflicts", result.Conflicts),
		zap.Int("workers", l.workers),
		zap.Duration("elapsed", result.Elapsed),
	)

	return result, err
}

type workerStats struct {
	inserted, duplicates, conflicts int64
}

func (l *BulkLoader) work(ctx context.Context, quota int, randomSuffix func() string) (workerStats, error) {
	var stats workerStats

	seen := make(map[domain.Code]struct{}, min(quota, LocalSetLimit))
	batch := make([]*domain.Record, 0, l.batchSize)

	for remaining := quota; remaining > 0; {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		batch = batch[:0]

		for len(batch) < min(l.batchSize, remaining) {
			id, err := l.ids.NextID()
			if err != nil {
				return stats, fmt.Errorf("next id: %w", err)
			}

			code := domain.Code(shortcode.Encode(id))
			if _, dup := seen[code]; dup {
				stats.duplicates++

				continue
			}

			if len(seen) >= LocalSetLimit {
				clear(seen)
			}

			seen[code] = struct{}{}

			batch = append(batch, &domain.Record{
				ID:            id,
				OriginalValue: "https://bulk.example/" + randomSuffix(),
				ShortCode:     code,
				CreatedAt:     domain.Timestamp(time.Now()),
			})
		}

		n, err := l.write(ctx, batch)
		stats.inserted += int64(n)
		stats.conflicts += int64(len(batch) - n)

		if err != nil {
			return stats, fmt.Errorf("write batch: %w", err)
		}

		remaining -= len(batch)

		if done := l.batches.Add(1); done%progressEvery == 0 {
			l.logger.Info("bulk insert progress", zap.Int64("batches", done))
		}
	}

	return stats, nil
}

func (l *BulkLoader) write(ctx context.Context, batch []*domain.Record) (int, error) {
	if bw, ok := l.records.(domain.BatchWriter); ok {
		return bw.PutBatch(ctx, batch)
	}

	inserted := 0

	for _, r := range batch {
		taken, err := l.records.Exists(ctx, r.ShortCode)
		if err != nil {
			return inserted, err
		}

		if taken {
			continue
		}

		if err := l.records.Put(ctx, r); err != nil {
			return inserted, err
		}

		inserted++
	}

	return inserted, nil
}
