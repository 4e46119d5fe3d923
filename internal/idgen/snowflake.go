// Package idgen generates 64-bit, time-ordered Snowflake identifiers.
//
// Layout, most significant bit first:
//
//	1 bit  | 41 bits            | 5 bits     | 5 bits | 12 bits
//	0      | ms since Epoch     | datacenter | worker | sequence
//
// Uniqueness across processes depends entirely on every process running with
// a distinct (datacenter, worker) pair.
package idgen

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

const (
	// Epoch is the fixed origin of the timestamp field, in Unix milliseconds
	// (2010-11-04T01:42:54.657Z). Changing it breaks ordering against ids
	// already persisted.
	Epoch int64 = 1288834974657

	timestampBits  = 41
	datacenterBits = 5
	workerBits     = 5
	sequenceBits   = 12

	MaxDatacenter = (1 << datacenterBits) - 1
	MaxWorker     = (1 << workerBits) - 1
	maxSequence   = (1 << sequenceBits) - 1
	maxTimestamp  = (1 << timestampBits) - 1

	workerShift     = sequenceBits
	datacenterShift = sequenceBits + workerBits
	timestampShift  = sequenceBits + workerBits + datacenterBits
)

var (
	ErrInvalidDatacenter = fmt.Errorf("datacenter tag must be between 0 and %d", MaxDatacenter)
	ErrInvalidWorker     = fmt.Errorf("worker tag must be between 0 and %d", MaxWorker)

	// ErrClockRegression is returned when the wall clock is observed earlier
	// than the last timestamp used. The call is rejected; callers may retry
	// after a delay.
	ErrClockRegression = errors.New("clock moved backwards")

	// ErrTimestampOverflow is returned once the clock no longer fits 41 bits.
	ErrTimestampOverflow = errors.New("timestamp exceeds 41 bits")
)

// Clock returns the current time in Unix milliseconds.
type Clock func() int64

// SystemClock reads the wall clock.
func SystemClock() int64 {
	return time.Now().UnixMilli()
}

// Generator mints identifiers for one (datacenter, worker) pair.
// Construct exactly one per process.
type Generator struct {
	datacenter int64
	worker     int64
	clock      Clock

	mu            sync.Mutex
	lastTimestamp int64
	sequence      int64
}

// Option configures a Generator.
type Option func(*Generator)

// WithClock overrides the millisecond clock.
func WithClock(clock Clock) Option {
	return func(g *Generator) {
		g.clock = clock
	}
}

// New creates a generator pinned to the given datacenter and worker tags.
func New(datacenter, worker int64, opts ...Option) (*Generator, error) {
	if datacenter < 0 || datacenter > MaxDatacenter {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidDatacenter, datacenter)
	}

	if worker < 0 || worker > MaxWorker {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidWorker, worker)
	}

	g := &Generator{
		datacenter:    datacenter,
		worker:        worker,
		clock:         SystemClock,
		lastTimestamp: -1,
	}

	for _, opt := range opts {
		opt(g)
	}

	return g, nil
}

// NextID returns the next identifier.
func (g *Generator) NextID() (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock()

	if now < g.lastTimestamp {
		return 0, fmt.Errorf("%w: refusing to generate for %dms", ErrClockRegression, g.lastTimestamp-now)
	}

	if now == g.lastTimestamp {
		g.sequence = (g.sequence + 1) & maxSequence
		if g.sequence == 0 {
			// 4096 ids in this millisecond; spin until the clock moves on.
			now = g.waitNextMillis(g.lastTimestamp)
		}
	} else {
		g.sequence = 0
	}

	elapsed := now - Epoch
	if elapsed < 0 || elapsed > maxTimestamp {
		return 0, fmt.Errorf("%w: %dms since epoch", ErrTimestampOverflow, elapsed)
	}

	g.lastTimestamp = now

	return elapsed<<timestampShift |
		g.datacenter<<datacenterShift |
		g.worker<<workerShift |
		g.sequence, nil
}

func (g *Generator) waitNextMillis(last int64) int64 {
	now := g.clock()
	for now <= last {
		now = g.clock()
	}

	return now
}

// Datacenter returns the datacenter tag.
func (g *Generator) Datacenter() int64 {
	return g.datacenter
}

// Worker returns the worker tag.
func (g *Generator) Worker() int64 {
	return g.worker
}

// Parts are the decoded fields of an identifier.
type Parts struct {
	Timestamp  time.Time
	Datacenter int64
	Worker     int64
	Sequence   int64
}

// Parse splits an identifier into its fields.
func Parse(id int64) Parts {
	millis := (id>>timestampShift)&maxTimestamp + Epoch

	return Parts{
		Timestamp:  time.UnixMilli(millis).UTC(),
		Datacenter: (id >> datacenterShift) & MaxDatacenter,
		Worker:     (id >> workerShift) & MaxWorker,
		Sequence:   id & maxSequence,
	}
}
