// Package sweeper runs the two background passes that converge the cache
// toward the record store when invalidation notices are lost.
package sweeper

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrInFlight is returned when a sweep of the same kind is already running.
	ErrInFlight = errors.New("sweep already in flight")
	// ErrStopped is returned once the loop has been shut down.
	ErrStopped = errors.New("sweeper stopped")
	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("sweeper already started")
)

// State is the lifecycle of a Loop.
type State int32

const (
	StateNotRunning State = iota
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateNotRunning:
		return "not_running"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Loop invokes a sweep on a fixed interval with at most one sweep in flight.
// A tick that arrives while a sweep is running is skipped, never queued.
type Loop struct {
	name     string
	interval time.Duration
	sweep    func(ctx context.Context) error
	logger   *zap.Logger

	state    atomic.Int32
	stopped  atomic.Bool
	inFlight atomic.Bool
	skipped  atomic.Int64

	// mu orders registering a run against Shutdown's Wait.
	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
	runs sync.WaitGroup
}

// NewLoop creates a loop; it does nothing until Start.
func NewLoop(name string, interval time.Duration, sweep func(ctx context.Context) error, logger *zap.Logger) *Loop {
	return &Loop{
		name:     name,
		interval: interval,
		sweep:    sweep,
		logger:   logger.With(zap.String("sweeper", name)),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the ticker. The first sweep runs one interval after Start.
func (l *Loop) Start(ctx context.Context) error {
	if l.stopped.Load() {
		return ErrStopped
	}

	if !l.state.CompareAndSwap(int32(StateNotRunning), int32(StateRunning)) {
		return ErrAlreadyStarted
	}

	// Sweeps finish even if the parent is cancelled; Shutdown is the only stop.
	ctx = context.WithoutCancel(ctx)

	go l.tick(ctx)

	l.logger.Info("sweeper started", zap.Duration("interval", l.interval))

	return nil
}

func (l *Loop) tick(ctx context.Context) {
	defer close(l.done)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.trigger(ctx)
		}
	}
}

func (l *Loop) trigger(ctx context.Context) {
	if !l.inFlight.CompareAndSwap(false, true) {
		l.skipped.Add(1)
		l.logger.Warn("previous sweep still running, skipping tick")

		return
	}

	l.runs.Add(1)

	go func() {
		defer l.runs.Done()
		defer l.inFlight.Store(false)

		l.execute(ctx, l.sweep)
	}()
}

// Do runs fn now, under the same single-flight guard as the ticker. Shutdown
// waits for it like for a ticker sweep.
func (l *Loop) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if !l.register() {
		return ErrStopped
	}
	defer l.runs.Done()

	if !l.inFlight.CompareAndSwap(false, true) {
		return ErrInFlight
	}
	defer l.inFlight.Store(false)

	return l.execute(ctx, fn)
}

func (l *Loop) register() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.stopped.Load() {
		return false
	}

	l.runs.Add(1)

	return true
}

func (l *Loop) execute(ctx context.Context, fn func(ctx context.Context) error) error {
	start := time.Now()

	err := fn(ctx)
	if err != nil {
		l.logger.Error("sweep failed", zap.Duration("elapsed", time.Since(start)), zap.Error(err))

		return err
	}

	l.logger.Debug("sweep finished", zap.Duration("elapsed", time.Since(start)))

	return nil
}

// State reports the lifecycle state.
func (l *Loop) State() State {
	return State(l.state.Load())
}

// InFlight reports whether a sweep is currently running.
func (l *Loop) InFlight() bool {
	return l.inFlight.Load()
}

// Skipped counts ticks dropped because a sweep overran.
func (l *Loop) Skipped() int64 {
	return l.skipped.Load()
}

// Shutdown stops scheduling and waits for the in-flight sweep, whether the
// ticker or Do started it. A stopped loop cannot be restarted.
func (l *Loop) Shutdown() error {
	l.mu.Lock()
	already := l.stopped.Swap(true)
	l.mu.Unlock()

	if already {
		return nil
	}

	prev := State(l.state.Swap(int32(StateStopping)))

	if prev == StateRunning {
		close(l.stop)
		<-l.done
	}

	l.runs.Wait()
	l.state.Store(int32(StateNotRunning))

	l.logger.Info("sweeper stopped")

	return nil
}
