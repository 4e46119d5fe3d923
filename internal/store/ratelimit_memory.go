package store

import (
	"context"
	"sync"
	"time"

	"github.com/serroba/shortlink/internal/ratelimit"
)

// idleSweepEvery is how many recorded requests pass between purges of keys
// with no timestamp left in their window.
const idleSweepEvery = 4096

// RateLimitMemoryStore keeps per-key request timestamps in process memory.
// Counts are per process; run the Redis store when several servers share a budget.
type RateLimitMemoryStore struct {
	mu       sync.Mutex
	requests map[string]*window
	recorded int
	now      func() time.Time
}

type window struct {
	length time.Duration
	hits   []time.Time
}

func NewRateLimitMemoryStore() *RateLimitMemoryStore {
	return &RateLimitMemoryStore{
		requests: make(map[string]*window),
		now:      time.Now,
	}
}

func (s *RateLimitMemoryStore) Record(_ context.Context, key string, length time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()

	w, ok := s.requests[key]
	if !ok {
		w = &window{}
		s.requests[key] = w
	}

	w.length = length
	w.prune(now)
	w.hits = append(w.hits, now)

	s.recorded++
	if s.recorded%idleSweepEvery == 0 {
		s.purgeIdle(now)
	}

	return int64(len(w.hits)), nil
}

// Len is the number of keys currently tracked.
func (s *RateLimitMemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.requests)
}

func (s *RateLimitMemoryStore) purgeIdle(now time.Time) {
	for key, w := range s.requests {
		w.prune(now)

		if len(w.hits) == 0 {
			delete(s.requests, key)
		}
	}
}

func (w *window) prune(now time.Time) {
	cutoff := now.Add(-w.length)
	kept := w.hits[:0]

	for _, ts := range w.hits {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	w.hits = kept
}

var _ ratelimit.Store = (*RateLimitMemoryStore)(nil)
