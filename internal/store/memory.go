package store

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/serroba/shortlink/internal/domain"
)

// MemoryStore is an in-memory implementation of domain.RecordStore.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[int64]*domain.Record
	codes   map[domain.Code]int64 // code -> id
	values  map[string]int64      // originalValue -> id
}

// NewMemoryStore creates a new in-memory record store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[int64]*domain.Record),
		codes:   make(map[domain.Code]int64),
		values:  make(map[string]int64),
	}
}

func (m *MemoryStore) Get(_ context.Context, id int64) (*domain.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	record, ok := m.records[id]
	if !ok {
		return nil, domain.ErrNotFound
	}

	return clone(record), nil
}

func (m *MemoryStore) GetByCode(_ context.Context, code domain.Code) (*domain.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.codes[code]
	if !ok {
		return nil, domain.ErrNotFound
	}

	return clone(m.records[id]), nil
}

func (m *MemoryStore) GetByOriginalValue(_ context.Context, value string) (*domain.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.values[value]
	if !ok {
		return nil, domain.ErrNotFound
	}

	return clone(m.records[id]), nil
}

func (m *MemoryStore) Put(_ context.Context, record *domain.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.put(record)

	return nil
}

func (m *MemoryStore) put(record *domain.Record) {
	if prev, ok := m.records[record.ID]; ok {
		delete(m.codes, prev.ShortCode)

		if m.values[prev.OriginalValue] == prev.ID {
			delete(m.values, prev.OriginalValue)
		}
	}

	m.records[record.ID] = clone(record)
	m.codes[record.ShortCode] = record.ID
	m.values[record.OriginalValue] = record.ID
}

// PutBatch inserts records whose code is not yet taken.
func (m *MemoryStore) PutBatch(_ context.Context, records []*domain.Record) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inserted := 0

	for _, record := range records {
		if _, taken := m.codes[record.ShortCode]; taken {
			continue
		}

		m.put(record)
		inserted++
	}

	return inserted, nil
}

func (m *MemoryStore) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.records[id]
	if !ok {
		return nil
	}

	delete(m.records, id)
	delete(m.codes, record.ShortCode)

	if m.values[record.OriginalValue] == id {
		delete(m.values, record.OriginalValue)
	}

	return nil
}

func (m *MemoryStore) Exists(_ context.Context, code domain.Code) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.codes[code]

	return ok, nil
}

func (m *MemoryStore) SetExpiry(_ context.Context, id int64, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.records[id]
	if !ok {
		return domain.ErrNotFound
	}

	record.ExpiresAt = &expiresAt

	return nil
}

func (m *MemoryStore) ScanExpired(_ context.Context, now time.Time) ([]*domain.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var expired []*domain.Record

	for _, record := range m.records {
		if record.IsExpired(now) {
			expired = append(expired, clone(record))
		}
	}

	return expired, nil
}

func (m *MemoryStore) IncrementAccessCount(_ context.Context, code domain.Code, delta int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.codes[code]
	if !ok {
		return domain.ErrNotFound
	}

	m.records[id].AccessCount += delta

	return nil
}

// Audit counts duplicate groups. Records are keyed by id, so DuplicateIDs is
// always zero; a code is duplicated when Put stored a second record under it.
func (m *MemoryStore) Audit(_ context.Context) (domain.Audit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	codes := make(map[domain.Code]int, len(m.records))
	values := make(map[string]int, len(m.records))

	for _, record := range m.records {
		codes[record.ShortCode]++
		values[record.OriginalValue]++
	}

	return domain.Audit{
		Records:         int64(len(m.records)),
		DuplicateCodes:  sharedGroups(codes),
		DuplicateValues: sharedGroups(values),
	}, nil
}

func (m *MemoryStore) Recent(_ context.Context, limit int) ([]*domain.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := make([]*domain.Record, 0, len(m.records))
	for _, record := range m.records {
		all = append(all, record)
	}

	slices.SortFunc(all, func(a, b *domain.Record) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}

		return cmp.Compare(b.ID, a.ID)
	})

	n := max(0, min(limit, len(all)))
	recent := make([]*domain.Record, 0, n)

	for _, record := range all[:n] {
		recent = append(recent, clone(record))
	}

	return recent, nil
}

func sharedGroups[K comparable](counts map[K]int) int64 {
	var groups int64

	for _, n := range counts {
		if n > 1 {
			groups++
		}
	}

	return groups
}

// Len returns the number of stored records.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.records)
}

func clone(record *domain.Record) *domain.Record {
	c := *record
	if record.ExpiresAt != nil {
		expiresAt := *record.ExpiresAt
		c.ExpiresAt = &expiresAt
	}

	return &c
}

// Compile-time checks.
var (
	_ domain.RecordStore   = (*MemoryStore)(nil)
	_ domain.BatchWriter   = (*MemoryStore)(nil)
	_ domain.AccessCounter = (*MemoryStore)(nil)
	_ domain.Auditor       = (*MemoryStore)(nil)
)
