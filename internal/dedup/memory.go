package dedup

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps records for the lifetime of the process. Used for dry
// runs and tests.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (m *MemoryStore) MaxTTL() time.Duration {
	return MemoryMaxTTL
}

func (m *MemoryStore) Get(_ context.Context, hash string, now time.Time) (Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[hash]
	if !ok || rec.expired(now) {
		return Record{}, false, nil
	}
	return rec, true, nil
}

func (m *MemoryStore) Put(_ context.Context, rec Record) error {
	if err := checkTTL(m, rec); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.Hash] = rec
	return nil
}

func (m *MemoryStore) Cleanup(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for hash, rec := range m.records {
		if rec.expired(now) {
			delete(m.records, hash)
			removed++
		}
	}
	return removed, nil
}

// Len reports how many records are held, expired ones included.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}
