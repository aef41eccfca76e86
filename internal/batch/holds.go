package batch

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
)

// HoldStore remembers items a throttled batch left in processing together
// with the time they may return to the worklist. Holds must outlive the
// process so a later invocation can release them.
type HoldStore interface {
	Hold(ctx context.Context, configID, itemID string, until time.Time) error
	Due(ctx context.Context, configID string, now time.Time) ([]string, error)
	Drop(ctx context.Context, configID, itemID string) error
}

// SQLHoldStore keeps holds in the held_items table.
type SQLHoldStore struct {
	db *sqlx.DB
}

func NewSQLHoldStore(db *sqlx.DB) *SQLHoldStore {
	return &SQLHoldStore{db: db}
}

func (s *SQLHoldStore) Hold(ctx context.Context, configID, itemID string, until time.Time) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO held_items (config_id, item_id, release_at) VALUES (?, ?, ?)
		ON CONFLICT (config_id, item_id) DO UPDATE SET release_at = excluded.release_at`),
		configID, itemID, until.Unix())
	if err != nil {
		return fmt.Errorf("failed to hold item %s: %w", itemID, err)
	}
	return nil
}

func (s *SQLHoldStore) Due(ctx context.Context, configID string, now time.Time) ([]string, error) {
	var ids []string
	err := s.db.SelectContext(ctx, &ids, s.db.Rebind(`
		SELECT item_id FROM held_items
		WHERE config_id = ? AND release_at <= ?
		ORDER BY release_at, item_id`),
		configID, now.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to read held items: %w", err)
	}
	return ids, nil
}

func (s *SQLHoldStore) Drop(ctx context.Context, configID, itemID string) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM held_items WHERE config_id = ? AND item_id = ?`),
		configID, itemID)
	if err != nil {
		return fmt.Errorf("failed to drop hold on %s: %w", itemID, err)
	}
	return nil
}

// MemoryHoldStore keeps holds for the lifetime of the process. Used for dry
// runs and tests.
type MemoryHoldStore struct {
	mu    sync.Mutex
	holds map[string]map[string]time.Time
}

func NewMemoryHoldStore() *MemoryHoldStore {
	return &MemoryHoldStore{holds: make(map[string]map[string]time.Time)}
}

func (m *MemoryHoldStore) Hold(_ context.Context, configID, itemID string, until time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.holds[configID] == nil {
		m.holds[configID] = make(map[string]time.Time)
	}
	m.holds[configID][itemID] = until
	return nil
}

func (m *MemoryHoldStore) Due(_ context.Context, configID string, now time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id, until := range m.holds[configID] {
		if !until.After(now) {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

func (m *MemoryHoldStore) Drop(_ context.Context, configID, itemID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.holds[configID], itemID)
	return nil
}
