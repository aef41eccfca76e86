// Package dedup remembers which attachment payloads were already archived so
// the same content is uploaded once. Lookups go through a per-thread memory
// tier first and then a cross-run store whose entries expire.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
)

// MemoryMaxTTL is the retention ceiling of the in-process store.
const MemoryMaxTTL = 6 * time.Hour

var (
	ErrTTLExceedsCeiling      = errors.New("dedup ttl exceeds store ceiling")
	ErrUnsupportedStorageType = errors.New("unsupported dedup storage type")
	ErrStorageNotInitialized  = errors.New("dedup storage not initialized")
)

// Record maps a content hash to the link of its archived copy.
type Record struct {
	Hash      string    `json:"hash"`
	ItemID    string    `json:"item_id"`
	Link      string    `json:"link"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (r Record) expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// Store is the cross-run tier. Get never returns expired records.
type Store interface {
	Get(ctx context.Context, hash string, now time.Time) (Record, bool, error)
	Put(ctx context.Context, rec Record) error
	Cleanup(ctx context.Context, now time.Time) (int, error)
	MaxTTL() time.Duration
}

func checkTTL(s Store, rec Record) error {
	if ttl := rec.ExpiresAt.Sub(rec.CreatedAt); ttl > s.MaxTTL() {
		return fmt.Errorf("%w: %s > %s", ErrTTLExceedsCeiling, ttl, s.MaxTTL())
	}
	return nil
}

// Ceiling returns the retention ceiling for a configured storage type.
func Ceiling(storageType string, maxRetention time.Duration) time.Duration {
	if storageType == "memory" {
		return MemoryMaxTTL
	}
	return maxRetention
}

// NewStore creates the cross-run tier selected by storageType. db is only
// used by the "database" store.
func NewStore(storageType, storagePath string, maxRetention time.Duration, db *sqlx.DB) (Store, error) {
	switch storageType {
	case "database":
		if db == nil {
			return nil, fmt.Errorf("database dedup store needs an open database")
		}
		return NewSQLStore(db, maxRetention), nil
	case "file":
		fs, err := NewFileStorage(storagePath, maxRetention)
		if err != nil {
			return nil, err
		}
		if err := fs.Initialize(); err != nil {
			return nil, err
		}
		return fs, nil
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedStorageType, storageType)
	}
}

// ThreadScope is the intra-thread tier. Create one per work item.
type ThreadScope struct {
	mu    sync.Mutex
	links map[string]string
}

func NewThreadScope() *ThreadScope {
	return &ThreadScope{links: make(map[string]string)}
}

func (s *ThreadScope) get(hash string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	link, ok := s.links[hash]
	return link, ok
}

func (s *ThreadScope) put(hash, link string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.links[hash] = link
}

type Tier string

const (
	TierThread Tier = "thread"
	TierStore  Tier = "store"
)

// Hit is a successful lookup.
type Hit struct {
	Link   string
	ItemID string
	Tier   Tier
}

// Index combines both tiers.
type Index struct {
	store  Store
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
}

type Option func(*Index)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(i *Index) { i.now = now }
}

// NewIndex fails with ErrTTLExceedsCeiling when ttl is above the store's
// ceiling.
func NewIndex(store Store, ttl time.Duration, logger *slog.Logger, opts ...Option) (*Index, error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("dedup ttl must be positive")
	}
	if ttl > store.MaxTTL() {
		return nil, fmt.Errorf("%w: %s > %s", ErrTTLExceedsCeiling, ttl, store.MaxTTL())
	}
	idx := &Index{store: store, ttl: ttl, now: time.Now, logger: logger}
	for _, opt := range opts {
		opt(idx)
	}
	return idx, nil
}

// Lookup checks the thread tier, then the store. A store read error is
// logged and reported as a miss.
func (i *Index) Lookup(ctx context.Context, scope *ThreadScope, hash string) (Hit, bool) {
	if scope != nil {
		if link, ok := scope.get(hash); ok {
			return Hit{Link: link, Tier: TierThread}, true
		}
	}

	rec, ok, err := i.store.Get(ctx, hash, i.now())
	if err != nil {
		i.logger.Warn("dedup lookup failed, treating as miss", "hash", hash, "error", err)
		return Hit{}, false
	}
	if !ok {
		return Hit{}, false
	}

	if scope != nil {
		scope.put(hash, rec.Link)
	}
	return Hit{Link: rec.Link, ItemID: rec.ItemID, Tier: TierStore}, true
}

// Record stores link for hash in both tiers.
func (i *Index) Record(ctx context.Context, scope *ThreadScope, hash, itemID, link string) error {
	if scope != nil {
		scope.put(hash, link)
	}

	now := i.now()
	rec := Record{
		Hash:      hash,
		ItemID:    itemID,
		Link:      link,
		CreatedAt: now,
		ExpiresAt: now.Add(i.ttl),
	}
	if err := i.store.Put(ctx, rec); err != nil {
		return fmt.Errorf("failed to record dedup entry: %w", err)
	}
	return nil
}

// Cleanup purges expired entries from the store.
func (i *Index) Cleanup(ctx context.Context) (int, error) {
	return i.store.Cleanup(ctx, i.now())
}
