package dedup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/altafino/thread-archiver/internal/database"
	"github.com/altafino/thread-archiver/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func stores(t *testing.T) map[string]Store {
	t.Helper()

	db, err := database.Open(context.Background(), "sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	fs, err := NewFileStorage(t.TempDir(), 24*time.Hour)
	require.NoError(t, err)
	require.NoError(t, fs.Initialize())

	return map[string]Store{
		"sql":    NewSQLStore(db, 24*time.Hour),
		"file":   fs,
		"memory": NewMemoryStore(),
	}
}

func TestStoresExpireRecords(t *testing.T) {
	ctx := context.Background()
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			clock := newClock()
			idx, err := NewIndex(store, time.Hour, logger.Discard(), WithClock(clock.Now))
			require.NoError(t, err)

			require.NoError(t, idx.Record(ctx, nil, "h1", "item-1", "https://link/1"))

			hit, ok := idx.Lookup(ctx, nil, "h1")
			require.True(t, ok)
			assert.Equal(t, "https://link/1", hit.Link)
			assert.Equal(t, "item-1", hit.ItemID)
			assert.Equal(t, TierStore, hit.Tier)

			clock.Advance(time.Hour + time.Second)
			_, ok = idx.Lookup(ctx, nil, "h1")
			assert.False(t, ok, "expired entries are misses")

			removed, err := idx.Cleanup(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, removed)
		})
	}
}

func TestStoresUpsertSameHash(t *testing.T) {
	ctx := context.Background()
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			idx, err := NewIndex(store, time.Hour, logger.Discard())
			require.NoError(t, err)

			require.NoError(t, idx.Record(ctx, nil, "h", "a", "link-a"))
			require.NoError(t, idx.Record(ctx, nil, "h", "b", "link-b"))

			hit, ok := idx.Lookup(ctx, nil, "h")
			require.True(t, ok)
			assert.Equal(t, "link-b", hit.Link)
		})
	}
}

func TestThreadScopeConsultedFirst(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	idx, err := NewIndex(store, time.Hour, logger.Discard())
	require.NoError(t, err)

	scope := NewThreadScope()
	require.NoError(t, idx.Record(ctx, scope, "h", "item", "link"))

	hit, ok := idx.Lookup(ctx, scope, "h")
	require.True(t, ok)
	assert.Equal(t, TierThread, hit.Tier)

	// A fresh scope falls through to the store tier.
	hit, ok = idx.Lookup(ctx, NewThreadScope(), "h")
	require.True(t, ok)
	assert.Equal(t, TierStore, hit.Tier)
}

func TestNewIndexRejectsTTLAboveCeiling(t *testing.T) {
	_, err := NewIndex(NewMemoryStore(), MemoryMaxTTL+time.Minute, logger.Discard())
	assert.ErrorIs(t, err, ErrTTLExceedsCeiling)

	_, err = NewIndex(NewMemoryStore(), MemoryMaxTTL, logger.Discard())
	assert.NoError(t, err)
}

func TestStorePutRejectsTTLAboveCeiling(t *testing.T) {
	now := time.Now()
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			err := store.Put(context.Background(), Record{
				Hash:      "h",
				CreatedAt: now,
				ExpiresAt: now.Add(store.MaxTTL() + time.Hour),
			})
			assert.ErrorIs(t, err, ErrTTLExceedsCeiling)
		})
	}
}

type failingStore struct{ *MemoryStore }

func (f *failingStore) Get(context.Context, string, time.Time) (Record, bool, error) {
	return Record{}, false, errors.New("disk on fire")
}

func TestLookupStoreErrorIsMiss(t *testing.T) {
	idx, err := NewIndex(&failingStore{MemoryStore: NewMemoryStore()}, time.Hour, logger.Discard())
	require.NoError(t, err)

	_, ok := idx.Lookup(context.Background(), nil, "h")
	assert.False(t, ok)
}

func TestNewStore(t *testing.T) {
	s, err := NewStore("memory", "", 0, nil)
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	s, err = NewStore("file", t.TempDir(), time.Hour, nil)
	require.NoError(t, err)
	assert.IsType(t, &FileStorage{}, s)

	_, err = NewStore("database", "", time.Hour, nil)
	assert.Error(t, err)

	_, err = NewStore("redis", "", time.Hour, nil)
	assert.ErrorIs(t, err, ErrUnsupportedStorageType)
}
