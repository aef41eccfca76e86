package batch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/altafino/thread-archiver/internal/database"
)

func TestHoldStores(t *testing.T) {
	ctx := context.Background()
	db, err := database.Open(ctx, "sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	stores := map[string]HoldStore{
		"sql":    NewSQLHoldStore(db),
		"memory": NewMemoryHoldStore(),
	}
	for name, s := range stores {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Hold(ctx, "c1", "t1", t0.Add(15*time.Minute)))
			require.NoError(t, s.Hold(ctx, "c1", "t2", t0.Add(24*time.Hour)))
			require.NoError(t, s.Hold(ctx, "c2", "t1", t0))

			due, err := s.Due(ctx, "c1", t0)
			require.NoError(t, err)
			assert.Empty(t, due)

			due, err = s.Due(ctx, "c1", t0.Add(15*time.Minute))
			require.NoError(t, err)
			assert.Equal(t, []string{"t1"}, due)

			// A second hold moves the deadline.
			require.NoError(t, s.Hold(ctx, "c1", "t1", t0.Add(time.Hour)))
			due, err = s.Due(ctx, "c1", t0.Add(30*time.Minute))
			require.NoError(t, err)
			assert.Empty(t, due)

			require.NoError(t, s.Drop(ctx, "c1", "t1"))
			due, err = s.Due(ctx, "c1", t0.Add(48*time.Hour))
			require.NoError(t, err)
			assert.Equal(t, []string{"t2"}, due)

			due, err = s.Due(ctx, "c2", t0)
			require.NoError(t, err)
			assert.Equal(t, []string{"t1"}, due)
		})
	}
}
