package metrics

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/altafino/thread-archiver/internal/database"
	"github.com/altafino/thread-archiver/internal/extract"
	"github.com/altafino/thread-archiver/internal/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRecorder(t *testing.T) (*Recorder, *prometheus.Registry) {
	t.Helper()
	db, err := database.Open(context.Background(), "sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	reg := prometheus.NewRegistry()
	return NewRecorder(NewSQLStore(db), logger.Discard(), reg), reg
}

func TestRecorderPersistsCounters(t *testing.T) {
	ctx := context.Background()
	r, _ := newRecorder(t)

	r.IncProcessed(ctx)
	r.IncProcessed(ctx)
	r.IncSkipped(ctx)
	r.IncErrored(ctx)
	r.AddUpload(ctx, 5<<20)
	r.IncDuplicate(ctx)
	r.IncBatch(ctx)
	r.IncTruncationWarning(ctx)
	now := time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC)
	r.MarkRun(ctx, now)

	snap, err := r.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, Snapshot{
		ItemsProcessed:     2,
		ItemsSkipped:       1,
		ItemsErrored:       1,
		FilesUploaded:      1,
		BytesUploaded:      5 << 20,
		DuplicatesSkipped:  1,
		BatchesRun:         1,
		TruncationWarnings: 1,
		LastRunAt:          now,
	}, snap)

	require.NoError(t, r.Reset(ctx))
	snap, err = r.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, Snapshot{}, snap)
}

func TestRecorderMirrorsPrometheus(t *testing.T) {
	ctx := context.Background()
	r, _ := newRecorder(t)

	r.AddUpload(ctx, 100)
	r.AddUpload(ctx, 50)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.counters[FilesUploaded]))
	assert.Equal(t, 150.0, testutil.ToFloat64(r.counters[BytesUploaded]))
}

func TestUnregisterAllowsRebuild(t *testing.T) {
	r, reg := newRecorder(t)
	r.IncBatch(context.Background())
	r.Unregister()

	assert.NotPanics(t, func() {
		NewRecorder(r.store, logger.Discard(), reg)
	})
	count, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Equal(t, 9, count)
}

func TestConcurrentIncrementsAreNotLost(t *testing.T) {
	ctx := context.Background()
	r, _ := newRecorder(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.IncProcessed(ctx)
		}()
	}
	wg.Wait()

	snap, err := r.Snapshot(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 20, snap.ItemsProcessed)
}

func TestNilRegistrySkipsPrometheus(t *testing.T) {
	db, err := database.Open(context.Background(), "sqlite", ":memory:")
	require.NoError(t, err)
	defer db.Close()

	r := NewRecorder(NewSQLStore(db), logger.Discard(), nil)
	r.IncBatch(context.Background())
	r.MarkRun(context.Background(), time.Now())

	snap, err := r.Snapshot(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, snap.BatchesRun)
}

func TestGate(t *testing.T) {
	g := Gate{WarnRatio: 0.2, MaxRatio: 0.5}

	v := g.Evaluate(extract.Stats{OriginalChars: 100, TruncatedChars: 10})
	assert.Equal(t, GateOK, v.Level)
	assert.NoError(t, v.Err())

	v = g.Evaluate(extract.Stats{OriginalChars: 100, TruncatedChars: 30})
	assert.Equal(t, GateWarn, v.Level)

	v = g.Evaluate(extract.Stats{OriginalChars: 100, TruncatedChars: 50})
	assert.Equal(t, GateWarn, v.Level, "exactly at the ceiling does not block")

	v = g.Evaluate(extract.Stats{OriginalChars: 100, TruncatedChars: 51})
	assert.Equal(t, GateBlock, v.Level)
	assert.ErrorIs(t, v.Err(), ErrTruncationLimit)

	assert.Equal(t, GateOK, g.Evaluate(extract.Stats{}).Level)
}
