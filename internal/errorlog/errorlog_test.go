package errorlog

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/altafino/thread-archiver/internal/logger"
	"github.com/altafino/thread-archiver/internal/types"
)

func TestFileLoggerRoundTrip(t *testing.T) {
	dir := t.TempDir()
	fl, err := NewFileLogger(dir, 30, logger.Discard())
	require.NoError(t, err)

	day := time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, fl.LogError(ItemError{ConfigID: "c1", ItemID: "t1", Kind: "permanent", Message: "boom", OccurredAt: day}))
	require.NoError(t, fl.LogError(ItemError{ConfigID: "c1", ItemID: "t2", Kind: "transient", Message: "later", OccurredAt: day.Add(time.Hour)}))

	assert.FileExists(t, filepath.Join(dir, "errors_c1_2024-04-01.json"))

	all, err := fl.GetErrors(Filter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.NotEmpty(t, all[0].ID)
	assert.Equal(t, "t1", all[0].ItemID)

	perm, err := fl.GetErrors(Filter{Kind: "permanent"})
	require.NoError(t, err)
	require.Len(t, perm, 1)
	assert.Equal(t, "boom", perm[0].Message)

	since, err := fl.GetErrors(Filter{Since: day.Add(30 * time.Minute)})
	require.NoError(t, err)
	require.Len(t, since, 1)
	assert.Equal(t, "t2", since[0].ItemID)
}

func TestFileLoggerCleanup(t *testing.T) {
	dir := t.TempDir()
	fl, err := NewFileLogger(dir, 7, logger.Discard())
	require.NoError(t, err)
	now := time.Date(2024, 4, 30, 0, 0, 0, 0, time.UTC)
	fl.now = func() time.Time { return now }

	require.NoError(t, fl.LogError(ItemError{ConfigID: "c1", ItemID: "old", OccurredAt: now.AddDate(0, 0, -10)}))
	require.NoError(t, fl.LogError(ItemError{ConfigID: "c1", ItemID: "new", OccurredAt: now}))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("keep"), 0644))

	require.NoError(t, fl.CleanupOldErrors())

	left, err := fl.GetErrors(Filter{})
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "new", left[0].ItemID)
	assert.FileExists(t, filepath.Join(dir, "notes.txt"))
}

func TestManagerDisabledIsNoop(t *testing.T) {
	cfg := &types.Config{}
	cfg.Meta.ID = "c1"
	m, err := NewManager(cfg, logger.Discard())
	require.NoError(t, err)

	m.Record(ItemError{ItemID: "t1"})
	got, err := m.GetErrors(Filter{})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestManagerFillsConfigID(t *testing.T) {
	cfg := &types.Config{}
	cfg.Meta.ID = "c1"
	cfg.ErrorLogging.Enabled = true
	cfg.ErrorLogging.StoragePath = t.TempDir()
	m, err := NewManager(cfg, logger.Discard())
	require.NoError(t, err)

	m.Record(ItemError{ItemID: "t1", Kind: "permanent"})
	got, err := m.GetErrors(Filter{ConfigID: "c1"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "t1", got[0].ItemID)
}
