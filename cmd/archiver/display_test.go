package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/altafino/thread-archiver/internal/batch"
	"github.com/altafino/thread-archiver/internal/config"
	"github.com/altafino/thread-archiver/internal/metrics"
	"github.com/altafino/thread-archiver/internal/recovery"
	"github.com/altafino/thread-archiver/internal/state"
)

func TestPrintReport(t *testing.T) {
	var buf bytes.Buffer
	printReport(&buf, batch.Report{
		RunID: "run-1",
		Items: []batch.ItemResult{
			{ID: "t1", State: state.Archived, Files: 2},
			{ID: "t2", State: state.Errored, Kind: "permanent", Error: "boom"},
		},
		Archived:           1,
		Errored:            1,
		StoppedBy:          "rate_limit",
		ContinuationNeeded: true,
		ContinuationDelay:  15 * time.Minute,
	})

	out := buf.String()
	assert.Contains(t, out, "run-1")
	assert.Contains(t, out, "ARCHIVED")
	assert.Contains(t, out, "(2 files)")
	assert.Contains(t, out, "permanent: boom")
	assert.Contains(t, out, "archived 1, skipped 0, errored 1")
	assert.Contains(t, out, "stopped by rate_limit")
	assert.Contains(t, out, "continuation in 15m0s")
}

func TestPrintResultAndSnapshot(t *testing.T) {
	var buf bytes.Buffer
	printResult(&buf, "restore-trash", recovery.Result{Changed: 2, Digests: 1, Failed: []string{"t9"}})
	assert.Contains(t, buf.String(), "1 digests trashed")
	assert.Contains(t, buf.String(), "t9")

	buf.Reset()
	printSnapshot(&buf, "c1", metrics.Snapshot{ItemsProcessed: 7})
	assert.Contains(t, buf.String(), "stats for c1")
	assert.Regexp(t, `items processed\s+7`, buf.String())
	assert.Contains(t, buf.String(), "never")
}

func TestFlagsBindOverrides(t *testing.T) {
	root := newRootCmd()
	require.NoError(t, root.ParseFlags([]string{"--dry-run", "--max-items", "3"}))

	assert.True(t, overrides.GetBool(config.KeyDryRun))
	assert.Equal(t, 3, overrides.GetInt(config.KeyMaxItems))
	assert.False(t, overrides.IsSet(config.KeyTimeBudget))
}
