package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/altafino/thread-archiver/internal/batch"
	"github.com/altafino/thread-archiver/internal/config"
	"github.com/altafino/thread-archiver/internal/logger"
	"github.com/altafino/thread-archiver/internal/mailbox"
	"github.com/altafino/thread-archiver/internal/metrics"
	"github.com/altafino/thread-archiver/internal/models"
	"github.com/altafino/thread-archiver/internal/scheduler"
	"github.com/altafino/thread-archiver/internal/types"
)

func testConfig(t *testing.T, id string) *types.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Defaults()
	cfg.Meta.ID = id
	cfg.Meta.Enabled = true
	cfg.Mailbox.Provider = "memory"
	cfg.Mailbox.Sender = "me@example.com"
	cfg.Database.DSN = filepath.Join(dir, "archiver.db")
	cfg.Storage.File.Path = filepath.Join(dir, "archive")
	cfg.Storage.File.PublicBaseURL = "https://files.example.com"
	cfg.ErrorLogging.StoragePath = filepath.Join(dir, "errors")
	cfg.Upload.BurstPause = 0
	return cfg
}

func seed(p *mailbox.MemoryProvider) {
	p.AddThread(models.WorkItem{
		ID:      "t1",
		Subject: "quarterly report",
		Labels:  []models.Label{{Name: mailbox.LabelInbox}},
		Messages: []models.Message{{
			ID:          "m1",
			From:        "alice@example.com",
			Date:        time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC),
			PlainBody:   "see attached",
			Attachments: []models.Attachment{models.NewAttachment("report.pdf", "application/pdf", bytes.Repeat([]byte{'r'}, 200*1024))},
		}},
	})
}

func TestBuildRunsEndToEnd(t *testing.T) {
	ctx := context.Background()
	p := mailbox.NewMemoryProvider()
	seed(p)

	arch, err := Build(ctx, testConfig(t, "c1"), logger.Discard(), WithProvider(p))
	require.NoError(t, err)
	defer arch.Close()

	report, err := arch.Runner.RunBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Archived)

	snap, err := arch.Metrics.Snapshot(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, snap.ItemsProcessed)
	assert.EqualValues(t, 1, snap.FilesUploaded)

	entries, err := os.ReadDir(arch.Config.Storage.File.Path)
	require.NoError(t, err)
	assert.NotEmpty(t, entries)
}

func TestBuildDryRunNeedsNoBackend(t *testing.T) {
	ctx := context.Background()
	p := mailbox.NewMemoryProvider()
	seed(p)

	cfg := testConfig(t, "c1")
	cfg.Upload.DryRun = true
	cfg.Dedup.Retention = 24 * time.Hour

	arch, err := Build(ctx, cfg, logger.Discard(), WithProvider(p))
	require.NoError(t, err)
	defer arch.Close()

	report, err := arch.Runner.RunBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Archived)

	_, err = os.Stat(cfg.Storage.File.Path)
	assert.True(t, os.IsNotExist(err), "dry run creates no storage")
	item, trashed, _ := p.Thread("t1")
	assert.False(t, trashed)
	assert.Len(t, item.Labels, 1)
}

func TestBuildRequiresSender(t *testing.T) {
	cfg := testConfig(t, "c1")
	cfg.Mailbox.Sender = ""
	_, err := Build(context.Background(), cfg, logger.Discard())
	assert.Error(t, err)
}

func TestBuildRejectsRetentionAboveCeiling(t *testing.T) {
	cfg := testConfig(t, "c1")
	cfg.Dedup.MaxRetention = time.Hour
	_, err := Build(context.Background(), cfg, logger.Discard())
	assert.Error(t, err)
}

func newTestApp(t *testing.T) *App {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	a := &App{
		logger:    logger.Discard(),
		overrides: viper.New(),
		registry:  prometheus.NewRegistry(),
		scheduler: scheduler.NewScheduler(logger.Discard()),
		archivers: make(map[string]*Archiver),
		ctx:       ctx,
		cancel:    cancel,
		build: func(ctx context.Context, cfg *types.Config, log *slog.Logger, opts ...Option) (*Archiver, error) {
			p := mailbox.NewMemoryProvider()
			seed(p)
			return Build(ctx, cfg, log, append(opts, WithProvider(p))...)
		},
	}
	t.Cleanup(a.Stop)
	return a
}

func writeConfig(t *testing.T, dir, id string) {
	t.Helper()
	data := fmt.Sprintf(`meta:
  id: %[1]s
  enabled: true
mailbox:
  provider: memory
  sender: me@example.com
database:
  dsn: %[2]s/%[1]s.db
storage:
  file:
    path: %[2]s/archive-%[1]s
error_logging:
  storage_path: %[2]s/errors
scheduling:
  enabled: true
  frequency_every: hour
  frequency_amount: 1
`, id, filepath.ToSlash(t.TempDir()))
	require.NoError(t, os.WriteFile(filepath.Join(dir, id+".config.yaml"), []byte(data), 0644))
}

func TestStartServicesReplacesArchiver(t *testing.T) {
	a := newTestApp(t)
	cfg := testConfig(t, "c1")
	cfg.Scheduling.Enabled = true

	require.NoError(t, a.startServices(cfg))
	first, ok := a.archiver("c1")
	require.True(t, ok)
	assert.Equal(t, []string{"c1"}, a.scheduler.RecurringIDs())

	require.NoError(t, a.startServices(cfg))
	second, ok := a.archiver("c1")
	require.True(t, ok)
	assert.NotSame(t, first, second)
	assert.Equal(t, []string{"c1"}, a.scheduler.RecurringIDs())
}

func TestStartServicesRejectsInvalidConfig(t *testing.T) {
	a := newTestApp(t)
	cfg := testConfig(t, "c1")
	cfg.Batch.MaxItems = -1

	assert.Error(t, a.startServices(cfg))
	_, ok := a.archiver("c1")
	assert.False(t, ok)
}

func TestReloadDropsRemovedConfigs(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "alpha")
	writeConfig(t, dir, "beta")

	a := newTestApp(t)
	store, err := config.LoadConfigs(dir, logger.Discard())
	require.NoError(t, err)
	a.reload(store)

	_, ok := a.archiver("alpha")
	assert.True(t, ok)
	_, ok = a.archiver("beta")
	assert.True(t, ok)

	require.NoError(t, os.Remove(filepath.Join(dir, "beta.config.yaml")))
	store, err = config.LoadConfigs(dir, logger.Discard())
	require.NoError(t, err)
	a.reload(store)

	_, ok = a.archiver("alpha")
	assert.True(t, ok)
	_, ok = a.archiver("beta")
	assert.False(t, ok)
	assert.Equal(t, []string{"alpha"}, a.scheduler.RecurringIDs())
}

func serveHTTP(a *App, method, path string) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	a.routes(router, "")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(method, path, nil))
	return w
}

func TestHTTPRunAndStats(t *testing.T) {
	a := newTestApp(t)
	require.NoError(t, a.startServices(testConfig(t, "c1")))

	w := serveHTTP(a, http.MethodPost, "/api/v1/configs/c1/run")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var report batch.Report
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Equal(t, 1, report.Archived)

	w = serveHTTP(a, http.MethodGet, "/api/v1/configs/c1/stats")
	require.Equal(t, http.StatusOK, w.Code)
	var snap metrics.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.EqualValues(t, 1, snap.ItemsProcessed)
	assert.EqualValues(t, 1, snap.BatchesRun)

	w = serveHTTP(a, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, w.Code)

	w = serveHTTP(a, http.MethodGet, "/api/v1/configs")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"id":"c1"`)
}

func TestHTTPUnknownConfig(t *testing.T) {
	a := newTestApp(t)
	w := serveHTTP(a, http.MethodGet, "/api/v1/configs/nope/stats")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHTTPErrorsRejectsBadSince(t *testing.T) {
	a := newTestApp(t)
	require.NoError(t, a.startServices(testConfig(t, "c1")))

	w := serveHTTP(a, http.MethodGet, "/api/v1/configs/c1/errors?since=yesterday")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = serveHTTP(a, http.MethodGet, "/api/v1/configs/c1/errors")
	assert.Equal(t, http.StatusOK, w.Code)
}
