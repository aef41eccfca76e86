// Package app wires configurations into running archivers and hosts the
// long-running serve mode.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/viper"

	"github.com/altafino/thread-archiver/internal/batch"
	"github.com/altafino/thread-archiver/internal/config"
	"github.com/altafino/thread-archiver/internal/scheduler"
	"github.com/altafino/thread-archiver/internal/types"
	"github.com/altafino/thread-archiver/internal/validation"
)

// App runs every selected configuration on its schedule, reloads them when
// the config directory changes and serves the admin HTTP API.
type App struct {
	logger    *slog.Logger
	configDir string
	configID  string
	overrides *viper.Viper
	registry  prometheus.Registerer
	scheduler *scheduler.Scheduler
	watcher   *config.Watcher
	server    *http.Server
	wg        sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.RWMutex
	store     *config.Store
	archivers map[string]*Archiver
	build     func(ctx context.Context, cfg *types.Config, logger *slog.Logger, opts ...Option) (*Archiver, error)
}

// New loads the config directory. configID limits the app to one
// configuration; empty selects every enabled one.
func New(logger *slog.Logger, configDir, configID string, overrides *viper.Viper) (*App, error) {
	store, err := config.LoadConfigs(configDir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load configs: %w", err)
	}

	return &App{
		logger:    logger,
		configDir: configDir,
		configID:  configID,
		overrides: overrides,
		registry:  prometheus.DefaultRegisterer,
		scheduler: scheduler.NewScheduler(logger),
		store:     store,
		archivers: make(map[string]*Archiver),
		build:     Build,
	}, nil
}

func (a *App) selected(store *config.Store) ([]*types.Config, error) {
	if a.configID != "" {
		cfg, err := store.Get(a.configID)
		if err != nil {
			return nil, err
		}
		return []*types.Config{cfg}, nil
	}
	return store.Enabled(), nil
}

// Start builds and schedules every selected configuration, then starts the
// config watcher and, when a configuration enables monitoring, the HTTP API.
func (a *App) Start(ctx context.Context) error {
	a.ctx, a.cancel = context.WithCancel(ctx)

	configs, err := a.selected(a.store)
	if err != nil {
		return err
	}
	if len(configs) == 0 {
		return fmt.Errorf("%w: no enabled configuration to serve", config.ErrConfigNotFound)
	}

	a.scheduler.Start()
	for _, cfg := range configs {
		if err := a.startServices(cfg); err != nil {
			return err
		}
	}

	watcher, err := config.StartWatcher(a.configDir, a.logger)
	if err != nil {
		return fmt.Errorf("failed to start config watcher: %w", err)
	}
	a.watcher = watcher

	if mon := configs[0].Monitoring; mon.MetricsEnabled {
		a.startHTTP(fmt.Sprintf(":%d", mon.MetricsPort), mon.MetricsPath)
	}

	a.wg.Add(1)
	go a.watchConfigs()
	return nil
}

// Stop shuts everything down and waits for the watcher loop to exit.
func (a *App) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.watcher != nil {
		if err := a.watcher.Stop(); err != nil {
			a.logger.Warn("failed to stop config watcher", "error", err)
		}
	}
	if a.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("failed to shut down http server", "error", err)
		}
		cancel()
	}
	a.scheduler.Stop()
	a.wg.Wait()

	a.mu.Lock()
	defer a.mu.Unlock()
	for id := range a.archivers {
		a.stopServicesLocked(id)
	}
}

func (a *App) startServices(cfg *types.Config) error {
	config.ApplyOverrides(cfg, a.overrides)
	if err := validation.ValidateConfig(cfg); err != nil {
		return fmt.Errorf("invalid config %s: %w", cfg.Meta.ID, err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopServicesLocked(cfg.Meta.ID)

	arch, err := a.build(a.ctx, cfg, a.logger,
		WithContinuer(a.scheduler),
		WithRegisterer(a.registry))
	if err != nil {
		return fmt.Errorf("failed to build archiver %s: %w", cfg.Meta.ID, err)
	}

	id := cfg.Meta.ID
	if err := a.scheduler.UpdateRecurring(cfg, func() { a.runBatch(id) }); err != nil {
		arch.Close()
		return fmt.Errorf("failed to schedule %s: %w", id, err)
	}
	a.archivers[id] = arch

	a.logger.Info("started services for configuration",
		"id", id,
		"name", cfg.Meta.Name,
		"dry_run", cfg.Upload.DryRun)
	return nil
}

func (a *App) stopServicesLocked(id string) {
	arch, ok := a.archivers[id]
	if !ok {
		return
	}
	a.scheduler.RemoveRecurring(id)
	a.scheduler.CancelContinuation(arch.Runner.Operation())
	if err := arch.Close(); err != nil {
		a.logger.Warn("failed to close archiver", "id", id, "error", err)
	}
	delete(a.archivers, id)
}

func (a *App) archiver(id string) (*Archiver, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	arch, ok := a.archivers[id]
	return arch, ok
}

// runBatch is the scheduled entry point; overlapping invocations are
// dropped by the runner.
func (a *App) runBatch(id string) {
	arch, ok := a.archiver(id)
	if !ok {
		a.logger.Warn("scheduled batch for unknown configuration", "config_id", id)
		return
	}
	_, err := arch.Runner.RunBatch(a.ctx)
	switch {
	case errors.Is(err, batch.ErrBusy):
		a.logger.Info("previous batch still running, skipping", "config_id", id)
	case err != nil:
		a.logger.Error("scheduled batch failed", "config_id", id, "error", err)
	}
}

func (a *App) watchConfigs() {
	defer a.wg.Done()

	for {
		select {
		case <-a.ctx.Done():
			return
		case store := <-a.watcher.ReloadChan():
			a.reload(store)
		}
	}
}

func (a *App) reload(store *config.Store) {
	a.logger.Info("reloading services due to configuration change")

	configs, err := a.selected(store)
	if err != nil {
		a.logger.Error("failed to select updated configs", "id", a.configID, "error", err)
		return
	}

	a.mu.Lock()
	a.store = store
	keep := make(map[string]bool, len(configs))
	for _, cfg := range configs {
		keep[cfg.Meta.ID] = true
	}
	for id := range a.archivers {
		if !keep[id] {
			a.logger.Info("configuration removed or disabled", "id", id)
			a.stopServicesLocked(id)
		}
	}
	a.mu.Unlock()

	for _, cfg := range configs {
		if err := a.startServices(cfg); err != nil {
			a.logger.Error("failed to update services",
				"config_id", cfg.Meta.ID,
				"error", err)
		}
	}
}
