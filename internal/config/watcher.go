package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the config directory whenever a yaml file in it changes
// and publishes the new store on ReloadChan.
type Watcher struct {
	watcher    *fsnotify.Watcher
	configDir  string
	mu         sync.Mutex
	logger     *slog.Logger
	reloadChan chan *Store
	done       chan struct{}
}

// StartWatcher initializes and starts the configuration watcher
func StartWatcher(configDir string, logger *slog.Logger) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	cw := &Watcher{
		watcher:    watcher,
		configDir:  configDir,
		logger:     logger,
		reloadChan: make(chan *Store, 1),
		done:       make(chan struct{}),
	}

	if err := filepath.Walk(configDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return watcher.Add(path)
		}
		return nil
	}); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch config directory: %w", err)
	}

	go cw.watch()
	return cw, nil
}

// ReloadChan returns a channel that receives the reloaded store
func (cw *Watcher) ReloadChan() <-chan *Store {
	return cw.reloadChan
}

func (cw *Watcher) watch() {
	defer close(cw.done)
	for {
		select {
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}

			// Skip editor temp files and non-yaml files
			if strings.HasPrefix(filepath.Base(event.Name), ".") || !strings.HasSuffix(event.Name, ".yaml") {
				continue
			}

			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				cw.handleConfigChange(event.Name)
			}

		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			cw.logger.Error("watcher error", "error", err)
		}
	}
}

func (cw *Watcher) handleConfigChange(path string) {
	cw.logger.Info("detected configuration change", "path", path)

	store, err := LoadConfigs(cw.configDir, cw.logger)
	if err != nil {
		cw.logger.Error("failed to reload configurations",
			"error", err,
			"path", path,
		)
		return
	}

	cw.logger.Info("configurations reloaded successfully")

	// Drop a stale pending store so the newest one wins
	select {
	case <-cw.reloadChan:
	default:
	}
	select {
	case cw.reloadChan <- store:
	default:
	}
}

// Stop stops the configuration watcher
func (cw *Watcher) Stop() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	if cw.watcher == nil {
		return nil
	}
	if err := cw.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	cw.watcher = nil
	<-cw.done
	return nil
}
