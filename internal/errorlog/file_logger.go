package errorlog

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const dateLayout = "2006-01-02"

// FileLogger keeps one JSON array per config per day.
type FileLogger struct {
	dir           string
	retentionDays int
	logger        *slog.Logger
	now           func() time.Time
	mu            sync.Mutex
}

func NewFileLogger(dir string, retentionDays int, logger *slog.Logger) (*FileLogger, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create error log directory: %w", err)
	}
	if retentionDays <= 0 {
		retentionDays = 30
	}
	return &FileLogger{
		dir:           dir,
		retentionDays: retentionDays,
		logger:        logger,
		now:           time.Now,
	}, nil
}

func (f *FileLogger) fileFor(configID string, day time.Time) string {
	if configID == "" {
		configID = "default"
	}
	return filepath.Join(f.dir, fmt.Sprintf("errors_%s_%s.json", configID, day.UTC().Format(dateLayout)))
}

func (f *FileLogger) LogError(e ItemError) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = f.now().UTC()
	}

	path := f.fileFor(e.ConfigID, e.OccurredAt)
	entries, err := readEntries(path)
	if err != nil {
		f.logger.Warn("error journal unreadable, starting a new one", "file", path, "error", err)
		entries = nil
	}
	entries = append(entries, e)

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal error journal: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write error journal: %w", err)
	}

	f.logger.Debug("journaled item error", "error_id", e.ID, "item_id", e.ItemID, "file", path)
	return nil
}

func readEntries(path string) ([]ItemError, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var entries []ItemError
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (f *FileLogger) journalFiles() ([]os.DirEntry, error) {
	files, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read error log directory: %w", err)
	}
	out := files[:0]
	for _, file := range files {
		if !file.IsDir() && strings.HasPrefix(file.Name(), "errors_") && filepath.Ext(file.Name()) == ".json" {
			out = append(out, file)
		}
	}
	return out, nil
}

// GetErrors returns matching entries oldest first.
func (f *FileLogger) GetErrors(filter Filter) ([]ItemError, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	files, err := f.journalFiles()
	if err != nil {
		return nil, err
	}

	var out []ItemError
	for _, file := range files {
		path := filepath.Join(f.dir, file.Name())
		entries, err := readEntries(path)
		if err != nil {
			f.logger.Warn("failed to read error journal", "file", path, "error", err)
			continue
		}
		for _, e := range entries {
			if filter.match(e) {
				out = append(out, e)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OccurredAt.Before(out[j].OccurredAt) })
	return out, nil
}

// CleanupOldErrors deletes day files older than the retention window.
func (f *FileLogger) CleanupOldErrors() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	cutoff := f.now().UTC().AddDate(0, 0, -f.retentionDays)
	files, err := f.journalFiles()
	if err != nil {
		return err
	}

	for _, file := range files {
		name := strings.TrimSuffix(file.Name(), ".json")
		if len(name) < len(dateLayout) {
			continue
		}
		day, err := time.Parse(dateLayout, name[len(name)-len(dateLayout):])
		if err != nil {
			continue
		}
		if !day.Before(cutoff) {
			continue
		}
		path := filepath.Join(f.dir, file.Name())
		if err := os.Remove(path); err != nil {
			f.logger.Warn("failed to delete old error journal", "file", path, "error", err)
			continue
		}
		f.logger.Debug("deleted old error journal", "file", path)
	}
	return nil
}

func (f *FileLogger) Close() error {
	return nil
}
