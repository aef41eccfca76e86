package dedup

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileStorage implements Store on a single JSON file
type FileStorage struct {
	basePath    string
	recordsPath string
	maxTTL      time.Duration
	mu          sync.RWMutex
	initialized bool
}

// NewFileStorage creates a new file-based store
func NewFileStorage(basePath string, maxTTL time.Duration) (*FileStorage, error) {
	if basePath == "" {
		return nil, fmt.Errorf("base path cannot be empty")
	}

	return &FileStorage{
		basePath:    basePath,
		recordsPath: filepath.Join(basePath, "dedup_records.json"),
		maxTTL:      maxTTL,
	}, nil
}

// Initialize prepares the storage for use
func (fs *FileStorage) Initialize() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := os.MkdirAll(fs.basePath, 0755); err != nil {
		return fmt.Errorf("failed to create storage directory: %w", err)
	}

	if _, err := os.Stat(fs.recordsPath); os.IsNotExist(err) {
		if err := fs.saveRecords(map[string]Record{}); err != nil {
			return fmt.Errorf("failed to create records file: %w", err)
		}
	}

	fs.initialized = true
	return nil
}

func (fs *FileStorage) MaxTTL() time.Duration {
	return fs.maxTTL
}

func (fs *FileStorage) Get(_ context.Context, hash string, now time.Time) (Record, bool, error) {
	if !fs.initialized {
		return Record{}, false, ErrStorageNotInitialized
	}

	fs.mu.RLock()
	defer fs.mu.RUnlock()

	records, err := fs.loadRecordsLocked()
	if err != nil {
		return Record{}, false, err
	}

	rec, ok := records[hash]
	if !ok || rec.expired(now) {
		return Record{}, false, nil
	}
	return rec, true, nil
}

func (fs *FileStorage) Put(_ context.Context, rec Record) error {
	if !fs.initialized {
		return ErrStorageNotInitialized
	}
	if err := checkTTL(fs, rec); err != nil {
		return err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	records, err := fs.loadRecordsLocked()
	if err != nil {
		return err
	}

	records[rec.Hash] = rec
	return fs.saveRecords(records)
}

// Cleanup removes expired records
func (fs *FileStorage) Cleanup(_ context.Context, now time.Time) (int, error) {
	if !fs.initialized {
		return 0, ErrStorageNotInitialized
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	records, err := fs.loadRecordsLocked()
	if err != nil {
		return 0, err
	}

	removed := 0
	for hash, rec := range records {
		if rec.expired(now) {
			delete(records, hash)
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}

	return removed, fs.saveRecords(records)
}

// loadRecordsLocked loads all records from the file (assumes lock is held)
func (fs *FileStorage) loadRecordsLocked() (map[string]Record, error) {
	data, err := os.ReadFile(fs.recordsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read records file: %w", err)
	}

	records := make(map[string]Record)
	if len(data) == 0 {
		return records, nil
	}

	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to parse records file: %w", err)
	}

	return records, nil
}

// saveRecords writes through a temp file so a crash never leaves a torn file
func (fs *FileStorage) saveRecords(records map[string]Record) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize records: %w", err)
	}

	tmp := fs.recordsPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write records file: %w", err)
	}
	if err := os.Rename(tmp, fs.recordsPath); err != nil {
		return fmt.Errorf("failed to replace records file: %w", err)
	}

	return nil
}
