package metrics

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// Durable counter names.
const (
	ItemsProcessed     = "items_processed"
	ItemsSkipped       = "items_skipped"
	ItemsErrored       = "items_errored"
	FilesUploaded      = "files_uploaded"
	BytesUploaded      = "bytes_uploaded"
	DuplicatesSkipped  = "duplicates_skipped"
	BatchesRun         = "batches_run"
	TruncationWarnings = "truncation_warnings"
)

const lastRunKey = "last_run_at"

// Snapshot is a point-in-time copy of every counter.
type Snapshot struct {
	ItemsProcessed     int64     `json:"items_processed"`
	ItemsSkipped       int64     `json:"items_skipped"`
	ItemsErrored       int64     `json:"items_errored"`
	FilesUploaded      int64     `json:"files_uploaded"`
	BytesUploaded      int64     `json:"bytes_uploaded"`
	DuplicatesSkipped  int64     `json:"duplicates_skipped"`
	BatchesRun         int64     `json:"batches_run"`
	TruncationWarnings int64     `json:"truncation_warnings"`
	LastRunAt          time.Time `json:"last_run_at,omitempty"`
}

// Store persists counters. Add must be atomic across processes.
type Store interface {
	Add(ctx context.Context, name string, delta int64) error
	SetLastRun(ctx context.Context, t time.Time) error
	Snapshot(ctx context.Context) (Snapshot, error)
	Reset(ctx context.Context) error
}

// SQLStore keeps counters in the counters and run_state tables.
type SQLStore struct {
	db *sqlx.DB
}

func NewSQLStore(db *sqlx.DB) *SQLStore {
	return &SQLStore{db: db}
}

// Add increments in a single upsert statement so overlapping invocations
// never lose updates.
func (s *SQLStore) Add(ctx context.Context, name string, delta int64) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO counters (name, value) VALUES (?, ?)
		ON CONFLICT (name) DO UPDATE SET value = counters.value + excluded.value`),
		name, delta)
	if err != nil {
		return fmt.Errorf("failed to increment counter %s: %w", name, err)
	}
	return nil
}

func (s *SQLStore) SetLastRun(ctx context.Context, t time.Time) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO run_state (name, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`),
		lastRunKey, t.UTC().Format(time.RFC3339), t.Unix())
	if err != nil {
		return fmt.Errorf("failed to record last run: %w", err)
	}
	return nil
}

func (s *SQLStore) Snapshot(ctx context.Context) (Snapshot, error) {
	var rows []struct {
		Name  string `db:"name"`
		Value int64  `db:"value"`
	}
	if err := s.db.SelectContext(ctx, &rows, `SELECT name, value FROM counters`); err != nil {
		return Snapshot{}, fmt.Errorf("failed to read counters: %w", err)
	}

	var snap Snapshot
	for _, r := range rows {
		switch r.Name {
		case ItemsProcessed:
			snap.ItemsProcessed = r.Value
		case ItemsSkipped:
			snap.ItemsSkipped = r.Value
		case ItemsErrored:
			snap.ItemsErrored = r.Value
		case FilesUploaded:
			snap.FilesUploaded = r.Value
		case BytesUploaded:
			snap.BytesUploaded = r.Value
		case DuplicatesSkipped:
			snap.DuplicatesSkipped = r.Value
		case BatchesRun:
			snap.BatchesRun = r.Value
		case TruncationWarnings:
			snap.TruncationWarnings = r.Value
		}
	}

	var lastRun string
	err := s.db.GetContext(ctx, &lastRun, s.db.Rebind(`SELECT value FROM run_state WHERE name = ?`), lastRunKey)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return Snapshot{}, fmt.Errorf("failed to read last run: %w", err)
	default:
		if t, perr := time.Parse(time.RFC3339, lastRun); perr == nil {
			snap.LastRunAt = t
		}
	}

	return snap, nil
}

func (s *SQLStore) Reset(ctx context.Context) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin reset: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM counters`); err != nil {
		return fmt.Errorf("failed to reset counters: %w", err)
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM run_state WHERE name = ?`), lastRunKey); err != nil {
		return fmt.Errorf("failed to reset last run: %w", err)
	}
	return tx.Commit()
}
