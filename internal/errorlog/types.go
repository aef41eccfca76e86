package errorlog

import (
	"time"
)

// ItemError is one failed attempt at archiving a thread.
type ItemError struct {
	ID         string    `json:"id"`
	ConfigID   string    `json:"config_id"`
	RunID      string    `json:"run_id,omitempty"`
	ItemID     string    `json:"item_id"`
	Subject    string    `json:"subject,omitempty"`
	Stage      string    `json:"stage"`
	Kind       string    `json:"kind"`
	Message    string    `json:"message"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Filter selects journal entries. Empty fields match everything.
type Filter struct {
	ConfigID string
	ItemID   string
	Kind     string
	Since    time.Time
}

func (f Filter) match(e ItemError) bool {
	switch {
	case f.ConfigID != "" && e.ConfigID != f.ConfigID:
		return false
	case f.ItemID != "" && e.ItemID != f.ItemID:
		return false
	case f.Kind != "" && e.Kind != f.Kind:
		return false
	case !f.Since.IsZero() && e.OccurredAt.Before(f.Since):
		return false
	}
	return true
}

// Logger persists item errors.
type Logger interface {
	LogError(e ItemError) error
	GetErrors(f Filter) ([]ItemError, error)
	CleanupOldErrors() error
	Close() error
}
