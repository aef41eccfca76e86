package errorlog

import (
	"log/slog"

	"github.com/altafino/thread-archiver/internal/types"
)

// Manager fronts the configured journal. With error logging disabled every
// call is a no-op.
type Manager struct {
	configID string
	logger   *slog.Logger
	impl     Logger
}

func NewManager(cfg *types.Config, logger *slog.Logger) (*Manager, error) {
	if !cfg.ErrorLogging.Enabled {
		logger.Debug("item error journal is disabled")
		return &Manager{configID: cfg.Meta.ID, logger: logger, impl: noopLogger{}}, nil
	}

	impl, err := NewFileLogger(cfg.ErrorLogging.StoragePath, cfg.ErrorLogging.RetentionDays, logger)
	if err != nil {
		return nil, err
	}
	return &Manager{configID: cfg.Meta.ID, logger: logger, impl: impl}, nil
}

// Record journals e. Journal failures are logged and swallowed.
func (m *Manager) Record(e ItemError) {
	if e.ConfigID == "" {
		e.ConfigID = m.configID
	}
	if err := m.impl.LogError(e); err != nil {
		m.logger.Error("failed to journal item error", "item_id", e.ItemID, "error", err)
	}
}

func (m *Manager) GetErrors(f Filter) ([]ItemError, error) {
	return m.impl.GetErrors(f)
}

func (m *Manager) CleanupOldErrors() error {
	return m.impl.CleanupOldErrors()
}

func (m *Manager) Close() error {
	return m.impl.Close()
}

type noopLogger struct{}

func (noopLogger) LogError(ItemError) error               { return nil }
func (noopLogger) GetErrors(Filter) ([]ItemError, error) { return nil, nil }
func (noopLogger) CleanupOldErrors() error                { return nil }
func (noopLogger) Close() error                           { return nil }
