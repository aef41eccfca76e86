package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"dario.cat/mergo"
	"github.com/altafino/thread-archiver/internal/types"
	yaml "gopkg.in/yaml.v3"
)

var (
	ErrConfigNotFound  = errors.New("config not found")
	ErrAmbiguousConfig = errors.New("more than one enabled config, select one with --config-id")
)

// Store holds every configuration loaded from a config directory
type Store struct {
	configs map[string]*types.Config // map[id]*Config
}

// LoadConfigs loads all *.config.yaml files from configDir. Templates are read
// from configDir/templates when that directory exists.
func LoadConfigs(configDir string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	store := &Store{
		configs: make(map[string]*types.Config),
	}

	templates, err := LoadTemplates(filepath.Join(configDir, "templates"))
	if err != nil {
		return nil, fmt.Errorf("failed to load templates: %w", err)
	}

	entries, err := os.ReadDir(configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read config directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".config.yaml") {
			continue
		}

		cfg, err := LoadFile(filepath.Join(configDir, entry.Name()), templates)
		if err != nil {
			return nil, fmt.Errorf("failed to load config %s: %w", entry.Name(), err)
		}

		if cfg.Meta.ID == "" {
			return nil, fmt.Errorf("config %s missing required meta.id field", entry.Name())
		}

		if _, exists := store.configs[cfg.Meta.ID]; exists {
			return nil, fmt.Errorf("duplicate config ID %s in %s", cfg.Meta.ID, entry.Name())
		}

		store.configs[cfg.Meta.ID] = cfg

		logger.Debug("loaded configuration",
			"id", cfg.Meta.ID,
			"mailbox", cfg.Mailbox.Provider,
			"storage", cfg.Storage.Type,
			"dedup", cfg.Dedup.StorageType,
		)
	}

	return store, nil
}

// LoadFile reads one config file, expands environment variables, applies its
// template (if any) and fills unset fields from Defaults.
func LoadFile(path string, templates *TemplateManager) (*types.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data, templates)
}

// Parse decodes a config document. templates may be nil.
func Parse(data []byte, templates *TemplateManager) (*types.Config, error) {
	expanded := os.ExpandEnv(string(data))

	cfg := &types.Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	if cfg.Meta.Template != "" {
		if err := templates.Apply(cfg, cfg.Meta.Template); err != nil {
			return nil, fmt.Errorf("failed to apply template: %w", err)
		}
	}

	if err := mergo.Merge(cfg, Defaults()); err != nil {
		return nil, fmt.Errorf("failed to apply defaults: %w", err)
	}

	return cfg, nil
}

// Get retrieves a configuration by ID
func (s *Store) Get(id string) (*types.Config, error) {
	cfg, exists := s.configs[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, id)
	}
	return cfg, nil
}

// List returns all configurations ordered by ID
func (s *Store) List() []*types.Config {
	configs := make([]*types.Config, 0, len(s.configs))
	for _, cfg := range s.configs {
		configs = append(configs, cfg)
	}
	sort.Slice(configs, func(i, j int) bool { return configs[i].Meta.ID < configs[j].Meta.ID })
	return configs
}

// Enabled returns only enabled configurations
func (s *Store) Enabled() []*types.Config {
	configs := make([]*types.Config, 0)
	for _, cfg := range s.List() {
		if cfg.Meta.Enabled {
			configs = append(configs, cfg)
		}
	}
	return configs
}

// Resolve returns the config with the given id, or the single enabled config
// when id is empty.
func (s *Store) Resolve(id string) (*types.Config, error) {
	if id != "" {
		return s.Get(id)
	}
	enabled := s.Enabled()
	switch len(enabled) {
	case 0:
		return nil, fmt.Errorf("%w: no enabled config", ErrConfigNotFound)
	case 1:
		return enabled[0], nil
	default:
		return nil, ErrAmbiguousConfig
	}
}
