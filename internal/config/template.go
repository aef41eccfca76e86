package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"dario.cat/mergo"
	"github.com/altafino/thread-archiver/internal/types"
	yaml "gopkg.in/yaml.v3"
)

type TemplateManager struct {
	templates map[string]*types.Config
}

// LoadTemplates loads all template files from the templates directory. A
// missing directory yields an empty manager.
func LoadTemplates(templatesDir string) (*TemplateManager, error) {
	tm := &TemplateManager{
		templates: make(map[string]*types.Config),
	}

	entries, err := os.ReadDir(templatesDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return tm, nil
		}
		return nil, fmt.Errorf("failed to read templates directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".yaml" {
			continue
		}

		template, err := loadTemplate(filepath.Join(templatesDir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to load template %s: %w", entry.Name(), err)
		}

		tm.templates[strings.TrimSuffix(entry.Name(), ".yaml")] = template
	}

	return tm, nil
}

func loadTemplate(path string) (*types.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	template := &types.Config{}
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), template); err != nil {
		return nil, err
	}

	return template, nil
}

// Apply merges a template under a configuration; values set in cfg win.
func (tm *TemplateManager) Apply(cfg *types.Config, templateName string) error {
	if tm == nil {
		return fmt.Errorf("templates not initialized")
	}

	template, exists := tm.templates[templateName]
	if !exists {
		return fmt.Errorf("template %s not found", templateName)
	}

	base := &types.Config{}
	if err := mergo.Merge(base, template); err != nil {
		return fmt.Errorf("failed to copy template: %w", err)
	}

	if err := mergo.Merge(base, cfg, mergo.WithOverride); err != nil {
		return fmt.Errorf("failed to merge config with template: %w", err)
	}

	*cfg = *base
	return nil
}
