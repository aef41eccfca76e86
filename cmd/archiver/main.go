package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/altafino/thread-archiver/internal/app"
	"github.com/altafino/thread-archiver/internal/config"
	"github.com/altafino/thread-archiver/internal/logger"
	"github.com/altafino/thread-archiver/internal/types"
	"github.com/altafino/thread-archiver/internal/validation"
)

var (
	configDir string
	configID  string
	overrides = viper.New()
	log       *slog.Logger
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "thread-archiver",
		Short: "Archive large mail attachments to cloud storage",
		Long: `Moves attachments of large mail threads to cloud storage and replaces each
thread with a digest message that links to the archived files.`,
		SilenceUsage: true,
	}

	// Default logger until a config is loaded
	log = logger.New(os.Stderr, "info", "text", false)
	slog.SetDefault(log)

	flags := root.PersistentFlags()
	flags.StringVar(&configDir, "config-dir", "./config", "config directory")
	flags.StringVar(&configID, "config-id", "", "config ID to use (default: the only enabled one)")
	flags.String("log-level", "", "override logging level (debug, info, warn, error)")
	flags.String("log-format", "", "override logging format (text, json, dev)")
	flags.Bool("dry-run", false, "simulate uploads and leave the mailbox untouched")
	flags.Int("max-items", 0, "override batch.max_items")
	flags.Duration("time-budget", 0, "override batch.time_budget")

	overrides.SetEnvPrefix("ARCHIVER")
	overrides.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	overrides.AutomaticEnv()
	overrides.BindPFlag(config.KeyLogLevel, flags.Lookup("log-level"))
	overrides.BindPFlag(config.KeyLogFormat, flags.Lookup("log-format"))
	overrides.BindPFlag(config.KeyDryRun, flags.Lookup("dry-run"))
	overrides.BindPFlag(config.KeyMaxItems, flags.Lookup("max-items"))
	overrides.BindPFlag(config.KeyTimeBudget, flags.Lookup("time-budget"))

	root.AddCommand(
		newRunCmd(),
		newOnceCmd(),
		newServeCmd(),
		newResetStuckCmd(),
		newRestoreTrashCmd(),
		newCleanupDraftsCmd(),
		newStatsCmd(),
		newValidateCmd(),
		newOAuth2Cmd(),
	)
	return root
}

// loadConfig resolves the selected configuration, applies flag and env
// overrides and swaps the default logger for the configured one.
func loadConfig() (*types.Config, error) {
	store, err := config.LoadConfigs(configDir, log)
	if err != nil {
		return nil, err
	}
	cfg, err := store.Resolve(configID)
	if err != nil {
		return nil, err
	}
	config.ApplyOverrides(cfg, overrides)
	if err := validation.ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", cfg.Meta.ID, err)
	}

	log = logger.Setup(cfg)
	slog.SetDefault(log)
	log.Debug("configuration loaded",
		"id", cfg.Meta.ID,
		"name", cfg.Meta.Name,
		"dry_run", cfg.Upload.DryRun)
	return cfg, nil
}

func openArchiver(ctx context.Context) (*app.Archiver, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return app.Build(ctx, cfg, log)
}
