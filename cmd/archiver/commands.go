package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/altafino/thread-archiver/internal/app"
	"github.com/altafino/thread-archiver/internal/batch"
	"github.com/altafino/thread-archiver/internal/config"
	"github.com/altafino/thread-archiver/internal/recovery"
	"github.com/altafino/thread-archiver/internal/validation"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Process one batch of matching threads",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(cmd, (*batch.Runner).RunBatch)
		},
	}
}

func newOnceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "once",
		Short: "Process a single thread as a test run",
		Long: `Processes at most one thread. The digest is marked as a test run and no
continuation is scheduled.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(cmd, (*batch.Runner).RunOnce)
		},
	}
}

func runBatch(cmd *cobra.Command, run func(*batch.Runner, context.Context) (batch.Report, error)) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	arch, err := openArchiver(ctx)
	if err != nil {
		return err
	}
	defer arch.Close()

	report, err := run(arch.Runner, ctx)
	printReport(cmd.OutOrStdout(), report)
	return err
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run scheduled batches and the admin API until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := app.New(log, configDir, configID, overrides)
			if err != nil {
				return fmt.Errorf("failed to create application: %w", err)
			}
			defer a.Stop()

			if err := a.Start(ctx); err != nil {
				return fmt.Errorf("failed to start application: %w", err)
			}

			<-ctx.Done()
			log.Info("shutting down application")
			return nil
		},
	}
}

func recoveryCmd(use, short string, op func(*recovery.Service, context.Context) (recovery.Result, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			arch, err := openArchiver(ctx)
			if err != nil {
				return err
			}
			defer arch.Close()

			res, err := op(arch.Recovery, ctx)
			printResult(cmd.OutOrStdout(), use, res)
			return err
		},
	}
}

func newResetStuckCmd() *cobra.Command {
	return recoveryCmd("reset-stuck", "Release threads left in processing by an interrupted run",
		(*recovery.Service).ResetStuckItems)
}

func newRestoreTrashCmd() *cobra.Command {
	return recoveryCmd("restore-trash", "Restore archived threads from trash and remove their digests",
		(*recovery.Service).RestoreFromTrash)
}

func newCleanupDraftsCmd() *cobra.Command {
	return recoveryCmd("cleanup-drafts", "Discard digest drafts left behind by interrupted sends",
		(*recovery.Service).CleanupOrphanedDrafts)
}

func newStatsCmd() *cobra.Command {
	stats := &cobra.Command{
		Use:   "stats",
		Short: "Show the persisted processing counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			arch, err := openArchiver(ctx)
			if err != nil {
				return err
			}
			defer arch.Close()

			snap, err := arch.Metrics.Snapshot(ctx)
			if err != nil {
				return err
			}
			printSnapshot(cmd.OutOrStdout(), arch.Config.Meta.ID, snap)
			return nil
		},
	}

	stats.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Zero every counter",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			arch, err := openArchiver(ctx)
			if err != nil {
				return err
			}
			defer arch.Close()

			if err := arch.Metrics.Reset(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), Success.Render("counters reset"))
			return nil
		},
	})
	return stats
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check every configuration in the config directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := config.LoadConfigs(configDir, log)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			failed := 0
			for _, cfg := range store.List() {
				config.ApplyOverrides(cfg, overrides)
				if err := validation.ValidateConfig(cfg); err != nil {
					failed++
					fmt.Fprintf(out, "%s %s: %v\n", ErrStyle.Render("✗"), cfg.Meta.ID, err)
					continue
				}
				fmt.Fprintf(out, "%s %s\n", Success.Render("✓"), cfg.Meta.ID)
			}
			if failed > 0 {
				return fmt.Errorf("%d invalid configuration(s)", failed)
			}
			return nil
		},
	}
}
