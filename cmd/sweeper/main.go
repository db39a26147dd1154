package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"therapy-chat-sync/internal/config"
	"therapy-chat-sync/internal/database"
	"therapy-chat-sync/internal/observability"
	"therapy-chat-sync/internal/service/conversation"
	"therapy-chat-sync/internal/service/sweep"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		loop        bool
		repairCache bool
		concurrency int
		timeout     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "sweeper",
		Short: "Archive conversations whose pair has no scheduled appointment",
		Long: `Runs one reconciliation pass over every active conversation and exits.
With --loop it keeps running on SWEEP_INTERVAL until interrupted.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("repair-cache") {
				cfg.Sweep.CacheRepair = repairCache
			}
			if cmd.Flags().Changed("concurrency") {
				cfg.Sweep.Concurrency = concurrency
			}
			return runSweep(cmd.Context(), cfg, loop, timeout)
		},
	}

	cmd.Flags().BoolVar(&loop, "loop", false, "keep sweeping on the configured interval")
	cmd.Flags().BoolVar(&repairCache, "repair-cache", true, "also recompute last-message caches")
	cmd.Flags().IntVar(&concurrency, "concurrency", config.DefaultSweepConcurrency, "pairs checked in parallel")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "deadline for a one-shot pass")

	return cmd
}

func runSweep(parent context.Context, cfg *config.Config, loop bool, timeout time.Duration) error {
	observability.InitLogger(cfg.Telemetry.ServiceName+"-sweeper", cfg.Environment, cfg.Logging.Level, cfg.Logging.File)
	logger := observability.GetLogger()

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := database.NewDynamoDBClient(ctx, cfg.Dynamo)
	if err != nil {
		return fmt.Errorf("db init: %w", err)
	}
	store := database.NewStore(client, database.WithTablePrefix(cfg.Dynamo.TablePrefix))

	job := sweep.NewJob(conversation.New(store),
		sweep.WithConcurrency(cfg.Sweep.Concurrency),
		sweep.WithCacheRepair(cfg.Sweep.CacheRepair),
	)

	if loop {
		sweep.NewRunner(job, cfg.Sweep.Interval).Run(ctx)
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	report, err := job.Run(ctx)
	if err != nil {
		return fmt.Errorf("sweep: %w", err)
	}
	logger.Info().
		Int("scanned", report.Scanned).
		Int("archived", report.Archived).
		Int("repaired", report.Repaired).
		Int("failed", report.Failed).
		Dur("took", report.Took).
		Msg("sweep finished")
	if report.Failed > 0 {
		return fmt.Errorf("sweep: %d pairs failed", report.Failed)
	}
	return nil
}
