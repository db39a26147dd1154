package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"therapy-chat-sync/internal/config"
	"therapy-chat-sync/internal/database"
	"therapy-chat-sync/internal/observability"
)

var timeout time.Duration

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "dbadmin",
		Short:        "Inspect and provision the DynamoDB tables behind the sync service",
		SilenceUsage: true,
	}
	root.PersistentFlags().DurationVar(&timeout, "timeout", time.Minute, "deadline for the command")

	root.AddCommand(newTablesCommand())
	root.AddCommand(newCreateTablesCommand())
	root.AddCommand(newDumpCommand())
	return root
}

func newTablesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "tables",
		Short: "Show the table, status and indexes of every collection",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, store *database.Store) error {
				statuses, err := store.Tables(ctx)
				if err != nil {
					return err
				}
				return printJSON(statuses)
			})
		},
	}
}

func newCreateTablesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "create-tables",
		Short: "Create missing tables with the secondary indexes the service queries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, store *database.Store) error {
				created, err := store.EnsureTables(ctx)
				for _, table := range created {
					observability.GetLogger().Info().Str("table", table).Msg("table created")
				}
				if err != nil {
					return err
				}
				if len(created) == 0 {
					observability.GetLogger().Info().Msg("all tables present")
				}
				return nil
			})
		},
	}
}

func newDumpCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:       "dump <collection>",
		Short:     "Print a collection's documents as JSON lines",
		Args:      cobra.ExactArgs(1),
		ValidArgs: database.Collections(),
		RunE: func(cmd *cobra.Command, args []string) error {
			collection := args[0]
			if !slices.Contains(database.Collections(), collection) {
				return fmt.Errorf("unknown collection %q, expected one of %v", collection, database.Collections())
			}
			return withStore(cmd, func(ctx context.Context, store *database.Store) error {
				snaps, err := store.Dump(ctx, collection, limit)
				if err != nil {
					return err
				}
				enc := json.NewEncoder(os.Stdout)
				for _, snap := range snaps {
					if err := enc.Encode(map[string]any{"id": snap.ID, "data": snap.Data}); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum documents to print, 0 for all")
	return cmd
}

func withStore(cmd *cobra.Command, fn func(ctx context.Context, store *database.Store) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	observability.InitLogger(cfg.Telemetry.ServiceName+"-dbadmin", cfg.Environment, cfg.Logging.Level, cfg.Logging.File)

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	client, err := database.NewDynamoDBClient(ctx, cfg.Dynamo)
	if err != nil {
		return fmt.Errorf("db init: %w", err)
	}
	return fn(ctx, database.NewStore(client, database.WithTablePrefix(cfg.Dynamo.TablePrefix)))
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
