package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/salesqa/salesqa/internal/config"
	"github.com/salesqa/salesqa/internal/demo/sales"
	"github.com/salesqa/salesqa/internal/observability"
	s3store "github.com/salesqa/salesqa/internal/storage/s3"
	"github.com/salesqa/salesqa/internal/store"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	seed := sales.DefaultConfig()
	var (
		bucket  string
		verbose bool
	)

	cmd := &cobra.Command{
		Use:          "salesqa-seed",
		Short:        "Generate the demo sales dataset",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("load .env file: %w", err)
			}
			cfg, err := config.LoadFromEnv("salesqa-seed")
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if verbose {
				cfg.Observability.LogLevel = slog.LevelDebug
			}
			logger := observability.NewLogger(cfg, os.Stderr)

			if !cmd.Flags().Changed("database-url") {
				seed.DatabaseURL = cfg.Store.URL
			}
			if bucket != "" {
				uri, err := sales.DatasetURI(bucket, seed.Table)
				if err != nil {
					return err
				}
				seed.DatabaseURL = "duckdb://" + uri
			}

			opener := store.ObjectStoreOpener(s3store.Opener(s3store.ConfigFrom(cfg.ObjectStore)))
			service, err := sales.NewService(seed, logger, opener)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			summary, err := service.Run(ctx)
			if err != nil {
				logger.Error("seed failed", slog.Any("error", err))
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "wrote %d rows to %s (%s)\n", summary.Rows, summary.Location, summary.Dialect)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&seed.DatabaseURL, "database-url", seed.DatabaseURL, "target database url; defaults to the API's DATABASE_URL")
	flags.StringVar(&seed.Table, "table", seed.Table, "table to create")
	flags.IntVar(&seed.Rows, "rows", seed.Rows, "number of rows to generate")
	flags.IntVar(&seed.BatchSize, "batch-size", seed.BatchSize, "rows per INSERT statement")
	flags.Int64Var(&seed.Seed, "seed", seed.Seed, "random seed")
	flags.BoolVar(&seed.Replace, "replace", seed.Replace, "drop an existing table first")
	flags.StringVar(&bucket, "bucket", "", "export parquet to the table's dataset key in this bucket")
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	cmd.SetContext(context.Background())
	return cmd
}
