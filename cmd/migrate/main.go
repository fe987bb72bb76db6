package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/reqtrace/engine/internal/repository"
	"github.com/reqtrace/engine/internal/repository/mongostore"
	"github.com/reqtrace/engine/internal/storage"
	"github.com/reqtrace/engine/pkg/config"
	"github.com/reqtrace/engine/pkg/logger"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "migrate",
		Short:         "Schema and data maintenance for the requirements store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Create or update tables and indexes",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withStore(cmd.Context(), func(ctx context.Context, cfg *config.Config, h *storage.Handles) error {
					logger.L().Info("migrations completed", zap.String("backend", cfg.StoreBackend))
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "seed-counters",
			Short: "Advance req_id counters past existing REQ-NNN identifiers",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withStore(cmd.Context(), func(ctx context.Context, cfg *config.Config, h *storage.Handles) error {
					var (
						n   int64
						err error
					)
					switch {
					case h.Gorm != nil:
						n, err = repository.SeedCounters(ctx, h.Gorm)
					case h.Mongo != nil:
						n, err = mongostore.SeedCounters(ctx, h.Mongo)
					default:
						return fmt.Errorf("seed-counters is not supported for the %s backend", cfg.StoreBackend)
					}
					if err != nil {
						return err
					}
					logger.L().Info("counters seeded", zap.Int64("projects", n))
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "normalize-timestamps",
			Short: "Convert string timestamps in Mongo documents to dates",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withStore(cmd.Context(), func(ctx context.Context, cfg *config.Config, h *storage.Handles) error {
					if h.Mongo == nil {
						return fmt.Errorf("normalize-timestamps requires the mongo backend, got %s", cfg.StoreBackend)
					}
					n, err := mongostore.NormalizeTimestamps(ctx, h.Mongo)
					if err != nil {
						return err
					}
					logger.L().Info("timestamps normalized", zap.Int64("documents", n))
					return nil
				})
			},
		},
	)
	return root
}

// withStore loads config, opens the configured backend with schema bootstrap
// and runs fn against its raw handles.
func withStore(ctx context.Context, fn func(context.Context, *config.Config, *storage.Handles) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := config.MustLoad()
	if _, err := logger.Init(cfg.LogLevel, cfg.LogFormat); err != nil {
		return err
	}
	defer logger.Sync()

	store, handles, err := storage.Open(ctx, cfg, storage.Options{Bootstrap: true})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = store.Close(context.Background()) }()

	return fn(ctx, cfg, handles)
}
