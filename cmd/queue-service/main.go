package main

import (
	"context"
	"fmt"
	"os"
	"time"
	_ "time/tzdata"

	"clinic/queue-service/internal/config"
	"clinic/queue-service/internal/logging"
	"clinic/queue-service/internal/queue"
	"clinic/queue-service/internal/store"
	"clinic/queue-service/internal/store/memory"
	"clinic/queue-service/internal/store/postgres"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "queue-service",
		Short:         "Clinic walk-in token queue",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(resetCmd())

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending SQL migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.StoreDriver != config.DriverPostgres {
				return fmt.Errorf("migrate requires STORE_DRIVER=%s", config.DriverPostgres)
			}

			ctx := cmd.Context()
			pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			applied, err := postgres.NewMigrator(pool, cfg.MigrationsDir).Up(ctx)
			if err != nil {
				return err
			}
			logger.Info().Int("applied", applied).Str("dir", cfg.MigrationsDir).Msg("migrations complete")
			return nil
		},
	}
}

// resetCmd runs one reset and exits, for an external daily cron.
func resetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Delete tickets from previous days",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			st, closeStore, err := openStore(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer closeStore()

			manager, err := newManager(cfg, st, logger, nil)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(ctx, time.Minute)
			defer cancel()
			deleted, err := manager.Reset(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Queue reset successfully. Deleted %d old entries.\n", deleted)
			return nil
		},
	}
}

func loadConfig() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err := cfg.Validate(); err != nil {
		return nil, logger, err
	}
	return cfg, logger, nil
}

// openStore returns the configured store and a func releasing it.
func openStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (store.Store, func(), error) {
	switch cfg.StoreDriver {
	case config.DriverMemory:
		logger.Warn().Msg("using in-memory store, tickets are lost on restart")
		return memory.NewStore(), func() {}, nil
	default:
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, nil, err
		}
		logPoolStats(logger, pool)
		return postgres.NewStore(pool), pool.Close, nil
	}
}

func logPoolStats(logger zerolog.Logger, pool *pgxpool.Pool) {
	stat := pool.Stat()
	logger.Info().
		Int32("max_conns", stat.MaxConns()).
		Int32("total_conns", stat.TotalConns()).
		Msg("database pool ready")
}

func newManager(cfg *config.Config, st store.Store, logger zerolog.Logger, notifier queue.Notifier) (*queue.Manager, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	return queue.NewManager(st, queue.Options{
		Location:    loc,
		Logger:      logger,
		MaxAttempts: cfg.JoinMaxAttempts,
		Notifier:    notifier,
	}), nil
}
