package main

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/fieldops/fieldops/internal/app"
	"github.com/fieldops/fieldops/internal/observability"
	"github.com/fieldops/fieldops/internal/platform/cache"
	"github.com/fieldops/fieldops/internal/platform/db"
	"github.com/fieldops/fieldops/internal/rbac"
)

var jsonOutput bool

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "fieldops",
		Short: "FieldOps business management server and operator tools",
		Long: `fieldops runs the FieldOps HTTP API.

Without a subcommand it starts the server. Operator subcommands act on the
permission engine and the job queue directly and are not subject to HTTP guards.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
	root.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print machine-readable JSON")
	root.AddCommand(newServeCmd(), newRBACCmd(), newJobsCmd())
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
}

// infra holds the shared connections of a process.
type infra struct {
	cfg     *app.Config
	logger  *slog.Logger
	pool    *pgxpool.Pool
	redis   *redis.Client
	metrics *observability.Metrics
	rbac    *app.RBACComponents
}

func openInfra(ctx context.Context) (*infra, error) {
	cfg, err := app.LoadConfig()
	if err != nil {
		return nil, err
	}
	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: cfg.PGMaxConns})
	if err != nil {
		return nil, err
	}
	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		pool.Close()
		return nil, err
	}
	metrics := observability.NewMetrics()
	components, err := app.NewRBAC(cfg, rbac.NewRepository(pool), redisClient, metrics.Registerer(), logger)
	if err != nil {
		pool.Close()
		_ = redisClient.Close()
		return nil, err
	}
	return &infra{cfg: cfg, logger: logger, pool: pool, redis: redisClient, metrics: metrics, rbac: components}, nil
}

func (i *infra) Close() {
	if err := i.redis.Close(); err != nil {
		i.logger.Warn("redis close", slog.Any("error", err))
	}
	i.pool.Close()
}
