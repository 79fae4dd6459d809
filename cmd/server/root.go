package main

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"broadcast-ops/backend/internal/config"
	"broadcast-ops/backend/internal/logging"
	"broadcast-ops/backend/internal/notifications"
	"broadcast-ops/backend/internal/observability"
	"broadcast-ops/backend/internal/repository"
	"broadcast-ops/backend/internal/services"
	"broadcast-ops/backend/internal/workflow"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		c.config, c.configErr = config.LoadConfig(path)
	})
	return c.config, c.configErr
}

func (c *commandContext) logger() (*logging.Logger, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
}

// runtime bundles everything a command needs to drive the workflow service.
type runtime struct {
	cfg      *config.Config
	logger   *logging.Logger
	store    repository.Repository
	service  *services.WorkflowService
	closeFns []func()
}

func (r *runtime) Close() {
	for i := len(r.closeFns) - 1; i >= 0; i-- {
		r.closeFns[i]()
	}
}

// openRuntime loads config, connects the store and builds the service.
func (c *commandContext) openRuntime(ctx context.Context) (*runtime, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	logger, err := c.logger()
	if err != nil {
		return nil, err
	}

	def, err := workflow.Load(cfg.Workflow.DefinitionFile)
	if err != nil {
		return nil, fmt.Errorf("load workflow definition: %w", err)
	}

	rt := &runtime{cfg: cfg, logger: logger}
	switch cfg.Storage.Driver {
	case config.DriverMemory, config.DriverSQLite:
		dsn := cfg.Storage.Path
		if cfg.Storage.Driver == config.DriverMemory {
			logger.Warn("Using in-memory store, state is lost on exit")
			dsn = repository.MemoryDSN
		}
		store, err := repository.OpenSQLite(ctx, dsn)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		rt.closeFns = append(rt.closeFns, func() { _ = store.Close() })
		rt.store = store
	default:
		pool, err := initDatabase(ctx, cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("database initialization failed: %w", err)
		}
		rt.closeFns = append(rt.closeFns, pool.Close)
		store := repository.NewPostgresStore(pool)
		if err := store.Migrate(ctx); err != nil {
			rt.Close()
			return nil, fmt.Errorf("migrate database: %w", err)
		}
		rt.store = store
	}

	metrics, err := observability.NewMetrics(nil)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	rt.service = services.NewWorkflowService(rt.store, def,
		services.WithLogger(logger),
		services.WithMetrics(metrics),
		services.WithNotifier(notifications.NewSink(notifications.Options{
			NtfyTopic:      cfg.Notifications.NtfyTopic,
			RequestTimeout: cfg.Notifications.RequestTimeout,
		}, logger)),
	)
	return rt, nil
}

func initDatabase(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*pgxpool.Pool, error) {
	logger.Debug("Initializing database connection", "host", cfg.DB.Host, "database", cfg.DB.Name)

	poolConfig, err := pgxpool.ParseConfig(cfg.ConnString())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	if cfg.DB.MaxConns > 0 {
		poolConfig.MaxConns = cfg.DB.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}

func newRootCommand() *cobra.Command {
	var configFlag string
	ctx := newCommandContext(&configFlag)

	rootCmd := &cobra.Command{
		Use:           "broadcast-ops",
		Short:         "Episode production workflow service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")

	rootCmd.AddCommand(newServeCommand(ctx))
	rootCmd.AddCommand(newMigrateCommand(ctx))
	rootCmd.AddCommand(newRepairCommand(ctx))
	rootCmd.AddCommand(newSnapshotCommand(ctx))
	rootCmd.AddCommand(newDefinitionCommand(ctx))

	return rootCmd
}
