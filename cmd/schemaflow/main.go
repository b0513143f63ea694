// Command schemaflow authors, renders and applies migrations.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/shepherrrd/schemaflow/internal/config"
	dbcontext "github.com/shepherrrd/schemaflow/internal/context"
	"github.com/shepherrrd/schemaflow/internal/drivers"
	"github.com/shepherrrd/schemaflow/internal/logging"
	"github.com/shepherrrd/schemaflow/internal/migrations"
)

const version = "0.3.0"

var (
	configFile string
	envFile    string
	dsnFlag    string
	driverFlag string
	dirFlag    string
)

// app is what every command shares once the root pre-run has loaded config.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *migrations.Metrics
	ledger  *migrations.Ledger
	tp      *sdktrace.TracerProvider
}

var cli app

func main() {
	rootCmd := &cobra.Command{
		Use:           "schemaflow",
		Short:         "Schema migrations for postgres, mysql and sqlite",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return cli.setup(cmd.Context())
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return cli.teardown(cmd.Context())
		},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "YAML config file (default schemaflow.yaml if present)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "dotenv file (default .env if present)")
	rootCmd.PersistentFlags().StringVar(&dsnFlag, "dsn", "", "database connection string (or set DATABASE_URL)")
	rootCmd.PersistentFlags().StringVar(&driverFlag, "driver", "", "database driver (or set SCHEMAFLOW_DRIVER)")
	rootCmd.PersistentFlags().StringVar(&dirFlag, "dir", "", "migrations directory (or set SCHEMAFLOW_MIGRATIONS_DIR)")

	rootCmd.AddCommand(makeMigrationCmd())
	rootCmd.AddCommand(diffCmd())
	rootCmd.AddCommand(sqlCmd())
	rootCmd.AddCommand(listCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(unmigrateCmd())
	rootCmd.AddCommand(rollbackCmd())
	rootCmd.AddCommand(collapseCmd())
	rootCmd.AddCommand(addBackendCmd())
	rootCmd.AddCommand(removeLastCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func (a *app) setup(ctx context.Context) error {
	cfg, err := config.Load(config.LoadOptions{ConfigFile: configFile, EnvFile: envFile})
	if err != nil {
		return err
	}
	if dsnFlag != "" {
		cfg.DatabaseURL = dsnFlag
	}
	if driverFlag != "" {
		cfg.Driver = driverFlag
	}
	if dirFlag != "" {
		cfg.MigrationsDir = dirFlag
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logging.SetupLogger(os.Stderr, cfg.LogFormat, level)

	if a.tp, err = logging.InitTracer(ctx, cfg); err != nil {
		return fmt.Errorf("failed to initialize tracer: %w", err)
	}

	a.metrics = migrations.NewMetrics()
	a.ledger = migrations.NewLedger(
		migrations.NewFsStore(cfg.MigrationsDir),
		migrations.WithLogger(a.logger),
		migrations.WithMetrics(a.metrics),
	)
	return nil
}

func (a *app) teardown(ctx context.Context) error {
	if a.cfg != nil && a.cfg.MetricsTextfile != "" {
		if err := a.metrics.WriteTextfile(a.cfg.MetricsTextfile); err != nil {
			a.logger.WarnContext(ctx, "failed to write metrics", "path", a.cfg.MetricsTextfile, "error", err)
		}
	}
	if a.tp != nil {
		return a.tp.Shutdown(ctx)
	}
	return nil
}

// manager renders new migrations for every configured backend.
func (a *app) manager() (*migrations.MigrationManager, error) {
	var backends []drivers.DatabaseDriver
	for _, name := range a.cfg.Backends {
		driver, err := drivers.NewDriver(name)
		if err != nil {
			return nil, err
		}
		backends = append(backends, driver)
	}
	return migrations.NewMigrationManager(a.ledger, backends...), nil
}

// connect opens the configured database with statement metrics and, when
// enabled, gorm spans.
func (a *app) connect() (*dbcontext.DbContext, error) {
	if a.cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("a database is required: pass --dsn or set DATABASE_URL")
	}
	driver, err := drivers.NewDriver(a.cfg.Driver)
	if err != nil {
		return nil, err
	}
	observer, err := drivers.NewStatementObserver(driver.Name(), a.logger, a.metrics.Registry())
	if err != nil {
		return nil, err
	}
	return dbcontext.NewDbContext(dbcontext.DbContextOptions{
		ConnectionString: a.cfg.DatabaseURL,
		Driver:           driver,
		LogLevel:         a.cfg.GormLogLevel,
		Tracing:          a.cfg.OtelEnabled,
		Observer:         observer,
		Logger:           a.logger,
	})
}

// withConnection runs fn holding the configured connection exclusively.
func (a *app) withConnection(ctx context.Context, fn func(*dbcontext.DbContext) error) error {
	db, err := a.connect()
	if err != nil {
		return err
	}
	defer db.Close()
	return db.Exclusive(ctx, fn)
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "schemaflow version %s\n", version)
		},
	}
}
