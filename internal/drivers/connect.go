package drivers

import (
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"
)

type connectConfig struct {
	logLevel  string
	tracing   bool
	observer  *StatementObserver
	maxConns  int
	idleConns int
}

type ConnectOption func(*connectConfig)

// WithLogLevel sets gorm's own logger: "info" logs every statement, "warn"
// slow statements and errors, "error" only errors, anything else is silent.
func WithLogLevel(level string) ConnectOption {
	return func(c *connectConfig) { c.logLevel = level }
}

// WithTracing installs the OpenTelemetry gorm plugin so every statement gets
// a span under the caller's context.
func WithTracing() ConnectOption {
	return func(c *connectConfig) { c.tracing = true }
}

// WithStatementObserver installs a plugin that logs and measures statements.
func WithStatementObserver(o *StatementObserver) ConnectOption {
	return func(c *connectConfig) { c.observer = o }
}

func WithPool(maxOpen, maxIdle int) ConnectOption {
	return func(c *connectConfig) {
		c.maxConns = maxOpen
		c.idleConns = maxIdle
	}
}

func newGormLogger(logLevel string) logger.Interface {
	var level logger.LogLevel
	switch logLevel {
	case "info": // every statement
		level = logger.Info
	case "warn": // slow statements and errors
		level = logger.Warn
	case "error":
		level = logger.Error
	default:
		return logger.Default.LogMode(logger.Silent)
	}
	return logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  level,
			IgnoreRecordNotFoundError: true,
			Colorful:                  true,
		},
	)
}

func open(dialector gorm.Dialector, opts []ConnectOption) (*gorm.DB, error) {
	cfg := &connectConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: newGormLogger(cfg.logLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s connection: %w", dialector.Name(), err)
	}

	if cfg.tracing {
		if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
			return nil, fmt.Errorf("failed to install tracing plugin: %w", err)
		}
	}
	if cfg.observer != nil {
		if err := db.Use(cfg.observer); err != nil {
			return nil, fmt.Errorf("failed to install statement observer: %w", err)
		}
	}

	if cfg.maxConns > 0 {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(cfg.maxConns)
		sqlDB.SetMaxIdleConns(cfg.idleConns)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}

	return db, nil
}
