package drivers

import (
	"errors"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

const statementStartKey = "schemaflow:statement_start"

// StatementObserver is a gorm plugin that logs every raw statement at debug
// level and records its duration and failures.
type StatementObserver struct {
	backend  string
	logger   *slog.Logger
	duration *prometheus.HistogramVec
	failures *prometheus.CounterVec
}

// NewStatementObserver registers its collectors on reg. Registering twice
// reuses the collectors already present.
func NewStatementObserver(backend string, logger *slog.Logger, reg prometheus.Registerer) (*StatementObserver, error) {
	if logger == nil {
		logger = slog.Default()
	}
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "schemaflow",
		Name:      "statement_duration_seconds",
		Help:      "Duration of SQL statements issued by schemaflow.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"backend"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "schemaflow",
		Name:      "statement_failures_total",
		Help:      "SQL statements that returned an error.",
	}, []string{"backend"})

	if reg != nil {
		var err error
		if duration, err = registerOrExisting(reg, duration); err != nil {
			return nil, err
		}
		if failures, err = registerOrExisting(reg, failures); err != nil {
			return nil, err
		}
	}

	return &StatementObserver{
		backend:  backend,
		logger:   logger,
		duration: duration,
		failures: failures,
	}, nil
}

func registerOrExisting[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func (p *StatementObserver) Name() string {
	return "schemaflow:statements"
}

func (p *StatementObserver) Initialize(db *gorm.DB) error {
	if err := db.Callback().Raw().Before("gorm:raw").Register("schemaflow:raw_start", p.before); err != nil {
		return err
	}
	if err := db.Callback().Raw().After("gorm:raw").Register("schemaflow:raw_end", p.after); err != nil {
		return err
	}
	if err := db.Callback().Row().Before("gorm:row").Register("schemaflow:row_start", p.before); err != nil {
		return err
	}
	return db.Callback().Row().After("gorm:row").Register("schemaflow:row_end", p.after)
}

func (p *StatementObserver) before(db *gorm.DB) {
	db.InstanceSet(statementStartKey, time.Now())
}

func (p *StatementObserver) after(db *gorm.DB) {
	stmt := db.Statement
	if stmt == nil {
		return
	}
	var elapsed time.Duration
	if v, ok := db.InstanceGet(statementStartKey); ok {
		if start, ok := v.(time.Time); ok {
			elapsed = time.Since(start)
		}
	}
	p.duration.WithLabelValues(p.backend).Observe(elapsed.Seconds())

	ctx := stmt.Context
	if db.Error != nil {
		p.failures.WithLabelValues(p.backend).Inc()
		p.logger.WarnContext(ctx, "statement failed",
			"backend", p.backend,
			"sql", stmt.SQL.String(),
			"duration", elapsed,
			"error", db.Error,
		)
		return
	}
	p.logger.DebugContext(ctx, "statement executed",
		"backend", p.backend,
		"sql", stmt.SQL.String(),
		"rows", db.RowsAffected,
		"duration", elapsed,
	)
}
