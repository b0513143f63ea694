// Package context holds the connection handle: a gorm connection paired with
// the driver that renders SQL for it.
package context

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"sync"

	"golang.org/x/sync/semaphore"
	"gorm.io/gorm"

	"github.com/shepherrrd/schemaflow/internal/drivers"
	"github.com/shepherrrd/schemaflow/internal/models"
	"github.com/shepherrrd/schemaflow/internal/query"
)

// DbContext is a single connection. It is safe to call from several
// goroutines, but migrations and multi-statement work should run inside
// Exclusive so they do not interleave.
type DbContext struct {
	db       *gorm.DB
	driver   drivers.DatabaseDriver
	logger   *slog.Logger
	entities map[reflect.Type]*DbSet
	mu       sync.RWMutex
	// exclusive serializes callers that need the connection to themselves.
	exclusive *semaphore.Weighted
}

type DbContextOptions struct {
	ConnectionString string
	Driver           drivers.DatabaseDriver
	// LogLevel is gorm's own statement log: silent, error, warn or info.
	LogLevel string
	Tracing  bool
	Observer *drivers.StatementObserver
	Logger   *slog.Logger
	// DB reuses an open connection instead of connecting.
	DB *gorm.DB
}

func NewDbContext(options DbContextOptions) (*DbContext, error) {
	if options.Driver == nil {
		return nil, fmt.Errorf("a driver is required")
	}
	db := options.DB
	if db == nil {
		opts := []drivers.ConnectOption{drivers.WithLogLevel(options.LogLevel)}
		if options.Tracing {
			opts = append(opts, drivers.WithTracing())
		}
		if options.Observer != nil {
			opts = append(opts, drivers.WithStatementObserver(options.Observer))
		}
		var err error
		db, err = options.Driver.Connect(options.ConnectionString, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
	}

	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &DbContext{
		db:        db,
		driver:    options.Driver,
		logger:    logger.With("backend", options.Driver.Name()),
		entities:  make(map[reflect.Type]*DbSet),
		exclusive: semaphore.NewWeighted(1),
	}, nil
}

// RegisterEntity declares the table of entity. Registering a type twice
// returns the same set.
func (ctx *DbContext) RegisterEntity(entity any) (*DbSet, error) {
	entityType := reflect.TypeOf(entity)
	if entityType != nil && entityType.Kind() == reflect.Ptr {
		entityType = entityType.Elem()
	}

	ctx.mu.Lock()
	defer ctx.mu.Unlock()

	if set, exists := ctx.entities[entityType]; exists {
		return set, nil
	}
	model, err := models.NewEntityModel(entity)
	if err != nil {
		return nil, err
	}
	for _, other := range ctx.entities {
		for _, theirs := range other.entityModel.Tables() {
			for _, ours := range model.Tables() {
				if theirs.Name == ours.Name {
					return nil, fmt.Errorf("table %s is already registered by %s", ours.Name, other.entityType)
				}
			}
		}
	}
	set := newDbSet(ctx, entityType, model)
	ctx.entities[entityType] = set
	return set, nil
}

func (ctx *DbContext) GetDbSet(entityType reflect.Type) *DbSet {
	ctx.mu.RLock()
	defer ctx.mu.RUnlock()
	return ctx.entities[entityType]
}

func (ctx *DbContext) GetEntityModels() map[reflect.Type]*models.EntityModel {
	ctx.mu.RLock()
	defer ctx.mu.RUnlock()

	result := make(map[reflect.Type]*models.EntityModel, len(ctx.entities))
	for k, v := range ctx.entities {
		result[k] = v.entityModel
	}
	return result
}

// Snapshot is the schema declared by the registered entities and their
// association tables, with the column renames their old_name tags request.
func (ctx *DbContext) Snapshot() (*models.Snapshot, map[string]map[string]string) {
	ctx.mu.RLock()
	defer ctx.mu.RUnlock()

	snapshot := models.NewSnapshot()
	renames := make(map[string]map[string]string)
	for _, set := range ctx.entities {
		for _, table := range set.entityModel.Tables() {
			snapshot.Tables[table.Name] = table.Clone()
		}
		if len(set.entityModel.Renames) > 0 {
			renames[set.TableName()] = set.entityModel.Renames
		}
	}
	return snapshot, renames
}

// TableNames lists the registered tables and their association tables,
// sorted.
func (ctx *DbContext) TableNames() []string {
	ctx.mu.RLock()
	defer ctx.mu.RUnlock()
	names := make([]string, 0, len(ctx.entities))
	for _, set := range ctx.entities {
		for _, table := range set.entityModel.Tables() {
			names = append(names, table.Name)
		}
	}
	sort.Strings(names)
	return names
}

func (ctx *DbContext) GetDB() *gorm.DB {
	return ctx.db
}

func (ctx *DbContext) GetDriver() drivers.DatabaseDriver {
	return ctx.driver
}

func (ctx *DbContext) Compiler() *query.Compiler {
	return ctx.driver.Compiler()
}

// Exclusive runs fn while holding the connection exclusively. It waits for
// other holders or until c is done.
func (ctx *DbContext) Exclusive(c context.Context, fn func(*DbContext) error) error {
	if err := ctx.exclusive.Acquire(c, 1); err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer ctx.exclusive.Release(1)
	return fn(ctx)
}

func (ctx *DbContext) Close() error {
	sqlDB, err := ctx.driver.GetSQLDB(ctx.db)
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
