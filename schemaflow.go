// Package schemaflow declares database schemas as Go structs, records their
// changes as migrations for several backends, and queries them with
// backend-neutral filters.
package schemaflow

import (
	"reflect"

	"github.com/shepherrrd/schemaflow/internal/context"
	"github.com/shepherrrd/schemaflow/internal/dberrors"
	"github.com/shepherrrd/schemaflow/internal/drivers"
	"github.com/shepherrrd/schemaflow/internal/models"
)

type DbContext = context.DbContext
type DbSet = context.DbSet

type DbContextOptions = context.DbContextOptions

type Snapshot = models.Snapshot
type TableSpec = models.TableSpec
type ColumnSpec = models.ColumnSpec
type Association = models.Association

// NewDbContext connects to connectionString with the named driver
// (postgres, mysql or sqlite).
func NewDbContext(connectionString string, driverType string) (*DbContext, error) {
	driver, err := drivers.NewDriver(driverType)
	if err != nil {
		return nil, err
	}
	return context.NewDbContext(DbContextOptions{
		ConnectionString: connectionString,
		Driver:           driver,
	})
}

func NewDbContextWithOptions(options DbContextOptions) (*DbContext, error) {
	return context.NewDbContext(options)
}

// RegisterEntity declares T's table on ctx.
func RegisterEntity[T any](ctx *DbContext) (*DbSet, error) {
	var zero T
	return ctx.RegisterEntity(zero)
}

func GetEntityType[T any]() reflect.Type {
	var zero T
	return reflect.TypeOf(zero)
}

// SnapshotOf builds the schema declared by entities without connecting.
func SnapshotOf(entities ...any) (*Snapshot, map[string]map[string]string, error) {
	return models.SnapshotFromEntities(entities...)
}

var (
	IsUnresolvedType       = dberrors.IsUnresolvedType
	IsSchemaConflict       = dberrors.IsSchemaConflict
	IsUnsupportedOperation = dberrors.IsUnsupportedOperation
	IsOutOfOrder           = dberrors.IsOutOfOrder
	IsSqlExecution         = dberrors.IsSqlExecution
	IsSubqueryRewrite      = dberrors.IsSubqueryRewrite
)
