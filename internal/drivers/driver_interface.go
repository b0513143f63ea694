package drivers

import (
	"database/sql"

	"gorm.io/gorm"

	"github.com/shepherrrd/schemaflow/internal/models"
	"github.com/shepherrrd/schemaflow/internal/query"
)

// AlterClass says how a backend changes existing tables.
type AlterClass int

const (
	// NativeAlter backends change columns in place with ALTER TABLE.
	NativeAlter AlterClass = iota
	// RebuildRequired backends recreate a table to drop or retype a column.
	RebuildRequired
)

func (c AlterClass) String() string {
	if c == RebuildRequired {
		return "rebuild-required"
	}
	return "native-alter"
}

type Capabilities struct {
	Alter AlterClass
	// Subqueries is false for engines that reject IN (SELECT ...) filters.
	Subqueries bool
	// TransactionalDDL is false when DDL commits implicitly.
	TransactionalDDL bool
}

// MigrationSession is run on the single connection a migration uses.
type MigrationSession struct {
	// Before runs before the transaction begins.
	Before []string
	// Check runs inside the transaction after the migration's statements.
	// Any row it returns fails the migration.
	Check string
	// After runs once the transaction has committed or rolled back.
	After []string
}

// DatabaseDriver is one backend: it connects through gorm, renders schema
// operations to SQL and classifies driver failures.
type DatabaseDriver interface {
	Name() string
	Connect(connectionString string, opts ...ConnectOption) (*gorm.DB, error)
	GetSQLDB(db *gorm.DB) (*sql.DB, error)
	Capabilities() Capabilities
	Compiler() *query.Compiler

	// ColumnType maps a resolved column to the backend's type name.
	ColumnType(col models.ColumnSpec) (string, error)

	// RenderOperations renders ops, applied in order to a database matching
	// current, as SQL text with one statement per line group.
	RenderOperations(current *models.Snapshot, ops []models.Operation) (string, error)

	// MigrationSession lists the statements that wrap every migration
	// transaction.
	MigrationSession() MigrationSession

	// WrapError turns a driver failure into a SqlExecutionError.
	WrapError(statement string, err error) error
}
