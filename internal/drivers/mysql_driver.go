package drivers

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	mysqlerr "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/shepherrrd/schemaflow/internal/dberrors"
	"github.com/shepherrrd/schemaflow/internal/models"
	"github.com/shepherrrd/schemaflow/internal/query"
)

// MySQLDriver alters tables in place. MySQL commits DDL implicitly, so a
// failed migration can leave earlier statements applied.
type MySQLDriver struct {
	compiler *query.Compiler
	literals literalStyle
}

func NewMySQLDriver() *MySQLDriver {
	return &MySQLDriver{
		compiler: query.NewCompiler(query.QuestionMarks, query.Backticks),
		literals: literalStyle{escapeBackslash: true, blob: hexBlob},
	}
}

func (m *MySQLDriver) Name() string {
	return "mysql"
}

func (m *MySQLDriver) Connect(connectionString string, opts ...ConnectOption) (*gorm.DB, error) {
	return open(mysql.Open(connectionString), opts)
}

func (m *MySQLDriver) GetSQLDB(db *gorm.DB) (*sql.DB, error) {
	return db.DB()
}

func (m *MySQLDriver) Capabilities() Capabilities {
	return Capabilities{Alter: NativeAlter, Subqueries: true, TransactionalDDL: false}
}

func (m *MySQLDriver) Compiler() *query.Compiler {
	return m.compiler
}

func (m *MySQLDriver) MigrationSession() MigrationSession {
	return MigrationSession{}
}

func (m *MySQLDriver) WrapError(statement string, err error) error {
	if err == nil || dberrors.IsSqlExecution(err) {
		return err
	}
	wrapped := &dberrors.SqlExecutionError{Backend: m.Name(), Statement: statement, Err: err}
	var myErr *mysqlerr.MySQLError
	if errors.As(err, &myErr) {
		wrapped.Code = strconv.Itoa(int(myErr.Number))
	}
	return wrapped
}

func (m *MySQLDriver) ColumnType(col models.ColumnSpec) (string, error) {
	return m.columnType("", col)
}

// columnType uses VARCHAR(255) for text columns that need an index, since
// MySQL cannot index TEXT without a prefix length.
func (m *MySQLDriver) columnType(table string, col models.ColumnSpec) (string, error) {
	indexed := col.PK || col.Unique || col.Reference != nil
	return knownType(m.Name(), table, col, func(t models.SqlType) string {
		switch t {
		case models.Bool:
			return "BOOLEAN"
		case models.Int:
			return "INT"
		case models.BigInt:
			return "BIGINT"
		case models.Real:
			return "DOUBLE"
		case models.Text:
			if indexed {
				return "VARCHAR(255)"
			}
			return "TEXT"
		case models.Blob:
			return "BLOB"
		case models.Json:
			return "JSON"
		case models.Timestamp:
			return "DATETIME"
		}
		return ""
	})
}

func (m *MySQLDriver) defaultClause(col models.ColumnSpec, v models.Value) (string, error) {
	typ, err := m.columnType("", col)
	if err != nil {
		return "", err
	}
	lit := m.literals.render(v)
	switch typ {
	case "TEXT", "BLOB", "JSON":
		// MySQL only accepts expression defaults on these types.
		lit = "(" + lit + ")"
	}
	return " DEFAULT " + lit, nil
}

// columnDef renders the column without its unique constraint, which is always
// added under an explicit name.
func (m *MySQLDriver) columnDef(table string, col models.ColumnSpec, withPK bool) (string, error) {
	typ, err := m.columnType(table, col)
	if err != nil {
		return "", err
	}
	if col.Auto && typ != "INT" && typ != "BIGINT" {
		return "", &dberrors.UnsupportedOperationError{
			Operation: "auto-increment " + col.Type.String(),
			Backend:   m.Name(),
			Reason:    "only Int and BigInt columns can auto-increment",
		}
	}
	var sb strings.Builder
	sb.WriteString(query.Backticks.Quote(col.Name) + " " + typ)
	if !col.Nullable {
		sb.WriteString(" NOT NULL")
	}
	if col.Auto {
		sb.WriteString(" AUTO_INCREMENT")
	}
	if withPK && col.PK {
		sb.WriteString(" PRIMARY KEY")
	}
	return sb.String(), nil
}

func (m *MySQLDriver) RenderOperations(current *models.Snapshot, ops []models.Operation) (string, error) {
	return renderOperations(current, ops, m)
}

func (m *MySQLDriver) emit(current *models.Snapshot, op models.Operation) ([]string, error) {
	q := query.Backticks.Quote
	switch o := op.(type) {
	case models.CreateTable:
		stmt, err := m.createTable(o.Table, false)
		return []string{stmt}, err
	case models.CreateTableIfNotExists:
		stmt, err := m.createTable(o.Table, true)
		return []string{stmt}, err
	case models.DropTable:
		return []string{fmt.Sprintf("DROP TABLE %s;", q(o.Table.Name))}, nil
	case models.RenameTable:
		return m.renameTable(current, o)
	case models.AddColumn:
		return m.addColumn(o)
	case models.RemoveColumn:
		var stmts []string
		if o.Column.Reference != nil {
			stmts = append(stmts, m.dropForeignKey(o.Table, o.Column.Name))
		}
		return append(stmts, fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s;", q(o.Table), q(o.Column.Name))), nil
	case models.ChangeColumn:
		return m.changeColumn(o)
	case models.AddTableConstraints:
		var stmts []string
		for _, c := range o.Table.Columns {
			if c.Reference != nil {
				stmts = append(stmts, m.addForeignKey(o.Table.Name, c))
			}
		}
		return stmts, nil
	case models.RemoveTableConstraints:
		var stmts []string
		for _, c := range o.Table.Columns {
			if c.Reference != nil {
				stmts = append(stmts, m.dropForeignKey(o.Table.Name, c.Name))
			}
		}
		return stmts, nil
	default:
		return nil, unsupported(m.Name(), op, "unknown operation")
	}
}

func (m *MySQLDriver) createTable(t *models.TableSpec, ifNotExists bool) (string, error) {
	q := query.Backticks.Quote
	defs := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		def, err := m.columnDef(t.Name, c, true)
		if err != nil {
			return "", err
		}
		if c.Default != nil && !c.Auto {
			clause, err := m.defaultClause(c, *c.Default)
			if err != nil {
				return "", err
			}
			def += clause
		}
		defs = append(defs, "  "+def)
	}
	for _, c := range t.Columns {
		if c.Unique {
			defs = append(defs, fmt.Sprintf("  CONSTRAINT %s UNIQUE (%s)", q(uniqueName(t.Name, c.Name)), q(c.Name)))
		}
	}
	verb := "CREATE TABLE"
	if ifNotExists {
		verb += " IF NOT EXISTS"
	}
	return fmt.Sprintf("%s %s (\n%s\n);", verb, q(t.Name), strings.Join(defs, ",\n")), nil
}

// renameTable re-creates foreign keys and renames unique indexes so their
// names follow the new table name. MySQL cannot rename a foreign key.
func (m *MySQLDriver) renameTable(current *models.Snapshot, o models.RenameTable) ([]string, error) {
	q := query.Backticks.Quote
	stmts := []string{fmt.Sprintf("RENAME TABLE %s TO %s;", q(o.From), q(o.To))}
	t, ok := current.Table(o.From)
	if !ok {
		return stmts, nil
	}
	for _, c := range t.Columns {
		if c.Unique {
			stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s RENAME INDEX %s TO %s;",
				q(o.To), q(uniqueName(o.From, c.Name)), q(uniqueName(o.To, c.Name))))
		}
		if c.Reference != nil {
			stmts = append(stmts,
				fmt.Sprintf("ALTER TABLE %s DROP FOREIGN KEY %s;", q(o.To), q(fkName(o.From, c.Name))),
				m.addForeignKey(o.To, c))
		}
	}
	return stmts, nil
}

func (m *MySQLDriver) addColumn(o models.AddColumn) ([]string, error) {
	q := query.Backticks.Quote
	def, err := m.columnDef(o.Table, o.Column, true)
	if err != nil {
		return nil, err
	}
	if dflt := o.Column.DefaultOrZero(); !o.Column.Auto && !dflt.IsNull() {
		clause, err := m.defaultClause(o.Column, dflt)
		if err != nil {
			return nil, err
		}
		def += clause
	}
	stmts := []string{fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s;", q(o.Table), def)}
	if backfillsZero(o.Column) {
		stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s DROP DEFAULT;", q(o.Table), q(o.Column.Name)))
	}
	if o.Column.Unique {
		stmts = append(stmts, m.addUnique(o.Table, o.Column.Name))
	}
	if o.Column.Reference != nil {
		stmts = append(stmts, m.addForeignKey(o.Table, o.Column))
	}
	return stmts, nil
}

func (m *MySQLDriver) changeColumn(o models.ChangeColumn) ([]string, error) {
	q := query.Backticks.Quote
	table, oldCol, newCol := o.Table, o.Old, o.New
	if oldCol.Auto != newCol.Auto {
		return nil, unsupported(m.Name(), o, "auto-increment cannot be toggled in place")
	}
	if newCol.Auto && oldCol.PK != newCol.PK {
		return nil, unsupported(m.Name(), o, "an auto-increment column must stay the primary key")
	}

	renamed := oldCol.Name != newCol.Name
	retyped := !oldCol.Type.Equal(newCol.Type) || oldCol.Nullable != newCol.Nullable ||
		!sameDefault(oldCol.Default, newCol.Default) || oldCol.Unique != newCol.Unique ||
		oldCol.PK != newCol.PK || !sameReference(oldCol.Reference, newCol.Reference)
	// The foreign key pins the column definition, so it is dropped before
	// any change and re-added afterwards.
	fkTouched := renamed || retyped

	var stmts []string
	if oldCol.Reference != nil && fkTouched {
		stmts = append(stmts, m.dropForeignKey(table, oldCol.Name))
	}
	if oldCol.Unique && !newCol.Unique {
		stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s DROP INDEX %s;", q(table), q(uniqueName(table, oldCol.Name))))
	}
	if oldCol.PK && !newCol.PK {
		stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s DROP PRIMARY KEY;", q(table)))
	}

	if !newCol.Nullable && oldCol.Nullable && newCol.Default != nil {
		stmts = append(stmts, fmt.Sprintf("UPDATE %s SET %s = %s WHERE %s IS NULL;",
			q(table), q(oldCol.Name), m.literals.render(*newCol.Default), q(oldCol.Name)))
	}

	if renamed || retyped {
		def, err := m.columnDef(table, newCol, false)
		if err != nil {
			return nil, err
		}
		if newCol.Default != nil && !newCol.Auto {
			clause, err := m.defaultClause(newCol, *newCol.Default)
			if err != nil {
				return nil, err
			}
			def += clause
		}
		if renamed {
			stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s CHANGE COLUMN %s %s;", q(table), q(oldCol.Name), def))
		} else {
			stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s MODIFY COLUMN %s;", q(table), def))
		}
	}

	if renamed && oldCol.Unique && newCol.Unique {
		stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s RENAME INDEX %s TO %s;",
			q(table), q(uniqueName(table, oldCol.Name)), q(uniqueName(table, newCol.Name))))
	}
	if !oldCol.PK && newCol.PK {
		stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s ADD PRIMARY KEY (%s);", q(table), q(newCol.Name)))
	}
	if !oldCol.Unique && newCol.Unique {
		stmts = append(stmts, m.addUnique(table, newCol.Name))
	}
	if newCol.Reference != nil && (oldCol.Reference == nil || fkTouched) {
		stmts = append(stmts, m.addForeignKey(table, newCol))
	}
	return stmts, nil
}

func (m *MySQLDriver) addUnique(table, column string) string {
	q := query.Backticks.Quote
	return fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s UNIQUE (%s);", q(table), q(uniqueName(table, column)), q(column))
}

func (m *MySQLDriver) addForeignKey(table string, col models.ColumnSpec) string {
	q := query.Backticks.Quote
	return fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s(%s);",
		q(table), q(fkName(table, col.Name)), q(col.Name), q(col.Reference.Table), q(col.Reference.Column))
}

func (m *MySQLDriver) dropForeignKey(table, column string) string {
	q := query.Backticks.Quote
	return fmt.Sprintf("ALTER TABLE %s DROP FOREIGN KEY %s;", q(table), q(fkName(table, column)))
}
