package drivers

import (
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/shepherrrd/schemaflow/internal/dberrors"
	"github.com/shepherrrd/schemaflow/internal/models"
	"github.com/shepherrrd/schemaflow/internal/query"
)

// PostgreSQLDriver alters tables in place and runs DDL inside transactions.
type PostgreSQLDriver struct {
	compiler *query.Compiler
	literals literalStyle
}

func NewPostgreSQLDriver() *PostgreSQLDriver {
	return &PostgreSQLDriver{
		compiler: query.NewCompiler(query.Numbered, query.DoubleQuotes),
		literals: literalStyle{blob: func(b []byte) string {
			return `'\x` + hex.EncodeToString(b) + `'::bytea`
		}},
	}
}

func (p *PostgreSQLDriver) Name() string {
	return "postgres"
}

func (p *PostgreSQLDriver) Connect(connectionString string, opts ...ConnectOption) (*gorm.DB, error) {
	return open(postgres.Open(connectionString), opts)
}

func (p *PostgreSQLDriver) GetSQLDB(db *gorm.DB) (*sql.DB, error) {
	return db.DB()
}

func (p *PostgreSQLDriver) Capabilities() Capabilities {
	return Capabilities{Alter: NativeAlter, Subqueries: true, TransactionalDDL: true}
}

func (p *PostgreSQLDriver) Compiler() *query.Compiler {
	return p.compiler
}

func (p *PostgreSQLDriver) MigrationSession() MigrationSession {
	return MigrationSession{}
}

func (p *PostgreSQLDriver) WrapError(statement string, err error) error {
	if err == nil || dberrors.IsSqlExecution(err) {
		return err
	}
	wrapped := &dberrors.SqlExecutionError{Backend: p.Name(), Statement: statement, Err: err}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		wrapped.Code = pgErr.Code
	}
	return wrapped
}

func (p *PostgreSQLDriver) ColumnType(col models.ColumnSpec) (string, error) {
	return p.columnType("", col)
}

func (p *PostgreSQLDriver) baseType(table string, col models.ColumnSpec) (string, error) {
	return knownType(p.Name(), table, col, func(t models.SqlType) string {
		switch t {
		case models.Bool:
			return "BOOLEAN"
		case models.Int:
			return "INTEGER"
		case models.BigInt:
			return "BIGINT"
		case models.Real:
			return "DOUBLE PRECISION"
		case models.Text:
			return "TEXT"
		case models.Blob:
			return "BYTEA"
		case models.Json:
			return "JSONB"
		case models.Timestamp:
			return "TIMESTAMP"
		}
		return ""
	})
}

// columnType is baseType with auto-increment folded into the serial types.
func (p *PostgreSQLDriver) columnType(table string, col models.ColumnSpec) (string, error) {
	if !col.Auto {
		return p.baseType(table, col)
	}
	if col.Type.Kind == models.KnownType {
		switch col.Type.Known {
		case models.Int:
			return "SERIAL", nil
		case models.BigInt:
			return "BIGSERIAL", nil
		}
	}
	return "", &dberrors.UnsupportedOperationError{
		Operation: "auto-increment " + col.Type.String(),
		Backend:   p.Name(),
		Reason:    "only Int and BigInt columns can auto-increment",
	}
}

// columnDef renders name, type and inline constraints. The default clause is
// left to the caller.
func (p *PostgreSQLDriver) columnDef(table string, col models.ColumnSpec) (string, error) {
	typ, err := p.columnType(table, col)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	sb.WriteString(query.DoubleQuotes.Quote(col.Name) + " " + typ)
	if !col.Nullable {
		sb.WriteString(" NOT NULL")
	}
	if col.PK {
		sb.WriteString(" PRIMARY KEY")
	}
	if col.Unique {
		sb.WriteString(" UNIQUE")
	}
	return sb.String(), nil
}

func (p *PostgreSQLDriver) RenderOperations(current *models.Snapshot, ops []models.Operation) (string, error) {
	return renderOperations(current, ops, p)
}

func (p *PostgreSQLDriver) emit(current *models.Snapshot, op models.Operation) ([]string, error) {
	q := query.DoubleQuotes.Quote
	switch o := op.(type) {
	case models.CreateTable:
		stmt, err := p.createTable(o.Table, false)
		return []string{stmt}, err
	case models.CreateTableIfNotExists:
		stmt, err := p.createTable(o.Table, true)
		return []string{stmt}, err
	case models.DropTable:
		return []string{fmt.Sprintf("DROP TABLE %s;", q(o.Table.Name))}, nil
	case models.RenameTable:
		return p.renameTable(current, o)
	case models.AddColumn:
		return p.addColumn(o)
	case models.RemoveColumn:
		return []string{fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s;", q(o.Table), q(o.Column.Name))}, nil
	case models.ChangeColumn:
		return p.changeColumn(o)
	case models.AddTableConstraints:
		var stmts []string
		for _, c := range o.Table.Columns {
			if c.Reference != nil {
				stmts = append(stmts, p.addForeignKey(o.Table.Name, c))
			}
		}
		return stmts, nil
	case models.RemoveTableConstraints:
		var stmts []string
		for _, c := range o.Table.Columns {
			if c.Reference != nil {
				stmts = append(stmts, p.dropConstraint(o.Table.Name, fkName(o.Table.Name, c.Name)))
			}
		}
		return stmts, nil
	default:
		return nil, unsupported(p.Name(), op, "unknown operation")
	}
}

func (p *PostgreSQLDriver) createTable(t *models.TableSpec, ifNotExists bool) (string, error) {
	defs := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		def, err := p.columnDef(t.Name, c)
		if err != nil {
			return "", err
		}
		if c.Default != nil && !c.Auto {
			def += " DEFAULT " + p.literals.render(*c.Default)
		}
		defs = append(defs, "  "+def)
	}
	verb := "CREATE TABLE"
	if ifNotExists {
		verb += " IF NOT EXISTS"
	}
	return fmt.Sprintf("%s %s (\n%s\n);", verb, query.DoubleQuotes.Quote(t.Name), strings.Join(defs, ",\n")), nil
}

// renameTable also renames the constraints named after the table so later
// migrations can address them.
func (p *PostgreSQLDriver) renameTable(current *models.Snapshot, o models.RenameTable) ([]string, error) {
	q := query.DoubleQuotes.Quote
	stmts := []string{fmt.Sprintf("ALTER TABLE %s RENAME TO %s;", q(o.From), q(o.To))}
	t, ok := current.Table(o.From)
	if !ok {
		return stmts, nil
	}
	rename := func(from, to string) {
		stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s RENAME CONSTRAINT %s TO %s;", q(o.To), q(from), q(to)))
	}
	for _, c := range t.Columns {
		if c.PK {
			rename(pkName(o.From), pkName(o.To))
		}
		if c.Unique {
			rename(uniqueName(o.From, c.Name), uniqueName(o.To, c.Name))
		}
		if c.Reference != nil {
			rename(fkName(o.From, c.Name), fkName(o.To, c.Name))
		}
	}
	return stmts, nil
}

func (p *PostgreSQLDriver) addColumn(o models.AddColumn) ([]string, error) {
	def, err := p.columnDef(o.Table, o.Column)
	if err != nil {
		return nil, err
	}
	dflt := o.Column.DefaultOrZero()
	if !o.Column.Auto && !dflt.IsNull() {
		def += " DEFAULT " + p.literals.render(dflt)
	}
	q := query.DoubleQuotes.Quote
	stmts := []string{fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s;", q(o.Table), def)}
	if backfillsZero(o.Column) {
		// The zero value only fills existing rows.
		stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s DROP DEFAULT;", q(o.Table), q(o.Column.Name)))
	}
	if o.Column.Reference != nil {
		stmts = append(stmts, p.addForeignKey(o.Table, o.Column))
	}
	return stmts, nil
}

func (p *PostgreSQLDriver) changeColumn(o models.ChangeColumn) ([]string, error) {
	q := query.DoubleQuotes.Quote
	table, oldCol, newCol := o.Table, o.Old, o.New
	if oldCol.Auto != newCol.Auto {
		return nil, unsupported(p.Name(), o, "auto-increment cannot be toggled in place")
	}

	var stmts []string
	alter := func(format string, args ...any) {
		stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s ", q(table))+fmt.Sprintf(format, args...)+";")
	}

	if oldCol.Name != newCol.Name {
		alter("RENAME COLUMN %s TO %s", q(oldCol.Name), q(newCol.Name))
		if oldCol.Unique {
			alter("RENAME CONSTRAINT %s TO %s", q(uniqueName(table, oldCol.Name)), q(uniqueName(table, newCol.Name)))
		}
		if oldCol.Reference != nil {
			alter("RENAME CONSTRAINT %s TO %s", q(fkName(table, oldCol.Name)), q(fkName(table, newCol.Name)))
		}
	}
	name := q(newCol.Name)

	if !oldCol.Type.Equal(newCol.Type) {
		typ, err := p.baseType(table, newCol)
		if err != nil {
			return nil, err
		}
		alter("ALTER COLUMN %s TYPE %s USING %s::%s", name, typ, name, typ)
	}

	if !sameDefault(oldCol.Default, newCol.Default) {
		if newCol.Default == nil {
			alter("ALTER COLUMN %s DROP DEFAULT", name)
		} else {
			alter("ALTER COLUMN %s SET DEFAULT %s", name, p.literals.render(*newCol.Default))
		}
	}

	if oldCol.Nullable != newCol.Nullable {
		if newCol.Nullable {
			alter("ALTER COLUMN %s DROP NOT NULL", name)
		} else {
			if newCol.Default != nil {
				stmts = append(stmts, fmt.Sprintf("UPDATE %s SET %s = %s WHERE %s IS NULL;",
					q(table), name, p.literals.render(*newCol.Default), name))
			}
			alter("ALTER COLUMN %s SET NOT NULL", name)
		}
	}

	if oldCol.Unique != newCol.Unique {
		if newCol.Unique {
			alter("ADD CONSTRAINT %s UNIQUE (%s)", q(uniqueName(table, newCol.Name)), name)
		} else {
			alter("DROP CONSTRAINT %s", q(uniqueName(table, newCol.Name)))
		}
	}

	if oldCol.PK != newCol.PK {
		if newCol.PK {
			alter("ADD PRIMARY KEY (%s)", name)
		} else {
			alter("DROP CONSTRAINT %s", q(pkName(table)))
		}
	}

	if !sameReference(oldCol.Reference, newCol.Reference) {
		if oldCol.Reference != nil {
			stmts = append(stmts, p.dropConstraint(table, fkName(table, newCol.Name)))
		}
		if newCol.Reference != nil {
			stmts = append(stmts, p.addForeignKey(table, newCol))
		}
	}
	return stmts, nil
}

func (p *PostgreSQLDriver) addForeignKey(table string, col models.ColumnSpec) string {
	q := query.DoubleQuotes.Quote
	return fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s(%s);",
		q(table), q(fkName(table, col.Name)), q(col.Name), q(col.Reference.Table), q(col.Reference.Column))
}

func (p *PostgreSQLDriver) dropConstraint(table, constraint string) string {
	q := query.DoubleQuotes.Quote
	return fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT %s;", q(table), q(constraint))
}
