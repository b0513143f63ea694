package drivers

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/mattn/go-sqlite3"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/shepherrrd/schemaflow/internal/dberrors"
	"github.com/shepherrrd/schemaflow/internal/models"
	"github.com/shepherrrd/schemaflow/internal/query"
)

// rebuildSuffix names the temporary table used while rebuilding.
const rebuildSuffix = "__schemaflow_tmp"

// SQLiteDriver cannot drop, retype or rename columns in place; those changes
// rebuild the table. Foreign keys are declared inline in CREATE TABLE.
type SQLiteDriver struct {
	compiler   *query.Compiler
	literals   literalStyle
	subqueries bool
}

type SQLiteOption func(*SQLiteDriver)

// WithoutSubqueries makes queries resolve Subquery filters in a separate
// round trip instead of IN (SELECT ...).
func WithoutSubqueries() SQLiteOption {
	return func(s *SQLiteDriver) { s.subqueries = false }
}

func NewSQLiteDriver(opts ...SQLiteOption) *SQLiteDriver {
	s := &SQLiteDriver{
		compiler:   query.NewCompiler(query.QuestionMarks, query.DoubleQuotes),
		literals:   literalStyle{blob: hexBlob},
		subqueries: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *SQLiteDriver) Name() string {
	return "sqlite"
}

// Connect enables foreign key enforcement and pins the pool to one
// connection, so in-memory databases are shared by every statement.
func (s *SQLiteDriver) Connect(connectionString string, opts ...ConnectOption) (*gorm.DB, error) {
	if !strings.Contains(connectionString, "_foreign_keys") && !strings.Contains(connectionString, "_fk=") {
		sep := "?"
		if strings.Contains(connectionString, "?") {
			sep = "&"
		}
		connectionString += sep + "_foreign_keys=on"
	}
	opts = append([]ConnectOption{WithPool(1, 1)}, opts...)
	return open(sqlite.Open(connectionString), opts)
}

func (s *SQLiteDriver) GetSQLDB(db *gorm.DB) (*sql.DB, error) {
	return db.DB()
}

func (s *SQLiteDriver) Capabilities() Capabilities {
	return Capabilities{Alter: RebuildRequired, Subqueries: s.subqueries, TransactionalDDL: true}
}

func (s *SQLiteDriver) Compiler() *query.Compiler {
	return s.compiler
}

// MigrationSession turns foreign key enforcement off around the migration,
// since dropping a rebuilt table would otherwise delete or reject the rows
// referencing it. The pragma is ignored inside a transaction, so it is set
// before BEGIN. foreign_key_check then verifies every reference before
// commit.
func (s *SQLiteDriver) MigrationSession() MigrationSession {
	return MigrationSession{
		Before: []string{"PRAGMA foreign_keys = OFF"},
		Check:  "PRAGMA foreign_key_check",
		After:  []string{"PRAGMA foreign_keys = ON"},
	}
}

func (s *SQLiteDriver) WrapError(statement string, err error) error {
	if err == nil || dberrors.IsSqlExecution(err) {
		return err
	}
	wrapped := &dberrors.SqlExecutionError{Backend: s.Name(), Statement: statement, Err: err}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		wrapped.Code = strconv.Itoa(int(liteErr.ExtendedCode))
	}
	return wrapped
}

func (s *SQLiteDriver) ColumnType(col models.ColumnSpec) (string, error) {
	return s.columnType("", col)
}

func (s *SQLiteDriver) columnType(table string, col models.ColumnSpec) (string, error) {
	return knownType(s.Name(), table, col, func(t models.SqlType) string {
		switch t {
		case models.Bool, models.Int, models.BigInt:
			return "INTEGER"
		case models.Real:
			return "REAL"
		case models.Text, models.Json, models.Timestamp:
			return "TEXT"
		case models.Blob:
			return "BLOB"
		}
		return ""
	})
}

func (s *SQLiteDriver) columnDef(table string, col models.ColumnSpec) (string, error) {
	typ, err := s.columnType(table, col)
	if err != nil {
		return "", err
	}
	if col.Auto && (typ != "INTEGER" || !col.PK) {
		return "", &dberrors.UnsupportedOperationError{
			Operation: "auto-increment " + table + "." + col.Name,
			Backend:   s.Name(),
			Reason:    "only an INTEGER primary key can auto-increment",
		}
	}
	var sb strings.Builder
	sb.WriteString(query.DoubleQuotes.Quote(col.Name) + " " + typ)
	if !col.Nullable {
		sb.WriteString(" NOT NULL")
	}
	if col.PK {
		sb.WriteString(" PRIMARY KEY")
		if col.Auto {
			sb.WriteString(" AUTOINCREMENT")
		}
	}
	if col.Unique {
		sb.WriteString(" UNIQUE")
	}
	return sb.String(), nil
}

func (s *SQLiteDriver) RenderOperations(current *models.Snapshot, ops []models.Operation) (string, error) {
	return renderOperations(current, ops, s)
}

func (s *SQLiteDriver) emit(current *models.Snapshot, op models.Operation) ([]string, error) {
	q := query.DoubleQuotes.Quote
	switch o := op.(type) {
	case models.CreateTable:
		stmt, err := s.createTable(o.Table, o.Table.Name, false)
		return []string{stmt}, err
	case models.CreateTableIfNotExists:
		stmt, err := s.createTable(o.Table, o.Table.Name, true)
		return []string{stmt}, err
	case models.DropTable:
		return []string{fmt.Sprintf("DROP TABLE %s;", q(o.Table.Name))}, nil
	case models.RenameTable:
		return []string{fmt.Sprintf("ALTER TABLE %s RENAME TO %s;", q(o.From), q(o.To))}, nil
	case models.AddColumn:
		if stmt, ok, err := s.addColumnInPlace(o); err != nil || ok {
			return []string{stmt}, err
		}
		return s.rebuild(current, op)
	case models.RemoveColumn, models.ChangeColumn:
		return s.rebuild(current, op)
	case models.AddTableConstraints, models.RemoveTableConstraints:
		// Foreign keys live in the table definition.
		return nil, nil
	default:
		return nil, unsupported(s.Name(), op, "unknown operation")
	}
}

func (s *SQLiteDriver) createTable(t *models.TableSpec, name string, ifNotExists bool) (string, error) {
	q := query.DoubleQuotes.Quote
	defs := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		def, err := s.columnDef(t.Name, c)
		if err != nil {
			return "", err
		}
		if c.Default != nil && !c.Auto {
			def += " DEFAULT " + s.literals.render(*c.Default)
		}
		defs = append(defs, "  "+def)
	}
	for _, c := range t.Columns {
		if c.Reference != nil {
			defs = append(defs, fmt.Sprintf("  FOREIGN KEY (%s) REFERENCES %s(%s)",
				q(c.Name), q(c.Reference.Table), q(c.Reference.Column)))
		}
	}
	verb := "CREATE TABLE"
	if ifNotExists {
		verb += " IF NOT EXISTS"
	}
	return fmt.Sprintf("%s %s (\n%s\n);", verb, q(name), strings.Join(defs, ",\n")), nil
}

// addColumnInPlace uses ALTER TABLE ADD COLUMN when SQLite allows it for
// the column. ok is false when the table has to be rebuilt instead.
func (s *SQLiteDriver) addColumnInPlace(o models.AddColumn) (stmt string, ok bool, err error) {
	col := o.Column
	dflt := col.DefaultOrZero()
	switch {
	case col.PK, col.Unique, backfillsZero(col):
		return "", false, nil
	case col.Reference != nil && !dflt.IsNull():
		return "", false, nil
	case !col.Nullable && dflt.IsNull():
		return "", false, nil
	}
	def, err := s.columnDef(o.Table, col)
	if err != nil {
		return "", false, err
	}
	q := query.DoubleQuotes.Quote
	if col.Reference != nil {
		def += fmt.Sprintf(" REFERENCES %s(%s)", q(col.Reference.Table), q(col.Reference.Column))
	}
	if !dflt.IsNull() {
		def += " DEFAULT " + s.literals.render(dflt)
	}
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s;", q(o.Table), def), true, nil
}

// rebuild creates a temporary table with the new definition, copies the
// surviving columns, drops the original and renames the copy into place.
func (s *SQLiteDriver) rebuild(current *models.Snapshot, op models.Operation) ([]string, error) {
	q := query.DoubleQuotes.Quote
	name := op.TableName()
	before, ok := current.Table(name)
	if !ok {
		return nil, unsupported(s.Name(), op, "table "+name+" does not exist")
	}
	next, err := current.Apply(op)
	if err != nil {
		return nil, fmt.Errorf("failed to apply %s: %w", op, err)
	}
	after, _ := next.Table(name)

	tmp := name + rebuildSuffix
	create, err := s.createTable(after, tmp, false)
	if err != nil {
		return nil, err
	}

	// sources maps a column of the rebuilt table to the column it is copied from.
	sources := map[string]string{}
	for _, c := range after.Columns {
		if before.HasColumn(c.Name) {
			sources[c.Name] = c.Name
		}
	}
	if cc, ok := op.(models.ChangeColumn); ok && cc.Old.Name != cc.New.Name {
		delete(sources, cc.Old.Name)
		sources[cc.New.Name] = cc.Old.Name
	}

	var targets, exprs []string
	for _, c := range after.Columns {
		src, copied := sources[c.Name]
		if !copied {
			dflt := c.DefaultOrZero()
			if dflt.IsNull() {
				continue
			}
			targets = append(targets, q(c.Name))
			exprs = append(exprs, s.literals.render(dflt))
			continue
		}
		expr := q(src)
		old, _ := before.Column(src)
		if old.Nullable && !c.Nullable && c.Default != nil {
			expr = fmt.Sprintf("COALESCE(%s, %s)", expr, s.literals.render(*c.Default))
		}
		targets = append(targets, q(c.Name))
		exprs = append(exprs, expr)
	}

	return []string{
		create,
		fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s;", q(tmp), strings.Join(targets, ", "), strings.Join(exprs, ", "), q(name)),
		fmt.Sprintf("DROP TABLE %s;", q(name)),
		fmt.Sprintf("ALTER TABLE %s RENAME TO %s;", q(tmp), q(name)),
	}, nil
}
