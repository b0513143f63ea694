package migrations

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/shepherrrd/schemaflow/internal/dberrors"
	"github.com/shepherrrd/schemaflow/internal/drivers"
	"github.com/shepherrrd/schemaflow/internal/models"
	"github.com/shepherrrd/schemaflow/internal/query"
)

// BookkeepingTable records the migrations applied to a database.
const BookkeepingTable = "schemaflow_migrations"

const (
	directionApply   = "apply"
	directionUnapply = "unapply"
)

// BookkeepingSpec is the definition of the bookkeeping table.
func BookkeepingSpec() *models.TableSpec {
	return models.NewTable(BookkeepingTable,
		models.Col("name", models.Known(models.Text)).AsPrimaryKey(),
	)
}

type appliedMigration struct {
	Name string `gorm:"column:name;primaryKey"`
}

func (appliedMigration) TableName() string {
	return BookkeepingTable
}

// Connection is a database the ledger applies migrations to. Callers must not
// share one connection between concurrent ledger calls.
type Connection interface {
	GetDB() *gorm.DB
	GetDriver() drivers.DatabaseDriver
}

// Ledger is the ordered migration history kept in a Store, and its applied
// state on individual connections.
type Ledger struct {
	store   Store
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *Metrics
}

type LedgerOption func(*Ledger)

func WithLogger(logger *slog.Logger) LedgerOption {
	return func(l *Ledger) { l.logger = logger }
}

func WithMetrics(m *Metrics) LedgerOption {
	return func(l *Ledger) { l.metrics = m }
}

func NewLedger(store Store, opts ...LedgerOption) *Ledger {
	l := &Ledger{
		store:  store,
		logger: slog.Default(),
		tracer: otel.Tracer("github.com/shepherrrd/schemaflow/internal/migrations"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) Store() Store {
	return l.store
}

// AllMigrations returns the whole history in ledger order.
func (l *Ledger) AllMigrations() ([]*Migration, error) {
	return Ordered(l.store)
}

// LastMigration returns the newest migration, or nil for an empty ledger.
func (l *Ledger) LastMigration() (*Migration, error) {
	return l.store.Latest()
}

// MigrationsSince returns the migrations after name, or all of them when
// name is empty.
func (l *Ledger) MigrationsSince(name string) ([]*Migration, error) {
	all, err := l.AllMigrations()
	if err != nil {
		return nil, err
	}
	if name == "" {
		return all, nil
	}
	idx := indexOf(all, name)
	if idx < 0 {
		return nil, fmt.Errorf("%w: %s", dberrors.ErrUnknownMigration, name)
	}
	return all[idx+1:], nil
}

// OperationsBetween diffs the schemas recorded by two migrations. An empty
// from means the empty schema.
func (l *Ledger) OperationsBetween(from, to string) ([]models.Operation, error) {
	before := models.NewSnapshot()
	if from != "" {
		m, err := l.store.Get(from)
		if err != nil {
			return nil, err
		}
		before = m.Schema
	}
	target, err := l.store.Get(to)
	if err != nil {
		return nil, err
	}
	return Diff(before, target.Schema, DiffOptions{ImplicitDefaults: true})
}

// EnsureBookkeeping creates the bookkeeping table if it does not exist yet.
func (l *Ledger) EnsureBookkeeping(ctx context.Context, conn Connection) error {
	driver := conn.GetDriver()
	sql, err := driver.RenderOperations(nil, []models.Operation{models.CreateTableIfNotExists{Table: BookkeepingSpec()}})
	if err != nil {
		return err
	}
	if err := conn.GetDB().WithContext(ctx).Exec(sql).Error; err != nil {
		return driver.WrapError(sql, err)
	}
	return nil
}

// AppliedNames lists the migrations recorded on conn, in no particular order.
func (l *Ledger) AppliedNames(ctx context.Context, conn Connection) ([]string, error) {
	if err := l.EnsureBookkeeping(ctx, conn); err != nil {
		return nil, err
	}
	var names []string
	if err := conn.GetDB().WithContext(ctx).Model(&appliedMigration{}).Pluck("name", &names).Error; err != nil {
		return nil, conn.GetDriver().WrapError("SELECT name FROM "+BookkeepingTable, err)
	}
	return names, nil
}

// appliedPrefix returns the ledger and the length of its prefix applied on
// conn. A gap in the applied set is reported as an error.
func (l *Ledger) appliedPrefix(ctx context.Context, conn Connection) ([]*Migration, int, error) {
	all, err := l.AllMigrations()
	if err != nil {
		return nil, 0, err
	}
	names, err := l.AppliedNames(ctx, conn)
	if err != nil {
		return nil, 0, err
	}
	applied := make(map[string]bool, len(names))
	for _, n := range names {
		applied[n] = true
	}

	prefix := 0
	for prefix < len(all) && applied[all[prefix].Name] {
		delete(applied, all[prefix].Name)
		prefix++
	}
	for _, m := range all[prefix:] {
		if applied[m.Name] {
			return nil, 0, fmt.Errorf("migration %s is recorded as applied but %s is not", m.Name, all[prefix].Name)
		}
	}
	for name := range applied {
		l.logger.WarnContext(ctx, "database records a migration missing from the ledger",
			"operation", "applied_prefix",
			"migration", name,
		)
	}
	return all, prefix, nil
}

// UnappliedMigrations returns the migrations not yet applied on conn, in
// ledger order.
func (l *Ledger) UnappliedMigrations(ctx context.Context, conn Connection) ([]*Migration, error) {
	all, prefix, err := l.appliedPrefix(ctx, conn)
	if err != nil {
		return nil, err
	}
	return all[prefix:], nil
}

// LastApplied returns the newest migration applied on conn, or nil.
func (l *Ledger) LastApplied(ctx context.Context, conn Connection) (*Migration, error) {
	all, prefix, err := l.appliedPrefix(ctx, conn)
	if err != nil || prefix == 0 {
		return nil, err
	}
	return all[prefix-1], nil
}

// Apply runs m's up SQL and records it. m must be the first unapplied migration.
func (l *Ledger) Apply(ctx context.Context, conn Connection, m *Migration) error {
	pending, err := l.UnappliedMigrations(ctx, conn)
	if err != nil {
		return err
	}
	if len(pending) == 0 || pending[0].Name != m.Name {
		expected := ""
		if len(pending) > 0 {
			expected = pending[0].Name
		}
		return &dberrors.OutOfOrderMigrationError{Migration: m.Name, Expected: expected, Direction: directionApply}
	}
	sql, err := m.UpSQL(conn.GetDriver().Name())
	if err != nil {
		return err
	}
	return l.run(ctx, conn, m, directionApply, sql, func(tx *gorm.DB) error {
		return tx.Create(&appliedMigration{Name: m.Name}).Error
	})
}

// Unapply runs m's down SQL and removes its record. m must be the last
// applied migration.
func (l *Ledger) Unapply(ctx context.Context, conn Connection, m *Migration) error {
	last, err := l.LastApplied(ctx, conn)
	if err != nil {
		return err
	}
	if last == nil || last.Name != m.Name {
		expected := ""
		if last != nil {
			expected = last.Name
		}
		return &dberrors.OutOfOrderMigrationError{Migration: m.Name, Expected: expected, Direction: directionUnapply}
	}
	sql, err := m.DownSQL(conn.GetDriver().Name())
	if err != nil {
		return err
	}
	return l.run(ctx, conn, m, directionUnapply, sql, func(tx *gorm.DB) error {
		return tx.Where("name = ?", m.Name).Delete(&appliedMigration{}).Error
	})
}

// run executes sql and then record. With transactional DDL both happen in one
// transaction; otherwise record runs only after every statement succeeded and
// a failure leaves the earlier statements applied.
func (l *Ledger) run(ctx context.Context, conn Connection, m *Migration, direction, sql string, record func(tx *gorm.DB) error) (err error) {
	driver := conn.GetDriver()
	ctx, span := l.tracer.Start(ctx, "migration."+direction, trace.WithAttributes(
		attribute.String("migration.name", m.Name),
		attribute.String("db.system", driver.Name()),
	))
	start := time.Now()
	defer func() {
		l.metrics.observe(driver.Name(), direction, start, err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	l.logger.InfoContext(ctx, "running migration",
		"operation", direction,
		"migration", m.Name,
		"backend", driver.Name(),
	)

	statements := query.SplitStatements(sql)
	exec := func(tx *gorm.DB, stmts []string) error {
		for _, stmt := range stmts {
			if err := tx.Exec(stmt).Error; err != nil {
				return driver.WrapError(stmt, err)
			}
		}
		return nil
	}

	recordWrapped := func(tx *gorm.DB) error {
		if err := record(tx); err != nil {
			return driver.WrapError("record "+m.Name+" in "+BookkeepingTable, err)
		}
		return nil
	}

	if driver.Capabilities().TransactionalDDL {
		session := driver.MigrationSession()
		err = conn.GetDB().WithContext(ctx).Connection(func(pinned *gorm.DB) error {
			if err := exec(pinned, session.Before); err != nil {
				return err
			}
			txErr := pinned.Transaction(func(tx *gorm.DB) error {
				if err := exec(tx, statements); err != nil {
					return err
				}
				if err := checkIntegrity(tx, driver, session.Check); err != nil {
					return err
				}
				return recordWrapped(tx)
			})
			if txErr != nil {
				txErr = driver.WrapError("COMMIT", txErr)
			}
			// Restore the session even when ctx is already done.
			restore := pinned.WithContext(context.WithoutCancel(ctx))
			if err := exec(restore, session.After); err != nil && txErr == nil {
				txErr = err
			}
			return txErr
		})
	} else {
		db := conn.GetDB().WithContext(ctx)
		if err = exec(db, statements); err == nil {
			err = recordWrapped(db)
		}
	}
	if err != nil {
		l.logger.ErrorContext(ctx, "migration failed",
			"operation", direction,
			"migration", m.Name,
			"backend", driver.Name(),
			"error", err,
		)
		return fmt.Errorf("failed to %s migration %s: %w", direction, m.Name, err)
	}
	return nil
}

// checkIntegrity runs check and fails when it returns any row.
func checkIntegrity(tx *gorm.DB, driver drivers.DatabaseDriver, check string) error {
	if check == "" {
		return nil
	}
	rows, err := tx.Raw(check).Rows()
	if err != nil {
		return driver.WrapError(check, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return driver.WrapError(check, err)
	}
	var violations []string
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return driver.WrapError(check, err)
		}
		parts := make([]string, len(cols))
		for i, c := range cols {
			if raw, ok := values[i].([]byte); ok {
				values[i] = string(raw)
			}
			parts[i] = fmt.Sprintf("%s=%v", c, values[i])
		}
		violations = append(violations, strings.Join(parts, " "))
	}
	if err := rows.Err(); err != nil {
		return driver.WrapError(check, err)
	}
	if len(violations) > 0 {
		return driver.WrapError(check, fmt.Errorf("%w: %s", dberrors.ErrIntegrityViolation, strings.Join(violations, "; ")))
	}
	return nil
}

// Migrate applies pending migrations up to and including target, or all of
// them when target is empty. It returns how many were applied.
func (l *Ledger) Migrate(ctx context.Context, conn Connection, target string) (int, error) {
	pending, err := l.UnappliedMigrations(ctx, conn)
	if err != nil {
		return 0, err
	}
	if target != "" {
		if _, err := l.store.Get(target); err != nil {
			return 0, err
		}
		idx := indexOf(pending, target)
		if idx < 0 {
			return 0, nil
		}
		pending = pending[:idx+1]
	}
	for i, m := range pending {
		if err := l.Apply(ctx, conn, m); err != nil {
			return i, err
		}
	}
	return len(pending), nil
}

// Unmigrate unapplies migrations newest first until target is the last one
// applied, or until none is applied when target is empty. It returns how
// many were unapplied.
func (l *Ledger) Unmigrate(ctx context.Context, conn Connection, target string) (int, error) {
	all, prefix, err := l.appliedPrefix(ctx, conn)
	if err != nil {
		return 0, err
	}
	stop := 0
	if target != "" {
		idx := indexOf(all, target)
		if idx < 0 {
			return 0, fmt.Errorf("%w: %s", dberrors.ErrUnknownMigration, target)
		}
		if idx >= prefix {
			return 0, nil
		}
		stop = idx + 1
	}
	count := 0
	for i := prefix - 1; i >= stop; i-- {
		if err := l.Unapply(ctx, conn, all[i]); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// Collapse replaces every migration up to and including through with a single
// migration called newName that creates the same schema. It refuses when any
// origin connection has applied one of the replaced migrations. The store is
// rewritten in several steps; a failure part way leaves it inconsistent.
func (l *Ledger) Collapse(ctx context.Context, newName, through string, origins ...Connection) error {
	all, err := l.AllMigrations()
	if err != nil {
		return err
	}
	idx := indexOf(all, through)
	if idx < 0 {
		return fmt.Errorf("%w: %s", dberrors.ErrUnknownMigration, through)
	}
	collapsed, followers := all[:idx+1], all[idx+1:]
	if indexOf(followers, newName) >= 0 {
		return fmt.Errorf("migration %s already exists", newName)
	}

	for _, conn := range origins {
		names, err := l.AppliedNames(ctx, conn)
		if err != nil {
			return err
		}
		for _, m := range collapsed {
			if slices.Contains(names, m.Name) {
				return fmt.Errorf("cannot collapse %s: %w on %s", m.Name, dberrors.ErrMigrationApplied, conn.GetDriver().Name())
			}
		}
	}

	target := collapsed[len(collapsed)-1]
	ops, err := Diff(models.NewSnapshot(), target.Schema, DiffOptions{ImplicitDefaults: true})
	if err != nil {
		return err
	}
	ops = withBookkeeping(ops)

	synthetic := &Migration{
		Name:      newName,
		ID:        uuid.NewString(),
		Schema:    target.Schema.Clone(),
		Up:        map[string]string{},
		Down:      map[string]string{},
		CreatedAt: time.Now().UTC(),
	}
	if synthetic.Checksum, err = synthetic.Schema.Checksum(); err != nil {
		return err
	}
	for _, backend := range target.Backends() {
		driver, err := drivers.NewDriver(backend)
		if err != nil {
			return err
		}
		if synthetic.Up[backend], synthetic.Down[backend], err = renderMigration(driver, models.NewSnapshot(), ops); err != nil {
			return err
		}
	}

	for _, m := range collapsed {
		if err := l.store.Delete(m.Name); err != nil {
			return err
		}
	}
	if err := l.store.Save(synthetic); err != nil {
		return err
	}
	prev := newName
	for _, m := range followers {
		m.From = prev
		if err := l.store.Save(m); err != nil {
			return err
		}
		prev = m.Name
	}
	l.logger.InfoContext(ctx, "collapsed migrations",
		"operation", "collapse",
		"migration", newName,
		"replaced", len(collapsed),
	)
	return l.store.SetLatest(prev)
}

// AddBackend renders SQL for driver into every migration that lacks it.
func (l *Ledger) AddBackend(driver drivers.DatabaseDriver) error {
	all, err := l.AllMigrations()
	if err != nil {
		return err
	}
	before := models.NewSnapshot()
	for _, m := range all {
		if _, ok := m.Up[driver.Name()]; !ok {
			ops, err := Diff(before, m.Schema, m.diffOptions())
			if err != nil {
				return err
			}
			if m.From == "" {
				ops = withBookkeeping(ops)
			}
			if m.Up[driver.Name()], m.Down[driver.Name()], err = renderMigration(driver, before, ops); err != nil {
				return err
			}
			if err := l.store.Save(m); err != nil {
				return err
			}
		}
		before = m.Schema
	}
	return nil
}

// RemoveLast deletes the newest migration from the store.
func (l *Ledger) RemoveLast() (*Migration, error) {
	last, err := l.store.Latest()
	if err != nil {
		return nil, err
	}
	if last == nil {
		return nil, dberrors.ErrNoMigrations
	}
	if err := l.DeleteMigrations(last.Name); err != nil {
		return nil, err
	}
	return last, nil
}

// DeleteMigrations removes the named migrations, which must be the newest
// ones in ledger order. Whether a database still has them applied is not
// checked.
func (l *Ledger) DeleteMigrations(names ...string) error {
	if len(names) == 0 {
		return nil
	}
	all, err := l.AllMigrations()
	if err != nil {
		return err
	}
	keep := len(all) - len(names)
	if keep < 0 {
		return fmt.Errorf("cannot delete %d migrations from a ledger of %d", len(names), len(all))
	}
	for _, m := range all[keep:] {
		if !slices.Contains(names, m.Name) {
			return fmt.Errorf("cannot delete %v: migration %s follows them and is kept", names, m.Name)
		}
	}
	latest := ""
	if keep > 0 {
		latest = all[keep-1].Name
	}
	for i := len(all) - 1; i >= keep; i-- {
		if err := l.store.Delete(all[i].Name); err != nil {
			return err
		}
	}
	return l.store.SetLatest(latest)
}

func withBookkeeping(ops []models.Operation) []models.Operation {
	return append([]models.Operation{models.CreateTableIfNotExists{Table: BookkeepingSpec()}}, ops...)
}

// renderMigration renders ops applied to from, and their inverse applied to
// the result.
func renderMigration(driver drivers.DatabaseDriver, from *models.Snapshot, ops []models.Operation) (up, down string, err error) {
	from, err = models.ResolveTypes(from)
	if err != nil {
		return "", "", err
	}
	if up, err = driver.RenderOperations(from, ops); err != nil {
		return "", "", err
	}
	after, err := from.ApplyAll(ops)
	if err != nil {
		return "", "", err
	}
	if down, err = driver.RenderOperations(after, models.InvertAll(ops)); err != nil {
		return "", "", err
	}
	return up, down, nil
}

func indexOf(ms []*Migration, name string) int {
	return slices.IndexFunc(ms, func(m *Migration) bool { return m.Name == name })
}
