package migrations

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/shepherrrd/schemaflow/internal/dberrors"
	"github.com/shepherrrd/schemaflow/internal/drivers"
	"github.com/shepherrrd/schemaflow/internal/models"
)

// MigrationManager authors migrations from a target schema and runs them
// through a Ledger.
type MigrationManager struct {
	ledger   *Ledger
	backends []drivers.DatabaseDriver
	logger   *slog.Logger
}

// NewMigrationManager renders new migrations for every given backend.
func NewMigrationManager(ledger *Ledger, backends ...drivers.DatabaseDriver) *MigrationManager {
	return &MigrationManager{
		ledger:   ledger,
		backends: backends,
		logger:   ledger.logger,
	}
}

func (mm *MigrationManager) Ledger() *Ledger {
	return mm.ledger
}

// latestSchema is the schema recorded by the newest migration.
func (mm *MigrationManager) latestSchema() (*models.Snapshot, *Migration, error) {
	latest, err := mm.ledger.LastMigration()
	if err != nil {
		return nil, nil, err
	}
	if latest == nil {
		return models.NewSnapshot(), nil, nil
	}
	return latest.Schema, latest, nil
}

// PendingOperations diffs the newest recorded schema against target.
func (mm *MigrationManager) PendingOperations(target *models.Snapshot, opts DiffOptions) ([]models.Operation, error) {
	before, _, err := mm.latestSchema()
	if err != nil {
		return nil, err
	}
	return Diff(before, target, opts)
}

// AddMigration records the changes between the newest migration and target
// as a migration called name. It returns nil when there is nothing to record.
func (mm *MigrationManager) AddMigration(ctx context.Context, name string, target *models.Snapshot, opts DiffOptions) (*Migration, error) {
	if _, ok := target.Table(BookkeepingTable); ok {
		return nil, &dberrors.SchemaConflictError{Table: BookkeepingTable, Reason: "table name is reserved"}
	}
	if existing, _ := mm.ledger.store.Get(name); existing != nil {
		return nil, fmt.Errorf("migration %s already exists", name)
	}

	resolved, err := models.ResolveTypes(target)
	if err != nil {
		return nil, err
	}
	before, latest, err := mm.latestSchema()
	if err != nil {
		return nil, err
	}
	ops, err := Diff(before, resolved, opts)
	if err != nil {
		return nil, err
	}
	if len(ops) == 0 {
		mm.logger.InfoContext(ctx, "no changes detected, migration not created",
			"operation", "add_migration",
			"migration", name,
		)
		return nil, nil
	}

	m := &Migration{
		Name:          name,
		ID:            uuid.NewString(),
		Schema:        resolved,
		TableRenames:  opts.TableRenames,
		ColumnRenames: opts.ColumnRenames,
		Up:            map[string]string{},
		Down:          map[string]string{},
		CreatedAt:     time.Now().UTC(),
	}
	if latest == nil {
		ops = withBookkeeping(ops)
	} else {
		m.From = latest.Name
	}
	if m.Checksum, err = resolved.Checksum(); err != nil {
		return nil, err
	}
	for _, driver := range mm.backends {
		up, down, err := renderMigration(driver, before, ops)
		if err != nil {
			return nil, err
		}
		m.Up[driver.Name()] = up
		m.Down[driver.Name()] = down
	}

	if err := mm.ledger.store.Save(m); err != nil {
		return nil, fmt.Errorf("failed to save migration %s: %w", name, err)
	}
	if err := mm.ledger.store.SetLatest(m.Name); err != nil {
		return nil, err
	}
	mm.logger.InfoContext(ctx, "migration created",
		"operation", "add_migration",
		"migration", name,
		"operations", len(ops),
	)
	return m, nil
}

// UpdateDatabase applies every pending migration.
func (mm *MigrationManager) UpdateDatabase(ctx context.Context, conn Connection) (int, error) {
	return mm.ledger.Migrate(ctx, conn, "")
}

// RollbackDatabase unapplies the newest steps applied migrations.
func (mm *MigrationManager) RollbackDatabase(ctx context.Context, conn Connection, steps int) (int, error) {
	if steps <= 0 {
		return 0, nil
	}
	all, prefix, err := mm.ledger.appliedPrefix(ctx, conn)
	if err != nil {
		return 0, err
	}
	if prefix == 0 {
		return 0, fmt.Errorf("no migrations to rollback: %w", dberrors.ErrNoMigrations)
	}
	target := ""
	if steps < prefix {
		target = all[prefix-steps-1].Name
	}
	return mm.ledger.Unmigrate(ctx, conn, target)
}

// RemoveLastMigration deletes the newest migration. It refuses when any of
// conns has it applied.
func (mm *MigrationManager) RemoveLastMigration(ctx context.Context, conns ...Connection) (*Migration, error) {
	last, err := mm.ledger.LastMigration()
	if err != nil {
		return nil, err
	}
	if last == nil {
		return nil, dberrors.ErrNoMigrations
	}
	for _, conn := range conns {
		applied, err := mm.ledger.LastApplied(ctx, conn)
		if err != nil {
			return nil, err
		}
		if applied != nil && applied.Name == last.Name {
			return nil, fmt.Errorf("cannot remove %s: %w", last.Name, dberrors.ErrMigrationApplied)
		}
	}
	return mm.ledger.RemoveLast()
}

// MigrationStatus is one line of ListMigrations.
type MigrationStatus struct {
	Name      string
	Applied   bool
	CreatedAt time.Time
	Backends  []string
}

// ListMigrations reports every migration with its applied state on conn.
func (mm *MigrationManager) ListMigrations(ctx context.Context, conn Connection) ([]MigrationStatus, error) {
	all, prefix, err := mm.ledger.appliedPrefix(ctx, conn)
	if err != nil {
		return nil, err
	}
	out := make([]MigrationStatus, len(all))
	for i, m := range all {
		out[i] = MigrationStatus{
			Name:      m.Name,
			Applied:   i < prefix,
			CreatedAt: m.CreatedAt,
			Backends:  m.Backends(),
		}
	}
	return out, nil
}
