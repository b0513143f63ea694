package schemaflow

import (
	"log/slog"

	"github.com/shepherrrd/schemaflow/internal/drivers"
	"github.com/shepherrrd/schemaflow/internal/migrations"
)

type MigrationManager = migrations.MigrationManager
type Migration = migrations.Migration
type DiffOptions = migrations.DiffOptions

// NewMigrationManager keeps migrations under migrationsDir and renders them
// for the named backends.
func NewMigrationManager(migrationsDir string, logger *slog.Logger, backends ...string) (*MigrationManager, error) {
	var opts []migrations.LedgerOption
	if logger != nil {
		opts = append(opts, migrations.WithLogger(logger))
	}
	ledger := migrations.NewLedger(migrations.NewFsStore(migrationsDir), opts...)

	var list []drivers.DatabaseDriver
	for _, name := range backends {
		driver, err := drivers.NewDriver(name)
		if err != nil {
			return nil, err
		}
		list = append(list, driver)
	}
	return migrations.NewMigrationManager(ledger, list...), nil
}
