package migrations

import (
	"fmt"
	"sort"
	"time"

	"github.com/shepherrrd/schemaflow/internal/dberrors"
	"github.com/shepherrrd/schemaflow/internal/models"
)

// Migration is one named step of the ledger. Once saved it is immutable; only
// AddBackend may attach SQL for a backend it was not rendered for.
type Migration struct {
	Name string
	ID   string

	// From is the previous migration's name, empty for the first one.
	From string

	// Schema is the state the database is in after this migration.
	Schema *models.Snapshot

	// TableRenames and ColumnRenames are the rename hints the migration was
	// diffed with, kept so SQL for another backend renders the same way.
	TableRenames  map[string]string
	ColumnRenames map[string]map[string]string

	Up        map[string]string
	Down      map[string]string
	Checksum  string
	CreatedAt time.Time
}

// Backends lists the backends the migration has SQL for, sorted.
func (m *Migration) Backends() []string {
	names := make([]string, 0, len(m.Up))
	for name := range m.Up {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (m *Migration) UpSQL(backend string) (string, error) {
	sql, ok := m.Up[backend]
	if !ok {
		return "", fmt.Errorf("migration %s has no SQL for backend %s", m.Name, backend)
	}
	return sql, nil
}

func (m *Migration) DownSQL(backend string) (string, error) {
	sql, ok := m.Down[backend]
	if !ok {
		return "", fmt.Errorf("migration %s has no SQL for backend %s", m.Name, backend)
	}
	return sql, nil
}

func (m *Migration) diffOptions() DiffOptions {
	return DiffOptions{
		TableRenames:     m.TableRenames,
		ColumnRenames:    m.ColumnRenames,
		ImplicitDefaults: true,
	}
}

// VerifyChecksum checks the schema against the checksum recorded when the
// migration was created.
func (m *Migration) VerifyChecksum() error {
	if m.Checksum == "" {
		return nil
	}
	sum, err := m.Schema.Checksum()
	if err != nil {
		return err
	}
	if sum != m.Checksum {
		return fmt.Errorf("migration %s: %w", m.Name, dberrors.ErrChecksumMismatch)
	}
	return nil
}
