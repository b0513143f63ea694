package migrations

import (
	"sort"

	"github.com/shepherrrd/schemaflow/internal/dberrors"
	"github.com/shepherrrd/schemaflow/internal/models"
)

// DiffOptions tunes how two snapshots are compared.
type DiffOptions struct {
	// TableRenames maps an old table name to its new name. Without a hint a
	// renamed table is dropped and recreated, losing its rows.
	TableRenames map[string]string

	// ColumnRenames maps table (new name) -> old column -> new column.
	// Without a hint a renamed column is removed and re-added, losing its data.
	ColumnRenames map[string]map[string]string

	// ImplicitDefaults backfills NOT NULL additions that have no default
	// with the type's zero value instead of failing.
	ImplicitDefaults bool

	// TableIsEmpty reports tables known to hold no rows. NOT NULL columns
	// without a default may be added to those.
	TableIsEmpty func(table string) bool
}

// Diff computes the operations that turn before into after. The order is:
// table renames, table creations (referenced tables first), per-table column
// changes, foreign keys of created tables, then constraint removal and drops
// of removed tables (referencing tables first). Column changes run before
// drops so that references to a dropped table are gone by the time it is.
func Diff(before, after *models.Snapshot, opts DiffOptions) ([]models.Operation, error) {
	before, err := models.ResolveTypes(before)
	if err != nil {
		return nil, err
	}
	after, err = models.ResolveTypes(after)
	if err != nil {
		return nil, err
	}
	if err := after.Validate(); err != nil {
		return nil, err
	}

	var ops []models.Operation
	working := before

	for _, from := range sortedKeys(opts.TableRenames) {
		to := opts.TableRenames[from]
		_, inBefore := working.Tables[from]
		_, inAfter := after.Tables[to]
		_, taken := working.Tables[to]
		if !inBefore || !inAfter || taken {
			continue
		}
		op := models.RenameTable{From: from, To: to}
		if working, err = working.Apply(op); err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}

	var created []string
	for _, name := range after.TableNames() {
		if _, ok := working.Tables[name]; !ok {
			created = append(created, name)
		}
	}
	created = orderByDependencies(created, func(name string) []string {
		return after.Tables[name].References()
	})
	for _, name := range created {
		ops = append(ops, models.CreateTable{Table: after.Tables[name].Clone()})
	}

	for _, name := range after.TableNames() {
		old, ok := working.Tables[name]
		if !ok {
			continue
		}
		tableOps, err := diffTable(old, after.Tables[name], opts)
		if err != nil {
			return nil, err
		}
		ops = append(ops, tableOps...)
	}

	for _, name := range created {
		if t := after.Tables[name]; t.HasForeignKeys() {
			ops = append(ops, models.AddTableConstraints{Table: t.Clone()})
		}
	}

	var dropped []string
	for _, name := range working.TableNames() {
		if _, ok := after.Tables[name]; !ok {
			dropped = append(dropped, name)
		}
	}
	dropped = orderByDependencies(dropped, func(name string) []string {
		return working.Tables[name].References()
	})
	for _, name := range dropped {
		if t := working.Tables[name]; t.HasForeignKeys() {
			ops = append(ops, models.RemoveTableConstraints{Table: t.Clone()})
		}
	}
	for i := len(dropped) - 1; i >= 0; i-- {
		ops = append(ops, models.DropTable{Table: working.Tables[dropped[i]].Clone()})
	}

	return ops, nil
}

func diffTable(oldTable, newTable *models.TableSpec, opts DiffOptions) ([]models.Operation, error) {
	var changes, adds, removes []models.Operation

	renamedFrom := map[string]bool{}
	renamedTo := map[string]bool{}
	hints := opts.ColumnRenames[newTable.Name]
	for _, from := range sortedKeys(hints) {
		to := hints[from]
		oldCol, inOld := oldTable.Column(from)
		newCol, inNew := newTable.Column(to)
		if !inOld || !inNew || oldTable.HasColumn(to) {
			continue
		}
		renamedFrom[from] = true
		renamedTo[to] = true
		changes = append(changes, models.ChangeColumn{Table: newTable.Name, Old: oldCol, New: newCol})
	}

	for _, col := range newTable.Columns {
		if renamedTo[col.Name] {
			continue
		}
		oldCol, ok := oldTable.Column(col.Name)
		if !ok {
			if !col.Nullable && col.Default == nil && !opts.ImplicitDefaults {
				if opts.TableIsEmpty == nil || !opts.TableIsEmpty(newTable.Name) {
					return nil, &dberrors.SchemaConflictError{
						Table:  newTable.Name,
						Column: col.Name,
						Reason: "NOT NULL column added without a default; existing rows would violate it",
					}
				}
			}
			adds = append(adds, models.AddColumn{Table: newTable.Name, Column: col})
			continue
		}
		if !oldCol.Equal(col) {
			changes = append(changes, models.ChangeColumn{Table: newTable.Name, Old: oldCol, New: col})
		}
	}

	for _, col := range oldTable.Columns {
		if renamedFrom[col.Name] || newTable.HasColumn(col.Name) {
			continue
		}
		removes = append(removes, models.RemoveColumn{Table: newTable.Name, Column: col})
	}

	ops := append(changes, adds...)
	return append(ops, removes...), nil
}

// orderByDependencies sorts names so that every table comes after the tables
// it references. Ties and cycles fall back to name order.
func orderByDependencies(names []string, deps func(string) []string) []string {
	pending := map[string]bool{}
	for _, n := range names {
		pending[n] = true
	}
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)

	var out []string
	for len(pending) > 0 {
		progressed := false
		for _, n := range sorted {
			if !pending[n] {
				continue
			}
			ready := true
			for _, d := range deps(n) {
				if d != n && pending[d] {
					ready = false
					break
				}
			}
			if ready {
				out = append(out, n)
				delete(pending, n)
				progressed = true
			}
		}
		if !progressed {
			for _, n := range sorted {
				if pending[n] {
					out = append(out, n)
					delete(pending, n)
					break
				}
			}
		}
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
