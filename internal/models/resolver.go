package models

import (
	"github.com/shepherrrd/schemaflow/internal/dberrors"
)

// ResolveTypes returns a copy of s in which every deferred column type has
// been replaced by a concrete one. Primary-key types are registered as
// "PK:<table>" keys and substitution repeats until nothing changes, so chains
// of references resolve in dependency order. Anything still deferred at the
// fixpoint is missing or part of a cycle.
func ResolveTypes(s *Snapshot) (*Snapshot, error) {
	out := s.Clone()
	for {
		changed := false

		for key, t := range out.Types {
			if !t.IsDeferred() {
				continue
			}
			if target, ok := out.Types[t.Key]; ok && !target.IsDeferred() {
				out.Types[key] = target
				changed = true
			}
		}

		for _, name := range out.TableNames() {
			table := out.Tables[name]
			for i := range table.Columns {
				col := &table.Columns[i]
				if !col.Type.IsDeferred() {
					continue
				}
				if target, ok := out.Types[col.Type.Key]; ok && !target.IsDeferred() {
					col.Type = target
					changed = true
				}
			}
			if pk, ok := table.PrimaryKey(); ok && !pk.Type.IsDeferred() {
				key := PK(name)
				if existing, ok := out.Types[key]; !ok || !existing.Equal(pk.Type) {
					out.Types[key] = pk.Type
					changed = true
				}
			}
		}

		if !changed {
			break
		}
	}

	for _, name := range out.TableNames() {
		for _, col := range out.Tables[name].Columns {
			if col.Type.IsDeferred() {
				return nil, &dberrors.UnresolvedTypeError{Key: col.Type.Key.String(), Table: name, Column: col.Name}
			}
		}
	}
	for key, t := range out.Types {
		if t.IsDeferred() {
			return nil, &dberrors.UnresolvedTypeError{Key: key.String()}
		}
	}
	return out, nil
}
