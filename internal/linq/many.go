package linq

import (
	"github.com/shepherrrd/schemaflow/internal/models"
	"github.com/shepherrrd/schemaflow/internal/query"
)

// ManyRef starts a predicate on a many field. Owner rows reach target rows
// through the association table's owner and has columns.
type ManyRef struct {
	assoc models.Association
}

func Many(a models.Association) ManyRef {
	return ManyRef{assoc: a}
}

// Contains matches owners linked to at least one target row satisfying
// filter. A nil filter matches owners with any link.
func (m ManyRef) Contains(filter query.BoolExpr) query.BoolExpr {
	a := m.assoc
	return query.SubqueryJoin{
		Column: query.Col(a.OwnerKey),
		Table:  a.Target,
		Target: query.TableCol(a.Table.Name, "owner"),
		Joins: []query.Join{{
			Table: a.Table.Name,
			Left:  query.TableCol(a.Table.Name, "has"),
			Right: query.TableCol(a.Target, a.TargetKey),
		}},
		Filter: filter,
	}
}

// ContainsKey matches owners linked to the target row keyed key.
func (m ManyRef) ContainsKey(key any) query.BoolExpr {
	return m.Contains(TableField(m.assoc.Target, m.assoc.TargetKey).Eq(key))
}

// Of matches the target rows linked to the owner keyed owner.
func (m ManyRef) Of(owner any) query.BoolExpr {
	return Field(m.assoc.TargetKey).InSelect(m.assoc.Table.Name, "has", query.Eq("owner", owner))
}
