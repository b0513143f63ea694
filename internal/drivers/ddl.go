package drivers

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/shepherrrd/schemaflow/internal/dberrors"
	"github.com/shepherrrd/schemaflow/internal/models"
)

// emitter renders one operation against the schema it is applied to.
type emitter interface {
	emit(current *models.Snapshot, op models.Operation) ([]string, error)
}

// renderOperations emits each operation against the snapshot produced by the
// operations before it, so emitters always see the table they alter.
func renderOperations(current *models.Snapshot, ops []models.Operation, e emitter) (string, error) {
	if current == nil {
		current = models.NewSnapshot()
	}
	var stmts []string
	for _, op := range ops {
		out, err := e.emit(current, op)
		if err != nil {
			return "", err
		}
		stmts = append(stmts, out...)

		next, err := current.Apply(op)
		if err != nil {
			return "", fmt.Errorf("failed to apply %s: %w", op, err)
		}
		current = next
	}
	return strings.Join(stmts, "\n"), nil
}

// literalStyle captures how a backend writes constant values in DDL.
type literalStyle struct {
	escapeBackslash bool
	blob            func([]byte) string
}

func hexBlob(b []byte) string {
	return "x'" + hex.EncodeToString(b) + "'"
}

func (s literalStyle) text(v string) string {
	v = strings.ReplaceAll(v, "'", "''")
	if s.escapeBackslash {
		v = strings.ReplaceAll(v, `\`, `\\`)
	}
	return "'" + v + "'"
}

func (s literalStyle) render(v models.Value) string {
	switch v.Kind {
	case models.NullValue:
		return "NULL"
	case models.BoolValue:
		return strconv.FormatBool(v.Bool)
	case models.IntValue, models.BigIntValue:
		return strconv.FormatInt(v.Int, 10)
	case models.RealValue:
		return strconv.FormatFloat(v.Real, 'g', -1, 64)
	case models.TextValue, models.JsonValue:
		return s.text(v.Text)
	case models.BlobValue:
		return s.blob(v.Blob)
	default:
		return s.text(v.Time.UTC().Format(models.TimestampLayout))
	}
}

// knownType maps a resolved column type. Named types pass through verbatim.
func knownType(backend, table string, col models.ColumnSpec, mapKnown func(models.SqlType) string) (string, error) {
	switch col.Type.Kind {
	case models.NamedType:
		return col.Type.Name, nil
	case models.DeferredType:
		return "", &dberrors.UnresolvedTypeError{Key: col.Type.Key.String(), Table: table, Column: col.Name}
	}
	name := mapKnown(col.Type.Known)
	if name == "" {
		return "", &dberrors.UnsupportedOperationError{
			Operation: "column type " + col.Type.String(),
			Backend:   backend,
			Reason:    "no matching column type",
		}
	}
	return name, nil
}

// backfillsZero reports whether adding col fills existing rows with its
// type's zero value. The column itself keeps no default.
func backfillsZero(col models.ColumnSpec) bool {
	return col.Default == nil && !col.Nullable && !col.Auto && !col.DefaultOrZero().IsNull()
}

func unsupported(backend string, op models.Operation, reason string) error {
	return &dberrors.UnsupportedOperationError{Operation: op.String(), Backend: backend, Reason: reason}
}

func fkName(table, column string) string {
	return table + "_" + column + "_fkey"
}

func uniqueName(table, column string) string {
	return table + "_" + column + "_key"
}

func pkName(table string) string {
	return table + "_pkey"
}

func sameReference(a, b *models.ForeignKeyRef) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func sameDefault(a, b *models.Value) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
