// Package dberrors defines the failures surfaced by schema resolution,
// diffing, SQL emission, migration bookkeeping and predicate rewriting.
package dberrors

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownMigration is returned when a named migration is not part of the ledger.
	ErrUnknownMigration = errors.New("unknown migration")

	// ErrMigrationApplied is returned when collapsing would orphan a migration
	// that a connection already recorded as applied.
	ErrMigrationApplied = errors.New("migration already applied")

	// ErrChecksumMismatch is returned when a stored snapshot no longer matches
	// the checksum recorded next to it.
	ErrChecksumMismatch = errors.New("snapshot checksum mismatch")

	// ErrNoMigrations is returned when an operation needs at least one migration.
	ErrNoMigrations = errors.New("no migrations")

	// ErrIntegrityViolation is returned when a migration leaves rows that
	// break a constraint the backend only checks on demand.
	ErrIntegrityViolation = errors.New("integrity check failed")
)

// UnresolvedTypeError reports a deferred column type that could not be
// resolved, either because the key is missing or because primary-key types
// reference each other in a cycle.
type UnresolvedTypeError struct {
	Key    string
	Table  string
	Column string
}

func (e *UnresolvedTypeError) Error() string {
	if e.Table == "" {
		return fmt.Sprintf("cannot resolve type %s", e.Key)
	}
	return fmt.Sprintf("cannot resolve type %s for column %s.%s", e.Key, e.Table, e.Column)
}

// SchemaConflictError reports a schema change that cannot be applied to
// existing data, such as a NOT NULL column without a default.
type SchemaConflictError struct {
	Table  string
	Column string
	Reason string
}

func (e *SchemaConflictError) Error() string {
	if e.Column == "" {
		return fmt.Sprintf("schema conflict on table %s: %s", e.Table, e.Reason)
	}
	return fmt.Sprintf("schema conflict on %s.%s: %s", e.Table, e.Column, e.Reason)
}

// UnsupportedOperationError reports an operation a backend cannot express.
type UnsupportedOperationError struct {
	Operation string
	Backend   string
	Reason    string
}

func (e *UnsupportedOperationError) Error() string {
	return fmt.Sprintf("backend %s cannot express %s: %s", e.Backend, e.Operation, e.Reason)
}

// OutOfOrderMigrationError reports an apply or unapply that does not target
// the migration adjacent to the applied prefix.
type OutOfOrderMigrationError struct {
	Migration string
	Expected  string
	Direction string
}

func (e *OutOfOrderMigrationError) Error() string {
	if e.Expected == "" {
		return fmt.Sprintf("cannot %s migration %s: nothing to %s", e.Direction, e.Migration, e.Direction)
	}
	return fmt.Sprintf("cannot %s migration %s out of order, expected %s", e.Direction, e.Migration, e.Expected)
}

// SqlExecutionError wraps a driver failure verbatim.
type SqlExecutionError struct {
	Backend   string
	Statement string
	Code      string
	Err       error
}

func (e *SqlExecutionError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: statement failed (code %s): %v", e.Backend, e.Code, e.Err)
	}
	return fmt.Sprintf("%s: statement failed: %v", e.Backend, e.Err)
}

func (e *SqlExecutionError) Unwrap() error {
	return e.Err
}

// SubqueryRewriteError reports that the inner query of a rewritten subquery
// failed. The outer query is never executed after this error.
type SubqueryRewriteError struct {
	Table string
	Err   error
}

func (e *SubqueryRewriteError) Error() string {
	return fmt.Sprintf("subquery on %s failed: %v", e.Table, e.Err)
}

func (e *SubqueryRewriteError) Unwrap() error {
	return e.Err
}

// IsUnresolvedType reports whether err is or wraps an UnresolvedTypeError.
func IsUnresolvedType(err error) bool {
	var target *UnresolvedTypeError
	return errors.As(err, &target)
}

// IsSchemaConflict reports whether err is or wraps a SchemaConflictError.
func IsSchemaConflict(err error) bool {
	var target *SchemaConflictError
	return errors.As(err, &target)
}

// IsUnsupportedOperation reports whether err is or wraps an UnsupportedOperationError.
func IsUnsupportedOperation(err error) bool {
	var target *UnsupportedOperationError
	return errors.As(err, &target)
}

// IsOutOfOrder reports whether err is or wraps an OutOfOrderMigrationError.
func IsOutOfOrder(err error) bool {
	var target *OutOfOrderMigrationError
	return errors.As(err, &target)
}

// IsSqlExecution reports whether err is or wraps a SqlExecutionError.
func IsSqlExecution(err error) bool {
	var target *SqlExecutionError
	return errors.As(err, &target)
}

// IsSubqueryRewrite reports whether err is or wraps a SubqueryRewriteError.
func IsSubqueryRewrite(err error) bool {
	var target *SubqueryRewriteError
	return errors.As(err, &target)
}
