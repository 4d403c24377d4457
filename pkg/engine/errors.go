package engine

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrCleanDisabled is returned by Clean when the caller has not allowed
// destructive cleaning.
var ErrCleanDisabled = errors.New("clean is disabled; pass allow=true (--allow-clean) to enable it")

// ErrBaselineExists is returned by Baseline when the history table
// already contains entries.
var ErrBaselineExists = errors.New("baseline already exists: the schema history table is not empty")

// MigrationError reports a migration script that failed to execute.
type MigrationError struct {
	// Script is the migration filename.
	Script string

	// StatementIndex is the zero-based index of the failing statement.
	StatementIndex int

	// Reason is the formatted server error.
	Reason string

	// Err is the underlying driver error.
	Err error
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf("migration failed for %s (statement %d): %s", e.Script, e.StatementIndex+1, e.Reason)
}

func (e *MigrationError) Unwrap() error { return e.Err }

// HookError reports a lifecycle hook script that failed.
type HookError struct {
	Phase  string
	Script string
	Reason string
	Err    error
}

func (e *HookError) Error() string {
	return fmt.Sprintf("hook failed during %s (%s): %s", e.Phase, e.Script, e.Reason)
}

func (e *HookError) Unwrap() error { return e.Err }

// UndoError reports a failed undo operation.
type UndoError struct {
	Script string
	Reason string
	Err    error
}

func (e *UndoError) Error() string {
	return "undo failed for " + e.Script + ": " + e.Reason
}

func (e *UndoError) Unwrap() error { return e.Err }

// UndoMissingError reports a version with neither an undo file nor
// stored reversal SQL.
type UndoMissingError struct {
	Version string
}

func (e *UndoMissingError) Error() string {
	return "no undo source for version " + e.Version +
		": expected a U" + e.Version + "__*.sql file or stored reversal SQL"
}

// ValidationError reports a failed validate run. Issues holds the
// individual findings.
type ValidationError struct {
	Issues []ValidationIssue
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed with %d error(s)", len(e.Issues))
}
