package cmd

import (
	"github.com/pkg/errors"

	"github.com/pseudomuto/waypoint/pkg/engine"
	"github.com/pseudomuto/waypoint/pkg/migration"
	"github.com/pseudomuto/waypoint/pkg/multi"
	"github.com/pseudomuto/waypoint/pkg/plan"
	"github.com/pseudomuto/waypoint/pkg/postgres"
)

// Exit codes for the waypoint binary.
const (
	ExitOK            = 0
	ExitGeneral       = 1
	ExitConfig        = 2
	ExitValidation    = 3
	ExitDatabase      = 4
	ExitMigration     = 5
	ExitLock          = 6
	ExitCleanDisabled = 7
)

// ExitCode maps an error to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}

	var (
		validationErr *engine.ValidationError
		migrationErr  *engine.MigrationError
		hookErr       *engine.HookError
		undoErr       *engine.UndoError
		undoMissing   *engine.UndoMissingError
		lockErr       *postgres.LockError
		connectErr    *postgres.ConnectError
		parseErr      *migration.ParseError
		dupErr        *migration.DuplicateVersionError
		cycleErr      *plan.CycleError
		missingDep    *plan.MissingDependencyError
		outOfOrder    *plan.OutOfOrderError
		batchErr      *plan.BatchIncompatibleError
		multiCycle    *multi.CycleError
		unknownDB     *multi.UnknownDatabaseError
		aggErr        *multi.AggregateError
	)

	switch {
	case errors.Is(err, engine.ErrCleanDisabled):
		return ExitCleanDisabled
	case errors.As(err, &lockErr):
		return ExitLock
	case errors.As(err, &validationErr):
		return ExitValidation
	case errors.As(err, &migrationErr),
		errors.As(err, &hookErr),
		errors.As(err, &undoErr),
		errors.As(err, &undoMissing):
		return ExitMigration
	case errors.As(err, &connectErr):
		return ExitDatabase
	case errors.Is(err, engine.ErrBaselineExists),
		errors.As(err, &parseErr),
		errors.As(err, &dupErr),
		errors.As(err, &cycleErr),
		errors.As(err, &missingDep),
		errors.As(err, &outOfOrder),
		errors.As(err, &batchErr),
		errors.As(err, &multiCycle),
		errors.As(err, &unknownDB):
		return ExitConfig
	case errors.As(err, &aggErr):
		return ExitMigration
	default:
		return ExitGeneral
	}
}
