package engine

import (
	"context"

	"github.com/pkg/errors"

	"github.com/pseudomuto/waypoint/pkg/config"
	"github.com/pseudomuto/waypoint/pkg/migration"
	"github.com/pseudomuto/waypoint/pkg/postgres"
	"github.com/pseudomuto/waypoint/pkg/sqlparse"
)

// loadHooks gathers hook scripts from the migration locations and from
// explicitly configured paths.
func (w *Waypoint) loadHooks(_ context.Context) ([]*migration.Hook, error) {
	locations := make([]string, 0, len(w.cfg.Migrations.Locations))
	for _, loc := range w.cfg.Migrations.Locations {
		locations = append(locations, config.NormalizeLocation(loc))
	}

	hooks, err := migration.ScanHooks(locations)
	if err != nil {
		return nil, err
	}

	configured, err := migration.LoadConfigHooks(map[migration.HookPhase][]string{
		migration.BeforeMigrate:     w.cfg.Hooks.BeforeMigrate,
		migration.AfterMigrate:      w.cfg.Hooks.AfterMigrate,
		migration.BeforeEachMigrate: w.cfg.Hooks.BeforeEachMigrate,
		migration.AfterEachMigrate:  w.cfg.Hooks.AfterEachMigrate,
	})
	if err != nil {
		return nil, err
	}

	return append(hooks, configured...), nil
}

// runHooks executes every hook of the given phase inside its own
// transaction. Hooks are never recorded in history.
func (w *Waypoint) runHooks(ctx context.Context, hooks []*migration.Hook, phase migration.HookPhase, placeholders map[string]string, report *MigrateReport) error {
	for _, h := range hooks {
		if h.Phase != phase {
			continue
		}

		w.logger.Debug("running hook", "phase", string(phase), "script", h.Script)

		sql, err := h.SQL(placeholders)
		if err != nil {
			return &HookError{Phase: string(phase), Script: h.Script, Reason: err.Error(), Err: err}
		}

		tx, err := w.client.Begin(ctx)
		if err != nil {
			return errors.Wrapf(err, "failed to begin transaction for hook %s", h.Script)
		}

		var execErr error
		for _, stmt := range sqlparse.SplitStatements(sql) {
			if _, execErr = tx.Exec(ctx, stmt); execErr != nil {
				break
			}
		}

		if execErr != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
			return &HookError{
				Phase:  string(phase),
				Script: h.Script,
				Reason: postgres.FormatError(execErr),
				Err:    execErr,
			}
		}
		if err := tx.Commit(ctx); err != nil {
			return errors.Wrapf(err, "failed to commit hook %s", h.Script)
		}

		report.HooksExecuted++
	}
	return nil
}
