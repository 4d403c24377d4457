package engine

import (
	"context"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/pseudomuto/waypoint/pkg/history"
	"github.com/pseudomuto/waypoint/pkg/migration"
	"github.com/pseudomuto/waypoint/pkg/plan"
	"github.com/pseudomuto/waypoint/pkg/postgres"
	"github.com/pseudomuto/waypoint/pkg/schema"
	"github.com/pseudomuto/waypoint/pkg/sqlparse"
)

// reconnectAttempts bounds recovery from transient connection failures
// between migrations.
const reconnectAttempts = 3

// MigrateReport summarizes a migrate run.
type MigrateReport struct {
	// Applied is the number of migrations applied in this run.
	Applied int

	// Failed is 1 when the run aborted on a failed migration.
	Failed int

	// TotalTimeMs is the summed execution time of applied migrations.
	TotalTimeMs int64

	// PerMigration details each applied (or failed) migration in order.
	PerMigration []MigrateDetail

	// HooksExecuted counts lifecycle hook scripts that ran.
	HooksExecuted int
}

// MigrateDetail describes one migration within a run.
type MigrateDetail struct {
	Script     string
	Version    string
	Checksum   int32
	DurationMs int64
	Success    bool
}

// Migrate applies all pending migrations. A non-empty target restricts
// the run to versions at or below it. On failure the partial report
// accompanies the error so callers can show what succeeded.
func (w *Waypoint) Migrate(ctx context.Context, target string) (*MigrateReport, error) {
	var targetVersion *migration.Version
	if target != "" {
		v, err := migration.ParseVersion(target)
		if err != nil {
			return nil, err
		}
		targetVersion = &v
	}

	report := &MigrateReport{}
	err := w.withLock(ctx, func() error {
		return w.runMigrate(ctx, targetVersion, report)
	})

	if err != nil {
		w.logger.Error("migrate failed", "error", err, "applied", report.Applied)
	} else {
		w.logger.Info("migrate completed",
			"applied", report.Applied,
			"total_time_ms", report.TotalTimeMs,
			"hooks_executed", report.HooksExecuted)
	}
	return report, err
}

func (w *Waypoint) runMigrate(ctx context.Context, target *migration.Version, report *MigrateReport) error {
	if err := w.store.EnsureTable(ctx, w.client.Conn()); err != nil {
		return err
	}

	if w.cfg.Migrations.ValidateOnMigrate {
		validation, err := w.runValidate(ctx, false)
		if err != nil {
			return err
		}
		if !validation.Valid {
			return &ValidationError{Issues: validation.Errors}
		}
	}

	set, placeholders, err := w.resolve(ctx)
	if err != nil {
		return err
	}

	hooks, err := w.loadHooks(ctx)
	if err != nil {
		return err
	}

	rows, err := w.store.FetchAll(ctx, w.client.Conn())
	if err != nil {
		return err
	}

	p, err := plan.Compute(set, rows, plan.Options{
		Environment:        w.cfg.Migrations.Environment,
		OutOfOrder:         w.cfg.Migrations.OutOfOrder,
		DependencyOrdering: w.cfg.Migrations.DependencyOrdering,
		BatchTransaction:   w.cfg.Migrations.BatchTransaction,
		Target:             target,
		Logger:             w.logger,
	})
	if err != nil {
		return err
	}

	installedBy := w.installedBy(ctx)

	if err := w.runHooks(ctx, hooks, migration.BeforeMigrate, placeholders, report); err != nil {
		return err
	}

	if w.cfg.Migrations.BatchTransaction {
		if err := w.runBatch(ctx, p, hooks, placeholders, installedBy, report); err != nil {
			return err
		}
	} else {
		for _, m := range p.All() {
			if err := ctx.Err(); err != nil {
				return errors.Wrap(err, "migrate cancelled")
			}
			if err := w.ensureConnection(ctx); err != nil {
				return err
			}

			if err := w.runHooks(ctx, hooks, migration.BeforeEachMigrate, placeholders, report); err != nil {
				return err
			}

			durationMs, err := w.apply(ctx, m, installedBy)
			detail := MigrateDetail{
				Script:     m.Script,
				Version:    m.Version.Raw,
				Checksum:   m.Checksum,
				DurationMs: durationMs,
				Success:    err == nil,
			}
			report.PerMigration = append(report.PerMigration, detail)
			if err != nil {
				report.Failed = 1
				return err
			}

			report.Applied++
			report.TotalTimeMs += durationMs

			if err := w.runHooks(ctx, hooks, migration.AfterEachMigrate, placeholders, report); err != nil {
				return err
			}
		}
	}

	return w.runHooks(ctx, hooks, migration.AfterMigrate, placeholders, report)
}

// apply executes one migration and records its history row. For
// transactional scripts the statements and the history insert commit
// atomically; for non-transactional scripts the statements run directly
// on the session and the record is written afterwards.
func (w *Waypoint) apply(ctx context.Context, m *migration.Resolved, installedBy string) (int64, error) {
	w.logger.Info("applying migration", "script", m.Script, "schema", w.cfg.Migrations.Schema)

	if !m.InTransaction {
		return w.applyWithoutTransaction(ctx, m, installedBy)
	}

	tx, err := w.client.Begin(ctx)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to begin transaction for %s", m.Script)
	}
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	if err := w.setLocalTimeout(ctx, tx); err != nil {
		return 0, err
	}

	var before *schema.Snapshot
	if w.captureReversal(m) {
		if before, err = schema.Introspect(ctx, tx, w.cfg.Migrations.Schema); err != nil {
			return 0, err
		}
	}

	durationMs, stmtIdx, execErr := executeStatements(ctx, tx, m.SQL)
	if execErr != nil {
		_ = tx.Rollback(context.WithoutCancel(ctx))
		w.recordFailure(ctx, m, installedBy)
		return durationMs, &MigrationError{
			Script:         m.Script,
			StatementIndex: stmtIdx,
			Reason:         postgres.FormatError(execErr),
			Err:            execErr,
		}
	}

	var reversalSQL *string
	if before != nil {
		reversalSQL, err = w.generateReversal(ctx, tx, before)
		if err != nil {
			w.logger.Warn("failed to capture reversal", "script", m.Script, "error", err)
		}
	}

	row := w.historyRow(m, installedBy, durationMs, true)
	row.ReversalSQL = reversalSQL
	if err := w.store.Insert(ctx, tx, row); err != nil {
		return durationMs, err
	}

	if err := tx.Commit(ctx); err != nil {
		return durationMs, errors.Wrapf(err, "failed to commit %s", m.Script)
	}
	return durationMs, nil
}

func (w *Waypoint) applyWithoutTransaction(ctx context.Context, m *migration.Resolved, installedBy string) (int64, error) {
	durationMs, stmtIdx, execErr := executeStatements(ctx, w.client.Conn(), m.SQL)
	if execErr != nil {
		w.recordFailure(ctx, m, installedBy)
		return durationMs, &MigrationError{
			Script:         m.Script,
			StatementIndex: stmtIdx,
			Reason:         postgres.FormatError(execErr),
			Err:            execErr,
		}
	}

	row := w.historyRow(m, installedBy, durationMs, true)
	if err := w.store.Insert(ctx, w.client.Conn(), row); err != nil {
		return durationMs, err
	}
	return durationMs, nil
}

// runBatch wraps the whole plan in one enclosing transaction: on any
// failure nothing persists, including history rows.
func (w *Waypoint) runBatch(ctx context.Context, p *plan.Plan, hooks []*migration.Hook, placeholders map[string]string, installedBy string, report *MigrateReport) error {
	tx, err := w.client.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to begin batch transaction")
	}
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	if err := w.setLocalTimeout(ctx, tx); err != nil {
		return err
	}

	for _, m := range p.All() {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, "migrate cancelled")
		}
		w.logger.Info("applying migration (batch)", "script", m.Script)

		durationMs, stmtIdx, execErr := executeStatements(ctx, tx, m.SQL)
		detail := MigrateDetail{
			Script:     m.Script,
			Version:    m.Version.Raw,
			Checksum:   m.Checksum,
			DurationMs: durationMs,
			Success:    execErr == nil,
		}
		report.PerMigration = append(report.PerMigration, detail)

		if execErr != nil {
			report.Failed = 1
			report.Applied = 0
			report.TotalTimeMs = 0
			return &MigrationError{
				Script:         m.Script,
				StatementIndex: stmtIdx,
				Reason:         postgres.FormatError(execErr),
				Err:            execErr,
			}
		}

		if err := w.store.Insert(ctx, tx, w.historyRow(m, installedBy, durationMs, true)); err != nil {
			return err
		}
		report.Applied++
		report.TotalTimeMs += durationMs
	}

	return errors.Wrap(tx.Commit(ctx), "failed to commit batch transaction")
}

// executeStatements splits sql and runs each statement in order,
// accumulating per-statement timing. On error it returns the index of
// the failing statement.
func executeStatements(ctx context.Context, q history.Querier, sql string) (int64, int, error) {
	var totalMs int64
	for i, stmt := range sqlparse.SplitStatements(sql) {
		start := time.Now()
		if _, err := q.Exec(ctx, stmt); err != nil {
			return totalMs, i, err
		}
		totalMs += time.Since(start).Milliseconds()
	}
	return totalMs, 0, nil
}

// recordFailure writes a success=false history row in a fresh
// transaction after the migration's own transaction rolled back.
// Best-effort: a failure here is logged, not returned, so the original
// error surfaces.
func (w *Waypoint) recordFailure(ctx context.Context, m *migration.Resolved, installedBy string) {
	ctx = context.WithoutCancel(ctx)
	row := w.historyRow(m, installedBy, 0, false)
	if err := w.store.Insert(ctx, w.client.Conn(), row); err != nil {
		w.logger.Warn("failed to record migration failure in history", "script", m.Script, "error", err)
	}
}

func (w *Waypoint) historyRow(m *migration.Resolved, installedBy string, durationMs int64, success bool) *history.Row {
	row := &history.Row{
		Description:     m.Description,
		Type:            m.Kind.HistoryType(),
		Script:          m.Script,
		Checksum:        ptr(m.Checksum),
		InstalledBy:     installedBy,
		ExecutionTimeMs: int32(durationMs),
		Success:         success,
	}
	if m.IsVersioned() || m.IsUndo() {
		row.Version = ptr(m.Version.Raw)
	}
	return row
}

// setLocalTimeout applies the configured statement timeout to the
// current transaction.
func (w *Waypoint) setLocalTimeout(ctx context.Context, tx pgx.Tx) error {
	if w.cfg.Database.StatementTimeout <= 0 {
		return nil
	}
	sql := "SET LOCAL statement_timeout = " + strconv.FormatInt(w.cfg.Database.StatementTimeoutDuration().Milliseconds(), 10)
	if _, err := tx.Exec(ctx, sql); err != nil {
		return errors.Wrap(err, "failed to set local statement_timeout")
	}
	return nil
}

// ensureConnection verifies the session between migrations and, after a
// transient failure, reconnects and re-acquires the advisory lock (the
// old session's lock died with it).
func (w *Waypoint) ensureConnection(ctx context.Context) error {
	err := w.client.Ping(ctx)
	if err == nil {
		return nil
	}
	if !postgres.IsTransient(err) {
		return errors.Wrap(err, "connection check failed")
	}

	for attempt := 1; attempt <= reconnectAttempts; attempt++ {
		w.logger.Warn("connection lost between migrations, reconnecting",
			"attempt", attempt, "max_attempts", reconnectAttempts)
		if err = w.client.Reconnect(ctx); err == nil {
			return w.client.AcquireLock(ctx,
				w.cfg.Migrations.Schema, w.cfg.Migrations.Table,
				w.cfg.Database.LockTimeoutDuration())
		}
	}
	return errors.Wrap(err, "failed to reconnect after transient error")
}

func ptr[T any](v T) *T { return &v }
