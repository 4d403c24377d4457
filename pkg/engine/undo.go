package engine

import (
	"context"
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/pseudomuto/waypoint/pkg/history"
	"github.com/pseudomuto/waypoint/pkg/migration"
	"github.com/pseudomuto/waypoint/pkg/postgres"
	"github.com/pseudomuto/waypoint/pkg/sqlparse"
)

// UndoTarget selects which applied migrations to revert.
type UndoTarget struct {
	// Count reverts the last N applied versioned migrations. Zero means
	// not set.
	Count int

	// Version reverts everything above it; the version itself stays
	// applied. Empty means not set.
	Version string
}

// UndoLast reverts the single most recently applied versioned migration.
func UndoLast() UndoTarget { return UndoTarget{Count: 1} }

// UndoReport summarizes an undo run.
type UndoReport struct {
	// Undone details each reverted migration in execution order.
	Undone []UndoDetail

	// TotalTimeMs is the summed execution time.
	TotalTimeMs int64
}

// UndoDetail describes one reverted migration.
type UndoDetail struct {
	Version    string
	Script     string
	DurationMs int64

	// AutoReversal is true when stored reversal SQL was used instead of
	// a U file.
	AutoReversal bool
}

// Undo reverts applied versioned migrations, newest first. For each
// selected version a U<version>__*.sql file takes precedence; otherwise
// the reversal SQL captured at apply time is used; with neither the run
// stops with an UndoMissingError. Each undo executes in its own
// transaction that also records the SQL_UNDO row and flips the original
// row's success flag. Repeatable migrations cannot be undone.
func (w *Waypoint) Undo(ctx context.Context, target UndoTarget) (*UndoReport, error) {
	report := &UndoReport{}
	err := w.withLock(ctx, func() error {
		return w.runUndo(ctx, target, report)
	})

	if err != nil {
		w.logger.Error("undo failed", "error", err, "undone", len(report.Undone))
	} else {
		w.logger.Info("undo completed", "undone", len(report.Undone), "total_time_ms", report.TotalTimeMs)
	}
	return report, err
}

func (w *Waypoint) runUndo(ctx context.Context, target UndoTarget, report *UndoReport) error {
	if err := w.store.EnsureTable(ctx, w.client.Conn()); err != nil {
		return err
	}

	set, placeholders, err := w.resolve(ctx)
	if err != nil {
		return err
	}
	undoFiles := set.UndoByKey()

	rows, err := w.store.FetchAll(ctx, w.client.Conn())
	if err != nil {
		return err
	}

	selected, err := selectUndoVersions(rows, target)
	if err != nil {
		return err
	}

	forwardRows := history.LatestForwardRank(rows)
	installedBy := w.installedBy(ctx)

	for _, version := range selected {
		key := version.Key()

		if undoFile, ok := undoFiles[key]; ok {
			sql, err := expandUndoFile(undoFile, placeholders)
			if err != nil {
				return err
			}
			duration, err := w.executeUndo(ctx, undoFile.Script, undoFile.Description,
				version.Raw, ptr(undoFile.Checksum), installedBy, sql, forwardRows[version.Raw])
			if err != nil {
				return err
			}
			report.Undone = append(report.Undone, UndoDetail{
				Version: version.Raw, Script: undoFile.Script, DurationMs: duration,
			})
			report.TotalTimeMs += duration
			continue
		}

		if w.cfg.Reversals.Enabled {
			reversal, err := w.store.Reversal(ctx, w.client.Conn(), version.Raw)
			if err != nil {
				return err
			}
			if reversal != nil {
				script := "auto-reversal:V" + version.Raw
				duration, err := w.executeUndo(ctx, script, "Auto-generated reversal",
					version.Raw, nil, installedBy, *reversal, forwardRows[version.Raw])
				if err != nil {
					return err
				}
				report.Undone = append(report.Undone, UndoDetail{
					Version: version.Raw, Script: script, DurationMs: duration, AutoReversal: true,
				})
				report.TotalTimeMs += duration
				continue
			}
		}

		return &UndoMissingError{Version: version.Raw}
	}

	return nil
}

// executeUndo runs the undo SQL, records the SQL_UNDO history row, and
// marks the original forward row success=false, all in one transaction.
func (w *Waypoint) executeUndo(ctx context.Context, script, description, version string, checksum *int32, installedBy, sql string, forwardRow *history.Row) (int64, error) {
	w.logger.Info("undoing migration", "script", script, "version", version)

	tx, err := w.client.Begin(ctx)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to begin undo transaction for %s", script)
	}
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	if err := w.setLocalTimeout(ctx, tx); err != nil {
		return 0, err
	}

	start := time.Now()
	for _, stmt := range sqlparse.SplitStatements(sql) {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
			w.recordUndoFailure(ctx, script, description, version, checksum, installedBy)
			return 0, &UndoError{Script: script, Reason: postgres.FormatError(err), Err: err}
		}
	}
	durationMs := time.Since(start).Milliseconds()

	if err := w.store.Insert(ctx, tx, &history.Row{
		Version:         &version,
		Description:     description,
		Type:            history.TypeUndo,
		Script:          script,
		Checksum:        checksum,
		InstalledBy:     installedBy,
		ExecutionTimeMs: int32(durationMs),
		Success:         true,
	}); err != nil {
		return 0, err
	}

	if forwardRow != nil {
		if err := w.store.MarkUndone(ctx, tx, forwardRow.InstalledRank); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, errors.Wrapf(err, "failed to commit undo of %s", script)
	}
	return durationMs, nil
}

func (w *Waypoint) recordUndoFailure(ctx context.Context, script, description, version string, checksum *int32, installedBy string) {
	ctx = context.WithoutCancel(ctx)
	err := w.store.Insert(ctx, w.client.Conn(), &history.Row{
		Version:     &version,
		Description: description,
		Type:        history.TypeUndo,
		Script:      script,
		Checksum:    checksum,
		InstalledBy: installedBy,
		Success:     false,
	})
	if err != nil {
		w.logger.Warn("failed to record undo failure in history", "script", script, "error", err)
	}
}

// selectUndoVersions picks the versions to revert, newest first. Only
// versions with an actual forward migration row qualify: baseline
// markers are effective but have nothing to undo.
func selectUndoVersions(rows []*history.Row, target UndoTarget) ([]migration.Version, error) {
	effective := history.EffectiveVersions(rows)
	forward := history.LatestForwardRank(rows)

	applied := make([]migration.Version, 0, len(effective))
	for raw := range effective {
		if _, ok := forward[raw]; !ok {
			continue
		}
		v, err := migration.ParseVersion(raw)
		if err != nil {
			continue
		}
		applied = append(applied, v)
	}
	sort.Slice(applied, func(i, j int) bool { return applied[j].Less(applied[i]) })

	switch {
	case target.Version != "":
		tv, err := migration.ParseVersion(target.Version)
		if err != nil {
			return nil, err
		}
		var out []migration.Version
		for _, v := range applied {
			if tv.Less(v) {
				out = append(out, v)
			}
		}
		return out, nil
	case target.Count > 0:
		if target.Count > len(applied) {
			return applied, nil
		}
		return applied[:target.Count], nil
	default:
		// Last successful versioned migration.
		if len(applied) == 0 {
			return nil, nil
		}
		return applied[:1], nil
	}
}

// expandUndoFile re-expands an undo file with the run placeholders. Undo
// files are resolved like migrations, so expansion already happened at
// resolve time; this keeps the per-run filename placeholder accurate.
func expandUndoFile(m *migration.Resolved, placeholders map[string]string) (string, error) {
	merged := make(map[string]string, len(placeholders)+2)
	for k, v := range placeholders {
		merged[k] = v
	}
	merged["filename"] = m.Script
	merged["waypoint:filename"] = m.Script
	return sqlparse.ExpandPlaceholders(m.Raw, merged)
}
