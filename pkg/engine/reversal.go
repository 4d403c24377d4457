package engine

import (
	"context"
	"strings"

	"github.com/pseudomuto/waypoint/pkg/history"
	"github.com/pseudomuto/waypoint/pkg/migration"
	"github.com/pseudomuto/waypoint/pkg/schema"
)

// captureReversal reports whether reversal SQL should be captured for a
// migration. Only versioned migrations are reversible; repeatable and
// undo scripts never carry reversals.
func (w *Waypoint) captureReversal(m *migration.Resolved) bool {
	return w.cfg.Reversals.Enabled && m.IsVersioned()
}

// generateReversal introspects the schema after a migration and renders
// the DDL that reverts it to the before snapshot. Returns nil when the
// migration produced no observable schema change.
func (w *Waypoint) generateReversal(ctx context.Context, q history.Querier, before *schema.Snapshot) (*string, error) {
	after, err := schema.Introspect(ctx, q, w.cfg.Migrations.Schema)
	if err != nil {
		return nil, err
	}

	// diff(after, before) is the change set that walks the schema back.
	changes := schema.Diff(after, before)
	if len(changes) == 0 {
		return nil, nil
	}

	sql := schema.GenerateDDL(changes)

	if w.cfg.Reversals.WarnDataLoss {
		var warnings []string
		for _, c := range changes {
			switch c.Kind {
			case schema.TableDropped:
				warnings = append(warnings,
					"-- WARNING: DATA_LOSS: DROP TABLE "+c.Name+" cannot restore the original data")
			case schema.ColumnDropped:
				warnings = append(warnings,
					"-- WARNING: DATA_LOSS: DROP COLUMN "+c.Table+"."+c.Column+" cannot restore the original data")
			}
		}
		if len(warnings) > 0 {
			sql = strings.Join(warnings, "\n") + "\n\n" + sql
		}
	}

	return &sql, nil
}
