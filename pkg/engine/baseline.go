package engine

import (
	"context"

	"github.com/pseudomuto/waypoint/pkg/history"
	"github.com/pseudomuto/waypoint/pkg/migration"
)

const baselineMarker = "<< Waypoint Baseline >>"

// Baseline declares a pre-existing schema up to date through the given
// version by inserting a single BASELINE history row. Fails with
// ErrBaselineExists when the history table already has entries. An empty
// version falls back to the configured baseline version and an empty
// description to the baseline marker.
func (w *Waypoint) Baseline(ctx context.Context, version, description string) error {
	if version == "" {
		version = w.cfg.Migrations.BaselineVersion
	}
	if description == "" {
		description = baselineMarker
	}
	if _, err := migration.ParseVersion(version); err != nil {
		return err
	}

	err := w.withLock(ctx, func() error {
		if err := w.store.EnsureTable(ctx, w.client.Conn()); err != nil {
			return err
		}

		hasEntries, err := w.store.HasEntries(ctx, w.client.Conn())
		if err != nil {
			return err
		}
		if hasEntries {
			return ErrBaselineExists
		}

		return w.store.Insert(ctx, w.client.Conn(), &history.Row{
			Version:     &version,
			Description: description,
			Type:        history.TypeBaseline,
			Script:      baselineMarker,
			InstalledBy: w.installedBy(ctx),
			Success:     true,
		})
	})

	if err == nil {
		w.logger.Info("baselined schema", "version", version, "schema", w.cfg.Migrations.Schema)
	}
	return err
}
