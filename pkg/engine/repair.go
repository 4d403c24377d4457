package engine

import (
	"context"

	"github.com/pseudomuto/waypoint/pkg/history"
)

// RepairReport is the result of a repair run.
type RepairReport struct {
	// RemovedFailed is the number of success=false rows deleted.
	RemovedFailed int

	// UpdatedChecksums is the number of rows whose checksum was aligned
	// with the local file.
	UpdatedChecksums int
}

// Repair deletes failed history rows and realigns recorded checksums
// with the resolved files. Successful rows are never deleted.
func (w *Waypoint) Repair(ctx context.Context) (*RepairReport, error) {
	report := &RepairReport{}
	err := w.withLock(ctx, func() error {
		if err := w.store.EnsureTable(ctx, w.client.Conn()); err != nil {
			return err
		}

		removed, err := w.store.DeleteFailed(ctx, w.client.Conn())
		if err != nil {
			return err
		}
		report.RemovedFailed = int(removed)

		set, _, err := w.resolve(ctx)
		if err != nil {
			return err
		}
		rows, err := w.store.FetchAll(ctx, w.client.Conn())
		if err != nil {
			return err
		}

		byVersion := set.VersionedByKey()
		byScript := make(map[string]int32)
		for _, m := range set.Repeatable {
			byScript[m.Script] = m.Checksum
		}

		for _, row := range rows {
			if !row.Success || row.Type == history.TypeBaseline || row.IsUndo() {
				continue
			}

			var want *int32
			if row.Version != nil {
				if m := lookupVersion(byVersion, *row.Version); m != nil {
					want = ptr(m.Checksum)
				}
			} else if crc, ok := byScript[row.Script]; ok {
				want = ptr(crc)
			}

			if want == nil {
				continue
			}
			if row.Checksum != nil && *row.Checksum == *want {
				continue
			}

			if err := w.store.UpdateChecksum(ctx, w.client.Conn(), row.InstalledRank, *want); err != nil {
				return err
			}
			report.UpdatedChecksums++
		}

		return nil
	})

	if err == nil {
		w.logger.Info("repair completed",
			"removed_failed", report.RemovedFailed,
			"updated_checksums", report.UpdatedChecksums)
	}
	return report, err
}
