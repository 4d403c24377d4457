package engine

import (
	"context"
	"sort"
	"time"

	"github.com/pseudomuto/waypoint/pkg/history"
	"github.com/pseudomuto/waypoint/pkg/migration"
)

// State is the status of a migration in an Info view.
type State string

const (
	StatePending       State = "Pending"
	StateApplied       State = "Applied"
	StateFailed        State = "Failed"
	StateMissing       State = "Missing"
	StateOutdated      State = "Outdated"
	StateOutOfOrder    State = "OutOfOrder"
	StateBelowBaseline State = "BelowBaseline"
	StateIgnored       State = "Ignored"
	StateBaseline      State = "Baseline"
	StateUndone        State = "Undone"
)

// Info is the combined file-plus-history view of one migration.
type Info struct {
	// Version is empty for repeatable migrations.
	Version string

	// Description is the human-readable description.
	Description string

	// Type is the history type string (SQL, SQL_REPEATABLE, BASELINE, ...).
	Type string

	// Script is the migration filename.
	Script string

	// State is the current status.
	State State

	// InstalledOn is when the migration was applied, nil when pending.
	InstalledOn *time.Time

	// ExecutionTimeMs is the recorded execution time, nil when pending.
	ExecutionTimeMs *int32

	// Checksum is the CRC32 checksum, nil for baselines.
	Checksum *int32
}

// Info merges the resolved files with the applied history into a unified
// status view, sorted versioned-first by version, then repeatable by
// description.
func (w *Waypoint) Info(ctx context.Context) ([]Info, error) {
	set, _, err := w.resolve(ctx)
	if err != nil {
		return nil, err
	}

	exists, err := w.store.Exists(ctx, w.client.Conn())
	if err != nil {
		return nil, err
	}

	var rows []*history.Row
	if exists {
		if rows, err = w.store.FetchAll(ctx, w.client.Conn()); err != nil {
			return nil, err
		}
	}

	infos := buildInfo(set, rows, w.cfg.Migrations.Environment)
	return infos, nil
}

func buildInfo(set *migration.ResolvedSet, rows []*history.Row, environment string) []Info {
	byVersion := set.VersionedByKey()
	byScript := make(map[string]*migration.Resolved)
	for _, m := range set.Repeatable {
		byScript[m.Script] = m
	}

	effective := history.EffectiveVersions(rows)
	baseline := baselineOf(rows)
	highest := highestEffective(effective)

	var infos []Info
	seenVersions := make(map[string]bool)
	seenScripts := make(map[string]bool)

	for _, row := range rows {
		state := rowState(row, byVersion, byScript, effective)

		if row.Version != nil {
			seenVersions[versionKey(*row.Version)] = true
		} else {
			seenScripts[row.Script] = true
		}

		installedOn := row.InstalledOn
		execTime := row.ExecutionTimeMs
		var version string
		if row.Version != nil {
			version = *row.Version
		}
		infos = append(infos, Info{
			Version:         version,
			Description:     row.Description,
			Type:            row.Type,
			Script:          row.Script,
			State:           state,
			InstalledOn:     &installedOn,
			ExecutionTimeMs: &execTime,
			Checksum:        row.Checksum,
		})
	}

	for _, m := range set.Versioned {
		if seenVersions[m.Version.Key()] {
			continue
		}

		state := StatePending
		switch {
		case !m.Directives.RunsInEnvironment(environment):
			state = StateIgnored
		case baseline != nil && m.Version.Compare(*baseline) <= 0:
			state = StateBelowBaseline
		case highest != nil && m.Version.Less(*highest):
			state = StateOutOfOrder
		}

		infos = append(infos, Info{
			Version:     m.Version.Raw,
			Description: m.Description,
			Type:        m.Kind.HistoryType(),
			Script:      m.Script,
			State:       state,
			Checksum:    ptr(m.Checksum),
		})
	}

	for _, m := range set.Repeatable {
		if seenScripts[m.Script] {
			continue
		}
		state := StatePending
		if !m.Directives.RunsInEnvironment(environment) {
			state = StateIgnored
		}
		infos = append(infos, Info{
			Description: m.Description,
			Type:        m.Kind.HistoryType(),
			Script:      m.Script,
			State:       state,
			Checksum:    ptr(m.Checksum),
		})
	}

	sort.SliceStable(infos, func(i, j int) bool {
		vi, vj := infos[i].Version, infos[j].Version
		switch {
		case vi != "" && vj != "":
			a, errA := migration.ParseVersion(vi)
			b, errB := migration.ParseVersion(vj)
			if errA == nil && errB == nil {
				if c := a.Compare(b); c != 0 {
					return c < 0
				}
				return false
			}
			return vi < vj
		case vi != "":
			return true
		case vj != "":
			return false
		default:
			return infos[i].Description < infos[j].Description
		}
	})

	return infos
}

func rowState(row *history.Row, byVersion map[string]*migration.Resolved, byScript map[string]*migration.Resolved, effective map[string]bool) State {
	switch {
	case row.Type == history.TypeBaseline:
		return StateBaseline
	case row.IsUndo():
		return StateUndone
	case !row.Success:
		return StateFailed
	}

	if row.Version != nil {
		if !effective[*row.Version] {
			// The forward migration was reverted by a later undo.
			return StateUndone
		}
		if lookupVersion(byVersion, *row.Version) == nil {
			return StateMissing
		}
		return StateApplied
	}

	// Repeatable row.
	if m, ok := byScript[row.Script]; ok {
		if row.Checksum == nil || *row.Checksum != m.Checksum {
			return StateOutdated
		}
		return StateApplied
	}
	return StateMissing
}

func baselineOf(rows []*history.Row) *migration.Version {
	b := history.Baseline(rows)
	if b == nil || b.Version == nil {
		return nil
	}
	v, err := migration.ParseVersion(*b.Version)
	if err != nil {
		return nil
	}
	return &v
}

func highestEffective(effective map[string]bool) *migration.Version {
	var highest *migration.Version
	for raw := range effective {
		v, err := migration.ParseVersion(raw)
		if err != nil {
			continue
		}
		if highest == nil || highest.Less(v) {
			highest = &v
		}
	}
	return highest
}

func versionKey(raw string) string {
	v, err := migration.ParseVersion(raw)
	if err != nil {
		return raw
	}
	return v.Key()
}
