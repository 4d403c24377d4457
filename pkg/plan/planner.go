// Package plan computes the ordered set of pending work for a migration
// run: environment filtering, baseline and target cutoffs, out-of-order
// policy, repeatable re-apply detection, and (optionally) topological
// ordering under waypoint:depends directives.
package plan

import (
	"log/slog"
	"sort"
	"strings"

	"github.com/pseudomuto/waypoint/pkg/history"
	"github.com/pseudomuto/waypoint/pkg/migration"
)

// Options configures plan computation.
type Options struct {
	// Environment is the active environment for env directives. Empty
	// runs everything.
	Environment string

	// OutOfOrder allows pending versions below the highest applied
	// version.
	OutOfOrder bool

	// DependencyOrdering orders the pending versioned migrations by
	// waypoint:depends directives (Kahn's algorithm) instead of plain
	// version order.
	DependencyOrdering bool

	// BatchTransaction requests one enclosing transaction for the whole
	// plan; plans containing non-transactional scripts are rejected.
	BatchTransaction bool

	// Target, when non-nil, excludes versioned migrations above it.
	Target *migration.Version

	// Logger receives planner warnings. Defaults to slog.Default().
	Logger *slog.Logger
}

// Plan is the ordered set of pending migrations for one run. Versioned
// migrations execute first in planner order, then repeatable migrations
// in description order.
type Plan struct {
	Versioned  []*migration.Resolved
	Repeatable []*migration.Resolved
}

// All returns the full execution sequence.
func (p *Plan) All() []*migration.Resolved {
	out := make([]*migration.Resolved, 0, len(p.Versioned)+len(p.Repeatable))
	out = append(out, p.Versioned...)
	out = append(out, p.Repeatable...)
	return out
}

// Empty reports whether the plan contains no work.
func (p *Plan) Empty() bool {
	return len(p.Versioned) == 0 && len(p.Repeatable) == 0
}

// CycleError reports a dependency cycle among pending migrations.
type CycleError struct {
	// Versions are the versions participating in the cycle.
	Versions []string
}

func (e *CycleError) Error() string {
	return "migration dependency cycle detected: " + strings.Join(e.Versions, " -> ")
}

// MissingDependencyError reports a depends directive naming a version
// that does not exist on disk or in history.
type MissingDependencyError struct {
	Version    string
	Dependency string
}

func (e *MissingDependencyError) Error() string {
	return "migration V" + e.Version + " depends on V" + e.Dependency + ", which does not exist"
}

// OutOfOrderError reports a pending version below the highest applied
// version while out_of_order is disabled.
type OutOfOrderError struct {
	Version string
	Highest string
}

func (e *OutOfOrderError) Error() string {
	return "out-of-order migration not allowed: version " + e.Version +
		" is below the highest applied version " + e.Highest +
		"; enable out_of_order to allow this"
}

// BatchIncompatibleError reports a batch-transaction plan containing a
// script that cannot run inside a transaction.
type BatchIncompatibleError struct {
	Script string
}

func (e *BatchIncompatibleError) Error() string {
	return "batch transaction mode is incompatible with " + e.Script +
		": the script contains transaction control or a non-transactional statement"
}

// Compute builds the plan for a run from the resolved files and the
// current history.
func Compute(set *migration.ResolvedSet, rows []*history.Row, opts Options) (*Plan, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	effective := effectiveKeys(rows)
	baseline := baselineVersion(rows)
	highest := highestApplied(effective)

	// ── Pending versioned migrations ──
	var pending []*migration.Resolved
	for _, m := range set.Versioned {
		if !m.Directives.RunsInEnvironment(opts.Environment) {
			logger.Debug("skipping migration: environment filtered", "script", m.Script)
			continue
		}
		if effective[m.Version.Key()] {
			continue
		}
		if baseline != nil && m.Version.Compare(*baseline) <= 0 {
			logger.Debug("skipping migration: at or below baseline", "script", m.Script)
			continue
		}
		if opts.Target != nil && m.Version.Compare(*opts.Target) > 0 {
			logger.Debug("skipping migration: above target", "script", m.Script, "target", opts.Target.Raw)
			continue
		}
		if highest != nil && m.Version.Less(*highest) {
			if !opts.OutOfOrder {
				return nil, &OutOfOrderError{Version: m.Version.Raw, Highest: highest.Raw}
			}
			logger.Info("applying out-of-order migration", "script", m.Script, "highest", highest.Raw)
		}
		pending = append(pending, m)
	}

	ordered := pending
	if opts.DependencyOrdering {
		var err error
		ordered, err = orderByDependencies(pending, effective, logger)
		if err != nil {
			return nil, err
		}
	}

	// ── Repeatable migrations needing (re-)application ──
	latest := history.LatestRepeatable(rows)
	var repeatable []*migration.Resolved
	for _, m := range set.Repeatable {
		if !m.Directives.RunsInEnvironment(opts.Environment) {
			logger.Debug("skipping migration: environment filtered", "script", m.Script)
			continue
		}
		if prev, ok := latest[m.Script]; ok && prev.Checksum != nil && *prev.Checksum == m.Checksum {
			continue
		}
		repeatable = append(repeatable, m)
	}

	p := &Plan{Versioned: ordered, Repeatable: repeatable}

	if opts.BatchTransaction {
		for _, m := range p.All() {
			if !m.InTransaction {
				return nil, &BatchIncompatibleError{Script: m.Script}
			}
		}
	}

	return p, nil
}

// orderByDependencies runs Kahn's algorithm over the pending migrations,
// breaking ties by ascending version so the order is deterministic.
// Edges to versions already applied in earlier runs are dropped with a
// warning: depends is a partial order within a single run's plan only.
func orderByDependencies(pending []*migration.Resolved, applied map[string]bool, logger *slog.Logger) ([]*migration.Resolved, error) {
	byKey := make(map[string]*migration.Resolved, len(pending))
	for _, m := range pending {
		byKey[m.Version.Key()] = m
	}

	inDegree := make(map[string]int, len(pending))
	dependents := make(map[string][]string, len(pending))

	for _, m := range pending {
		key := m.Version.Key()
		if _, ok := inDegree[key]; !ok {
			inDegree[key] = 0
		}
		for _, dep := range m.Directives.Depends {
			depKey := normalizeKey(dep)
			if _, ok := byKey[depKey]; !ok {
				if applied[depKey] {
					logger.Warn("dependency already applied in an earlier run; ordering not enforced",
						"script", m.Script, "depends", dep)
					continue
				}
				return nil, &MissingDependencyError{Version: m.Version.Raw, Dependency: dep}
			}
			inDegree[key]++
			dependents[depKey] = append(dependents[depKey], key)
		}
	}

	// Ready nodes, kept sorted by version so ties resolve ascending.
	var ready []*migration.Resolved
	for _, m := range pending {
		if inDegree[m.Version.Key()] == 0 {
			ready = append(ready, m)
		}
	}
	sortByVersion(ready)

	ordered := make([]*migration.Resolved, 0, len(pending))
	for len(ready) > 0 {
		next := ready[0]
		ready = ready[1:]
		ordered = append(ordered, next)

		for _, depKey := range dependents[next.Version.Key()] {
			inDegree[depKey]--
			if inDegree[depKey] == 0 {
				ready = append(ready, byKey[depKey])
			}
		}
		sortByVersion(ready)
	}

	if len(ordered) != len(pending) {
		var inCycle []string
		for _, m := range pending {
			if inDegree[m.Version.Key()] > 0 {
				inCycle = append(inCycle, m.Version.Raw)
			}
		}
		sort.Strings(inCycle)
		return nil, &CycleError{Versions: inCycle}
	}

	return ordered, nil
}

func sortByVersion(ms []*migration.Resolved) {
	sort.SliceStable(ms, func(i, j int) bool {
		return ms[i].Version.Less(ms[j].Version)
	})
}

// normalizeKey canonicalizes a depends target so "1.0" matches "1".
func normalizeKey(version string) string {
	v, err := migration.ParseVersion(version)
	if err != nil {
		return version
	}
	return v.Key()
}

// effectiveKeys maps history version strings to canonical version keys.
func effectiveKeys(rows []*history.Row) map[string]bool {
	keys := make(map[string]bool)
	for raw := range history.EffectiveVersions(rows) {
		keys[normalizeKey(raw)] = true
	}
	return keys
}

func baselineVersion(rows []*history.Row) *migration.Version {
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

func highestApplied(effective map[string]bool) *migration.Version {
	var highest *migration.Version
	for key := range effective {
		v, err := migration.ParseVersion(key)
		if err != nil {
			continue
		}
		if highest == nil || highest.Less(v) {
			highest = &v
		}
	}
	return highest
}
