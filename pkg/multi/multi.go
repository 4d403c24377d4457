// Package multi orchestrates migration runs across several named
// databases under a dependency DAG: no database starts before all of its
// declared dependencies have completed successfully.
package multi

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/pseudomuto/waypoint/pkg/config"
	"github.com/pseudomuto/waypoint/pkg/engine"
)

// Orchestrator runs the single-database engine against each configured
// target in dependency order.
type Orchestrator struct {
	base      config.Config
	databases []config.NamedDatabase
	logger    *slog.Logger

	// FailFast cancels pending databases after the first failure. The
	// default is to continue and aggregate.
	FailFast bool
}

// Result is the outcome for one database.
type Result struct {
	// Name is the logical database name.
	Name string

	// Report is the migrate report, nil when the database never ran.
	Report *engine.MigrateReport

	// Err is the failure, nil on success.
	Err error

	// Skipped is true when the database did not run because a
	// dependency failed or fail-fast cancelled it.
	Skipped bool
}

// CycleError reports a dependency cycle among depends_on declarations.
type CycleError struct {
	Names []string
}

func (e *CycleError) Error() string {
	return "multi-database dependency cycle: " + strings.Join(e.Names, " -> ")
}

// UnknownDatabaseError reports a depends_on or filter naming no
// configured database.
type UnknownDatabaseError struct {
	Name      string
	Available []string
}

func (e *UnknownDatabaseError) Error() string {
	return "database '" + e.Name + "' not found; available: " + strings.Join(e.Available, ", ")
}

// AggregateError wraps the per-database failures of a run.
type AggregateError struct {
	Results []Result
}

func (e *AggregateError) Error() string {
	var failed []string
	for _, r := range e.Results {
		if r.Err != nil {
			failed = append(failed, r.Name+": "+r.Err.Error())
		}
	}
	return "multi-database migrate failed for " + strings.Join(failed, "; ")
}

// New creates an Orchestrator. The base config supplies shared settings
// (placeholders, hooks, reversal policy); each named database overrides
// the connection URL, locations, and history table placement.
func New(base config.Config, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{base: base, databases: base.MultiDatabase, logger: logger}
}

// ExecutionOrder computes the topological order over depends_on using
// Kahn's algorithm, with ties broken by configuration order so the
// result is deterministic.
func ExecutionOrder(databases []config.NamedDatabase) ([]string, error) {
	names := make([]string, 0, len(databases))
	known := make(map[string]bool, len(databases))
	for _, db := range databases {
		names = append(names, db.Name)
		known[db.Name] = true
	}

	inDegree := make(map[string]int, len(databases))
	dependents := make(map[string][]string)
	for _, db := range databases {
		if _, ok := inDegree[db.Name]; !ok {
			inDegree[db.Name] = 0
		}
		for _, dep := range db.DependsOn {
			if !known[dep] {
				avail := append([]string(nil), names...)
				sort.Strings(avail)
				return nil, &UnknownDatabaseError{Name: dep, Available: avail}
			}
			inDegree[db.Name]++
			dependents[dep] = append(dependents[dep], db.Name)
		}
	}

	position := make(map[string]int, len(names))
	for i, n := range names {
		position[n] = i
	}

	var ready []string
	for _, n := range names {
		if inDegree[n] == 0 {
			ready = append(ready, n)
		}
	}
	sortByPosition(ready, position)

	var order []string
	for len(ready) > 0 {
		next := ready[0]
		ready = ready[1:]
		order = append(order, next)
		for _, dep := range dependents[next] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				ready = append(ready, dep)
			}
		}
		sortByPosition(ready, position)
	}

	if len(order) != len(names) {
		var inCycle []string
		for _, n := range names {
			if inDegree[n] > 0 {
				inCycle = append(inCycle, n)
			}
		}
		return nil, &CycleError{Names: inCycle}
	}

	return order, nil
}

func sortByPosition(names []string, position map[string]int) {
	sort.SliceStable(names, func(i, j int) bool {
		return position[names[i]] < position[names[j]]
	})
}

// Migrate runs migrate against every database in dependency order. With
// filter non-empty only that database runs; its dependencies are NOT
// implicitly included. The aggregated error is non-nil if any database
// failed.
func (o *Orchestrator) Migrate(ctx context.Context, filter, target string) ([]Result, error) {
	order, err := ExecutionOrder(o.databases)
	if err != nil {
		return nil, err
	}

	if filter != "" {
		if !containsName(o.databases, filter) {
			avail := make([]string, 0, len(o.databases))
			for _, db := range o.databases {
				avail = append(avail, db.Name)
			}
			sort.Strings(avail)
			return nil, &UnknownDatabaseError{Name: filter, Available: avail}
		}
		order = []string{filter}
	}

	byName := make(map[string]config.NamedDatabase, len(o.databases))
	for _, db := range o.databases {
		byName[db.Name] = db
	}

	results := make([]Result, 0, len(order))
	failed := make(map[string]bool)
	aborted := false

	for _, name := range order {
		if aborted {
			results = append(results, Result{Name: name, Skipped: true})
			continue
		}

		db := byName[name]
		if dep := failedDependency(db, failed); dep != "" {
			o.logger.Warn("skipping database: dependency failed", "database", name, "dependency", dep)
			results = append(results, Result{
				Name:    name,
				Err:     errors.Errorf("dependency %s failed", dep),
				Skipped: true,
			})
			failed[name] = true
			continue
		}

		report, err := o.migrateOne(ctx, db, target)
		results = append(results, Result{Name: name, Report: report, Err: err})
		if err != nil {
			failed[name] = true
			o.logger.Error("database migrate failed", "database", name, "error", err)
			if o.FailFast {
				aborted = true
			}
		} else {
			o.logger.Info("database migrate completed", "database", name, "applied", report.Applied)
		}
	}

	for _, r := range results {
		if r.Err != nil {
			return results, &AggregateError{Results: results}
		}
	}
	return results, nil
}

func (o *Orchestrator) migrateOne(ctx context.Context, db config.NamedDatabase, target string) (*engine.MigrateReport, error) {
	cfg := o.base
	cfg.MultiDatabase = nil
	cfg.Database.URL = db.URL
	if len(db.Migrations) > 0 {
		cfg.Migrations.Locations = db.Migrations
	}
	if db.Schema != "" {
		cfg.Migrations.Schema = db.Schema
	}
	if db.Table != "" {
		cfg.Migrations.Table = db.Table
	}

	w, err := engine.New(ctx, cfg, engine.WithLogger(o.logger.With("database", db.Name)))
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := w.Close(context.WithoutCancel(ctx)); err != nil {
			o.logger.Warn("failed to close database session", "database", db.Name, "error", err)
		}
	}()

	return w.Migrate(ctx, target)
}

func failedDependency(db config.NamedDatabase, failed map[string]bool) string {
	for _, dep := range db.DependsOn {
		if failed[dep] {
			return dep
		}
	}
	return ""
}

func containsName(databases []config.NamedDatabase, name string) bool {
	for _, db := range databases {
		if db.Name == name {
			return true
		}
	}
	return false
}
