package migration

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/pseudomuto/waypoint/pkg/sqlparse"
)

// HookPhase identifies when a lifecycle hook script runs.
type HookPhase string

const (
	// BeforeMigrate hooks run once before any migration in a run.
	BeforeMigrate HookPhase = "beforeMigrate"

	// AfterMigrate hooks run once after all migrations in a run.
	AfterMigrate HookPhase = "afterMigrate"

	// BeforeEachMigrate hooks run before every individual migration.
	BeforeEachMigrate HookPhase = "beforeEachMigrate"

	// AfterEachMigrate hooks run after every individual migration.
	AfterEachMigrate HookPhase = "afterEachMigrate"
)

var hookPhases = []HookPhase{BeforeMigrate, AfterMigrate, BeforeEachMigrate, AfterEachMigrate}

// Hook is a resolved lifecycle hook script. Hooks share the splitter and
// placeholder machinery with migrations but are never recorded in history
// and carry no checksum.
type Hook struct {
	// Phase is the lifecycle phase this hook runs in.
	Phase HookPhase

	// Script is the file basename.
	Script string

	// Path is the absolute path of the script.
	Path string

	// Raw is the unexpanded file body. Placeholder expansion happens at
	// execution time since the filename placeholder differs per phase.
	Raw string
}

// IsHookScript reports whether a filename is a well-known lifecycle hook:
// either the bare phase name (beforeMigrate.sql) or a suffixed variant
// (beforeMigrate__grant_permissions.sql).
func IsHookScript(name string) bool {
	return hookPhaseOf(name) != ""
}

func hookPhaseOf(name string) HookPhase {
	stem := strings.TrimSuffix(name, ".sql")
	if stem == name {
		return ""
	}
	for _, phase := range hookPhases {
		if stem == string(phase) || strings.HasPrefix(stem, string(phase)+"__") {
			return phase
		}
	}
	return ""
}

// ScanHooks discovers hook scripts alongside migrations in the given
// locations. Within a phase, hooks execute in filename order.
func ScanHooks(locations []string) ([]*Hook, error) {
	var hooks []*Hook

	for _, location := range locations {
		entries, err := os.ReadDir(location)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read migration location %s", location)
		}

		names := make([]string, 0, len(entries))
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
				continue
			}
			names = append(names, e.Name())
		}
		sort.Strings(names)

		for _, name := range names {
			phase := hookPhaseOf(name)
			if phase == "" {
				continue
			}

			path := filepath.Join(location, name)
			raw, err := os.ReadFile(path)
			if err != nil {
				return nil, errors.Wrapf(err, "failed to read hook %s", path)
			}
			abs, err := filepath.Abs(path)
			if err != nil {
				abs = path
			}

			hooks = append(hooks, &Hook{
				Phase:  phase,
				Script: name,
				Path:   abs,
				Raw:    string(raw),
			})
		}
	}

	return hooks, nil
}

// LoadConfigHooks loads hook scripts from explicitly configured paths.
// Each key of paths is the phase the scripts run in.
func LoadConfigHooks(paths map[HookPhase][]string) ([]*Hook, error) {
	var hooks []*Hook

	for _, phase := range hookPhases {
		for _, path := range paths[phase] {
			raw, err := os.ReadFile(path)
			if err != nil {
				return nil, errors.Wrapf(err, "failed to read configured hook %s", path)
			}
			abs, err := filepath.Abs(path)
			if err != nil {
				abs = path
			}
			hooks = append(hooks, &Hook{
				Phase:  phase,
				Script: filepath.Base(path),
				Path:   abs,
				Raw:    string(raw),
			})
		}
	}

	return hooks, nil
}

// SQL expands the hook body with the given placeholders.
func (h *Hook) SQL(placeholders map[string]string) (string, error) {
	merged := make(map[string]string, len(placeholders)+2)
	for k, v := range placeholders {
		merged[k] = v
	}
	merged["filename"] = h.Script
	merged["waypoint:filename"] = h.Script

	expanded, err := sqlparse.ExpandPlaceholders(h.Raw, merged)
	if err != nil {
		return "", errors.Wrapf(err, "failed to expand placeholders in hook %s", h.Script)
	}
	return expanded, nil
}
