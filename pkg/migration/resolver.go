package migration

import (
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/pseudomuto/waypoint/pkg/sqlparse"
)

// ResolveOptions configures a Resolve call.
type ResolveOptions struct {
	// Placeholders maps ${key} names to their substitution values. The
	// caller is responsible for merging in the built-in names (schema,
	// user, database); Resolve adds the per-file filename entry itself.
	Placeholders map[string]string

	// Logger receives skip-with-warning and unknown-directive messages.
	// Defaults to slog.Default().
	Logger *slog.Logger
}

// ResolvedSet is the result of scanning the migration locations, split by
// kind. Versioned and Undo are sorted by version; Repeatable by
// description.
type ResolvedSet struct {
	Versioned  []*Resolved
	Repeatable []*Resolved
	Undo       []*Resolved
}

// All returns every resolved migration in a single slice, versioned
// first, then repeatable, then undo.
func (s *ResolvedSet) All() []*Resolved {
	out := make([]*Resolved, 0, len(s.Versioned)+len(s.Repeatable)+len(s.Undo))
	out = append(out, s.Versioned...)
	out = append(out, s.Repeatable...)
	out = append(out, s.Undo...)
	return out
}

// VersionedByKey returns the versioned migrations indexed by canonical
// version key.
func (s *ResolvedSet) VersionedByKey() map[string]*Resolved {
	m := make(map[string]*Resolved, len(s.Versioned))
	for _, r := range s.Versioned {
		m[r.Version.Key()] = r
	}
	return m
}

// UndoByKey returns the undo migrations indexed by canonical version key.
func (s *ResolvedSet) UndoByKey() map[string]*Resolved {
	m := make(map[string]*Resolved, len(s.Undo))
	for _, r := range s.Undo {
		m[r.Version.Key()] = r
	}
	return m
}

// DuplicateVersionError reports two versioned migration files carrying
// the same version.
type DuplicateVersionError struct {
	Version string
	Scripts [2]string
}

func (e *DuplicateVersionError) Error() string {
	return "duplicate migration version " + e.Version + ": " + e.Scripts[0] + " and " + e.Scripts[1]
}

// Resolve scans the given location directories for .sql migration files.
//
// Each location is enumerated non-recursively in lexicographic order. For
// every file the name is parsed, the body read, placeholders expanded,
// the checksum computed, and header directives extracted. Hook scripts
// are skipped silently; other files whose names do not match the
// migration grammar are skipped with a warning. Two versioned files with
// the same version are a hard error.
func Resolve(locations []string, opts ResolveOptions) (*ResolvedSet, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	set := &ResolvedSet{}
	byVersion := make(map[string]*Resolved)

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
			if IsHookScript(name) {
				continue
			}

			kind, version, desc, err := ParseFilename(name)
			if err != nil {
				logger.Warn("skipping file with unrecognized name", "file", name, "reason", err.Error())
				continue
			}

			path := filepath.Join(location, name)
			resolved, err := load(path, kind, version, desc, opts.Placeholders)
			if err != nil {
				return nil, err
			}

			for _, unknown := range resolved.Directives.Unknown {
				logger.Warn("ignoring unknown directive", "file", name, "directive", unknown)
			}

			if kind == KindVersioned {
				key := version.Key()
				if prev, ok := byVersion[key]; ok {
					return nil, &DuplicateVersionError{
						Version: version.Raw,
						Scripts: [2]string{prev.Script, name},
					}
				}
				byVersion[key] = resolved
			}

			switch kind {
			case KindVersioned:
				set.Versioned = append(set.Versioned, resolved)
			case KindRepeatable:
				set.Repeatable = append(set.Repeatable, resolved)
			case KindUndo:
				set.Undo = append(set.Undo, resolved)
			}
		}
	}

	sort.SliceStable(set.Versioned, func(i, j int) bool {
		return set.Versioned[i].Version.Less(set.Versioned[j].Version)
	})
	sort.SliceStable(set.Undo, func(i, j int) bool {
		return set.Undo[i].Version.Less(set.Undo[j].Version)
	})
	sort.SliceStable(set.Repeatable, func(i, j int) bool {
		return set.Repeatable[i].Description < set.Repeatable[j].Description
	})

	return set, nil
}

func load(path string, kind Kind, version Version, desc string, placeholders map[string]string) (*Resolved, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read migration %s", path)
	}

	script := filepath.Base(path)

	merged := make(map[string]string, len(placeholders)+1)
	for k, v := range placeholders {
		merged[k] = v
	}
	merged["filename"] = script
	merged["waypoint:filename"] = script

	expanded, err := sqlparse.ExpandPlaceholders(string(raw), merged)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to expand placeholders in %s", script)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}

	return &Resolved{
		Path:          abs,
		Kind:          kind,
		Version:       version,
		Description:   desc,
		Script:        script,
		Raw:           string(raw),
		SQL:           expanded,
		Checksum:      Checksum(expanded),
		Directives:    sqlparse.ParseDirectives(string(raw)),
		InTransaction: RunsInTransaction(expanded),
	}, nil
}
