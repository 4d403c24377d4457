package engine

import (
	"context"

	"github.com/pseudomuto/waypoint/pkg/history"
	"github.com/pseudomuto/waypoint/pkg/migration"
)

// Issue kinds reported by Validate.
const (
	IssueChecksumMismatch = "checksum_mismatch"
	IssueMissingFile      = "missing_file"
	IssueTypeMismatch     = "type_mismatch"
	IssueUnknownHistory   = "unknown_history"
)

// ValidationIssue is one finding of a validate run.
type ValidationIssue struct {
	// Script names the migration the issue concerns.
	Script string

	// Kind is one of the Issue* constants.
	Kind string

	// Detail is a human-readable explanation.
	Detail string
}

// ValidateReport is the result of a validate run.
type ValidateReport struct {
	// Valid is true when no errors were found. Unknown-history findings
	// are warnings and do not clear this flag unless strict mode asked
	// for them as errors.
	Valid bool

	// Errors holds the findings that made the run invalid.
	Errors []ValidationIssue

	// Warnings holds non-fatal findings (unknown history rows).
	Warnings []ValidationIssue
}

// Validate proves that local files match recorded history: every
// successful versioned row must have a resolved file with the same
// version and checksum, and recorded kinds must agree with resolved
// kinds. Versioned rows are matched to files by version; the recorded
// script name is not compared with the file name.
func (w *Waypoint) Validate(ctx context.Context) (*ValidateReport, error) {
	return w.ValidateStrict(ctx, false)
}

// ValidateStrict is Validate with unknown history rows promoted from
// warnings to errors.
func (w *Waypoint) ValidateStrict(ctx context.Context, strict bool) (*ValidateReport, error) {
	var report *ValidateReport
	err := w.withLock(ctx, func() error {
		var err error
		report, err = w.runValidate(ctx, strict)
		return err
	})
	return report, err
}

// runValidate is the lock-free core shared with migrate's
// validate_on_migrate pass.
func (w *Waypoint) runValidate(ctx context.Context, strict bool) (*ValidateReport, error) {
	report := &ValidateReport{Valid: true}

	exists, err := w.store.Exists(ctx, w.client.Conn())
	if err != nil {
		return nil, err
	}
	if !exists {
		// Nothing recorded yet; local files are trivially consistent.
		return report, nil
	}

	set, _, err := w.resolve(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := w.store.FetchAll(ctx, w.client.Conn())
	if err != nil {
		return nil, err
	}

	report.Errors, report.Warnings = validateRows(set, rows)
	if strict {
		report.Errors = append(report.Errors, report.Warnings...)
		report.Warnings = nil
	}
	report.Valid = len(report.Errors) == 0

	return report, nil
}

// validateRows compares the resolved files against the recorded history
// and returns (errors, warnings).
func validateRows(set *migration.ResolvedSet, rows []*history.Row) ([]ValidationIssue, []ValidationIssue) {
	var issues, warnings []ValidationIssue

	byVersion := set.VersionedByKey()
	byScript := make(map[string]*migration.Resolved)
	for _, m := range set.Repeatable {
		byScript[m.Script] = m
	}

	effective := history.EffectiveVersions(rows)

	for _, row := range rows {
		switch {
		case row.Type == history.TypeBaseline || row.IsUndo():
			continue
		case !row.Success:
			continue
		}

		if row.Version != nil {
			// A forward row later undone no longer binds the file.
			if !effective[*row.Version] {
				continue
			}
			resolved := lookupVersion(byVersion, *row.Version)
			if resolved == nil {
				issues = append(issues, ValidationIssue{
					Script: row.Script,
					Kind:   IssueMissingFile,
					Detail: "applied migration has no local file",
				})
				continue
			}
			if !resolved.IsVersioned() {
				issues = append(issues, ValidationIssue{
					Script: row.Script,
					Kind:   IssueTypeMismatch,
					Detail: "history records a versioned migration but the local file is " + resolved.Kind.String(),
				})
				continue
			}
			if row.Checksum == nil || *row.Checksum != resolved.Checksum {
				issues = append(issues, ValidationIssue{
					Script: row.Script,
					Kind:   IssueChecksumMismatch,
					Detail: "local file checksum differs from the recorded checksum",
				})
			}
			continue
		}

		// Repeatable row: a changed checksum means pending re-apply, not
		// an error; only a missing file is reported.
		if _, ok := byScript[row.Script]; !ok {
			warnings = append(warnings, ValidationIssue{
				Script: row.Script,
				Kind:   IssueUnknownHistory,
				Detail: "repeatable migration recorded in history has no local file",
			})
		}
	}

	return issues, warnings
}

func lookupVersion(byVersion map[string]*migration.Resolved, raw string) *migration.Resolved {
	v, err := migration.ParseVersion(raw)
	if err != nil {
		return byVersion[raw]
	}
	return byVersion[v.Key()]
}
