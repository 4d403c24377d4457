// Package migration provides loading, parsing, and checksumming of
// SQL migration files following the Flyway naming convention.
//
// This package handles the file side of the migration lifecycle:
//   - Parsing versioned (V), repeatable (R), and undo (U) filenames
//   - Reading migration bodies and expanding ${key} placeholders
//   - Computing Flyway-compatible CRC32 checksums
//   - Extracting -- waypoint:* header directives
//   - Discovering lifecycle hook scripts alongside migrations
//
// Database-side concerns (history rows, execution) live in pkg/history
// and pkg/engine.
package migration

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/pseudomuto/waypoint/pkg/sqlparse"
)

// Kind discriminates the three migration file kinds.
type Kind int

const (
	// KindVersioned is a V<version>__<description>.sql migration, applied
	// exactly once in version order.
	KindVersioned Kind = iota

	// KindRepeatable is an R__<description>.sql migration, re-applied
	// whenever its checksum changes.
	KindRepeatable

	// KindUndo is a U<version>__<description>.sql migration that reverses
	// the versioned migration with the same version.
	KindUndo
)

func (k Kind) String() string {
	switch k {
	case KindVersioned:
		return "versioned"
	case KindRepeatable:
		return "repeatable"
	case KindUndo:
		return "undo"
	}
	return "unknown"
}

// HistoryType returns the history table type string recorded for
// migrations of this kind.
func (k Kind) HistoryType() string {
	switch k {
	case KindRepeatable:
		return "SQL_REPEATABLE"
	case KindUndo:
		return "SQL_UNDO"
	default:
		return "SQL"
	}
}

// Resolved is the in-memory representation of a migration file on disk.
type Resolved struct {
	// Path is the absolute path of the file.
	Path string

	// Kind is the migration kind parsed from the filename prefix.
	Kind Kind

	// Version is the parsed version for versioned and undo migrations.
	// It is the zero Version for repeatable migrations.
	Version Version

	// Description is the filename description with underscores replaced
	// by spaces.
	Description string

	// Script is the file basename (e.g. "V1__create_users.sql").
	Script string

	// Raw is the file body as read from disk.
	Raw string

	// SQL is the body after placeholder expansion. This is what executes
	// and what the checksum covers.
	SQL string

	// Checksum is the Flyway-compatible CRC32 of SQL.
	Checksum int32

	// Directives holds parsed -- waypoint:* header directives.
	Directives sqlparse.Directives

	// InTransaction reports whether the engine wraps this script in its
	// own transaction. False when the script carries explicit transaction
	// control or contains a statement that cannot run inside one.
	InTransaction bool
}

// IsVersioned reports whether the migration is a versioned (V) migration.
func (r *Resolved) IsVersioned() bool { return r.Kind == KindVersioned }

// IsRepeatable reports whether the migration is a repeatable (R) migration.
func (r *Resolved) IsRepeatable() bool { return r.Kind == KindRepeatable }

// IsUndo reports whether the migration is an undo (U) migration.
func (r *Resolved) IsUndo() bool { return r.Kind == KindUndo }

// ParseError reports a migration filename or body that could not be
// parsed.
type ParseError struct {
	Script string
	Reason string
}

func (e *ParseError) Error() string {
	return "cannot parse migration " + e.Script + ": " + e.Reason
}

// ParseFilename tokenizes a migration filename into (kind, version,
// description).
//
// The accepted grammar is:
//
//	V<version>__<description>.sql
//	R__<description>.sql
//	U<version>__<description>.sql
//
// The prefix letter is case-sensitive; lowercase prefixes are rejected so
// that v1__init.sql surfaces as a skip-with-warning rather than silently
// resolving. Underscores in the description become spaces.
func ParseFilename(name string) (Kind, Version, string, error) {
	if !strings.HasSuffix(name, ".sql") {
		return 0, Version{}, "", &ParseError{Script: name, Reason: "missing .sql extension"}
	}
	stem := strings.TrimSuffix(name, ".sql")

	if stem == "" {
		return 0, Version{}, "", &ParseError{Script: name, Reason: "empty filename"}
	}

	var kind Kind
	switch stem[0] {
	case 'V':
		kind = KindVersioned
	case 'R':
		kind = KindRepeatable
	case 'U':
		kind = KindUndo
	default:
		return 0, Version{}, "", &ParseError{
			Script: name,
			Reason: "filename must start with V, R, or U (prefix is case-sensitive)",
		}
	}

	rest := stem[1:]
	idx := strings.Index(rest, "__")
	if idx < 0 {
		return 0, Version{}, "", &ParseError{Script: name, Reason: "missing __ separator"}
	}

	versionPart := rest[:idx]
	desc := strings.ReplaceAll(rest[idx+2:], "_", " ")
	if desc == "" {
		return 0, Version{}, "", &ParseError{Script: name, Reason: "missing description"}
	}

	switch kind {
	case KindRepeatable:
		if versionPart != "" {
			return 0, Version{}, "", &ParseError{
				Script: name,
				Reason: "repeatable migrations must not carry a version",
			}
		}
		return kind, Version{}, desc, nil
	default:
		v, err := ParseVersion(versionPart)
		if err != nil {
			return 0, Version{}, "", &ParseError{Script: name, Reason: errors.Cause(err).Error()}
		}
		return kind, v, desc, nil
	}
}
