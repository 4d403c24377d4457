package migration

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Version is an ordered migration version parsed from a dotted numeric
// string such as "1", "1.2", or "2.0.1".
//
// Ordering is numeric per component. Trailing zero components are not
// significant: "1" and "1.0" compare equal (Flyway semantics), while a
// longer version that extends a shorter one with a non-zero component
// sorts after it ("1" < "1.2").
type Version struct {
	// Raw is the version string exactly as it appeared in the filename.
	Raw string

	// Parts holds the dot-separated numeric components.
	Parts []uint64
}

// ParseVersion parses a dotted numeric version string.
//
// Each dot-separated group must be a non-negative integer. Empty strings
// and empty groups (e.g. "1..2") are rejected.
func ParseVersion(s string) (Version, error) {
	if s == "" {
		return Version{}, errors.New("version string is empty")
	}

	groups := strings.Split(s, ".")
	parts := make([]uint64, 0, len(groups))
	for _, g := range groups {
		if g == "" {
			return Version{}, errors.Errorf("invalid version %q: empty version component", s)
		}
		n, err := strconv.ParseUint(g, 10, 64)
		if err != nil {
			return Version{}, errors.Wrapf(err, "invalid version %q", s)
		}
		parts = append(parts, n)
	}

	return Version{Raw: s, Parts: parts}, nil
}

// Compare returns -1, 0, or 1 if v is less than, equal to, or greater than
// other. Missing components compare as zero, so "1" == "1.0" and
// "1.1" < "1.1.1".
func (v Version) Compare(other Version) int {
	n := max(len(v.Parts), len(other.Parts))
	for i := 0; i < n; i++ {
		a, b := uint64(0), uint64(0)
		if i < len(v.Parts) {
			a = v.Parts[i]
		}
		if i < len(other.Parts) {
			b = other.Parts[i]
		}
		switch {
		case a < b:
			return -1
		case a > b:
			return 1
		}
	}
	return 0
}

// Less reports whether v sorts strictly before other.
func (v Version) Less(other Version) bool { return v.Compare(other) < 0 }

// Equal reports whether v and other denote the same version, ignoring
// trailing zeros ("1" equals "1.0").
func (v Version) Equal(other Version) bool { return v.Compare(other) == 0 }

// Key returns a canonical form usable for map keys and duplicate
// detection: the dotted components with trailing zeros trimmed.
func (v Version) Key() string {
	parts := v.Parts
	for len(parts) > 1 && parts[len(parts)-1] == 0 {
		parts = parts[:len(parts)-1]
	}
	strs := make([]string, len(parts))
	for i, p := range parts {
		strs[i] = strconv.FormatUint(p, 10)
	}
	return strings.Join(strs, ".")
}

func (v Version) String() string { return v.Raw }
