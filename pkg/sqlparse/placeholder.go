package sqlparse

import (
	"regexp"
	"sort"
	"strings"
)

var placeholderRE = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_:]*)\}`)

// PlaceholderError reports a ${key} token with no corresponding value.
type PlaceholderError struct {
	// Key is the placeholder name that was not found.
	Key string
	// Available lists the defined placeholder names.
	Available []string
}

func (e *PlaceholderError) Error() string {
	avail := "(none)"
	if len(e.Available) > 0 {
		avail = strings.Join(e.Available, ", ")
	}
	return "placeholder '" + e.Key + "' not found; available placeholders: " + avail
}

// ExpandPlaceholders substitutes ${key} tokens in sql using the provided
// map. Lookup is case-insensitive. Tokens inside dollar-quoted strings
// ($tag$...$tag$, including the untagged $$...$$ form) are left verbatim.
// Substituted values are not re-expanded.
//
// An unknown key returns a *PlaceholderError listing the available names.
func ExpandPlaceholders(sql string, placeholders map[string]string) (string, error) {
	lower := make(map[string]string, len(placeholders))
	for k, v := range placeholders {
		lower[strings.ToLower(k)] = v
	}

	regions := dollarQuotedRegions(sql)
	inDollarQuote := func(start, end int) bool {
		for _, r := range regions {
			if start >= r[0] && end <= r[1] {
				return true
			}
		}
		return false
	}

	var out strings.Builder
	out.Grow(len(sql))
	last := 0
	var expandErr error

	for _, m := range placeholderRE.FindAllStringSubmatchIndex(sql, -1) {
		if expandErr != nil {
			break
		}
		matchStart, matchEnd := m[0], m[1]
		key := sql[m[2]:m[3]]

		if inDollarQuote(matchStart, matchEnd) {
			continue
		}

		value, ok := lower[strings.ToLower(key)]
		if !ok {
			available := make([]string, 0, len(placeholders))
			for k := range placeholders {
				available = append(available, k)
			}
			sort.Strings(available)
			expandErr = &PlaceholderError{Key: key, Available: available}
			break
		}

		out.WriteString(sql[last:matchStart])
		out.WriteString(value)
		last = matchEnd
	}
	if expandErr != nil {
		return "", expandErr
	}

	out.WriteString(sql[last:])
	return out.String(), nil
}

// dollarQuotedRegions returns the [start, end) byte ranges of every
// dollar-quoted string in sql, skipping quotes that appear inside
// ordinary string literals or comments.
func dollarQuotedRegions(sql string) [][2]int {
	var regions [][2]int
	b := []byte(sql)
	n := len(b)
	i := 0

	for i < n {
		switch b[i] {
		case '\'':
			i++
			for i < n {
				if b[i] == '\'' {
					if i+1 < n && b[i+1] == '\'' {
						i += 2
					} else {
						i++
						break
					}
				} else {
					i++
				}
			}
			continue
		case '-':
			if i+1 < n && b[i+1] == '-' {
				for i < n && b[i] != '\n' {
					i++
				}
				continue
			}
		case '/':
			if i+1 < n && b[i+1] == '*' {
				i += 2
				depth := 1
				for i < n && depth > 0 {
					if i+1 < n && b[i] == '/' && b[i+1] == '*' {
						depth++
						i += 2
					} else if i+1 < n && b[i] == '*' && b[i+1] == '/' {
						depth--
						i += 2
					} else {
						i++
					}
				}
				continue
			}
		case '$':
			if end, ok := skipDollarQuote(sql, i); ok {
				regions = append(regions, [2]int{i, end})
				i = end
				continue
			}
		}
		i++
	}

	return regions
}
