package sqlparse

import "strings"

// Directives holds the parsed -- waypoint:* header directives of a
// migration file.
//
// Directives appear as SQL comments before the first non-comment,
// non-blank line:
//
//	-- waypoint:env dev,staging
//	-- waypoint:depends V3,V5
//	CREATE TABLE ...
type Directives struct {
	// Env restricts the migration to the listed environments. Empty
	// means the migration runs everywhere.
	Env []string

	// Depends lists versions this migration depends on. The optional V
	// prefix is stripped.
	Depends []string

	// Unknown collects waypoint:* directive names that the engine does
	// not recognize. Unknown directives are warnings, not errors.
	Unknown []string
}

// RunsInEnvironment reports whether a migration carrying these directives
// should run when the active environment is env. Migrations without an
// env directive run everywhere; an empty active environment runs
// everything.
func (d Directives) RunsInEnvironment(env string) bool {
	if len(d.Env) == 0 || env == "" {
		return true
	}
	for _, e := range d.Env {
		if strings.EqualFold(e, env) {
			return true
		}
	}
	return false
}

// ParseDirectives extracts -- waypoint:* directives from the top of a SQL
// script. Parsing stops at the first non-empty, non-comment line.
func ParseDirectives(sql string) Directives {
	var d Directives

	for _, line := range strings.Split(sql, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if !strings.HasPrefix(trimmed, "--") {
			break
		}

		body := strings.TrimSpace(strings.TrimPrefix(trimmed, "--"))
		if !strings.HasPrefix(body, "waypoint:") {
			continue
		}

		switch {
		case hasDirective(body, "waypoint:depends"):
			for _, item := range splitList(directiveValue(body, "waypoint:depends")) {
				d.Depends = append(d.Depends, strings.TrimPrefix(item, "V"))
			}
		case hasDirective(body, "waypoint:env"):
			d.Env = append(d.Env, splitList(directiveValue(body, "waypoint:env"))...)
		default:
			name := body
			if i := strings.IndexFunc(body, func(r rune) bool { return r == ' ' || r == '\t' }); i >= 0 {
				name = body[:i]
			}
			d.Unknown = append(d.Unknown, strings.TrimPrefix(name, "waypoint:"))
		}
	}

	return d
}

// hasDirective reports whether body starts with the directive name
// followed by whitespace or end of string. The boundary check keeps
// waypoint:env from matching waypoint:environment.
func hasDirective(body, name string) bool {
	rest, ok := strings.CutPrefix(body, name)
	if !ok {
		return false
	}
	return rest == "" || rest[0] == ' ' || rest[0] == '\t'
}

func directiveValue(body, name string) string {
	return strings.TrimSpace(strings.TrimPrefix(body, name))
}

func splitList(value string) []string {
	var items []string
	for _, item := range strings.Split(value, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			items = append(items, item)
		}
	}
	return items
}
