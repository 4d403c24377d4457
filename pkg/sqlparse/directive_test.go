package sqlparse_test

import (
	"testing"

	. "github.com/pseudomuto/waypoint/pkg/sqlparse"
	"github.com/stretchr/testify/require"
)

func TestParseDirectives(t *testing.T) {
	tests := []struct {
		name    string
		sql     string
		env     []string
		depends []string
		unknown []string
	}{
		{
			name: "env directive",
			sql:  "-- waypoint:env dev,staging\nCREATE TABLE foo();",
			env:  []string{"dev", "staging"},
		},
		{
			name:    "depends with V prefix stripped",
			sql:     "-- waypoint:depends V3,V5\nCREATE TABLE foo();",
			depends: []string{"3", "5"},
		},
		{
			name:    "depends without prefix",
			sql:     "-- waypoint:depends 3,5\nCREATE TABLE foo();",
			depends: []string{"3", "5"},
		},
		{
			name:    "multiple directives",
			sql:     "-- waypoint:env dev\n-- waypoint:depends V1,V2\nCREATE TABLE foo();",
			env:     []string{"dev"},
			depends: []string{"1", "2"},
		},
		{
			name: "stops at first non-comment line",
			sql:  "-- waypoint:env dev\nCREATE TABLE foo();\n-- waypoint:env prod\n",
			env:  []string{"dev"},
		},
		{
			name: "empty input",
			sql:  "",
		},
		{
			name: "plain comments carry no directives",
			sql:  "-- Regular comment\nCREATE TABLE foo();",
		},
		{
			name: "leading blank lines skipped",
			sql:  "\n\n-- waypoint:env prod\nCREATE TABLE foo();",
			env:  []string{"prod"},
		},
		{
			name: "whitespace in values trimmed",
			sql:  "-- waypoint:env  dev , staging , prod \nCREATE TABLE foo();",
			env:  []string{"dev", "staging", "prod"},
		},
		{
			name:    "prefix boundary: environment is not env",
			sql:     "-- waypoint:environment prod\nCREATE TABLE foo();",
			unknown: []string{"environment"},
		},
		{
			name: "empty depends list",
			sql:  "-- waypoint:depends\nCREATE TABLE foo();",
		},
		{
			name:    "unknown directive collected",
			sql:     "-- waypoint:require table_exists(\"users\")\nCREATE TABLE foo();",
			unknown: []string{"require"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := ParseDirectives(tt.sql)
			require.Equal(t, tt.env, d.Env)
			require.Equal(t, tt.depends, d.Depends)
			require.Equal(t, tt.unknown, d.Unknown)
		})
	}
}

func TestRunsInEnvironment(t *testing.T) {
	tests := []struct {
		name     string
		env      []string
		active   string
		expected bool
	}{
		{"no directive runs everywhere", nil, "prod", true},
		{"no active env runs everything", []string{"dev"}, "", true},
		{"matching env", []string{"dev", "staging"}, "staging", true},
		{"case-insensitive match", []string{"Dev"}, "dev", true},
		{"non-matching env", []string{"dev"}, "prod", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Directives{Env: tt.env}
			require.Equal(t, tt.expected, d.RunsInEnvironment(tt.active))
		})
	}
}
