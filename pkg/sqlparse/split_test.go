package sqlparse_test

import (
	"strings"
	"testing"

	. "github.com/pseudomuto/waypoint/pkg/sqlparse"
	"github.com/stretchr/testify/require"
)

func TestSplitStatements(t *testing.T) {
	tests := []struct {
		name     string
		sql      string
		expected []string
	}{
		{
			name:     "simple statements",
			sql:      "SELECT 1; SELECT 2;",
			expected: []string{"SELECT 1", "SELECT 2"},
		},
		{
			name:     "semicolon inside string literal",
			sql:      "SELECT 'hello;world'; SELECT 2;",
			expected: []string{"SELECT 'hello;world'", "SELECT 2"},
		},
		{
			name:     "doubled-quote escape",
			sql:      "SELECT 'it''s; here'; SELECT 2;",
			expected: []string{"SELECT 'it''s; here'", "SELECT 2"},
		},
		{
			name:     "no trailing semicolon",
			sql:      "SELECT 1",
			expected: []string{"SELECT 1"},
		},
		{
			name:     "line comment with semicolon",
			sql:      "-- comment; with semicolon\nSELECT 1;",
			expected: []string{"-- comment; with semicolon\nSELECT 1"},
		},
		{
			name:     "block comment with semicolons",
			sql:      "/* comment; with; semicolons */ SELECT 1;",
			expected: []string{"/* comment; with; semicolons */ SELECT 1"},
		},
		{
			name:     "nested block comments",
			sql:      "SELECT /* outer /* inner */ outer */ 1; SELECT 2;",
			expected: []string{"SELECT /* outer /* inner */ outer */ 1", "SELECT 2"},
		},
		{
			name:     "whitespace only",
			sql:      "   \n\t  ",
			expected: nil,
		},
		{
			name:     "empty tail dropped",
			sql:      "SELECT 1;   \n  ",
			expected: []string{"SELECT 1"},
		},
		{
			name: "dollar-quoted body",
			sql:  "CREATE FUNCTION foo() RETURNS void AS $$ BEGIN; END; $$ LANGUAGE plpgsql; SELECT 1;",
			expected: []string{
				"CREATE FUNCTION foo() RETURNS void AS $$ BEGIN; END; $$ LANGUAGE plpgsql",
				"SELECT 1",
			},
		},
		{
			name: "tagged dollar quote",
			sql:  "CREATE FUNCTION foo() RETURNS void AS $body$ BEGIN; END; $body$ LANGUAGE plpgsql; SELECT 1;",
			expected: []string{
				"CREATE FUNCTION foo() RETURNS void AS $body$ BEGIN; END; $body$ LANGUAGE plpgsql",
				"SELECT 1",
			},
		},
		{
			name:     "escape string with escaped quote",
			sql:      `SELECT E'hello\';world'; SELECT 2;`,
			expected: []string{`SELECT E'hello\';world'`, "SELECT 2"},
		},
		{
			name:     "mixed regular and escape strings",
			sql:      `SELECT 'normal;string', E'escape\';string'; SELECT 2;`,
			expected: []string{`SELECT 'normal;string', E'escape\';string'`, "SELECT 2"},
		},
		{
			name:     "double-quoted identifier",
			sql:      `SELECT "col;umn" FROM t; SELECT 2;`,
			expected: []string{`SELECT "col;umn" FROM t`, "SELECT 2"},
		},
		{
			name:     "comment-only script",
			sql:      "-- just a comment\n",
			expected: []string{"-- just a comment"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.expected, SplitStatements(tt.sql))
		})
	}
}

func TestSplitStatementsLargeStatement(t *testing.T) {
	// A single statement over 1 MiB must come back intact.
	var b strings.Builder
	b.WriteString("INSERT INTO t (payload) VALUES ('")
	b.WriteString(strings.Repeat("x", 1<<20))
	b.WriteString("');")

	stmts := SplitStatements(b.String())
	require.Len(t, stmts, 1)
	require.True(t, strings.HasPrefix(stmts[0], "INSERT INTO t"))
}

func TestSplitStatementsRoundTrip(t *testing.T) {
	// Joining the split statements with semicolons loses no statement.
	sql := "CREATE TABLE a(id int);\nINSERT INTO a VALUES (1);\nSELECT * FROM a"
	stmts := SplitStatements(sql)
	require.Len(t, stmts, 3)
	require.Equal(t, "SELECT * FROM a", stmts[2])
}
