package postgres

import (
	"io"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestAdvisoryLockID(t *testing.T) {
	// Same inputs always produce the same key.
	id1 := AdvisoryLockID("public", "waypoint_schema_history")
	id2 := AdvisoryLockID("public", "waypoint_schema_history")
	require.Equal(t, id1, id2)

	// Schema participates in the key.
	require.NotEqual(t, id1, AdvisoryLockID("other", "waypoint_schema_history"))
	require.NotEqual(t, id1, AdvisoryLockID("public", "other_table"))
}

func TestParseSSLMode(t *testing.T) {
	tests := []struct {
		input    string
		expected SSLMode
		wantErr  bool
	}{
		{input: "", expected: SSLPrefer},
		{input: "prefer", expected: SSLPrefer},
		{input: "disable", expected: SSLDisable},
		{input: "disabled", expected: SSLDisable},
		{input: "require", expected: SSLRequire},
		{input: "REQUIRED", expected: SSLRequire},
		{input: "verify-full", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			mode, err := ParseSSLMode(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.expected, mode)
		})
	}
}

func TestWithSSLMode(t *testing.T) {
	require.Equal(t,
		"postgres://host/db?sslmode=require",
		withSSLMode("postgres://host/db", SSLRequire))

	// An explicit sslmode in the URL wins.
	require.Equal(t,
		"postgres://host/db?sslmode=disable",
		withSSLMode("postgres://host/db?sslmode=disable", SSLRequire))
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil", nil, false},
		{"admin shutdown", &pgconn.PgError{Code: "57P01"}, true},
		{"crash shutdown", &pgconn.PgError{Code: "57P02"}, true},
		{"cannot connect now", &pgconn.PgError{Code: "57P03"}, true},
		{"connection exception", &pgconn.PgError{Code: "08000"}, true},
		{"connection failure", &pgconn.PgError{Code: "08006"}, true},
		{"syntax error", &pgconn.PgError{Code: "42601"}, false},
		{"unique violation", &pgconn.PgError{Code: "23505"}, false},
		{"unexpected EOF", io.ErrUnexpectedEOF, true},
		{"wrapped transient", errors.Wrap(&pgconn.PgError{Code: "57P01"}, "query failed"), true},
		{"connection reset message", errors.New("read tcp: connection reset by peer"), true},
		{"broken pipe message", errors.New("write tcp: broken pipe"), true},
		{"plain error", errors.New("something else"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.expected, IsTransient(tt.err))
		})
	}
}

func TestIsAuthError(t *testing.T) {
	require.True(t, isAuthError(&pgconn.PgError{Code: "28P01"}))
	require.True(t, isAuthError(&pgconn.PgError{Code: "28000"}))
	require.False(t, isAuthError(&pgconn.PgError{Code: "57P01"}))
	require.False(t, isAuthError(errors.New("other")))
}

func TestQuoteIdent(t *testing.T) {
	require.Equal(t, `"users"`, QuoteIdent("users"))
	require.Equal(t, `"my""table"`, QuoteIdent(`my"table`))
	require.Equal(t, `""`, QuoteIdent(""))
	require.Equal(t, `"public"."t"`, QuoteQualified("public", "t"))
}

func TestValidateIdentifier(t *testing.T) {
	for _, ok := range []string{"users", "my_table", "Table123", "a"} {
		require.NoError(t, ValidateIdentifier(ok))
	}
	for _, bad := range []string{"", "my-table", "my table", "table.name", "table;drop"} {
		require.Error(t, ValidateIdentifier(bad))
	}
}

func TestBackoffDelay(t *testing.T) {
	for attempt := 1; attempt <= 12; attempt++ {
		d := backoffDelay(attempt)
		require.Greater(t, d, retryBaseDelay/2)
		require.LessOrEqual(t, d, retryMaxDelay+retryBaseDelay)
	}
}

func TestFormatError(t *testing.T) {
	pgErr := &pgconn.PgError{
		Code:    "42601",
		Message: "syntax error at or near \"SELEC\"",
		Hint:    "check the statement",
	}
	msg := FormatError(pgErr)
	require.Contains(t, msg, "syntax error")
	require.Contains(t, msg, "SQLSTATE 42601")
	require.Contains(t, msg, "Hint: check the statement")

	require.Equal(t, "plain", FormatError(errors.New("plain")))
}
