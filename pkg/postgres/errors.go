package postgres

import (
	"errors"
	"io"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// ConnectError reports an exhausted or rejected connect cycle.
type ConnectError struct {
	Reason string
	Err    error
}

func (e *ConnectError) Error() string {
	if e.Err != nil {
		return "connect failed: " + e.Reason + ": " + e.Err.Error()
	}
	return "connect failed: " + e.Reason
}

func (e *ConnectError) Unwrap() error { return e.Err }

// LockError reports a failed or timed-out advisory lock acquisition.
type LockError struct {
	Table  string
	Reason string
}

func (e *LockError) Error() string {
	return "advisory lock on " + e.Table + ": " + e.Reason
}

// transientStates are the SQLSTATE codes treated as transient connection
// failures: server shutdown (57P0x) and connection exceptions (08xxx).
var transientStates = map[string]bool{
	"57P01": true, // admin_shutdown
	"57P02": true, // crash_shutdown
	"57P03": true, // cannot_connect_now
	"08000": true, // connection_exception
	"08003": true, // connection_does_not_exist
	"08006": true, // connection_failure
}

// IsTransient reports whether err looks like a transient connection
// failure that a reconnect between migrations may recover from. SQL
// errors raised by statements themselves are never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return transientStates[pgErr.Code]
	}

	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	if pgconn.SafeToRetry(err) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"connection reset",
		"broken pipe",
		"connection closed",
		"unexpected eof",
		"conn closed",
	} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// isAuthError reports a permanent authentication failure that must not
// be retried (invalid_password, invalid_authorization_specification).
func isAuthError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "28P01" || pgErr.Code == "28000"
	}
	return false
}

// FormatError extracts the full server-side message from a pgconn error,
// including detail and hint that the default Error() hides.
func FormatError(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		var b strings.Builder
		b.WriteString(pgErr.Message)
		if pgErr.Code != "" {
			b.WriteString(" (SQLSTATE " + pgErr.Code + ")")
		}
		if pgErr.Detail != "" {
			b.WriteString("\n  Detail: " + pgErr.Detail)
		}
		if pgErr.Hint != "" {
			b.WriteString("\n  Hint: " + pgErr.Hint)
		}
		if pgErr.Position > 0 {
			b.WriteString("\n  Position: " + strconv.Itoa(int(pgErr.Position)))
		}
		return b.String()
	}
	return err.Error()
}
