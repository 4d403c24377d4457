package migration

import (
	"regexp"
	"strings"

	"github.com/pseudomuto/waypoint/pkg/sqlparse"
)

var nonTransactionalRE = []*regexp.Regexp{
	regexp.MustCompile(`(?is)^\s*CREATE\s+(UNIQUE\s+)?INDEX\s+CONCURRENTLY\b`),
	regexp.MustCompile(`(?is)^\s*DROP\s+INDEX\s+CONCURRENTLY\b`),
	regexp.MustCompile(`(?is)^\s*REINDEX\s+.*\bCONCURRENTLY\b`),
	regexp.MustCompile(`(?is)^\s*VACUUM\b`),
	regexp.MustCompile(`(?is)^\s*CREATE\s+DATABASE\b`),
	regexp.MustCompile(`(?is)^\s*DROP\s+DATABASE\b`),
	regexp.MustCompile(`(?is)^\s*ALTER\s+SYSTEM\b`),
	regexp.MustCompile(`(?is)^\s*ALTER\s+TYPE\s+.*\bADD\s+VALUE\b`),
	regexp.MustCompile(`(?is)^\s*CREATE\s+TABLESPACE\b`),
	regexp.MustCompile(`(?is)^\s*DROP\s+TABLESPACE\b`),
}

var txnControlRE = regexp.MustCompile(`(?i)^(BEGIN|COMMIT|ROLLBACK|START\s+TRANSACTION|END)\b`)

// RunsInTransaction reports whether the engine should wrap the script in
// an implicit transaction. It returns false when the script performs its
// own transaction control or contains a statement PostgreSQL refuses to
// run inside a transaction block, such as CREATE INDEX CONCURRENTLY.
func RunsInTransaction(sql string) bool {
	for _, stmt := range sqlparse.SplitStatements(sql) {
		stripped := stripLeadingComments(stmt)
		if txnControlRE.MatchString(stripped) {
			return false
		}
		for _, re := range nonTransactionalRE {
			if re.MatchString(stripped) {
				return false
			}
		}
	}
	return true
}

// stripLeadingComments removes leading whitespace and -- comment lines so
// statement classification sees the first real token.
func stripLeadingComments(stmt string) string {
	for {
		stmt = strings.TrimLeft(stmt, " \t\r\n")
		if strings.HasPrefix(stmt, "--") {
			if i := strings.IndexByte(stmt, '\n'); i >= 0 {
				stmt = stmt[i+1:]
				continue
			}
			return ""
		}
		return stmt
	}
}
