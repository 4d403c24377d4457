package postgres

import (
	"strings"

	"github.com/pkg/errors"
)

// QuoteIdent quotes a SQL identifier, doubling embedded double-quotes.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// QuoteQualified quotes a schema-qualified relation name.
func QuoteQualified(schema, name string) string {
	return QuoteIdent(schema) + "." + QuoteIdent(name)
}

// ValidateIdentifier rejects identifiers with characters outside
// [a-zA-Z0-9_]. Quoting already prevents injection; suspicious names are
// still rejected early so a typoed config fails loudly.
func ValidateIdentifier(name string) error {
	if name == "" {
		return errors.New("identifier cannot be empty")
	}
	for _, r := range name {
		if r == '_' ||
			(r >= 'a' && r <= 'z') ||
			(r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') {
			continue
		}
		return errors.Errorf("identifier %q contains invalid characters; only [a-zA-Z0-9_] are allowed", name)
	}
	return nil
}
