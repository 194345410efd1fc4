package utils

import (
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

var identifierPattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// QuoteIdentifier wraps a PostgreSQL identifier in double quotes, doubling any
// embedded quote characters so the result is always a single valid identifier.
//
// Examples:
//   - "users" -> `"users"`
//   - `weird"name` -> `"weird""name"`
func QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// QualifiedName formats a schema-qualified name with both parts quoted.
// If schema is empty, only the name is quoted.
//
// Examples:
//   - ("public", "users") -> `"public"."users"`
//   - ("", "users") -> `"users"`
func QualifiedName(schema, name string) string {
	if schema == "" {
		return QuoteIdentifier(name)
	}
	return QuoteIdentifier(schema) + "." + QuoteIdentifier(name)
}

// ValidateIdentifier rejects schema and table names that could not have come
// from configuration written in good faith. Identifiers are restricted to
// alphanumerics and underscores; everything else is refused rather than
// escaped, since these values name the objects Waypoint itself creates.
func ValidateIdentifier(name, what string) error {
	if name == "" {
		return errors.Errorf("%s must not be empty", what)
	}
	if !identifierPattern.MatchString(name) {
		return errors.Errorf("invalid %s %q: only alphanumeric characters and underscores are allowed", what, name)
	}
	return nil
}
