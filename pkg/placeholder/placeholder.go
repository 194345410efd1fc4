// Package placeholder expands ${key} references in migration SQL.
//
// Expansion is lookup by case-insensitive key against the configured
// placeholder map plus the built-ins derived from the live connection
// (schema, user, database, filename, and the waypoint:-prefixed aliases).
// Text inside single-quoted strings, escape strings, dollar-quoted bodies,
// and SQL comments is never touched, so a literal "${...}" can always be
// shipped to the server by quoting it.
//
// Unresolved keys are reported to the caller rather than handled here; the
// engine decides between failing the migration and warning while leaving the
// reference literal, per the configured missing-placeholder policy.
package placeholder

import (
	"sort"
	"strings"
	"time"
)

// Expander substitutes ${key} references using a fixed value map.
type Expander struct {
	values map[string]string // lower-cased key to value
	names  []string          // original spellings, for error messages
}

// New builds an Expander over the given values. Keys that collide
// case-insensitively resolve to the lexically last spelling, so the result
// does not depend on map iteration order.
//
// Example usage:
//
//	exp := placeholder.New(map[string]string{"tenant": "acme"})
//	sql, missing := exp.Expand("CREATE SCHEMA ${tenant};")
func New(values map[string]string) *Expander {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	e := &Expander{values: make(map[string]string, len(values))}
	for _, key := range keys {
		lower := strings.ToLower(key)
		if _, ok := e.values[lower]; !ok {
			e.names = append(e.names, key)
		}
		e.values[lower] = values[key]
	}
	sort.Strings(e.names)
	return e
}

// Available returns the configured key spellings, sorted, for error messages.
func (e *Expander) Available() []string {
	return e.names
}

// Expand substitutes every resolvable ${key} outside suppressed regions and
// returns the result together with the distinct unresolved keys in order of
// first appearance. Unresolved references stay literal in the output.
func (e *Expander) Expand(src string) (string, []string) {
	var (
		b       strings.Builder
		missing []string
		seen    map[string]bool
	)
	b.Grow(len(src))

	i := 0
	for i < len(src) {
		c := src[i]

		switch {
		case c == '-' && i+1 < len(src) && src[i+1] == '-':
			end := len(src)
			if j := strings.IndexByte(src[i:], '\n'); j >= 0 {
				end = i + j + 1
			}
			b.WriteString(src[i:end])
			i = end

		case c == '/' && i+1 < len(src) && src[i+1] == '*':
			end := skipBlockComment(src, i)
			b.WriteString(src[i:end])
			i = end

		case c == '\'':
			end := skipQuoted(src, i, escapeStringAt(src, i))
			b.WriteString(src[i:end])
			i = end

		case c == '$':
			if tag := dollarTag(src, i); tag != "" {
				end := skipDollarQuoted(src, i, tag)
				b.WriteString(src[i:end])
				i = end
				continue
			}

			key, end, ok := placeholderAt(src, i)
			if !ok {
				b.WriteByte(c)
				i++
				continue
			}

			if value, found := e.values[strings.ToLower(key)]; found {
				b.WriteString(value)
			} else {
				b.WriteString(src[i:end]) // leave the reference literal
				if !seen[key] {
					if seen == nil {
						seen = make(map[string]bool)
					}
					seen[key] = true
					missing = append(missing, key)
				}
			}
			i = end

		default:
			b.WriteByte(c)
			i++
		}
	}

	return b.String(), missing
}

// Builtins returns the reserved placeholder values for a migration: the bare
// schema/user/database/filename keys plus their waypoint:-prefixed aliases
// and waypoint:timestamp. Configured placeholders overlay the bare keys;
// config validation reserves the waypoint: prefix.
func Builtins(schema, user, database, filename string, now time.Time) map[string]string {
	return map[string]string{
		"schema":             schema,
		"user":               user,
		"database":           database,
		"filename":           filename,
		"waypoint:schema":    schema,
		"waypoint:user":      user,
		"waypoint:database":  database,
		"waypoint:filename":  filename,
		"waypoint:timestamp": now.UTC().Format("2006-01-02 15:04:05"),
	}
}

// placeholderAt parses a ${key} reference starting at the dollar sign and
// returns the key and the offset just past the closing brace. Keys are any
// nonempty run of characters up to the first closing brace.
func placeholderAt(src string, i int) (key string, end int, ok bool) {
	if i+1 >= len(src) || src[i+1] != '{' {
		return "", 0, false
	}
	j := strings.IndexByte(src[i+2:], '}')
	if j <= 0 {
		return "", 0, false // unclosed or empty
	}
	return src[i+2 : i+2+j], i + 2 + j + 1, true
}

// The skip helpers mirror the splitter's lexical rules but are forgiving:
// an unterminated region suppresses to end of input and the splitter, which
// runs next, reports the real error with a line number.

func skipQuoted(src string, start int, backslash bool) int {
	i := start + 1
	for i < len(src) {
		switch {
		case backslash && src[i] == '\\':
			i += 2
		case src[i] == '\'':
			if i+1 < len(src) && src[i+1] == '\'' {
				i += 2
				continue
			}
			return i + 1
		default:
			i++
		}
	}
	return len(src)
}

func skipBlockComment(src string, start int) int {
	depth := 0
	i := start
	for i+1 < len(src) {
		switch {
		case src[i] == '/' && src[i+1] == '*':
			depth++
			i += 2
		case src[i] == '*' && src[i+1] == '/':
			depth--
			i += 2
			if depth == 0 {
				return i
			}
		default:
			i++
		}
	}
	return len(src)
}

func skipDollarQuoted(src string, start int, tag string) int {
	body := start + len(tag)
	if j := strings.Index(src[body:], tag); j >= 0 {
		return body + j + len(tag)
	}
	return len(src)
}

func dollarTag(src string, i int) string {
	for j := i + 1; j < len(src); j++ {
		c := src[j]
		if c == '$' {
			return src[i : j+1]
		}
		if !isTagChar(c, j == i+1) {
			return ""
		}
	}
	return ""
}

func isTagChar(c byte, first bool) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c == '_':
		return true
	case c >= '0' && c <= '9':
		return !first
	default:
		return false
	}
}

func escapeStringAt(src string, i int) bool {
	if i == 0 || (src[i-1] != 'e' && src[i-1] != 'E') {
		return false
	}
	return i < 2 || !isIdentChar(src[i-2])
}

func isIdentChar(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_':
		return true
	default:
		return false
	}
}
