// Package sqlsplit breaks a SQL script into its individual statements.
//
// PostgreSQL happily executes a multi-statement script in one round trip, but
// per-statement granularity is what enables progress reporting, lock-impact
// analysis, and EXPLAIN dry runs. Splitting is lexical: a statement ends at a
// top-level semicolon, and semicolons inside single-quoted strings (with ''
// doubling), escape strings (E'...' with backslash escapes), double-quoted
// identifiers, dollar-quoted bodies of any tag, line comments, and nested
// block comments never split.
//
// The splitter never interprets the SQL. Statement text is preserved verbatim
// (comments included) so that the byte spans reassemble the source script.
package sqlsplit

import (
	"strings"

	"github.com/pkg/errors"
)

// Statement is one top-level statement of a script.
type Statement struct {
	// SQL is the statement text, trimmed of surrounding whitespace. The
	// terminating semicolon is not included; interior comments are.
	SQL string

	// Start and End delimit the statement's verbatim text in the source,
	// excluding the terminating semicolon. src[Start:End] trims to SQL.
	Start int
	End   int

	// Line is the 1-based source line of the statement's first content byte,
	// where content is anything outside comments and whitespace.
	Line int
}

// Split scans src and returns its statements in order. Chunks that contain
// only whitespace and comments are dropped. Unterminated string literals,
// dollar quotes, and block comments are errors naming the line where the
// construct opened.
//
// Example usage:
//
//	stmts, err := sqlsplit.Split("CREATE TABLE t (id int); CREATE INDEX t_idx ON t (id);")
//	if err != nil {
//		log.Fatal(err)
//	}
//	for _, s := range stmts {
//		fmt.Printf("line %d: %s\n", s.Line, s.SQL)
//	}
func Split(src string) ([]Statement, error) {
	var stmts []Statement

	var (
		start       = 0  // chunk start, just past the previous semicolon
		line        = 1  // current source line
		content     = -1 // offset of the chunk's first content byte
		contentLine = 0
	)

	flush := func(end int) {
		if content < 0 {
			return // whitespace and comments only
		}
		stmts = append(stmts, Statement{
			SQL:   strings.TrimSpace(src[start:end]),
			Start: start,
			End:   end,
			Line:  contentLine,
		})
		content = -1
	}

	i := 0
	for i < len(src) {
		c := src[i]

		if c == '\n' {
			line++
			i++
			continue
		}

		if c == ';' {
			flush(i)
			i++
			start = i
			continue
		}

		switch {
		case c == '-' && i+1 < len(src) && src[i+1] == '-':
			// Line comment. The newline stays behind for the line counter.
			if j := strings.IndexByte(src[i:], '\n'); j >= 0 {
				i += j
			} else {
				i = len(src)
			}

		case c == '/' && i+1 < len(src) && src[i+1] == '*':
			end, err := scanBlockComment(src, i)
			if err != nil {
				return nil, errors.Wrapf(err, "line %d", line)
			}
			line += strings.Count(src[i:end], "\n")
			i = end

		case c == '\'':
			markContent(&content, &contentLine, i, line)
			end, err := scanQuoted(src, i, '\'', escapeStringAt(src, i))
			if err != nil {
				return nil, errors.Wrapf(err, "line %d", line)
			}
			line += strings.Count(src[i:end], "\n")
			i = end

		case c == '"':
			markContent(&content, &contentLine, i, line)
			end, err := scanQuoted(src, i, '"', false)
			if err != nil {
				return nil, errors.Wrapf(err, "line %d", line)
			}
			line += strings.Count(src[i:end], "\n")
			i = end

		case c == '$':
			markContent(&content, &contentLine, i, line)
			tag := dollarTag(src, i)
			if tag == "" {
				i++ // ordinary dollar, e.g. a $1 parameter
				continue
			}
			end, err := scanDollarQuoted(src, i, tag)
			if err != nil {
				return nil, errors.Wrapf(err, "line %d", line)
			}
			line += strings.Count(src[i:end], "\n")
			i = end

		default:
			if !isSpace(c) {
				markContent(&content, &contentLine, i, line)
			}
			i++
		}
	}

	flush(len(src))
	return stmts, nil
}

func markContent(content, contentLine *int, pos, line int) {
	if *content < 0 {
		*content = pos
		*contentLine = line
	}
}

// scanQuoted consumes a quoted region starting at the opening quote and
// returns the offset just past the closing quote. A doubled quote stays
// inside the literal; backslash escapes apply only when backslash is set
// (escape strings).
func scanQuoted(src string, start int, quote byte, backslash bool) (int, error) {
	i := start + 1
	for i < len(src) {
		switch {
		case backslash && src[i] == '\\':
			i += 2
		case src[i] == quote:
			if i+1 < len(src) && src[i+1] == quote {
				i += 2
				continue
			}
			return i + 1, nil
		default:
			i++
		}
	}
	return 0, errors.Errorf("unterminated %c-quoted literal", quote)
}

// scanBlockComment consumes a block comment starting at "/*", honoring
// nesting: the region closes at the "*/" matching the outermost opener.
func scanBlockComment(src string, start int) (int, error) {
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
				return i, nil
			}
		default:
			i++
		}
	}

	return 0, errors.New("unterminated block comment")
}

// scanDollarQuoted consumes a dollar-quoted region and returns the offset
// just past the closing tag. The body is entirely opaque; only the exact
// closing tag ends it.
func scanDollarQuoted(src string, start int, tag string) (int, error) {
	body := start + len(tag)
	if j := strings.Index(src[body:], tag); j >= 0 {
		return body + j + len(tag), nil
	}
	return 0, errors.Errorf("unterminated dollar-quoted literal %s", tag)
}

// dollarTag returns the opening dollar-quote tag at src[i] ("$$", "$body$"),
// or "" when the dollar sign does not open a quoted body. Tags are an
// optional identifier between two dollar signs; a digit cannot start one,
// which keeps positional parameters like $1 ordinary.
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

// escapeStringAt reports whether the quote at src[i] is the body opener of an
// E'...' literal, which activates backslash escapes. The E must be its own
// token, not the tail of an identifier.
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

func isSpace(c byte) bool {
	switch c {
	case ' ', '\t', '\r', '\n', '\v', '\f':
		return true
	default:
		return false
	}
}
