package safety

import (
	"strings"
)

// Classification is the recognized shape of one statement plus the table it
// targets. Table is the unqualified relation name, or "" when the statement
// has no single table target.
type Classification struct {
	Shape Shape
	Table string
}

// Classify pattern-matches a statement's shape. Matching is lexical:
// comments, string literals, and dollar-quoted bodies are skipped, keywords
// compare case-insensitively, and quoted identifiers keep their case.
func Classify(sql string) Classification {
	toks := scan(sql)
	if len(toks) == 0 {
		return Classification{Shape: ShapeOther}
	}

	switch {
	case toks[0].is("CREATE"):
		return classifyCreate(toks)
	case toks[0].is("ALTER") && len(toks) > 1 && toks[1].is("TABLE"):
		return classifyAlterTable(toks)
	case toks[0].is("DROP") && len(toks) > 1 && toks[1].is("TABLE"):
		i := skip(toks, 2, "IF", "EXISTS")
		// DROP TABLE accepts a list; the verdict is computed for the
		// first target.
		return Classification{Shape: ShapeDropTable, Table: relationAt(toks, i)}
	case toks[0].is("TRUNCATE"):
		i := skip(toks, 1, "TABLE", "ONLY")
		return Classification{Shape: ShapeTruncate, Table: relationAt(toks, i)}
	case toks[0].is("UPDATE"):
		i := skip(toks, 1, "ONLY")
		if hasTopLevelWhere(toks) {
			return Classification{Shape: ShapeOther, Table: relationAt(toks, i)}
		}
		return Classification{Shape: ShapeUpdateWithoutWhere, Table: relationAt(toks, i)}
	case toks[0].is("DELETE"):
		i := skip(toks, 1, "FROM", "ONLY")
		if hasTopLevelWhere(toks) {
			return Classification{Shape: ShapeOther, Table: relationAt(toks, i)}
		}
		return Classification{Shape: ShapeDeleteWithoutWhere, Table: relationAt(toks, i)}
	case toks[0].is("VACUUM"):
		return classifyVacuum(toks)
	}
	return Classification{Shape: ShapeOther}
}

// classifyVacuum separates the table-rewriting VACUUM FULL from plain VACUUM.
// FULL may appear as a bare keyword or inside the parenthesized option list.
func classifyVacuum(toks []token) Classification {
	shape := ShapeVacuum
	i := 1
	if i < len(toks) && toks[i].text == "(" {
		for i < len(toks) && toks[i].text != ")" {
			if toks[i].is("FULL") {
				shape = ShapeVacuumFull
			}
			i++
		}
		i++ // closing paren
	} else {
		for i < len(toks) && (toks[i].is("FULL") || toks[i].is("FREEZE") || toks[i].is("VERBOSE") || toks[i].is("ANALYZE")) {
			if toks[i].is("FULL") {
				shape = ShapeVacuumFull
			}
			i++
		}
	}
	return Classification{Shape: shape, Table: relationAt(toks, i)}
}

// hasTopLevelWhere reports a WHERE clause outside any parentheses, so a WHERE
// buried in a subquery does not qualify the outer statement.
func hasTopLevelWhere(toks []token) bool {
	depth := 0
	for _, t := range toks {
		switch {
		case t.text == "(" && !t.quoted:
			depth++
		case t.text == ")" && !t.quoted:
			depth--
		case depth == 0 && t.is("WHERE"):
			return true
		}
	}
	return false
}

// NonTransactional reports statements PostgreSQL refuses to run inside a
// transaction block, returning the offending command form.
func NonTransactional(sql string) (string, bool) {
	toks := scan(sql)
	if len(toks) == 0 {
		return "", false
	}

	switch {
	case toks[0].is("VACUUM"):
		return "VACUUM", true
	case toks[0].is("ALTER") && len(toks) > 1 && toks[1].is("SYSTEM"):
		return "ALTER SYSTEM", true
	case toks[0].is("REINDEX"):
		if hasKeyword(toks[:min(len(toks), 6)], "CONCURRENTLY") {
			return "REINDEX CONCURRENTLY", true
		}
	case toks[0].is("CREATE"), toks[0].is("DROP"):
		verb := strings.ToUpper(toks[0].text)
		i := skip(toks, 1, "UNIQUE")
		if i >= len(toks) {
			return "", false
		}
		switch {
		case toks[i].is("DATABASE"):
			return verb + " DATABASE", true
		case toks[i].is("TABLESPACE"):
			return verb + " TABLESPACE", true
		case toks[i].is("INDEX") && i+1 < len(toks) && toks[i+1].is("CONCURRENTLY"):
			return verb + " INDEX CONCURRENTLY", true
		}
	}
	return "", false
}

func classifyCreate(toks []token) Classification {
	i := skip(toks, 1, "UNIQUE", "GLOBAL", "LOCAL", "TEMPORARY", "TEMP", "UNLOGGED")
	if i >= len(toks) {
		return Classification{Shape: ShapeOther}
	}

	switch {
	case toks[i].is("TABLE"):
		i = skip(toks, i+1, "IF", "NOT", "EXISTS")
		return Classification{Shape: ShapeCreateTable, Table: relationAt(toks, i)}

	case toks[i].is("INDEX"):
		shape := ShapeCreateIndex
		i++
		if i < len(toks) && toks[i].is("CONCURRENTLY") {
			shape = ShapeCreateIndexConcurrently
			i++
		}
		for i < len(toks) && !toks[i].is("ON") {
			i++
		}
		i = skip(toks, i+1, "ONLY")
		return Classification{Shape: shape, Table: relationAt(toks, i)}
	}
	return Classification{Shape: ShapeOther}
}

func classifyAlterTable(toks []token) Classification {
	i := skip(toks, 2, "IF", "EXISTS", "ONLY")
	table, i := relation(toks, i)
	if i >= len(toks) {
		return Classification{Shape: ShapeOther, Table: table}
	}

	switch {
	case toks[i].is("ADD"):
		i++
		if i < len(toks) && isConstraintKeyword(toks[i]) {
			// Constraints added NOT VALID skip the validating scan and only
			// touch catalog metadata.
			if hasTrailingNotValid(toks) {
				return Classification{Shape: ShapeOther, Table: table}
			}
			return Classification{Shape: ShapeAddConstraint, Table: table}
		}
		i = skip(toks, i, "COLUMN")
		i = skip(toks, i, "IF", "NOT", "EXISTS")
		return Classification{Shape: addColumnShape(toks[i:]), Table: table}

	case toks[i].is("ALTER"):
		i = skip(toks, i+1, "COLUMN")
		i++ // column name
		if i < len(toks) && toks[i].is("TYPE") {
			return Classification{Shape: ShapeAlterColumnType, Table: table}
		}
		if i+2 < len(toks) && toks[i].is("SET") && toks[i+1].is("DATA") && toks[i+2].is("TYPE") {
			return Classification{Shape: ShapeAlterColumnType, Table: table}
		}
		return Classification{Shape: ShapeOther, Table: table}

	case toks[i].is("DROP"):
		i++
		if i < len(toks) && toks[i].is("CONSTRAINT") {
			return Classification{Shape: ShapeOther, Table: table}
		}
		return Classification{Shape: ShapeDropColumn, Table: table}
	}
	return Classification{Shape: ShapeOther, Table: table}
}

// isConstraintKeyword matches the token that starts a table-constraint
// clause, named or not.
func isConstraintKeyword(t token) bool {
	for _, kw := range []string{"CONSTRAINT", "PRIMARY", "FOREIGN", "UNIQUE", "CHECK", "EXCLUDE"} {
		if t.is(kw) {
			return true
		}
	}
	return false
}

// hasTrailingNotValid reports a statement ending in NOT VALID.
func hasTrailingNotValid(toks []token) bool {
	n := len(toks)
	return n >= 2 && toks[n-2].is("NOT") && toks[n-1].is("VALID")
}

// addColumnShape distinguishes the three ADD COLUMN forms by scanning the
// column definition for a NOT NULL pair and a DEFAULT that is not part of
// an ON DELETE SET DEFAULT action.
func addColumnShape(toks []token) Shape {
	var notNull, hasDefault bool
	for k := range toks {
		if toks[k].is("NOT") && k+1 < len(toks) && toks[k+1].is("NULL") {
			notNull = true
		}
		if toks[k].is("DEFAULT") && (k == 0 || !toks[k-1].is("SET")) {
			hasDefault = true
		}
	}
	switch {
	case notNull && hasDefault:
		return ShapeAddColumnNotNullDefault
	case notNull:
		return ShapeAddColumnNotNull
	}
	return ShapeAddColumn
}

type token struct {
	text   string
	quoted bool
}

// is reports a case-insensitive keyword match; quoted identifiers never
// match keywords.
func (t token) is(keyword string) bool {
	return !t.quoted && strings.EqualFold(t.text, keyword)
}

// skip advances past any run of the given keywords starting at i.
func skip(toks []token, i int, keywords ...string) int {
	for i < len(toks) {
		matched := false
		for _, kw := range keywords {
			if toks[i].is(kw) {
				matched = true
				break
			}
		}
		if !matched {
			return i
		}
		i++
	}
	return i
}

func hasKeyword(toks []token, keyword string) bool {
	for _, t := range toks {
		if t.is(keyword) {
			return true
		}
	}
	return false
}

// relation reads a possibly schema-qualified name at i and returns its last
// component plus the index after it.
func relation(toks []token, i int) (string, int) {
	if i >= len(toks) || !isName(toks[i]) {
		return "", i
	}
	name := toks[i].text
	i++
	for i+1 < len(toks) && toks[i].text == "." && isName(toks[i+1]) {
		name = toks[i+1].text
		i += 2
	}
	return name, i
}

func relationAt(toks []token, i int) string {
	name, _ := relation(toks, i)
	return name
}

func isName(t token) bool {
	if t.quoted {
		return true
	}
	if t.text == "" {
		return false
	}
	c := t.text[0]
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// scan tokenizes enough of a statement for shape matching: words, quoted
// identifiers, and the punctuation . , ( ). Comments, string literals, and
// dollar-quoted bodies are skipped.
func scan(src string) []token {
	var toks []token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++

		case c == '-' && i+1 < len(src) && src[i+1] == '-':
			for i < len(src) && src[i] != '\n' {
				i++
			}

		case c == '/' && i+1 < len(src) && src[i+1] == '*':
			i = skipBlockComment(src, i+2)

		case c == '\'':
			i = skipString(src, i+1)

		case c == '"':
			start := i + 1
			i++
			for i < len(src) {
				if src[i] == '"' {
					if i+1 < len(src) && src[i+1] == '"' {
						i += 2
						continue
					}
					break
				}
				i++
			}
			toks = append(toks, token{text: strings.ReplaceAll(src[start:i], `""`, `"`), quoted: true})
			if i < len(src) {
				i++
			}

		case c == '$':
			i = skipDollarQuoted(src, i)

		case isWordByte(c):
			start := i
			for i < len(src) && isWordByte(src[i]) {
				i++
			}
			toks = append(toks, token{text: src[start:i]})

		case c == '.' || c == ',' || c == '(' || c == ')':
			toks = append(toks, token{text: string(c)})
			i++

		default:
			i++
		}
	}
	return toks
}

func skipBlockComment(src string, i int) int {
	depth := 1
	for i < len(src) && depth > 0 {
		switch {
		case src[i] == '/' && i+1 < len(src) && src[i+1] == '*':
			depth++
			i += 2
		case src[i] == '*' && i+1 < len(src) && src[i+1] == '/':
			depth--
			i += 2
		default:
			i++
		}
	}
	return i
}

func skipString(src string, i int) int {
	for i < len(src) {
		if src[i] == '\'' {
			if i+1 < len(src) && src[i+1] == '\'' {
				i += 2
				continue
			}
			return i + 1
		}
		i++
	}
	return i
}

func skipDollarQuoted(src string, i int) int {
	j := i + 1
	for j < len(src) && isWordByte(src[j]) {
		j++
	}
	if j >= len(src) || src[j] != '$' {
		// A bare $n parameter, not a dollar quote.
		return i + 1
	}
	tag := src[i : j+1]
	if end := strings.Index(src[j+1:], tag); end >= 0 {
		return j + 1 + end + len(tag)
	}
	return len(src)
}

func isWordByte(c byte) bool {
	return c == '_' || (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
