package guard

import (
	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
	"github.com/pkg/errors"
)

// MaxDepth bounds expression nesting. Parsing counts nesting levels and
// rejects deeper expressions so hostile or generated input cannot exhaust
// the evaluator.
const MaxDepth = 50

// ErrTooDeep reports an expression nested beyond MaxDepth.
var ErrTooDeep = errors.New("guard expression nested too deeply")

var (
	// guardLexer tokenizes guard expressions. Keywords are matched before
	// identifiers so AND/OR/NOT never lex as predicate names.
	guardLexer = lexer.MustSimple([]lexer.SimpleRule{
		{Name: "Whitespace", Pattern: `\s+`},
		{Name: "Keyword", Pattern: `(?i)\b(AND|OR|NOT)\b`},
		{Name: "Ident", Pattern: `[a-zA-Z_][a-zA-Z0-9_]*`},
		{Name: "Number", Pattern: `\d+(\.\d+)?`},
		{Name: "String", Pattern: `'(?:[^']|'')*'|"(?:[^"]|"")*"`},
		{Name: "Op", Pattern: `<=|>=|!=|[<>=(),]`},
	})

	// parser is the participle parser instance for guard expressions.
	parser = participle.MustBuild[Expr](
		participle.Lexer(guardLexer),
		participle.Elide("Whitespace"),
		participle.UseLookahead(4),
		participle.CaseInsensitive("Keyword"),
	)
)

type (
	// Expr is a disjunction of AND-terms. Or-terms short-circuit left to
	// right during evaluation.
	Expr struct {
		First *AndExpr   `parser:"@@"`
		Rest  []*AndExpr `parser:"( 'OR' @@ )*"`
	}

	// AndExpr is a conjunction of negatable comparisons.
	AndExpr struct {
		First *NotExpr   `parser:"@@"`
		Rest  []*NotExpr `parser:"( 'AND' @@ )*"`
	}

	// NotExpr is an optionally negated comparison. NOT nests.
	NotExpr struct {
		Not *NotExpr `parser:"'NOT' @@"`
		Cmp *CmpExpr `parser:"| @@"`
	}

	// CmpExpr compares two atoms, or passes a single atom through.
	CmpExpr struct {
		Left  *Atom  `parser:"@@"`
		Op    string `parser:"( @('<=' | '>=' | '!=' | '<' | '>' | '=')"`
		Right *Atom  `parser:"  @@ )?"`
	}

	// Atom is a predicate call, a literal, or a parenthesized expression.
	Atom struct {
		Call   *Call   `parser:"@@"`
		Number *string `parser:"| @Number"`
		Str    *string `parser:"| @String"`
		Sub    *Expr   `parser:"| '(' @@ ')'"`
	}

	// Call is a predicate invocation. Arguments are literals only; nested
	// calls are not part of the language.
	Call struct {
		Name string     `parser:"@Ident"`
		Args []*Literal `parser:"'(' ( @@ ( ',' @@ )* )? ')'"`
	}

	// Literal is a number or a quoted string. Both quote styles work and
	// escape by doubling the quote character, so directives can single-quote
	// like SQL or double-quote like the surrounding TOML.
	Literal struct {
		Number *string `parser:"@Number"`
		Str    *string `parser:"| @String"`
	}
)

// Parse parses a guard expression and enforces the nesting bound.
func Parse(input string) (*Expr, error) {
	expr, err := parser.ParseString("", input)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid guard expression %q", input)
	}

	if d := exprDepth(expr); d > MaxDepth {
		return nil, errors.Wrapf(ErrTooDeep, "guard expression nests %d levels (limit %d)", d, MaxDepth)
	}

	return expr, nil
}

// exprDepth measures the deepest descent of the parsed tree. Every grammar
// level counts, matching how a recursive-descent parser would meter its
// stack.
func exprDepth(e *Expr) int {
	if e == nil {
		return 0
	}
	d := andDepth(e.First)
	for _, a := range e.Rest {
		d = max(d, andDepth(a))
	}
	return d + 1
}

func andDepth(a *AndExpr) int {
	if a == nil {
		return 0
	}
	d := notDepth(a.First)
	for _, n := range a.Rest {
		d = max(d, notDepth(n))
	}
	return d + 1
}

func notDepth(n *NotExpr) int {
	if n == nil {
		return 0
	}
	if n.Not != nil {
		return notDepth(n.Not) + 1
	}
	return cmpDepth(n.Cmp) + 1
}

func cmpDepth(c *CmpExpr) int {
	if c == nil {
		return 0
	}
	d := atomDepth(c.Left)
	if c.Right != nil {
		d = max(d, atomDepth(c.Right))
	}
	return d + 1
}

func atomDepth(a *Atom) int {
	if a == nil {
		return 0
	}
	if a.Sub != nil {
		return exprDepth(a.Sub) + 1
	}
	return 1
}
