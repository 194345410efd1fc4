package guard

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/waypointdb/waypoint/pkg/utils"
)

// ErrSQLGuardDisabled reports a sql() escape evaluated while the
// configuration forbids it.
var ErrSQLGuardDisabled = errors.New("sql() guards are disabled by configuration")

type (
	// Querier is the slice of a database connection the evaluator needs.
	// *pgx.Conn and pgxpool satisfy it; tests supply fakes.
	Querier interface {
		QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	}

	// Evaluator runs guard expressions against a database.
	Evaluator struct {
		db        Querier
		schema    string
		sqlEscape bool
	}

	// Option configures an Evaluator.
	Option func(*Evaluator)
)

// WithoutSQLEscape disables the sql() escape; evaluating one becomes an
// error wrapping ErrSQLGuardDisabled.
func WithoutSQLEscape() Option {
	return func(e *Evaluator) { e.sqlEscape = false }
}

// WithSchema sets the schema that object predicates resolve against when
// called without an explicit schema argument. The default is public.
func WithSchema(schema string) Option {
	return func(e *Evaluator) { e.schema = schema }
}

// NewEvaluator returns an Evaluator bound to the given connection.
func NewEvaluator(db Querier, opts ...Option) *Evaluator {
	e := &Evaluator{db: db, schema: "public", sqlEscape: true}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Eval parses and evaluates a guard expression. The expression must yield a
// boolean; AND and OR short-circuit left to right, so later predicates are
// not queried when the outcome is already decided.
func (e *Evaluator) Eval(ctx context.Context, input string) (bool, error) {
	expr, err := Parse(input)
	if err != nil {
		return false, err
	}

	v, err := e.evalExpr(ctx, expr)
	if err != nil {
		return false, errors.Wrapf(err, "guard %q", input)
	}
	if v.kind != kindBool {
		return false, errors.Errorf("guard %q yields a %s, not a boolean", input, v.kind)
	}

	return v.b, nil
}

type kind int

const (
	kindBool kind = iota
	kindNumber
	kindString
)

func (k kind) String() string {
	switch k {
	case kindBool:
		return "boolean"
	case kindNumber:
		return "number"
	default:
		return "string"
	}
}

// value is the result of evaluating a node: exactly one of the three kinds.
type value struct {
	kind kind
	b    bool
	n    float64
	s    string
}

func boolValue(b bool) value      { return value{kind: kindBool, b: b} }
func numberValue(n float64) value { return value{kind: kindNumber, n: n} }
func stringValue(s string) value  { return value{kind: kindString, s: s} }

func (e *Evaluator) evalExpr(ctx context.Context, expr *Expr) (value, error) {
	v, err := e.evalAnd(ctx, expr.First)
	if err != nil {
		return value{}, err
	}
	if len(expr.Rest) == 0 {
		return v, nil
	}
	if v.kind != kindBool {
		return value{}, errors.Errorf("OR operand is a %s, not a boolean", v.kind)
	}
	if v.b {
		return v, nil
	}

	for _, a := range expr.Rest {
		v, err = e.evalAnd(ctx, a)
		if err != nil {
			return value{}, err
		}
		if v.kind != kindBool {
			return value{}, errors.Errorf("OR operand is a %s, not a boolean", v.kind)
		}
		if v.b {
			return v, nil
		}
	}

	return boolValue(false), nil
}

func (e *Evaluator) evalAnd(ctx context.Context, a *AndExpr) (value, error) {
	v, err := e.evalNot(ctx, a.First)
	if err != nil {
		return value{}, err
	}
	if len(a.Rest) == 0 {
		return v, nil
	}
	if v.kind != kindBool {
		return value{}, errors.Errorf("AND operand is a %s, not a boolean", v.kind)
	}
	if !v.b {
		return v, nil
	}

	for _, n := range a.Rest {
		v, err = e.evalNot(ctx, n)
		if err != nil {
			return value{}, err
		}
		if v.kind != kindBool {
			return value{}, errors.Errorf("AND operand is a %s, not a boolean", v.kind)
		}
		if !v.b {
			return v, nil
		}
	}

	return boolValue(true), nil
}

func (e *Evaluator) evalNot(ctx context.Context, n *NotExpr) (value, error) {
	if n.Not != nil {
		v, err := e.evalNot(ctx, n.Not)
		if err != nil {
			return value{}, err
		}
		if v.kind != kindBool {
			return value{}, errors.Errorf("NOT operand is a %s, not a boolean", v.kind)
		}
		return boolValue(!v.b), nil
	}
	return e.evalCmp(ctx, n.Cmp)
}

func (e *Evaluator) evalCmp(ctx context.Context, c *CmpExpr) (value, error) {
	left, err := e.evalAtom(ctx, c.Left)
	if err != nil {
		return value{}, err
	}
	if c.Op == "" {
		return left, nil
	}

	right, err := e.evalAtom(ctx, c.Right)
	if err != nil {
		return value{}, err
	}

	return compare(c.Op, left, right)
}

func (e *Evaluator) evalAtom(ctx context.Context, a *Atom) (value, error) {
	switch {
	case a.Call != nil:
		return e.call(ctx, a.Call)
	case a.Number != nil:
		n, err := strconv.ParseFloat(*a.Number, 64)
		if err != nil {
			return value{}, errors.Wrapf(err, "number %q", *a.Number)
		}
		return numberValue(n), nil
	case a.Str != nil:
		return stringValue(unquote(*a.Str)), nil
	default:
		return e.evalExpr(ctx, a.Sub)
	}
}

// compare applies a comparison operator to two values of the same kind.
// Booleans support only equality; numbers and strings support the full set.
func compare(op string, l, r value) (value, error) {
	if l.kind != r.kind {
		return value{}, errors.Errorf("cannot compare %s with %s", l.kind, r.kind)
	}

	var c int
	switch l.kind {
	case kindBool:
		switch op {
		case "=":
			return boolValue(l.b == r.b), nil
		case "!=":
			return boolValue(l.b != r.b), nil
		default:
			return value{}, errors.Errorf("booleans support only = and !=, not %s", op)
		}
	case kindNumber:
		switch {
		case l.n < r.n:
			c = -1
		case l.n > r.n:
			c = 1
		}
	case kindString:
		c = strings.Compare(l.s, r.s)
	}

	switch op {
	case "<":
		return boolValue(c < 0), nil
	case "<=":
		return boolValue(c <= 0), nil
	case ">":
		return boolValue(c > 0), nil
	case ">=":
		return boolValue(c >= 0), nil
	case "=":
		return boolValue(c == 0), nil
	default: // !=
		return boolValue(c != 0), nil
	}
}

// builtin describes one predicate: its arity, result kind, and the
// parameterized query it binds its arguments to.
type builtin struct {
	arity int
	kind  kind
	query func(args []string) (sql string, params []any, err error)

	// schemaArg marks predicates whose first parameter is a schema that
	// may be omitted; the evaluator's schema fills the gap.
	schemaArg bool
}

func fixedQuery(sql string) func([]string) (string, []any, error) {
	return func(args []string) (string, []any, error) {
		params := make([]any, len(args))
		for i, a := range args {
			params[i] = a
		}
		return sql, params, nil
	}
}

var builtins = map[string]builtin{
	"table_exists": {arity: 2, schemaArg: true, kind: kindBool, query: fixedQuery(
		`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = $1 AND table_name = $2)`,
	)},
	"column_exists": {arity: 3, schemaArg: true, kind: kindBool, query: fixedQuery(
		`SELECT EXISTS (SELECT 1 FROM information_schema.columns WHERE table_schema = $1 AND table_name = $2 AND column_name = $3)`,
	)},
	"index_exists": {arity: 2, schemaArg: true, kind: kindBool, query: fixedQuery(
		`SELECT EXISTS (SELECT 1 FROM pg_indexes WHERE schemaname = $1 AND indexname = $2)`,
	)},
	"constraint_exists": {arity: 3, schemaArg: true, kind: kindBool, query: fixedQuery(
		`SELECT EXISTS (SELECT 1 FROM information_schema.table_constraints WHERE table_schema = $1 AND table_name = $2 AND constraint_name = $3)`,
	)},
	"extension_exists": {arity: 1, kind: kindBool, query: fixedQuery(
		`SELECT EXISTS (SELECT 1 FROM pg_extension WHERE extname = $1)`,
	)},
	"schema_exists": {arity: 1, kind: kindBool, query: fixedQuery(
		`SELECT EXISTS (SELECT 1 FROM information_schema.schemata WHERE schema_name = $1)`,
	)},
	"current_setting": {arity: 1, kind: kindString, query: fixedQuery(
		`SELECT current_setting($1, true)`,
	)},
	"version_num": {arity: 0, kind: kindNumber, query: fixedQuery(
		`SELECT current_setting('server_version_num')::bigint`,
	)},

	// row_count interpolates its identifiers because a relation cannot be a
	// bind parameter; ValidateIdentifier rejects anything but [a-zA-Z0-9_].
	"row_count": {arity: 2, schemaArg: true, kind: kindNumber, query: func(args []string) (string, []any, error) {
		if err := utils.ValidateIdentifier(args[0], "schema"); err != nil {
			return "", nil, err
		}
		if err := utils.ValidateIdentifier(args[1], "table"); err != nil {
			return "", nil, err
		}
		return "SELECT count(*) FROM " + utils.QualifiedName(args[0], args[1]), nil, nil
	}},
}

func (e *Evaluator) call(ctx context.Context, c *Call) (value, error) {
	name := strings.ToLower(c.Name)

	if name == "sql" {
		return e.sqlEscapeCall(ctx, c)
	}

	b, ok := builtins[name]
	if !ok {
		return value{}, errors.Errorf("unknown guard predicate %s (known: %s, sql)", c.Name, strings.Join(builtinNames(), ", "))
	}

	schemaOmitted := b.schemaArg && len(c.Args) == b.arity-1
	if len(c.Args) != b.arity && !schemaOmitted {
		if b.schemaArg {
			return value{}, errors.Errorf("%s takes %d or %d arguments, got %d", name, b.arity-1, b.arity, len(c.Args))
		}
		return value{}, errors.Errorf("%s takes %d arguments, got %d", name, b.arity, len(c.Args))
	}

	args := make([]string, 0, b.arity)
	if schemaOmitted {
		args = append(args, e.schema)
	}
	for i, lit := range c.Args {
		if lit.Str == nil {
			return value{}, errors.Errorf("argument %d of %s must be a string", i+1, name)
		}
		args = append(args, unquote(*lit.Str))
	}

	sql, params, err := b.query(args)
	if err != nil {
		return value{}, errors.Wrapf(err, "%s", name)
	}

	row := e.db.QueryRow(ctx, sql, params...)

	switch b.kind {
	case kindBool:
		var v bool
		if err := row.Scan(&v); err != nil {
			return value{}, errors.Wrapf(err, "%s failed", name)
		}
		return boolValue(v), nil
	case kindNumber:
		var v int64
		if err := row.Scan(&v); err != nil {
			return value{}, errors.Wrapf(err, "%s failed", name)
		}
		return numberValue(float64(v)), nil
	default:
		var v *string
		if err := row.Scan(&v); err != nil {
			return value{}, errors.Wrapf(err, "%s failed", name)
		}
		if v == nil {
			return stringValue(""), nil
		}
		return stringValue(*v), nil
	}
}

// sqlEscapeCall runs the sql("...") escape: the body executes as-is on the
// guard connection and must yield a single boolean column. The body is
// trusted input from the migration author.
func (e *Evaluator) sqlEscapeCall(ctx context.Context, c *Call) (value, error) {
	if !e.sqlEscape {
		return value{}, ErrSQLGuardDisabled
	}
	if len(c.Args) != 1 || c.Args[0].Str == nil {
		return value{}, errors.New("sql takes exactly one string argument")
	}

	var v bool
	if err := e.db.QueryRow(ctx, unquote(*c.Args[0].Str)).Scan(&v); err != nil {
		return value{}, errors.Wrap(err, "sql guard failed; the query must return one boolean column")
	}
	return boolValue(v), nil
}

func builtinNames() []string {
	names := make([]string, 0, len(builtins))
	for name := range builtins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// unquote strips the outer quotes of a string token and collapses the
// doubled-quote escape for whichever quote character delimits it.
func unquote(token string) string {
	q := token[:1]
	body := token[1 : len(token)-1]
	return strings.ReplaceAll(body, q+q, q)
}
