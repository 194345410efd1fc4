// Package guard parses and evaluates migration guard expressions.
//
// Guards are the require/ensure directives of a migration: small boolean
// expressions over database state, evaluated on the migration connection
// before (require) and after (ensure) the migration's statements. The
// language is deliberately tiny: AND/OR/NOT, comparisons, literals, and a
// fixed set of predicate calls that translate to parameterized catalog
// queries. The sql("...") escape runs arbitrary SQL that must yield a single
// boolean column, for the cases the built-ins cannot express; it can be
// disabled by configuration.
//
// Example usage:
//
//	eval := guard.NewEvaluator(conn)
//	ok, err := eval.Eval(ctx, "table_exists('public', 'users') AND version_num() >= 140000")
//	if err != nil {
//		log.Fatal(err)
//	}
package guard
