package safety

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
	"github.com/waypointdb/waypoint/pkg/sqlsplit"
)

// Querier is the part of a pgx connection the analyzer needs.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type (
	// Assessment is the safety analysis of one statement.
	Assessment struct {
		Statement sqlsplit.Statement
		Shape     Shape
		Lock      LockLevel
		Table     string
		Class     TableClass
		Rows      int64
		Verdict   Verdict
		Hint      string
	}

	// Analyzer classifies statements and sizes their target tables from
	// pg_class statistics.
	//
	// Example usage:
	//
	//	analyzer := safety.NewAnalyzer(conn, "public", safety.DefaultThresholds)
	//	assessments, err := analyzer.Analyze(ctx, statements)
	//	if err != nil {
	//		return err
	//	}
	//	if safety.Worst(verdictsOf(assessments)...) == safety.VerdictDanger {
	//		// refuse, unless overridden
	//	}
	Analyzer struct {
		db         Querier
		schema     string
		thresholds Thresholds
	}
)

// NewAnalyzer returns an Analyzer for tables in the given schema. A nil db
// disables row estimation, classifying every table as small.
func NewAnalyzer(db Querier, schema string, thresholds Thresholds) *Analyzer {
	if thresholds == (Thresholds{}) {
		thresholds = DefaultThresholds
	}
	return &Analyzer{db: db, schema: schema, thresholds: thresholds}
}

// Analyze assesses each statement in order. Row counts are fetched once per
// table and only for shapes whose verdict depends on size; tables pg_class
// does not know yet (created earlier in the same script) class as small.
func (a *Analyzer) Analyze(ctx context.Context, stmts []sqlsplit.Statement) ([]Assessment, error) {
	estimates := make(map[string]int64)

	assessments := make([]Assessment, 0, len(stmts))
	for _, stmt := range stmts {
		cls := Classify(stmt.SQL)

		assessment := Assessment{
			Statement: stmt,
			Shape:     cls.Shape,
			Lock:      LockFor(cls.Shape),
			Table:     cls.Table,
			Class:     ClassSmall,
		}

		if sizeMatters(cls.Shape) && cls.Table != "" && a.db != nil {
			rows, ok := estimates[cls.Table]
			if !ok {
				var err error
				if rows, err = a.rowEstimate(ctx, cls.Table); err != nil {
					return nil, err
				}
				estimates[cls.Table] = rows
			}
			assessment.Rows = rows
			assessment.Class = a.thresholds.Classify(rows)
		}

		assessment.Verdict = VerdictFor(cls.Shape, assessment.Class)
		assessment.Hint = HintFor(cls.Shape, assessment.Class)
		assessments = append(assessments, assessment)
	}
	return assessments, nil
}

func (a *Analyzer) rowEstimate(ctx context.Context, table string) (int64, error) {
	var rows int64
	err := a.db.QueryRow(ctx, `
		SELECT c.reltuples::bigint
		FROM pg_class c
		JOIN pg_namespace n ON n.oid = c.relnamespace
		WHERE n.nspname = $1 AND c.relname = $2`, a.schema, table).Scan(&rows)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrapf(err, "estimating rows of %q", table)
	}
	return rows, nil
}

// sizeMatters reports whether a shape's verdict varies with table class.
func sizeMatters(shape Shape) bool {
	row, ok := verdicts[shape]
	if !ok {
		return false
	}
	return row[0] != row[1] || row[1] != row[2] || row[2] != row[3]
}
