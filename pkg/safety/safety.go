// Package safety classifies migration statements by shape, looks up the
// lock each shape takes, sizes the target table from pg_class.reltuples, and
// produces a SAFE/CAUTION/DANGER verdict with an advisory rewrite hint. The
// verdict is a pure function of (shape, table class); hints never mutate SQL.
package safety

const (
	// VerdictSafe marks statements that complete quickly at any size here.
	VerdictSafe Verdict = "SAFE"
	// VerdictCaution marks statements that hold disruptive locks long
	// enough to notice at the target table's size.
	VerdictCaution Verdict = "CAUTION"
	// VerdictDanger marks statements that destroy data or block traffic
	// for the duration of a rewrite at the target table's size.
	VerdictDanger Verdict = "DANGER"
)

const (
	ShapeCreateTable             Shape = "CREATE TABLE"
	ShapeCreateIndex             Shape = "CREATE INDEX"
	ShapeCreateIndexConcurrently Shape = "CREATE INDEX CONCURRENTLY"
	ShapeAddColumn               Shape = "ADD COLUMN"
	ShapeAddColumnNotNull        Shape = "ADD COLUMN NOT NULL"
	ShapeAddColumnNotNullDefault Shape = "ADD COLUMN NOT NULL DEFAULT"
	ShapeAlterColumnType         Shape = "ALTER COLUMN TYPE"
	ShapeAddConstraint           Shape = "ADD CONSTRAINT"
	ShapeDropTable               Shape = "DROP TABLE"
	ShapeDropColumn              Shape = "DROP COLUMN"
	ShapeTruncate                Shape = "TRUNCATE"
	ShapeUpdateWithoutWhere      Shape = "UPDATE WITHOUT WHERE"
	ShapeDeleteWithoutWhere      Shape = "DELETE WITHOUT WHERE"
	ShapeVacuum                  Shape = "VACUUM"
	ShapeVacuumFull              Shape = "VACUUM FULL"
	ShapeOther                   Shape = "OTHER"
)

const (
	LockAccessExclusive      LockLevel = "ACCESS EXCLUSIVE"
	LockShare                LockLevel = "SHARE"
	LockShareUpdateExclusive LockLevel = "SHARE UPDATE EXCLUSIVE"
	LockRowExclusive         LockLevel = "ROW EXCLUSIVE"
	LockNone                 LockLevel = "NONE"
)

const (
	ClassSmall  TableClass = "small"
	ClassMedium TableClass = "medium"
	ClassLarge  TableClass = "large"
	ClassHuge   TableClass = "huge"
)

type (
	// Shape is the recognized form of a DDL statement.
	Shape string

	// LockLevel is the strongest relation lock a shape acquires.
	LockLevel string

	// TableClass buckets a table by its estimated row count.
	TableClass string

	// Verdict is the safety classification of one statement.
	Verdict string

	// Thresholds are the upper bounds (exclusive) of the small, medium,
	// and large classes; anything at or above Large is huge.
	Thresholds struct {
		Small  int64
		Medium int64
		Large  int64
	}
)

// DefaultThresholds match the documented size classes: under ten thousand
// rows is small, under a million is medium, under ten million is large.
var DefaultThresholds = Thresholds{
	Small:  10_000,
	Medium: 1_000_000,
	Large:  10_000_000,
}

// Classify buckets an estimated row count. Estimates below zero come from
// tables PostgreSQL has never analyzed, which are treated as small.
func (t Thresholds) Classify(rows int64) TableClass {
	switch {
	case rows < t.Small:
		return ClassSmall
	case rows < t.Medium:
		return ClassMedium
	case rows < t.Large:
		return ClassLarge
	}
	return ClassHuge
}

var locks = map[Shape]LockLevel{
	ShapeCreateTable:             LockAccessExclusive,
	ShapeCreateIndex:             LockShare,
	ShapeCreateIndexConcurrently: LockShareUpdateExclusive,
	ShapeAddColumn:               LockAccessExclusive,
	ShapeAddColumnNotNull:        LockAccessExclusive,
	ShapeAddColumnNotNullDefault: LockAccessExclusive,
	ShapeAlterColumnType:         LockAccessExclusive,
	ShapeAddConstraint:           LockAccessExclusive,
	ShapeDropTable:               LockAccessExclusive,
	ShapeDropColumn:              LockAccessExclusive,
	ShapeTruncate:                LockAccessExclusive,
	ShapeUpdateWithoutWhere:      LockRowExclusive,
	ShapeDeleteWithoutWhere:      LockRowExclusive,
	ShapeVacuum:                  LockShareUpdateExclusive,
	ShapeVacuumFull:              LockAccessExclusive,
	ShapeOther:                   LockNone,
}

// verdicts maps each shape to its verdict per class, in small, medium,
// large, huge order.
var verdicts = map[Shape][4]Verdict{
	ShapeCreateTable:             {VerdictSafe, VerdictSafe, VerdictSafe, VerdictSafe},
	ShapeCreateIndex:             {VerdictSafe, VerdictCaution, VerdictDanger, VerdictDanger},
	ShapeCreateIndexConcurrently: {VerdictSafe, VerdictSafe, VerdictSafe, VerdictSafe},
	ShapeAddColumn:               {VerdictSafe, VerdictSafe, VerdictSafe, VerdictSafe},
	ShapeAddColumnNotNull:        {VerdictSafe, VerdictCaution, VerdictDanger, VerdictDanger},
	ShapeAddColumnNotNullDefault: {VerdictSafe, VerdictSafe, VerdictCaution, VerdictCaution},
	ShapeAlterColumnType:         {VerdictSafe, VerdictCaution, VerdictDanger, VerdictDanger},
	ShapeAddConstraint:           {VerdictSafe, VerdictCaution, VerdictDanger, VerdictDanger},
	ShapeDropTable:               {VerdictCaution, VerdictDanger, VerdictDanger, VerdictDanger},
	ShapeDropColumn:              {VerdictCaution, VerdictCaution, VerdictDanger, VerdictDanger},
	ShapeTruncate:                {VerdictCaution, VerdictDanger, VerdictDanger, VerdictDanger},
	ShapeUpdateWithoutWhere:      {VerdictSafe, VerdictCaution, VerdictDanger, VerdictDanger},
	ShapeDeleteWithoutWhere:      {VerdictCaution, VerdictDanger, VerdictDanger, VerdictDanger},
	ShapeVacuum:                  {VerdictSafe, VerdictSafe, VerdictSafe, VerdictSafe},
	ShapeVacuumFull:              {VerdictSafe, VerdictCaution, VerdictDanger, VerdictDanger},
	ShapeOther:                   {VerdictSafe, VerdictSafe, VerdictSafe, VerdictSafe},
}

var hints = map[Shape]string{
	ShapeCreateIndex:             "build the index CONCURRENTLY in its own migration so writes are not blocked",
	ShapeAddColumnNotNull:        "add the column nullable, backfill it, then SET NOT NULL in a later migration",
	ShapeAddColumnNotNullDefault: "keep the default non-volatile so PostgreSQL can add the column without rewriting the table",
	ShapeAlterColumnType:         "add a new column, backfill it in batches, then swap the columns with a rename",
	ShapeAddConstraint:           "add the constraint NOT VALID, then VALIDATE CONSTRAINT in a later migration so the full-table scan does not block writes",
	ShapeDropTable:               "back up the table first; dropped rows cannot be restored",
	ShapeDropColumn:              "back up the column first; its contents cannot be restored",
	ShapeTruncate:                "back up the table first; truncated rows cannot be restored",
	ShapeUpdateWithoutWhere:      "update in bounded batches with a WHERE clause so row locks and WAL stay small",
	ShapeDeleteWithoutWhere:      "delete in bounded batches, or TRUNCATE when every row should go; deleted rows cannot be restored",
	ShapeVacuumFull:              "VACUUM FULL rewrites the table under an ACCESS EXCLUSIVE lock; plain VACUUM reclaims space without blocking",
}

// LockFor returns the strongest lock a shape acquires on existing relations.
func LockFor(shape Shape) LockLevel {
	if l, ok := locks[shape]; ok {
		return l
	}
	return LockNone
}

// VerdictFor is the deterministic (shape, class) to verdict function.
func VerdictFor(shape Shape, class TableClass) Verdict {
	row, ok := verdicts[shape]
	if !ok {
		return VerdictSafe
	}
	return row[classIndex(class)]
}

// HintFor returns the rewrite hint for a shape, or "" when the verdict at
// this class is already SAFE.
func HintFor(shape Shape, class TableClass) string {
	if VerdictFor(shape, class) == VerdictSafe {
		return ""
	}
	return hints[shape]
}

// Worst returns the most severe of the given verdicts, defaulting to SAFE.
func Worst(verdicts ...Verdict) Verdict {
	worst := VerdictSafe
	for _, v := range verdicts {
		if rank(v) > rank(worst) {
			worst = v
		}
	}
	return worst
}

func rank(v Verdict) int {
	switch v {
	case VerdictDanger:
		return 2
	case VerdictCaution:
		return 1
	}
	return 0
}

func classIndex(class TableClass) int {
	switch class {
	case ClassMedium:
		return 1
	case ClassLarge:
		return 2
	case ClassHuge:
		return 3
	}
	return 0
}
