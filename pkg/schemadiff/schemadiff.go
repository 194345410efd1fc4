// Package schemadiff compares two schema snapshots and renders the DDL that
// transforms one into the other, along with the DDL that puts it back. The
// forward script orders statements so dependencies always exist (types, then
// tables, then columns, then constraints with foreign keys last, then
// indexes) and drops run in the reverse order. A table that vanishes from
// one side and reappears under a new name with the same shape renders as a
// rename rather than a drop and create pair. Reversals that cannot restore
// data carry a data-loss marker; changes PostgreSQL cannot undo in place
// carry a manual marker instead of SQL.
package schemadiff

import (
	"strings"

	"github.com/waypointdb/waypoint/pkg/schema"
)

const (
	// DiffCreate indicates an object needs to be created.
	DiffCreate DiffType = "CREATE"
	// DiffDrop indicates an object needs to be dropped.
	DiffDrop DiffType = "DROP"
	// DiffAlter indicates an object needs to be altered in place.
	DiffAlter DiffType = "ALTER"
	// DiffRename indicates an object keeps its shape under a new name.
	DiffRename DiffType = "RENAME"
)

const (
	KindEnum       ObjectKind = "enum"
	KindSequence   ObjectKind = "sequence"
	KindTable      ObjectKind = "table"
	KindColumn     ObjectKind = "column"
	KindConstraint ObjectKind = "constraint"
	KindIndex      ObjectKind = "index"
)

// Markers prefix generated lines that need a human's attention. They are
// comments to PostgreSQL and signal to waypoint's own tooling.
const (
	DataLossMarker = "-- waypoint:data-loss"
	ManualMarker   = "-- waypoint:manual"
)

type (
	// DiffType is the kind of operation a Diff performs.
	DiffType string

	// ObjectKind names the family of schema object a Diff touches.
	ObjectKind string

	// Diff is one schema change. UpSQL transforms the from-side into the
	// to-side and DownSQL puts it back. An empty UpSQL or DownSQL with a
	// note means the direction needs manual intervention.
	Diff struct {
		Type        DiffType
		Kind        ObjectKind
		Object      string // object path, e.g. "users" or "users.email"
		Description string
		UpSQL       string
		DownSQL     string
		UpNote      string
		DownNote    string
		// DownLossy marks reversals that restore structure but not
		// contents; ReverseSQL prefixes them with DataLossMarker.
		DownLossy bool
	}

	// Set is an ordered collection of diffs. Diffs appear in forward
	// execution order; ReverseSQL walks them backwards.
	Set struct {
		Schema string
		Diffs  []Diff
	}
)

// Compare diffs two snapshots of the same schema. The result transforms from
// into to. Both snapshots are put into canonical order first, so callers can
// pass freshly-built values.
func Compare(from, to *schema.Snapshot) *Set {
	from.Sort()
	to.Sort()

	schemaName := to.Schema
	if schemaName == "" {
		schemaName = from.Schema
	}

	c := &comparer{schema: schemaName}
	c.compareEnums(from.Enums, to.Enums)
	c.compareSequences(from.Sequences, to.Sequences)
	c.compareTables(from, to)

	return &Set{Schema: schemaName, Diffs: c.ordered()}
}

// Empty reports whether the two snapshots were identical.
func (s *Set) Empty() bool { return len(s.Diffs) == 0 }

// ForwardSQL renders the script that transforms the from-side into the
// to-side. Changes with no generated SQL appear as manual markers.
func (s *Set) ForwardSQL() string {
	var lines []string
	for _, d := range s.Diffs {
		if d.UpSQL == "" {
			if d.UpNote != "" {
				lines = append(lines, ManualMarker+": "+d.UpNote)
			}
			continue
		}
		lines = append(lines, d.UpSQL)
	}
	return joinScript(lines)
}

// ReverseSQL renders the script that puts the from-side back, walking the
// diffs in reverse so objects are recreated before their dependents. Lossy
// reversals are prefixed with DataLossMarker and unreversible changes appear
// as manual markers.
func (s *Set) ReverseSQL() string {
	var lines []string
	for i := len(s.Diffs) - 1; i >= 0; i-- {
		d := s.Diffs[i]
		if d.DownSQL == "" {
			if d.DownNote != "" {
				lines = append(lines, ManualMarker+": "+d.DownNote)
			}
			continue
		}
		if d.DownLossy {
			marker := DataLossMarker
			if d.DownNote != "" {
				marker += ": " + d.DownNote
			}
			lines = append(lines, marker)
		}
		lines = append(lines, d.DownSQL)
	}
	return joinScript(lines)
}

// Warnings returns the reversal-fidelity notes for every diff that loses
// data or needs manual work, in forward order.
func (s *Set) Warnings() []string {
	var warnings []string
	for _, d := range s.Diffs {
		if d.UpNote != "" {
			warnings = append(warnings, d.UpNote)
		}
		if d.DownNote != "" {
			warnings = append(warnings, d.DownNote)
		}
	}
	return warnings
}

// comparer buckets diffs by family so ordered can emit creates before
// dependents and drops after them.
type comparer struct {
	schema string

	enumCreates []Diff
	enumAlters  []Diff
	seqCreates  []Diff
	seqAlters   []Diff

	tableRenames []Diff
	tableCreates []Diff
	columnAdds   []Diff
	columnAlters []Diff
	keyAdds      []Diff // primary keys, uniques, checks
	fkAdds       []Diff
	indexAdds    []Diff

	indexDrops  []Diff
	fkDrops     []Diff
	keyDrops    []Diff
	columnDrops []Diff
	tableDrops  []Diff
	seqDrops    []Diff
	enumDrops   []Diff
}

func (c *comparer) ordered() []Diff {
	var out []Diff
	for _, bucket := range [][]Diff{
		c.enumCreates, c.enumAlters,
		c.seqCreates, c.seqAlters,
		c.tableRenames,
		c.tableCreates,
		c.columnAdds, c.columnAlters,
		c.keyAdds, c.fkAdds,
		c.indexAdds,
		c.indexDrops,
		c.fkDrops, c.keyDrops,
		c.columnDrops,
		c.tableDrops,
		c.seqDrops,
		c.enumDrops,
	} {
		out = append(out, bucket...)
	}
	return out
}

func joinScript(lines []string) string {
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}
