package schemadiff

import (
	"fmt"
	"slices"

	"github.com/waypointdb/waypoint/pkg/schema"
	"github.com/waypointdb/waypoint/pkg/utils"
)

// detectTableRenames pairs tables present only in from with tables present
// only in to that carry the same shape, emitting one rename diff per pair.
// Both snapshots are already sorted and the first shape match wins, so the
// pairing is deterministic. The returned sets name the paired tables so
// compareTables keeps them out of the create and drop walks.
func (c *comparer) detectTableRenames(from, to *schema.Snapshot) (renamedFrom, renamedTo map[string]bool) {
	renamedFrom = make(map[string]bool)
	renamedTo = make(map[string]bool)

	for i := range from.Tables {
		current := &from.Tables[i]
		if to.Table(current.Name) != nil {
			continue
		}

		for j := range to.Tables {
			target := &to.Tables[j]
			if renamedTo[target.Name] || from.Table(target.Name) != nil {
				continue
			}
			if !tableShapesMatch(current, target) {
				continue
			}

			c.tableRenames = append(c.tableRenames, Diff{
				Type:        DiffRename,
				Kind:        KindTable,
				Object:      current.Name,
				Description: fmt.Sprintf("Rename table '%s' to '%s'", current.Name, target.Name),
				UpSQL:       c.renameTableSQL(current.Name, target.Name),
				DownSQL:     c.renameTableSQL(target.Name, current.Name),
			})
			renamedFrom[current.Name] = true
			renamedTo[target.Name] = true
			break
		}
	}

	return renamedFrom, renamedTo
}

func (c *comparer) renameTableSQL(from, to string) string {
	return fmt.Sprintf("ALTER TABLE %s RENAME TO %s;", c.tableRef(from), utils.QuoteIdentifier(to))
}

// tableShapesMatch reports whether two tables differ by name alone. A plain
// ALTER TABLE ... RENAME leaves column definitions, constraint names, and
// index names untouched, so all of those must agree. Index definitions embed
// the table name and are compared by name and uniqueness only.
func tableShapesMatch(a, b *schema.Table) bool {
	if len(a.Columns) != len(b.Columns) {
		return false
	}
	for i := range a.Columns {
		ac, bc := a.Columns[i], b.Columns[i]
		if ac.Name != bc.Name || ac.Type != bc.Type || ac.Nullable != bc.Nullable || !defaultEqual(ac.Default, bc.Default) {
			return false
		}
	}

	switch {
	case (a.PrimaryKey == nil) != (b.PrimaryKey == nil):
		return false
	case a.PrimaryKey != nil:
		if a.PrimaryKey.Name != b.PrimaryKey.Name || !slices.Equal(a.PrimaryKey.Columns, b.PrimaryKey.Columns) {
			return false
		}
	}

	if len(a.Uniques) != len(b.Uniques) || len(a.Checks) != len(b.Checks) ||
		len(a.ForeignKeys) != len(b.ForeignKeys) || len(a.Indexes) != len(b.Indexes) {
		return false
	}
	for i := range a.Uniques {
		if a.Uniques[i].Name != b.Uniques[i].Name || !slices.Equal(a.Uniques[i].Columns, b.Uniques[i].Columns) {
			return false
		}
	}
	for i := range a.Checks {
		if a.Checks[i] != b.Checks[i] {
			return false
		}
	}
	for i := range a.ForeignKeys {
		if a.ForeignKeys[i].Name != b.ForeignKeys[i].Name || !foreignKeyEqual(a.ForeignKeys[i], b.ForeignKeys[i]) {
			return false
		}
	}
	for i := range a.Indexes {
		if a.Indexes[i].Name != b.Indexes[i].Name || a.Indexes[i].Unique != b.Indexes[i].Unique {
			return false
		}
	}

	return true
}
