package schemadiff

import (
	"fmt"
	"slices"
	"strings"

	"github.com/waypointdb/waypoint/pkg/schema"
	"github.com/waypointdb/waypoint/pkg/utils"
)

func (c *comparer) comparePrimaryKey(current, target *schema.Table) {
	from, to := current.PrimaryKey, target.PrimaryKey
	switch {
	case from == nil && to == nil:
		return
	case from == nil:
		c.keyAdds = append(c.keyAdds, c.addConstraintDiff(target.Name, to.Name, primaryKeyClause(*to)))
	case to == nil:
		c.keyDrops = append(c.keyDrops, c.dropConstraintDiff(target.Name, from.Name, primaryKeyClause(*from)))
	case from.Name != to.Name || !slices.Equal(from.Columns, to.Columns):
		c.keyAdds = append(c.keyAdds, c.replaceConstraintDiff(target.Name, from.Name, primaryKeyClause(*from), to.Name, primaryKeyClause(*to)))
	}
}

func (c *comparer) compareUniques(current, target *schema.Table) {
	for _, to := range target.Uniques {
		from := findUnique(current.Uniques, to.Name)
		if from == nil {
			c.keyAdds = append(c.keyAdds, c.addConstraintDiff(target.Name, to.Name, c.uniqueClause(to)))
			continue
		}
		if !slices.Equal(from.Columns, to.Columns) {
			c.keyAdds = append(c.keyAdds, c.replaceConstraintDiff(target.Name, from.Name, c.uniqueClause(*from), to.Name, c.uniqueClause(to)))
		}
	}
	for _, from := range current.Uniques {
		if findUnique(target.Uniques, from.Name) == nil {
			c.keyDrops = append(c.keyDrops, c.dropConstraintDiff(target.Name, from.Name, c.uniqueClause(from)))
		}
	}
}

func (c *comparer) compareChecks(current, target *schema.Table) {
	for _, to := range target.Checks {
		from := findCheck(current.Checks, to.Name)
		if from == nil {
			c.keyAdds = append(c.keyAdds, c.addConstraintDiff(target.Name, to.Name, checkClause(to)))
			continue
		}
		if from.Expression != to.Expression {
			c.keyAdds = append(c.keyAdds, c.replaceConstraintDiff(target.Name, from.Name, checkClause(*from), to.Name, checkClause(to)))
		}
	}
	for _, from := range current.Checks {
		if findCheck(target.Checks, from.Name) == nil {
			c.keyDrops = append(c.keyDrops, c.dropConstraintDiff(target.Name, from.Name, checkClause(from)))
		}
	}
}

func (c *comparer) compareForeignKeys(current, target *schema.Table) {
	for _, to := range target.ForeignKeys {
		from := findForeignKey(current.ForeignKeys, to.Name)
		if from == nil {
			c.fkAdds = append(c.fkAdds, c.addConstraintDiff(target.Name, to.Name, c.foreignKeyClause(to)))
			continue
		}
		if !foreignKeyEqual(*from, to) {
			c.fkAdds = append(c.fkAdds, c.replaceConstraintDiff(target.Name, from.Name, c.foreignKeyClause(*from), to.Name, c.foreignKeyClause(to)))
		}
	}
	for _, from := range current.ForeignKeys {
		if findForeignKey(target.ForeignKeys, from.Name) == nil {
			c.fkDrops = append(c.fkDrops, c.dropConstraintDiff(target.Name, from.Name, c.foreignKeyClause(from)))
		}
	}
}

func (c *comparer) compareIndexes(current, target *schema.Table) {
	for _, to := range target.Indexes {
		from := current.Index(to.Name)
		if from == nil {
			c.indexAdds = append(c.indexAdds, c.createIndexDiff(target.Name, to))
			continue
		}
		if from.Definition != to.Definition {
			object := target.Name + "." + to.Name
			c.indexAdds = append(c.indexAdds, Diff{
				Type:        DiffAlter,
				Kind:        KindIndex,
				Object:      object,
				Description: fmt.Sprintf("Redefine index '%s'", object),
				UpSQL:       c.dropIndexSQL(to.Name) + "\n" + to.Definition + ";",
				DownSQL:     c.dropIndexSQL(from.Name) + "\n" + from.Definition + ";",
			})
		}
	}
	for _, from := range current.Indexes {
		if target.Index(from.Name) == nil {
			object := target.Name + "." + from.Name
			c.indexDrops = append(c.indexDrops, Diff{
				Type:        DiffDrop,
				Kind:        KindIndex,
				Object:      object,
				Description: fmt.Sprintf("Drop index '%s'", object),
				UpSQL:       c.dropIndexSQL(from.Name),
				DownSQL:     from.Definition + ";",
			})
		}
	}
}

func (c *comparer) createIndexDiff(table string, idx schema.Index) Diff {
	object := table + "." + idx.Name
	return Diff{
		Type:        DiffCreate,
		Kind:        KindIndex,
		Object:      object,
		Description: fmt.Sprintf("Create index '%s'", object),
		UpSQL:       idx.Definition + ";",
		DownSQL:     c.dropIndexSQL(idx.Name),
	}
}

func (c *comparer) addConstraintDiff(table, name, clause string) Diff {
	object := table + "." + name
	return Diff{
		Type:        DiffCreate,
		Kind:        KindConstraint,
		Object:      object,
		Description: fmt.Sprintf("Add constraint '%s'", object),
		UpSQL:       c.addConstraintSQL(table, name, clause),
		DownSQL:     c.dropConstraintSQL(table, name),
	}
}

func (c *comparer) dropConstraintDiff(table, name, clause string) Diff {
	object := table + "." + name
	return Diff{
		Type:        DiffDrop,
		Kind:        KindConstraint,
		Object:      object,
		Description: fmt.Sprintf("Drop constraint '%s'", object),
		UpSQL:       c.dropConstraintSQL(table, name),
		DownSQL:     c.addConstraintSQL(table, name, clause),
	}
}

func (c *comparer) replaceConstraintDiff(table, fromName, fromClause, toName, toClause string) Diff {
	object := table + "." + toName
	return Diff{
		Type:        DiffAlter,
		Kind:        KindConstraint,
		Object:      object,
		Description: fmt.Sprintf("Redefine constraint '%s'", object),
		UpSQL:       c.dropConstraintSQL(table, fromName) + "\n" + c.addConstraintSQL(table, toName, toClause),
		DownSQL:     c.dropConstraintSQL(table, toName) + "\n" + c.addConstraintSQL(table, fromName, fromClause),
	}
}

func (c *comparer) addConstraintSQL(table, name, clause string) string {
	return fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s %s;", c.tableRef(table), utils.QuoteIdentifier(name), clause)
}

func (c *comparer) dropConstraintSQL(table, name string) string {
	return fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT %s;", c.tableRef(table), utils.QuoteIdentifier(name))
}

func (c *comparer) dropIndexSQL(name string) string {
	return fmt.Sprintf("DROP INDEX %s;", utils.QualifiedName(c.schema, name))
}

func primaryKeyClause(pk schema.PrimaryKey) string {
	return fmt.Sprintf("PRIMARY KEY (%s)", quoteList(pk.Columns))
}

func (c *comparer) uniqueClause(u schema.Unique) string {
	return fmt.Sprintf("UNIQUE (%s)", quoteList(u.Columns))
}

func checkClause(ck schema.Check) string {
	return fmt.Sprintf("CHECK (%s)", ck.Expression)
}

func (c *comparer) foreignKeyClause(fk schema.ForeignKey) string {
	var b strings.Builder
	fmt.Fprintf(&b, "FOREIGN KEY (%s) REFERENCES %s (%s)",
		quoteList(fk.Columns), c.tableRef(fk.ReferencedTable), quoteList(fk.ReferencedColumns))
	if fk.OnUpdate != "" {
		b.WriteString(" ON UPDATE " + fk.OnUpdate)
	}
	if fk.OnDelete != "" {
		b.WriteString(" ON DELETE " + fk.OnDelete)
	}
	return b.String()
}

func foreignKeyEqual(a, b schema.ForeignKey) bool {
	return a.ReferencedTable == b.ReferencedTable &&
		slices.Equal(a.Columns, b.Columns) &&
		slices.Equal(a.ReferencedColumns, b.ReferencedColumns) &&
		a.OnUpdate == b.OnUpdate &&
		a.OnDelete == b.OnDelete
}

func findUnique(uniques []schema.Unique, name string) *schema.Unique {
	for i := range uniques {
		if uniques[i].Name == name {
			return &uniques[i]
		}
	}
	return nil
}

func findCheck(checks []schema.Check, name string) *schema.Check {
	for i := range checks {
		if checks[i].Name == name {
			return &checks[i]
		}
	}
	return nil
}

func findForeignKey(fks []schema.ForeignKey, name string) *schema.ForeignKey {
	for i := range fks {
		if fks[i].Name == name {
			return &fks[i]
		}
	}
	return nil
}
