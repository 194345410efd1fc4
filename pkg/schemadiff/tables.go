package schemadiff

import (
	"fmt"
	"strings"

	"github.com/waypointdb/waypoint/pkg/schema"
	"github.com/waypointdb/waypoint/pkg/utils"
)

func (c *comparer) compareTables(from, to *schema.Snapshot) {
	renamedFrom, renamedTo := c.detectTableRenames(from, to)

	for i := range to.Tables {
		target := &to.Tables[i]
		if renamedTo[target.Name] {
			continue
		}
		current := from.Table(target.Name)
		if current == nil {
			c.createTable(target)
			continue
		}
		c.alterTable(current, target)
	}

	for i := range from.Tables {
		current := &from.Tables[i]
		if renamedFrom[current.Name] {
			continue
		}
		if to.Table(current.Name) == nil {
			c.dropTable(current)
		}
	}
}

// createTable emits the CREATE TABLE itself (with the primary key inline)
// and separate diffs for secondary constraints and indexes, so foreign keys
// across freshly-created tables still order correctly.
func (c *comparer) createTable(t *schema.Table) {
	c.tableCreates = append(c.tableCreates, Diff{
		Type:        DiffCreate,
		Kind:        KindTable,
		Object:      t.Name,
		Description: fmt.Sprintf("Create table '%s'", t.Name),
		UpSQL:       c.createTableSQL(t),
		DownSQL:     c.dropTableSQL(t.Name),
		DownLossy:   true,
		DownNote:    fmt.Sprintf("dropping table '%s' discards rows written since it was created", t.Name),
	})

	for _, u := range t.Uniques {
		c.keyAdds = append(c.keyAdds, c.addConstraintDiff(t.Name, u.Name, c.uniqueClause(u)))
	}
	for _, ck := range t.Checks {
		c.keyAdds = append(c.keyAdds, c.addConstraintDiff(t.Name, ck.Name, checkClause(ck)))
	}
	for _, fk := range t.ForeignKeys {
		c.fkAdds = append(c.fkAdds, c.addConstraintDiff(t.Name, fk.Name, c.foreignKeyClause(fk)))
	}
	for _, idx := range t.Indexes {
		c.indexAdds = append(c.indexAdds, c.createIndexDiff(t.Name, idx))
	}
}

// dropTable generates a single forward DROP; the reversal recreates the
// table with all of its constraints and indexes in one script.
func (c *comparer) dropTable(t *schema.Table) {
	recreate := []string{c.createTableSQL(t)}
	for _, u := range t.Uniques {
		recreate = append(recreate, c.addConstraintSQL(t.Name, u.Name, c.uniqueClause(u)))
	}
	for _, ck := range t.Checks {
		recreate = append(recreate, c.addConstraintSQL(t.Name, ck.Name, checkClause(ck)))
	}
	for _, fk := range t.ForeignKeys {
		recreate = append(recreate, c.addConstraintSQL(t.Name, fk.Name, c.foreignKeyClause(fk)))
	}
	for _, idx := range t.Indexes {
		recreate = append(recreate, idx.Definition+";")
	}

	c.tableDrops = append(c.tableDrops, Diff{
		Type:        DiffDrop,
		Kind:        KindTable,
		Object:      t.Name,
		Description: fmt.Sprintf("Drop table '%s'", t.Name),
		UpSQL:       c.dropTableSQL(t.Name),
		DownSQL:     strings.Join(recreate, "\n"),
		DownLossy:   true,
		DownNote:    fmt.Sprintf("recreating table '%s' restores its structure but not its rows", t.Name),
	})
}

func (c *comparer) alterTable(current, target *schema.Table) {
	c.compareColumns(current, target)
	c.comparePrimaryKey(current, target)
	c.compareUniques(current, target)
	c.compareChecks(current, target)
	c.compareForeignKeys(current, target)
	c.compareIndexes(current, target)
}

func (c *comparer) compareColumns(current, target *schema.Table) {
	for _, col := range target.Columns {
		old := current.Column(col.Name)
		if old == nil {
			c.addColumn(target.Name, col)
			continue
		}
		if old.Type != col.Type || old.Nullable != col.Nullable || !defaultEqual(old.Default, col.Default) {
			c.alterColumn(target.Name, *old, col)
		}
	}

	for _, col := range current.Columns {
		if target.Column(col.Name) == nil {
			c.dropColumn(current.Name, col)
		}
	}
}

func (c *comparer) addColumn(table string, col schema.Column) {
	object := table + "." + col.Name
	c.columnAdds = append(c.columnAdds, Diff{
		Type:        DiffCreate,
		Kind:        KindColumn,
		Object:      object,
		Description: fmt.Sprintf("Add column '%s'", object),
		UpSQL:       fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s;", c.tableRef(table), columnDef(col)),
		DownSQL:     fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s;", c.tableRef(table), utils.QuoteIdentifier(col.Name)),
		DownLossy:   true,
		DownNote:    fmt.Sprintf("dropping column '%s' discards its contents", object),
	})
}

func (c *comparer) dropColumn(table string, col schema.Column) {
	object := table + "." + col.Name
	c.columnDrops = append(c.columnDrops, Diff{
		Type:        DiffDrop,
		Kind:        KindColumn,
		Object:      object,
		Description: fmt.Sprintf("Drop column '%s'", object),
		UpSQL:       fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s;", c.tableRef(table), utils.QuoteIdentifier(col.Name)),
		DownSQL:     fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s;", c.tableRef(table), columnDef(col)),
		DownLossy:   true,
		DownNote:    fmt.Sprintf("recreating column '%s' restores its structure but not its data", object),
	})
}

func (c *comparer) alterColumn(table string, old, col schema.Column) {
	object := table + "." + col.Name
	diff := Diff{
		Type:        DiffAlter,
		Kind:        KindColumn,
		Object:      object,
		Description: fmt.Sprintf("Alter column '%s'", object),
		UpSQL:       strings.Join(c.alterColumnSQL(table, old, col), "\n"),
		DownSQL:     strings.Join(c.alterColumnSQL(table, col, old), "\n"),
	}
	if old.Type != col.Type {
		diff.DownLossy = true
		diff.DownNote = fmt.Sprintf("values of '%s' coerced by the type change are not restored", object)
	}
	c.columnAlters = append(c.columnAlters, diff)
}

func (c *comparer) alterColumnSQL(table string, from, to schema.Column) []string {
	ref := c.tableRef(table)
	col := utils.QuoteIdentifier(to.Name)

	var stmts []string
	if from.Type != to.Type {
		stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s TYPE %s;", ref, col, to.Type))
	}
	if from.Nullable != to.Nullable {
		if to.Nullable {
			stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s DROP NOT NULL;", ref, col))
		} else {
			stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s SET NOT NULL;", ref, col))
		}
	}
	if !defaultEqual(from.Default, to.Default) {
		if to.Default == nil {
			stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s DROP DEFAULT;", ref, col))
		} else {
			stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s SET DEFAULT %s;", ref, col, *to.Default))
		}
	}
	return stmts
}

func (c *comparer) createTableSQL(t *schema.Table) string {
	var lines []string
	for _, col := range t.Columns {
		lines = append(lines, "  "+columnDef(col))
	}
	if t.PrimaryKey != nil {
		lines = append(lines, fmt.Sprintf("  CONSTRAINT %s PRIMARY KEY (%s)",
			utils.QuoteIdentifier(t.PrimaryKey.Name), quoteList(t.PrimaryKey.Columns)))
	}
	return fmt.Sprintf("CREATE TABLE %s (\n%s\n);", c.tableRef(t.Name), strings.Join(lines, ",\n"))
}

func (c *comparer) dropTableSQL(name string) string {
	return fmt.Sprintf("DROP TABLE %s;", c.tableRef(name))
}

func (c *comparer) tableRef(name string) string {
	return utils.QualifiedName(c.schema, name)
}

func columnDef(col schema.Column) string {
	var b strings.Builder
	b.WriteString(utils.QuoteIdentifier(col.Name))
	b.WriteString(" ")
	b.WriteString(col.Type)
	if !col.Nullable && !isSerial(col.Type) {
		b.WriteString(" NOT NULL")
	}
	if col.Default != nil {
		b.WriteString(" DEFAULT ")
		b.WriteString(*col.Default)
	}
	return b.String()
}

// isSerial reports the pseudo-types that already imply NOT NULL.
func isSerial(typeName string) bool {
	switch typeName {
	case "serial", "bigserial", "smallserial":
		return true
	}
	return false
}

func defaultEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func quoteList(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = utils.QuoteIdentifier(n)
	}
	return strings.Join(quoted, ", ")
}
