package schemadiff

import (
	"fmt"
	"slices"
	"strings"

	"github.com/waypointdb/waypoint/pkg/schema"
	"github.com/waypointdb/waypoint/pkg/utils"
)

func (c *comparer) compareEnums(from, to []schema.Enum) {
	for _, target := range to {
		current := findEnum(from, target.Name)
		if current == nil {
			c.enumCreates = append(c.enumCreates, Diff{
				Type:        DiffCreate,
				Kind:        KindEnum,
				Object:      target.Name,
				Description: fmt.Sprintf("Create enum type '%s'", target.Name),
				UpSQL:       c.createEnumSQL(target),
				DownSQL:     c.dropEnumSQL(target.Name),
			})
			continue
		}
		if !slices.Equal(current.Values, target.Values) {
			c.enumAlters = append(c.enumAlters, c.alterEnumDiff(*current, target))
		}
	}

	for _, current := range from {
		if findEnum(to, current.Name) == nil {
			c.enumDrops = append(c.enumDrops, Diff{
				Type:        DiffDrop,
				Kind:        KindEnum,
				Object:      current.Name,
				Description: fmt.Sprintf("Drop enum type '%s'", current.Name),
				UpSQL:       c.dropEnumSQL(current.Name),
				DownSQL:     c.createEnumSQL(current),
			})
		}
	}
}

// alterEnumDiff handles the one enum change PostgreSQL supports in place,
// appending values. Anything else, removing or reordering values, needs a
// manual type rebuild, and appending is itself irreversible.
func (c *comparer) alterEnumDiff(current, target schema.Enum) Diff {
	diff := Diff{
		Type:        DiffAlter,
		Kind:        KindEnum,
		Object:      target.Name,
		Description: fmt.Sprintf("Alter enum type '%s'", target.Name),
	}

	if len(target.Values) > len(current.Values) && slices.Equal(current.Values, target.Values[:len(current.Values)]) {
		var stmts []string
		for _, v := range target.Values[len(current.Values):] {
			stmts = append(stmts, fmt.Sprintf("ALTER TYPE %s ADD VALUE %s;", c.typeRef(target.Name), quoteLiteral(v)))
		}
		diff.UpSQL = strings.Join(stmts, "\n")
		diff.DownNote = fmt.Sprintf("PostgreSQL cannot remove values from enum type '%s'; rebuild the type to undo", target.Name)
		return diff
	}

	diff.UpNote = fmt.Sprintf("enum type '%s' removes or reorders values; rebuild the type manually", target.Name)
	diff.DownNote = diff.UpNote
	return diff
}

func (c *comparer) compareSequences(from, to []schema.Sequence) {
	for _, target := range to {
		current := findSequence(from, target.Name)
		if current == nil {
			c.seqCreates = append(c.seqCreates, Diff{
				Type:        DiffCreate,
				Kind:        KindSequence,
				Object:      target.Name,
				Description: fmt.Sprintf("Create sequence '%s'", target.Name),
				UpSQL:       c.createSequenceSQL(target),
				DownSQL:     c.dropSequenceSQL(target.Name),
			})
			continue
		}
		if *current != target {
			c.seqAlters = append(c.seqAlters, Diff{
				Type:        DiffAlter,
				Kind:        KindSequence,
				Object:      target.Name,
				Description: fmt.Sprintf("Alter sequence '%s'", target.Name),
				UpSQL:       c.alterSequenceSQL(*current, target),
				DownSQL:     c.alterSequenceSQL(target, *current),
			})
		}
	}

	for _, current := range from {
		if findSequence(to, current.Name) == nil {
			c.seqDrops = append(c.seqDrops, Diff{
				Type:        DiffDrop,
				Kind:        KindSequence,
				Object:      current.Name,
				Description: fmt.Sprintf("Drop sequence '%s'", current.Name),
				UpSQL:       c.dropSequenceSQL(current.Name),
				DownSQL:     c.createSequenceSQL(current),
				DownLossy:   true,
				DownNote:    fmt.Sprintf("recreating sequence '%s' restarts it; the last value is not restored", current.Name),
			})
		}
	}
}

func (c *comparer) createEnumSQL(e schema.Enum) string {
	values := make([]string, len(e.Values))
	for i, v := range e.Values {
		values[i] = quoteLiteral(v)
	}
	return fmt.Sprintf("CREATE TYPE %s AS ENUM (%s);", c.typeRef(e.Name), strings.Join(values, ", "))
}

func (c *comparer) dropEnumSQL(name string) string {
	return fmt.Sprintf("DROP TYPE %s;", c.typeRef(name))
}

func (c *comparer) createSequenceSQL(s schema.Sequence) string {
	var b strings.Builder
	b.WriteString("CREATE SEQUENCE " + c.typeRef(s.Name))
	if s.DataType != "" {
		b.WriteString(" AS " + s.DataType)
	}
	if s.Start != 0 {
		fmt.Fprintf(&b, " START WITH %d", s.Start)
	}
	if s.Increment != 0 {
		fmt.Fprintf(&b, " INCREMENT BY %d", s.Increment)
	}
	b.WriteString(";")
	return b.String()
}

func (c *comparer) dropSequenceSQL(name string) string {
	return fmt.Sprintf("DROP SEQUENCE %s;", c.typeRef(name))
}

func (c *comparer) alterSequenceSQL(from, to schema.Sequence) string {
	var b strings.Builder
	b.WriteString("ALTER SEQUENCE " + c.typeRef(to.Name))
	if from.DataType != to.DataType && to.DataType != "" {
		b.WriteString(" AS " + to.DataType)
	}
	if from.Start != to.Start && to.Start != 0 {
		fmt.Fprintf(&b, " START WITH %d", to.Start)
	}
	if from.Increment != to.Increment && to.Increment != 0 {
		fmt.Fprintf(&b, " INCREMENT BY %d", to.Increment)
	}
	b.WriteString(";")
	return b.String()
}

// typeRef qualifies a type or sequence name with the schema.
func (c *comparer) typeRef(name string) string {
	return utils.QualifiedName(c.schema, name)
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func findEnum(enums []schema.Enum, name string) *schema.Enum {
	for i := range enums {
		if enums[i].Name == name {
			return &enums[i]
		}
	}
	return nil
}

func findSequence(seqs []schema.Sequence, name string) *schema.Sequence {
	for i := range seqs {
		if seqs[i].Name == name {
			return &seqs[i]
		}
	}
	return nil
}
