// Package schema models a PostgreSQL schema as a normalized snapshot:
// tables with columns, keys, constraints and indexes, plus enum types and
// standalone sequences. Snapshots come from live introspection or from a
// YAML file written earlier, and are the inputs to diffing, drift detection,
// and reversal capture.
package schema

import (
	"slices"
	"strings"
	"time"
)

// Format identifies the snapshot file layout.
const Format = "waypoint/v1"

type (
	// Snapshot is the canonical description of one schema at a point in
	// time. After Sort, two snapshots of identical schemas are deeply equal
	// regardless of the order the catalog returned their parts.
	Snapshot struct {
		Format     string    `yaml:"format"`
		Database   string    `yaml:"database,omitempty"`
		Schema     string    `yaml:"schema"`
		CapturedAt time.Time `yaml:"captured_at,omitempty"`

		Tables    []Table    `yaml:"tables,omitempty"`
		Enums     []Enum     `yaml:"enums,omitempty"`
		Sequences []Sequence `yaml:"sequences,omitempty"`
	}

	// Table is one base table. Columns keep definition order; every other
	// slice is name-sorted.
	Table struct {
		Name        string       `yaml:"name"`
		Columns     []Column     `yaml:"columns"`
		PrimaryKey  *PrimaryKey  `yaml:"primary_key,omitempty"`
		Uniques     []Unique     `yaml:"uniques,omitempty"`
		Checks      []Check      `yaml:"checks,omitempty"`
		ForeignKeys []ForeignKey `yaml:"foreign_keys,omitempty"`
		Indexes     []Index      `yaml:"indexes,omitempty"`
	}

	// Column is one table column. Serial columns carry the serial
	// pseudo-type with no default, the way the author would have written
	// them.
	Column struct {
		Name     string  `yaml:"name"`
		Type     string  `yaml:"type"`
		Nullable bool    `yaml:"nullable"`
		Default  *string `yaml:"default,omitempty"`
	}

	PrimaryKey struct {
		Name    string   `yaml:"name"`
		Columns []string `yaml:"columns"`
	}

	Unique struct {
		Name    string   `yaml:"name"`
		Columns []string `yaml:"columns"`
	}

	Check struct {
		Name       string `yaml:"name"`
		Expression string `yaml:"expression"`
	}

	ForeignKey struct {
		Name              string   `yaml:"name"`
		Columns           []string `yaml:"columns"`
		ReferencedTable   string   `yaml:"referenced_table"`
		ReferencedColumns []string `yaml:"referenced_columns"`
		OnUpdate          string   `yaml:"on_update,omitempty"`
		OnDelete          string   `yaml:"on_delete,omitempty"`
	}

	// Index holds the complete definition statement from pg_indexes, which
	// is both the canonical comparison key and directly executable DDL.
	Index struct {
		Name       string `yaml:"name"`
		Unique     bool   `yaml:"unique"`
		Definition string `yaml:"definition"`
	}

	Enum struct {
		Name   string   `yaml:"name"`
		Values []string `yaml:"values"`
	}

	// Sequence is a standalone sequence; sequences owned by serial columns
	// are implied by their column and not snapshotted.
	Sequence struct {
		Name      string `yaml:"name"`
		DataType  string `yaml:"data_type,omitempty"`
		Start     int64  `yaml:"start,omitempty"`
		Increment int64  `yaml:"increment,omitempty"`
	}
)

// Sort puts the snapshot into canonical order: tables, enums, and sequences
// by name, and within each table the uniques, checks, foreign keys, and
// indexes by name. Column order is definition order and is left alone.
func (s *Snapshot) Sort() {
	slices.SortFunc(s.Tables, func(a, b Table) int { return strings.Compare(a.Name, b.Name) })
	slices.SortFunc(s.Enums, func(a, b Enum) int { return strings.Compare(a.Name, b.Name) })
	slices.SortFunc(s.Sequences, func(a, b Sequence) int { return strings.Compare(a.Name, b.Name) })

	for i := range s.Tables {
		t := &s.Tables[i]
		slices.SortFunc(t.Uniques, func(a, b Unique) int { return strings.Compare(a.Name, b.Name) })
		slices.SortFunc(t.Checks, func(a, b Check) int { return strings.Compare(a.Name, b.Name) })
		slices.SortFunc(t.ForeignKeys, func(a, b ForeignKey) int { return strings.Compare(a.Name, b.Name) })
		slices.SortFunc(t.Indexes, func(a, b Index) int { return strings.Compare(a.Name, b.Name) })
	}
}

// Table returns the named table, or nil.
func (s *Snapshot) Table(name string) *Table {
	for i := range s.Tables {
		if s.Tables[i].Name == name {
			return &s.Tables[i]
		}
	}
	return nil
}

// Enum returns the named enum type, or nil.
func (s *Snapshot) Enum(name string) *Enum {
	for i := range s.Enums {
		if s.Enums[i].Name == name {
			return &s.Enums[i]
		}
	}
	return nil
}

// Sequence returns the named sequence, or nil.
func (s *Snapshot) Sequence(name string) *Sequence {
	for i := range s.Sequences {
		if s.Sequences[i].Name == name {
			return &s.Sequences[i]
		}
	}
	return nil
}

// Empty reports whether the snapshot describes no objects at all.
func (s *Snapshot) Empty() bool {
	return len(s.Tables) == 0 && len(s.Enums) == 0 && len(s.Sequences) == 0
}

// Column returns the named column, or nil.
func (t *Table) Column(name string) *Column {
	for i := range t.Columns {
		if t.Columns[i].Name == name {
			return &t.Columns[i]
		}
	}
	return nil
}

// Index returns the named index, or nil.
func (t *Table) Index(name string) *Index {
	for i := range t.Indexes {
		if t.Indexes[i].Name == name {
			return &t.Indexes[i]
		}
	}
	return nil
}
