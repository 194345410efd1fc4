package schema

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

// Querier is the part of a pgx connection the introspector needs.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Introspector reads a live schema from the PostgreSQL catalogs.
//
// Example usage:
//
//	intro := schema.NewIntrospector(conn)
//	snap, err := intro.Snapshot(ctx, "public", "waypoint_history")
//	if err != nil {
//		return err
//	}
type Introspector struct {
	db Querier
}

// NewIntrospector returns an Introspector reading from db.
func NewIntrospector(db Querier) *Introspector {
	return &Introspector{db: db}
}

// Snapshot captures the named schema: base tables with their columns, keys,
// constraints and indexes, enum types, and standalone sequences. Tables named
// in exclude are left out entirely, which keeps the migration history table
// out of drift and reversal comparisons. The result is in canonical order.
func (i *Introspector) Snapshot(ctx context.Context, schemaName string, exclude ...string) (*Snapshot, error) {
	excluded := make(map[string]bool, len(exclude))
	for _, name := range exclude {
		excluded[name] = true
	}

	snap := &Snapshot{
		Format:     Format,
		Schema:     schemaName,
		CapturedAt: time.Now().UTC().Truncate(time.Second),
	}

	tables, err := i.tables(ctx, schemaName, excluded)
	if err != nil {
		return nil, err
	}

	steps := []func(context.Context, string, map[string]*Table) error{
		i.columns,
		i.keyConstraints,
		i.checkConstraints,
		i.foreignKeys,
		i.indexes,
	}
	for _, step := range steps {
		if err := step(ctx, schemaName, tables); err != nil {
			return nil, err
		}
	}

	for _, t := range tables {
		snap.Tables = append(snap.Tables, *t)
	}

	if snap.Enums, err = i.enums(ctx, schemaName); err != nil {
		return nil, err
	}
	if snap.Sequences, err = i.sequences(ctx, schemaName); err != nil {
		return nil, err
	}

	snap.Sort()
	return snap, nil
}

func (i *Introspector) tables(ctx context.Context, schemaName string, excluded map[string]bool) (map[string]*Table, error) {
	rows, err := i.db.Query(ctx, `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = $1 AND table_type = 'BASE TABLE'
		ORDER BY table_name`, schemaName)
	if err != nil {
		return nil, errors.Wrap(err, "listing tables")
	}
	defer rows.Close()

	tables := make(map[string]*Table)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errors.Wrap(err, "scanning table name")
		}
		if excluded[name] {
			continue
		}
		tables[name] = &Table{Name: name}
	}
	return tables, errors.Wrap(rows.Err(), "listing tables")
}

func (i *Introspector) columns(ctx context.Context, schemaName string, tables map[string]*Table) error {
	rows, err := i.db.Query(ctx, `
		SELECT table_name, column_name, data_type, udt_name, is_nullable, column_default,
		       character_maximum_length, numeric_precision, numeric_scale
		FROM information_schema.columns
		WHERE table_schema = $1
		ORDER BY table_name, ordinal_position`, schemaName)
	if err != nil {
		return errors.Wrap(err, "listing columns")
	}
	defer rows.Close()

	for rows.Next() {
		var (
			table, name, dataType, udtName, nullable string
			def                                      *string
			maxLen, precision, scale                 *int
		)
		if err := rows.Scan(&table, &name, &dataType, &udtName, &nullable, &def, &maxLen, &precision, &scale); err != nil {
			return errors.Wrap(err, "scanning column")
		}
		t, ok := tables[table]
		if !ok {
			continue
		}

		col := Column{
			Name:     name,
			Type:     renderType(dataType, udtName, maxLen, precision, scale),
			Nullable: nullable == "YES",
		}
		if def != nil {
			if serial, ok := serialType(col.Type, *def); ok {
				col.Type = serial
			} else {
				d := trimCast(*def)
				col.Default = &d
			}
		}
		t.Columns = append(t.Columns, col)
	}
	return errors.Wrap(rows.Err(), "listing columns")
}

func (i *Introspector) keyConstraints(ctx context.Context, schemaName string, tables map[string]*Table) error {
	rows, err := i.db.Query(ctx, `
		SELECT tc.table_name, tc.constraint_name, tc.constraint_type, kcu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
		  ON kcu.constraint_name = tc.constraint_name AND kcu.table_schema = tc.table_schema
		WHERE tc.table_schema = $1 AND tc.constraint_type IN ('PRIMARY KEY', 'UNIQUE')
		ORDER BY tc.table_name, tc.constraint_name, kcu.ordinal_position`, schemaName)
	if err != nil {
		return errors.Wrap(err, "listing key constraints")
	}
	defer rows.Close()

	for rows.Next() {
		var table, name, kind, column string
		if err := rows.Scan(&table, &name, &kind, &column); err != nil {
			return errors.Wrap(err, "scanning key constraint")
		}
		t, ok := tables[table]
		if !ok {
			continue
		}

		if kind == "PRIMARY KEY" {
			if t.PrimaryKey == nil {
				t.PrimaryKey = &PrimaryKey{Name: name}
			}
			t.PrimaryKey.Columns = append(t.PrimaryKey.Columns, column)
			continue
		}

		if n := len(t.Uniques); n > 0 && t.Uniques[n-1].Name == name {
			t.Uniques[n-1].Columns = append(t.Uniques[n-1].Columns, column)
		} else {
			t.Uniques = append(t.Uniques, Unique{Name: name, Columns: []string{column}})
		}
	}
	return errors.Wrap(rows.Err(), "listing key constraints")
}

func (i *Introspector) checkConstraints(ctx context.Context, schemaName string, tables map[string]*Table) error {
	// NOT NULL shows up in check_constraints as a synthetic "... IS NOT
	// NULL" row; nullability is already on the column.
	rows, err := i.db.Query(ctx, `
		SELECT tc.table_name, tc.constraint_name, cc.check_clause
		FROM information_schema.table_constraints tc
		JOIN information_schema.check_constraints cc
		  ON cc.constraint_name = tc.constraint_name AND cc.constraint_schema = tc.table_schema
		WHERE tc.table_schema = $1
		  AND tc.constraint_type = 'CHECK'
		  AND cc.check_clause NOT LIKE '%IS NOT NULL'
		ORDER BY tc.table_name, tc.constraint_name`, schemaName)
	if err != nil {
		return errors.Wrap(err, "listing check constraints")
	}
	defer rows.Close()

	for rows.Next() {
		var table, name, clause string
		if err := rows.Scan(&table, &name, &clause); err != nil {
			return errors.Wrap(err, "scanning check constraint")
		}
		if t, ok := tables[table]; ok {
			t.Checks = append(t.Checks, Check{Name: name, Expression: clause})
		}
	}
	return errors.Wrap(rows.Err(), "listing check constraints")
}

// foreignKeys reads pg_constraint rather than information_schema because
// conkey and confkey preserve column order for multi-column keys, which the
// information_schema views do not.
func (i *Introspector) foreignKeys(ctx context.Context, schemaName string, tables map[string]*Table) error {
	rows, err := i.db.Query(ctx, `
		SELECT src.relname, con.conname, dst.relname,
		       (SELECT array_agg(a.attname ORDER BY k.ord)
		          FROM unnest(con.conkey) WITH ORDINALITY AS k(attnum, ord)
		          JOIN pg_attribute a ON a.attrelid = con.conrelid AND a.attnum = k.attnum),
		       (SELECT array_agg(a.attname ORDER BY k.ord)
		          FROM unnest(con.confkey) WITH ORDINALITY AS k(attnum, ord)
		          JOIN pg_attribute a ON a.attrelid = con.confrelid AND a.attnum = k.attnum),
		       con.confupdtype, con.confdeltype
		FROM pg_constraint con
		JOIN pg_class src ON src.oid = con.conrelid
		JOIN pg_class dst ON dst.oid = con.confrelid
		JOIN pg_namespace n ON n.oid = src.relnamespace
		WHERE n.nspname = $1 AND con.contype = 'f'
		ORDER BY src.relname, con.conname`, schemaName)
	if err != nil {
		return errors.Wrap(err, "listing foreign keys")
	}
	defer rows.Close()

	for rows.Next() {
		var (
			table, name, refTable string
			columns, refColumns   []string
			updRule, delRule      string
		)
		if err := rows.Scan(&table, &name, &refTable, &columns, &refColumns, &updRule, &delRule); err != nil {
			return errors.Wrap(err, "scanning foreign key")
		}
		if t, ok := tables[table]; ok {
			t.ForeignKeys = append(t.ForeignKeys, ForeignKey{
				Name:              name,
				Columns:           columns,
				ReferencedTable:   refTable,
				ReferencedColumns: refColumns,
				OnUpdate:          referentialAction(updRule),
				OnDelete:          referentialAction(delRule),
			})
		}
	}
	return errors.Wrap(rows.Err(), "listing foreign keys")
}

// indexes skips primary key indexes and indexes backing unique constraints,
// which are already represented as constraints.
func (i *Introspector) indexes(ctx context.Context, schemaName string, tables map[string]*Table) error {
	rows, err := i.db.Query(ctx, `
		SELECT i.tablename, i.indexname, i.indexdef, ix.indisunique
		FROM pg_indexes i
		JOIN pg_class ic ON ic.relname = i.indexname
		JOIN pg_namespace n ON n.oid = ic.relnamespace AND n.nspname = i.schemaname
		JOIN pg_index ix ON ix.indexrelid = ic.oid
		WHERE i.schemaname = $1
		  AND NOT ix.indisprimary
		  AND NOT EXISTS (
		    SELECT 1 FROM pg_constraint con
		    WHERE con.conindid = ix.indexrelid AND con.contype IN ('p', 'u')
		  )
		ORDER BY i.tablename, i.indexname`, schemaName)
	if err != nil {
		return errors.Wrap(err, "listing indexes")
	}
	defer rows.Close()

	for rows.Next() {
		var (
			table, name, def string
			unique           bool
		)
		if err := rows.Scan(&table, &name, &def, &unique); err != nil {
			return errors.Wrap(err, "scanning index")
		}
		if t, ok := tables[table]; ok {
			t.Indexes = append(t.Indexes, Index{Name: name, Unique: unique, Definition: def})
		}
	}
	return errors.Wrap(rows.Err(), "listing indexes")
}

func (i *Introspector) enums(ctx context.Context, schemaName string) ([]Enum, error) {
	rows, err := i.db.Query(ctx, `
		SELECT t.typname, e.enumlabel
		FROM pg_type t
		JOIN pg_enum e ON e.enumtypid = t.oid
		JOIN pg_namespace n ON n.oid = t.typnamespace
		WHERE n.nspname = $1
		ORDER BY t.typname, e.enumsortorder`, schemaName)
	if err != nil {
		return nil, errors.Wrap(err, "listing enum types")
	}
	defer rows.Close()

	var enums []Enum
	for rows.Next() {
		var name, label string
		if err := rows.Scan(&name, &label); err != nil {
			return nil, errors.Wrap(err, "scanning enum value")
		}
		if n := len(enums); n > 0 && enums[n-1].Name == name {
			enums[n-1].Values = append(enums[n-1].Values, label)
		} else {
			enums = append(enums, Enum{Name: name, Values: []string{label}})
		}
	}
	return enums, errors.Wrap(rows.Err(), "listing enum types")
}

// sequences returns sequences with no auto dependency on a column. Sequences
// created by serial columns or identity columns belong to their column.
func (i *Introspector) sequences(ctx context.Context, schemaName string) ([]Sequence, error) {
	rows, err := i.db.Query(ctx, `
		SELECT s.sequencename, s.data_type::text, s.start_value, s.increment_by
		FROM pg_sequences s
		JOIN pg_class c ON c.relname = s.sequencename
		JOIN pg_namespace n ON n.oid = c.relnamespace AND n.nspname = s.schemaname
		WHERE s.schemaname = $1
		  AND NOT EXISTS (
		    SELECT 1 FROM pg_depend d
		    WHERE d.objid = c.oid AND d.deptype IN ('a', 'i')
		  )
		ORDER BY s.sequencename`, schemaName)
	if err != nil {
		return nil, errors.Wrap(err, "listing sequences")
	}
	defer rows.Close()

	var seqs []Sequence
	for rows.Next() {
		var s Sequence
		if err := rows.Scan(&s.Name, &s.DataType, &s.Start, &s.Increment); err != nil {
			return nil, errors.Wrap(err, "scanning sequence")
		}
		seqs = append(seqs, s)
	}
	return seqs, errors.Wrap(rows.Err(), "listing sequences")
}

// renderType maps an information_schema column description to the type name
// an author would write in DDL.
func renderType(dataType, udtName string, maxLen, precision, scale *int) string {
	switch dataType {
	case "USER-DEFINED":
		return udtName
	case "ARRAY":
		return strings.TrimPrefix(udtName, "_") + "[]"
	case "character varying":
		if maxLen != nil {
			return fmt.Sprintf("varchar(%d)", *maxLen)
		}
		return "varchar"
	case "character":
		if maxLen != nil {
			return fmt.Sprintf("char(%d)", *maxLen)
		}
		return "char"
	case "numeric":
		if precision != nil {
			s := 0
			if scale != nil {
				s = *scale
			}
			return fmt.Sprintf("numeric(%d,%d)", *precision, s)
		}
		return "numeric"
	}
	return dataType
}

// serialType reports the serial pseudo-type for an integer column whose
// default draws from its own sequence.
func serialType(typeName, def string) (string, bool) {
	if !strings.HasPrefix(def, "nextval(") || !strings.Contains(def, "_seq") {
		return "", false
	}
	switch typeName {
	case "integer":
		return "serial", true
	case "bigint":
		return "bigserial", true
	case "smallint":
		return "smallserial", true
	}
	return "", false
}

// trimCast strips a trailing ::type cast from a default expression when the
// cast sits outside any string literal, so 'active'::character varying reads
// back as 'active' while nextval('s'::regclass) is left whole.
func trimCast(def string) string {
	idx := strings.LastIndex(def, "::")
	if idx <= 0 {
		return def
	}
	prefix := def[:idx]
	if strings.Count(prefix, "'")%2 != 0 {
		return def
	}
	// A cast binds to a single trailing token or quoted literal, not to a
	// parenthesized expression that closes after it.
	if strings.Count(prefix, "(") != strings.Count(prefix, ")") {
		return def
	}
	return prefix
}

func referentialAction(code string) string {
	switch code {
	case "r":
		return "RESTRICT"
	case "c":
		return "CASCADE"
	case "n":
		return "SET NULL"
	case "d":
		return "SET DEFAULT"
	}
	// "a" is NO ACTION, the default, and is omitted.
	return ""
}
