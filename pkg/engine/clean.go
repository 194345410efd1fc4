package engine

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/waypointdb/waypoint/pkg/utils"
)

// CleanReport lists every object clean dropped, in drop order.
type CleanReport struct {
	Dropped []string `json:"dropped"`
}

type (
	schemaObject struct {
		name string
		args string // function identity arguments
	}

	objectClass struct {
		label    string
		drop     string
		query    string
		withArgs bool
	}
)

// Drop order matters: views depend on tables, tables pin their row types.
var objectClasses = []objectClass{
	{
		label: "materialized view",
		drop:  "DROP MATERIALIZED VIEW",
		query: `SELECT matviewname FROM pg_matviews WHERE schemaname = $1 ORDER BY matviewname`,
	},
	{
		label: "view",
		drop:  "DROP VIEW",
		query: `SELECT table_name FROM information_schema.views WHERE table_schema = $1 ORDER BY table_name`,
	},
	{
		label: "table",
		drop:  "DROP TABLE",
		query: `SELECT tablename FROM pg_tables WHERE schemaname = $1 ORDER BY tablename`,
	},
	{
		label: "sequence",
		drop:  "DROP SEQUENCE",
		query: `SELECT sequence_name FROM information_schema.sequences WHERE sequence_schema = $1 ORDER BY sequence_name`,
	},
	{
		label:    "function",
		drop:     "DROP FUNCTION",
		withArgs: true,
		query: `SELECT p.proname, pg_get_function_identity_arguments(p.oid)
			FROM pg_proc p
			JOIN pg_namespace n ON n.oid = p.pronamespace
			WHERE n.nspname = $1
			ORDER BY p.proname`,
	},
	{
		label: "type",
		drop:  "DROP TYPE",
		query: `SELECT t.typname
			FROM pg_type t
			JOIN pg_namespace n ON n.oid = t.typnamespace
			WHERE n.nspname = $1 AND t.typtype IN ('e', 'c') AND t.typname NOT LIKE '\_%'
			ORDER BY t.typname`,
	},
}

// Clean drops every object in the managed schema, history table included.
// It refuses to run unless clean_enabled is set in the configuration and the
// caller passed --allow-clean; both gates exist because there is no undo.
func (e *Engine) Clean(ctx context.Context, allowClean bool) (*CleanReport, error) {
	if !e.cfg.Migrations.CleanEnabled || !allowClean {
		return nil, failf(KindCleanDisabled,
			"clean drops every object in schema %q and is disabled; set clean_enabled = true and pass --allow-clean to run it",
			e.cfg.Migrations.Schema)
	}

	report := &CleanReport{}
	err := e.withLock(ctx, func(ctx context.Context) error {
		schemaName := e.cfg.Migrations.Schema

		for _, class := range objectClasses {
			objects, err := e.listObjects(ctx, class, schemaName)
			if err != nil {
				return err
			}

			for _, obj := range objects {
				if _, err := e.db.Exec(ctx, class.dropSQL(schemaName, obj)); err != nil {
					return fail(KindDB, errors.Wrapf(err, "dropping %s %s", class.label, obj.name))
				}
				report.Dropped = append(report.Dropped,
					fmt.Sprintf("%s: %s.%s", class.label, schemaName, obj.name))
			}
		}

		e.log.Info("cleaned schema", "schema", schemaName, "dropped", len(report.Dropped))

		return nil
	})
	if err != nil {
		return nil, err
	}

	return report, nil
}

func (e *Engine) listObjects(ctx context.Context, class objectClass, schemaName string) ([]schemaObject, error) {
	rows, err := e.db.Query(ctx, class.query, schemaName)
	if err != nil {
		return nil, fail(KindDB, errors.Wrapf(err, "listing %ss", class.label))
	}
	defer rows.Close()

	var out []schemaObject
	for rows.Next() {
		var obj schemaObject
		if class.withArgs {
			err = rows.Scan(&obj.name, &obj.args)
		} else {
			err = rows.Scan(&obj.name)
		}
		if err != nil {
			return nil, fail(KindDB, err)
		}

		out = append(out, obj)
	}
	if err := rows.Err(); err != nil {
		return nil, fail(KindDB, err)
	}

	return out, nil
}

func (c objectClass) dropSQL(schemaName string, obj schemaObject) string {
	qualified := utils.QualifiedName(schemaName, obj.name)
	if c.withArgs {
		return fmt.Sprintf("%s IF EXISTS %s(%s) CASCADE", c.drop, qualified, obj.args)
	}

	return fmt.Sprintf("%s IF EXISTS %s CASCADE", c.drop, qualified)
}
