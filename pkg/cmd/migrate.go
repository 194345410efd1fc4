package cmd

import (
	"context"
	"log/slog"

	"github.com/urfave/cli/v3"
	"github.com/waypointdb/waypoint/pkg/engine"
)

// migrate creates the migrate command for applying pending migrations.
//
// The migrate command executes all pending migrations against the configured
// PostgreSQL database, updating the schema to match the migration files. It
// provides per-migration progress reporting and records every run in the
// schema history table.
//
// Command flags (global):
//   - --dry-run: Show what would be executed without applying changes
//   - --target: Stop after the given version
//   - --batch: Run all pending migrations in one transaction
//   - --safety-override: Apply migrations despite a DANGER verdict
//   - --out-of-order: Allow versions below the highest applied one
//
// Example usage:
//
//	# Apply all pending migrations
//	waypoint migrate
//
//	# Show what would be executed without applying
//	waypoint --dry-run migrate
//
//	# Apply up to a specific version against another database
//	waypoint --url postgres://db.internal/app --target 42 migrate
func migrate(st *State) *cli.Command {
	return &cli.Command{
		Name:    "migrate",
		Aliases: []string{"apply"},
		Usage:   "Apply pending migrations",
		Description: `Apply all pending migrations to the configured PostgreSQL database.

The migrate command runs versioned migrations in version order, then
repeatable migrations whose checksums changed. Each migration executes
inside its own transaction together with its history row - if any statement
fails, the transaction rolls back, the failure is recorded, and the run
stops.

The command automatically handles:
- Creation of the schema history table on first run
- Validation of applied history before anything new is applied
- require/ensure guard directives and safety analysis of destructive DDL
- Capture of reverse DDL for later use by 'waypoint undo'
- Hook scripts running before and after the run and around each migration

Migration files are loaded from the configured locations (default
db/migrations). Versioned files follow V<version>__<description>.sql,
repeatable files R__<description>.sql, and undo files
U<version>__<description>.sql.`,
		Before: resolveConfig(st),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return runMigrate(ctx, cmd, st)
		},
	}
}

func runMigrate(ctx context.Context, cmd *cli.Command, st *State) error {
	session, err := st.connect(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = session.Close(ctx) }()

	slog.Info("starting migration run",
		"schema", st.Config.Migrations.Schema,
		"locations", st.Config.Migrations.Locations,
		"dry_run", cmd.Bool("dry-run"),
	)

	report, err := st.engine(session).Migrate(ctx, engine.MigrateOptions{
		DryRun:         cmd.Bool("dry-run"),
		SafetyOverride: cmd.Bool("safety-override"),
	})
	if report != nil {
		if rerr := st.emit(report, func() error { return st.Renderer.Migrate(report) }); err == nil {
			err = rerr
		}
	}

	return err
}
