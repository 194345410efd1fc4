package cmd

import (
	"context"
	"log/slog"

	"github.com/urfave/cli/v3"
)

// clean creates the clean command for dropping every object in the managed
// schema.
//
// Clean is destructive and therefore double-gated: clean_enabled must be set
// in the configuration AND --allow-clean must be passed on the command line.
// Either gate missing aborts with exit code 7 before anything is touched.
//
// Command flags:
//   - --allow-clean: Second gate confirming the drop
//
// Example usage:
//
//	# Drop everything in the managed schema of a disposable database
//	waypoint clean --allow-clean
func clean(st *State) *cli.Command {
	return &cli.Command{
		Name:  "clean",
		Usage: "Drop every object in the managed schema",
		Description: `Drop all objects in the managed schema, including the history table.

The drop order is materialized views, views, tables, sequences, functions,
and enum and composite types, each with CASCADE, all under the advisory
lock. Afterwards the schema is empty and 'waypoint migrate' rebuilds it
from scratch.

Clean exists for development and test databases. It refuses to run unless
clean_enabled = true is set in waypoint.toml and --allow-clean is passed
explicitly, so a stray invocation cannot empty a production schema.`,
		Before: resolveConfig(st),
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "allow-clean",
				Usage: "Confirm dropping every object in the managed schema",
				Value: false,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return runClean(ctx, cmd, st)
		},
	}
}

func runClean(ctx context.Context, cmd *cli.Command, st *State) error {
	session, err := st.connect(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = session.Close(ctx) }()

	slog.Info("cleaning schema", "schema", st.Config.Migrations.Schema)

	report, err := st.engine(session).Clean(ctx, cmd.Bool("allow-clean"))
	if err != nil {
		return err
	}

	return st.emit(report, func() error { return st.Renderer.Clean(report) })
}
