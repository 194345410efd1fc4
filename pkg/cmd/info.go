package cmd

import (
	"context"

	"github.com/urfave/cli/v3"
)

// info creates the info command for showing migration state.
//
// The info command displays every migration the engine knows about - applied,
// pending, missing, failed, and ignored - together with the history rows
// recorded for them, in the order they apply.
//
// Example usage:
//
//	# Show the migration table for the configured database
//	waypoint info
//
//	# Machine-readable state for CI gates
//	waypoint --json info
func info(st *State) *cli.Command {
	return &cli.Command{
		Name:  "info",
		Usage: "Show the state of all migrations",
		Description: `Display the state of every migration, applied and pending.

The info command joins the migration files against the schema history table
and prints one row per migration:

- Applied: recorded in history with a matching checksum
- Pending: present on disk, not yet applied
- Failed: recorded in history with success = false
- Missing: recorded in history but no longer on disk
- Outdated: a repeatable migration whose file changed since its last run
- Ignored: sits below the highest applied version while out_of_order is off
- Undone: applied and later rolled back by 'waypoint undo'
- Baseline / Below Baseline: the baseline marker and versions it excludes

The command takes no lock and never writes.`,
		Before: resolveConfig(st),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return runInfo(ctx, cmd, st)
		},
	}
}

func runInfo(ctx context.Context, _ *cli.Command, st *State) error {
	session, err := st.connect(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = session.Close(ctx) }()

	report, err := st.engine(session).Info(ctx)
	if err != nil {
		return err
	}

	return st.emit(report, func() error { return st.Renderer.Info(report) })
}
