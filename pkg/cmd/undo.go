package cmd

import (
	"context"
	"log/slog"

	"github.com/urfave/cli/v3"
	"github.com/waypointdb/waypoint/pkg/engine"
)

// undo creates the undo command for rolling back applied versions.
//
// Undo reverses applied versioned migrations, newest first. Each version is
// undone with its U<version>__ file when one exists, falling back to the
// reverse DDL captured automatically when the migration was applied.
//
// Command flags:
//   - --target: Undo every applied version at or above this version
//
// Example usage:
//
//	# Undo only the most recently applied version
//	waypoint undo
//
//	# Roll back to just below version 40
//	waypoint undo --target 40
func undo(st *State) *cli.Command {
	return &cli.Command{
		Name:  "undo",
		Usage: "Roll back applied migrations, newest first",
		Description: `Undo applied versioned migrations.

Without --target only the newest applied version is undone. With --target
every applied version at or above the target is undone, newest first, so
the schema lands just below the target.

Each reversal runs in its own transaction and records an UNDO_SQL history
row; the original applied rows stay in place for auditability, and the
undone versions show as Pending again in 'waypoint info'. The undo source
is the U<version>__<description>.sql file when present, otherwise the
reverse DDL captured while the migration was applied. Versions with
neither cannot be undone.`,
		Before: resolveConfig(st),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "target",
				Usage: "Undo every applied version at or above this version",
				Config: cli.StringConfig{
					TrimSpace: true,
				},
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return runUndo(ctx, cmd, st)
		},
	}
}

func runUndo(ctx context.Context, cmd *cli.Command, st *State) error {
	session, err := st.connect(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = session.Close(ctx) }()

	target := cmd.String("target")
	slog.Info("undoing migrations", "schema", st.Config.Migrations.Schema, "target", target)

	report, err := st.engine(session).Undo(ctx, engine.UndoOptions{Target: target})
	if report != nil {
		if rerr := st.emit(report, func() error { return st.Renderer.Undo(report) }); err == nil {
			err = rerr
		}
	}

	return err
}
