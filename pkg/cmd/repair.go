package cmd

import (
	"context"
	"log/slog"

	"github.com/urfave/cli/v3"
)

// repair creates the repair command for realigning the history table.
//
// Repair removes rows recorded by failed runs and rewrites stored checksums,
// descriptions, and types to match the current files. It is the recovery
// path after a failed migration or after a migration file was edited in
// place.
//
// Example usage:
//
//	# Clear failed rows and realign checksums
//	waypoint repair
func repair(st *State) *cli.Command {
	return &cli.Command{
		Name:  "repair",
		Usage: "Remove failed history rows and realign checksums",
		Description: `Repair the schema history table.

Two things happen, both under the advisory lock and in one transaction:

- History rows with success = false are deleted, so the failed versions
  become pending again
- For every applied versioned migration whose file still exists, the stored
  checksum, description, and type are rewritten to match the file

Repair never touches the schema itself - only the history table. Run it
after editing an applied migration file on purpose, or after a failed run
whose statements were rolled back.`,
		Before: resolveConfig(st),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return runRepair(ctx, cmd, st)
		},
	}
}

func runRepair(ctx context.Context, _ *cli.Command, st *State) error {
	session, err := st.connect(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = session.Close(ctx) }()

	slog.Info("repairing history",
		"schema", st.Config.Migrations.Schema,
		"table", st.Config.Migrations.Table,
	)

	report, err := st.engine(session).Repair(ctx)
	if err != nil {
		return err
	}

	return st.emit(report, func() error { return st.Renderer.Repair(report) })
}
