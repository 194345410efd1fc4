package cmd

import (
	"context"
	"log/slog"

	"github.com/urfave/cli/v3"
)

// simulate creates the simulate command for rehearsing pending migrations.
//
// Simulate runs the pending plan inside a throwaway scratch schema on the
// same server, then drops it. The real schema, its data, and the history
// table are never touched, so a failing migration is caught before it can
// break anything.
//
// Example usage:
//
//	# Rehearse the pending migrations before deploying
//	waypoint simulate
func simulate(st *State) *cli.Command {
	return &cli.Command{
		Name:  "simulate",
		Usage: "Rehearse pending migrations in a scratch schema",
		Description: `Run the pending migrations against a scratch schema and throw it away.

The command creates a uniquely named scratch schema on the target server,
redirects the schema placeholder, search_path, and history table into it,
applies the pending plan there on a second connection, and drops the
schema afterwards whatever the outcome.

A failure inside the rehearsal exits with code 15 and reports the failing
migration exactly as a real run would. The rehearsal starts from an empty
schema, so migrations that depend on data already present in the real
schema can fail here even though they would apply cleanly.`,
		Before: resolveConfig(st),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return runSimulate(ctx, cmd, st)
		},
	}
}

func runSimulate(ctx context.Context, _ *cli.Command, st *State) error {
	session, err := st.connect(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = session.Close(ctx) }()

	slog.Info("simulating pending migrations", "schema", st.Config.Migrations.Schema)

	report, err := st.engine(session).Simulate(ctx)
	if report != nil {
		if rerr := st.emit(report, func() error { return st.Renderer.Simulate(report) }); err == nil {
			err = rerr
		}
	}

	return err
}
