package cmd

import (
	"context"
	"log/slog"

	"github.com/urfave/cli/v3"
)

// baseline creates the baseline command for adopting an existing database.
//
// Baseline writes a single synthetic history row marking the version the
// schema is assumed to be at. Migrations at or below that version are never
// applied; everything above it applies normally. It only works on an empty
// history table.
//
// Command flags:
//   - --baseline-version: Version to record (default from config, then "1")
//   - --baseline-description: Description for the baseline row
//
// Example usage:
//
//	# Mark an existing production schema as version 1
//	waypoint baseline
//
//	# Adopt a schema that is already at version 42
//	waypoint baseline --baseline-version 42 --baseline-description "imported from flyway"
func baseline(st *State) *cli.Command {
	return &cli.Command{
		Name:  "baseline",
		Usage: "Initialize history for an existing database",
		Description: `Initialize the schema history table at a baseline version.

Use baseline when waypoint takes over a database whose schema already
exists. The command records one BASELINE row at the given version;
versioned migrations at or below it are treated as already applied.

Baseline refuses to run when the history table has any rows, so it cannot
silently discard real history. The version defaults to baseline_version
from the configuration, falling back to "1".`,
		Before: resolveConfig(st),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "baseline-version",
				Usage: "Version to record as the baseline",
				Config: cli.StringConfig{
					TrimSpace: true,
				},
			},
			&cli.StringFlag{
				Name:  "baseline-description",
				Usage: "Description stored on the baseline row",
				Config: cli.StringConfig{
					TrimSpace: true,
				},
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return runBaseline(ctx, cmd, st)
		},
	}
}

func runBaseline(ctx context.Context, cmd *cli.Command, st *State) error {
	session, err := st.connect(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = session.Close(ctx) }()

	version := cmd.String("baseline-version")
	slog.Info("baselining schema", "schema", st.Config.Migrations.Schema, "version", version)

	report, err := st.engine(session).Baseline(ctx, version, cmd.String("baseline-description"))
	if err != nil {
		return err
	}

	return st.emit(report, func() error { return st.Renderer.Baseline(report) })
}
