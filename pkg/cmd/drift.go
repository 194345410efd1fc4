package cmd

import (
	"context"
	"os"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v3"
	"github.com/waypointdb/waypoint/pkg/consts"
	"github.com/waypointdb/waypoint/pkg/engine"
	"github.com/waypointdb/waypoint/pkg/schema"
)

// drift creates the drift command for detecting out-of-band schema changes.
//
// Drift introspects the live schema and diffs it against a snapshot written
// earlier by 'waypoint snapshot'. Differences mean something changed outside
// the migrations; the command reports them as the DDL that would converge
// the snapshot onto the live schema and exits with code 3.
//
// Command flags:
//   - --snapshot: Snapshot file to compare against (default db/schema.yaml)
//
// Example usage:
//
//	# Compare the live schema against the committed snapshot
//	waypoint drift
//
//	# Compare against a snapshot taken before a release
//	waypoint drift --snapshot release/schema-v42.yaml
func drift(st *State) *cli.Command {
	return &cli.Command{
		Name:  "drift",
		Usage: "Compare the live schema against a saved snapshot",
		Description: `Detect schema changes made outside the migrations.

The live schema is introspected and diffed against the snapshot file.
Tables, columns, column types and defaults, nullability, indexes,
constraints, sequences, and enum types all participate in the comparison;
the history table does not.

When the schemas differ the command prints the DDL that would bring the
snapshot in line with the live schema and exits with code 3, which makes
it usable as a CI gate against hand-edited databases. The command takes
no lock and never writes.`,
		Before: resolveConfig(st),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "snapshot",
				Usage:       "Snapshot file to compare against",
				DefaultText: consts.DefaultSnapshotFile,
				Config: cli.StringConfig{
					TrimSpace: true,
				},
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return runDrift(ctx, cmd, st)
		},
	}
}

func runDrift(ctx context.Context, cmd *cli.Command, st *State) error {
	path := cmd.String("snapshot")
	if path == "" {
		path = consts.DefaultSnapshotFile
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return &engine.Error{
			Kind: engine.KindConfiguration,
			Err:  errors.Wrapf(err, "reading snapshot %s", path),
		}
	}

	saved, err := schema.Decode(data)
	if err != nil {
		return &engine.Error{
			Kind: engine.KindConfiguration,
			Err:  errors.Wrapf(err, "decoding snapshot %s", path),
		}
	}

	session, err := st.connect(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = session.Close(ctx) }()

	report, err := st.engine(session).Drift(ctx, saved)
	if err != nil {
		return err
	}

	if rerr := st.emit(report, func() error { return st.Renderer.Drift(report) }); rerr != nil {
		return rerr
	}

	return report.Err()
}
