package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v3"
	"github.com/waypointdb/waypoint/pkg/consts"
	"github.com/waypointdb/waypoint/pkg/schema"
)

// snapshot creates the snapshot command for capturing the live schema.
//
// Snapshot introspects the managed schema - tables, columns, indexes,
// constraints, enums, sequences - and writes it as a YAML document that
// 'waypoint drift' later compares against.
//
// Command flags:
//   - --out: File to write (default db/schema.yaml, "-" for stdout)
//
// Example usage:
//
//	# Capture the schema next to the migrations
//	waypoint snapshot
//
//	# Print the snapshot instead of writing a file
//	waypoint snapshot --out -
func snapshot(st *State) *cli.Command {
	return &cli.Command{
		Name:  "snapshot",
		Usage: "Write a YAML snapshot of the live schema",
		Description: `Capture the live schema as a YAML snapshot file.

The snapshot records every table with its columns, defaults, and
constraints, plus indexes, sequences, and enum types in the managed schema.
The history table itself is excluded. Commit the file alongside the
migrations; 'waypoint drift' compares the live schema against it and
reports anything that changed outside a migration.`,
		Before: resolveConfig(st),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "out",
				Usage:       `File to write the snapshot to ("-" for stdout)`,
				DefaultText: consts.DefaultSnapshotFile,
				Config: cli.StringConfig{
					TrimSpace: true,
				},
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return runSnapshot(ctx, cmd, st)
		},
	}
}

func runSnapshot(ctx context.Context, cmd *cli.Command, st *State) error {
	session, err := st.connect(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = session.Close(ctx) }()

	snap, err := st.engine(session).Snapshot(ctx)
	if err != nil {
		return err
	}

	data, err := schema.Encode(snap)
	if err != nil {
		return err
	}

	out := cmd.String("out")
	if out == "" {
		out = consts.DefaultSnapshotFile
	}
	if out == "-" {
		_, err = os.Stdout.Write(data)
		return errors.Wrap(err, "writing snapshot")
	}

	if dir := filepath.Dir(out); dir != "." {
		if err := os.MkdirAll(dir, consts.ModeDir); err != nil {
			return errors.Wrapf(err, "creating snapshot directory %s", dir)
		}
	}
	if err := os.WriteFile(out, data, consts.ModeFile); err != nil {
		return errors.Wrapf(err, "writing snapshot %s", out)
	}

	slog.Info("snapshot written", "path", out, "schema", st.Config.Migrations.Schema)
	if st.JSON {
		return st.Renderer.JSON(struct {
			Schema string `json:"schema"`
			Path   string `json:"path"`
		}{st.Config.Migrations.Schema, out})
	}

	fmt.Printf("📸 Snapshot of schema %q written to %s\n", st.Config.Migrations.Schema, out)

	return nil
}
