package cmd

import (
	"context"

	"github.com/urfave/cli/v3"
	"github.com/waypointdb/waypoint/pkg/engine"
)

// validate creates the validate command for checking applied history against
// the migration files.
//
// Validation compares the checksums, descriptions, and types recorded in the
// history table with the files on disk and reports anything that no longer
// lines up. A failed validation exits with code 3, so CI pipelines can gate
// deploys on it.
//
// Command flags:
//   - --strict: Treat missing migration files as failures instead of warnings
//
// Example usage:
//
//	# Validate the configured database
//	waypoint validate
//
//	# Fail when applied files have been deleted
//	waypoint validate --strict
func validate(st *State) *cli.Command {
	return &cli.Command{
		Name:  "validate",
		Usage: "Check applied migrations against their files",
		Description: `Validate the applied history against the migration files on disk.

Checks performed:
- Checksum of every applied versioned migration matches its file
- Description and type recorded in history match the file
- No pending version sorts below an applied one while out_of_order is off
- Applied files still exist (warning, or failure with --strict)
- Failed rows are reported until 'waypoint repair' removes them

Validation is also run automatically at the start of migrate unless
validate_on_migrate is disabled.`,
		Before: resolveConfig(st),
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "strict",
				Usage: "Treat missing migration files as failures",
				Value: false,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return runValidate(ctx, cmd, st)
		},
	}
}

func runValidate(ctx context.Context, cmd *cli.Command, st *State) error {
	session, err := st.connect(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = session.Close(ctx) }()

	report, err := st.engine(session).Validate(ctx, engine.ValidateOptions{
		Strict: cmd.Bool("strict"),
	})
	if err != nil {
		return err
	}

	if rerr := st.emit(report, func() error { return st.Renderer.Validate(report) }); rerr != nil {
		return rerr
	}

	return report.Err()
}
