package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/urfave/cli/v3"
	"github.com/waypointdb/waypoint/pkg/project"
)

// initCmd creates the init command for scaffolding a new waypoint project.
//
// Init creates the project skeleton: a starter waypoint.toml and an empty
// db/migrations directory. Existing files are never overwritten, so running
// it inside an existing project is safe.
//
// Example usage:
//
//	# Scaffold into the current directory
//	waypoint init
//
//	# Scaffold a new project directory
//	waypoint init services/orders
func initCmd() *cli.Command {
	return &cli.Command{
		Name:      "init",
		Usage:     "Scaffold a new waypoint project",
		ArgsUsage: "[dir]",
		Description: `Initialize a waypoint project directory.

Creates the starter layout:

	waypoint.toml      annotated configuration, every key optional
	db/migrations/     where V<version>__<description>.sql files live

The directory is created if it does not exist. Files already present are
left untouched, so init is safe to re-run and safe to point at a project
that is only partially scaffolded. The starter config is written with mode
0600 since it may grow database credentials.

Init is the only command that works without any configuration at all.`,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return runInit(ctx, cmd)
		},
	}
}

func runInit(_ context.Context, cmd *cli.Command) error {
	dir := cmd.Args().First()
	if dir == "" {
		dir = "."
	}

	slog.Info("initializing project", "dir", dir)

	proj := project.New(dir)
	if err := proj.Initialize(); err != nil {
		return err
	}

	fmt.Printf("✅ Initialized waypoint project in %s\n", proj.Root())
	fmt.Println("💡 Edit waypoint.toml to point at your database, add your first")
	fmt.Println("   migration under db/migrations, then run 'waypoint migrate'")

	return nil
}
