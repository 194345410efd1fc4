package main

import (
	"context"
	"os"

	"github.com/waypointdb/waypoint/pkg/cmd"
	"github.com/waypointdb/waypoint/pkg/config"
	"go.uber.org/fx"
)

// NB: These are set by GoReleaser during a build.
var (
	version string
	commit  string
	date    string
)

func main() {
	fx.New(
		fx.NopLogger,
		fx.Supply(
			os.Args,
			&cmd.Version{Version: version, Commit: commit, Timestamp: date},
		),
		fx.Provide(context.Background),
		config.Module,
		cmd.Module,
	).Run()
}
