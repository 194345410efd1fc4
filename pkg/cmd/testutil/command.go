// Package testutil provides helpers for exercising waypoint CLI commands in
// tests.
package testutil

import (
	"context"
	"testing"

	"github.com/urfave/cli/v3"
)

// RunCommand executes a command inside a minimal parent application, the way
// the waypoint root command hosts it in production.
func RunCommand(t *testing.T, command *cli.Command, args []string) error {
	t.Helper()

	return RunCommandWithContext(context.Background(), t, command, args)
}

// RunCommandWithContext executes a command with a custom context.
func RunCommandWithContext(ctx context.Context, t *testing.T, command *cli.Command, args []string) error {
	t.Helper()

	app := &cli.Command{
		Name:     "test",
		Commands: []*cli.Command{command},
	}

	return app.Run(ctx, append([]string{"test", command.Name}, args...))
}
