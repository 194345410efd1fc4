package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v3"
	"github.com/waypointdb/waypoint/pkg/config"
	"github.com/waypointdb/waypoint/pkg/consts"
	"github.com/waypointdb/waypoint/pkg/engine"
	"github.com/waypointdb/waypoint/pkg/format"
	"go.uber.org/fx"
)

type (
	Params struct {
		fx.In

		Args       []string
		Commands   []*cli.Command `group:"commands"`
		Ctx        context.Context
		Lifecycle  fx.Lifecycle
		Shutdowner fx.Shutdowner
		State      *State
		Version    *Version
	}

	Version struct {
		Version   string
		Commit    string
		Timestamp string
	}

	// State carries everything a command needs at action time. Commands are
	// constructed by the fx container before flags are parsed, so the
	// resolved configuration cannot be injected; instead each command's
	// Before hook fills the shared State via resolveConfig.
	State struct {
		// Load resolves the layered configuration for one invocation.
		Load config.Loader

		// Config is the resolved configuration. Nil until resolveConfig runs.
		Config *config.Config

		// Renderer writes reports to stdout.
		Renderer *format.Renderer

		// JSON selects the machine renderer for reports.
		JSON bool
	}
)

// NewState creates the empty per-invocation state shared by all commands.
func NewState(loader config.Loader) *State {
	return &State{Load: loader}
}

// Run creates and executes the main waypoint CLI application with the given
// version and command-line arguments. This function serves as the main entry
// point for all CLI operations and handles global configuration.
//
// The function creates a CLI application with:
//   - Global connection and behavior flags layered over waypoint.toml
//   - .env loading before configuration resolution
//   - Command registration and routing
//   - Context propagation for cancellation support
//
// Global Flags:
//   - --config, -c: Config file path (env WAYPOINT_CONFIG, default waypoint.toml)
//   - --url, --schema, --table, --locations, --environment: connection and
//     scanning overrides
//   - --json, --quiet, --verbose: output control
//   - --dry-run, --out-of-order, --no-out-of-order, --validate-on-migrate,
//     --no-validate-on-migrate, --safety-override, --batch, --target:
//     migration behavior
//   - --connect-retries, --ssl-mode, --connect-timeout, --statement-timeout,
//     --lock-timeout: connection tuning
//
// Flag values override WAYPOINT_* environment variables, which override the
// config file. The process exit code is derived from the error kind of the
// failed operation, so scripts can distinguish validation failures from
// database or lock errors.
//
// Example usage:
//
//	# Apply pending migrations using waypoint.toml in the working directory
//	waypoint migrate
//
//	# Point at another database and emit the report as JSON
//	waypoint --url postgres://db.internal/app --json migrate
//
//	# Validate a non-default schema
//	waypoint --schema billing validate
func Run(p Params) {
	cli.VersionPrinter = func(cmd *cli.Command) {
		fmt.Fprintln(cmd.Writer, "Version:", p.Version.Version)
		fmt.Fprintln(cmd.Writer, "Commit:", p.Version.Commit)
		fmt.Fprintln(cmd.Writer, "Date:", p.Version.Timestamp)
	}

	// The fx group collects commands in nondeterministic order.
	commands := slices.Clone(p.Commands)
	slices.SortFunc(commands, func(a, b *cli.Command) int {
		return strings.Compare(a.Name, b.Name)
	})

	app := &cli.Command{
		Name:  "waypoint",
		Usage: "A tool for managing PostgreSQL schema migrations",
		Description: `waypoint is a CLI tool that manages PostgreSQL schema migrations: plain
SQL files are versioned, checksummed, and applied in order, with every run
recorded in a history table inside the managed schema.`,
		Version: p.Version.Version,
		Flags:   globalFlags(),
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			// Values already present in the environment win over .env entries.
			if _, err := os.Stat(".env"); err == nil {
				if err := godotenv.Load(); err != nil {
					return ctx, errors.Wrap(err, "loading .env")
				}
			}

			return ctx, nil
		},
		Commands: commands,
	}

	p.Lifecycle.Append(fx.StartHook(func() {
		// The command runs outside the start hook so fx's start timeout
		// does not bound long migrations.
		go func() {
			err := app.Run(p.Ctx, p.Args)
			if err != nil {
				printError(os.Stderr, err)
			}

			_ = p.Shutdowner.Shutdown(fx.ExitCode(engine.ExitCode(err)))
		}()
	}))
}

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Aliases:     []string{"c"},
			Usage:       "the waypoint config file",
			Sources:     cli.EnvVars("WAYPOINT_CONFIG"),
			DefaultText: consts.DefaultConfigFile,
			Config: cli.StringConfig{
				TrimSpace: true,
			},
		},
		&cli.StringFlag{
			Name:  "url",
			Usage: "database connection URL (postgres:// or jdbc:postgresql://)",
			Config: cli.StringConfig{
				TrimSpace: true,
			},
		},
		&cli.StringFlag{
			Name:  "schema",
			Usage: "schema the migrations manage",
			Config: cli.StringConfig{
				TrimSpace: true,
			},
		},
		&cli.StringFlag{
			Name:  "table",
			Usage: "name of the schema history table",
			Config: cli.StringConfig{
				TrimSpace: true,
			},
		},
		&cli.StringFlag{
			Name:  "locations",
			Usage: "comma-separated migration directories",
			Config: cli.StringConfig{
				TrimSpace: true,
			},
		},
		&cli.StringFlag{
			Name:  "environment",
			Usage: "environment name matched against env directives",
			Config: cli.StringConfig{
				TrimSpace: true,
			},
		},
		&cli.BoolFlag{
			Name:  "json",
			Usage: "emit the report as a single JSON document on stdout",
		},
		&cli.BoolFlag{
			Name:  "quiet",
			Usage: "suppress log output below errors",
		},
		&cli.BoolFlag{
			Name:  "verbose",
			Usage: "enable debug logging",
		},
		&cli.BoolFlag{
			Name:  "dry-run",
			Usage: "plan and analyze pending migrations without applying them",
		},
		&cli.BoolFlag{
			Name:  "out-of-order",
			Usage: "apply pending versions that sort below already-applied ones",
		},
		&cli.BoolFlag{
			Name:  "no-out-of-order",
			Usage: "fail when a pending version sorts below an applied one",
		},
		&cli.BoolFlag{
			Name:  "validate-on-migrate",
			Usage: "validate applied history before migrating",
		},
		&cli.BoolFlag{
			Name:  "no-validate-on-migrate",
			Usage: "skip history validation before migrating",
		},
		&cli.BoolFlag{
			Name:  "safety-override",
			Usage: "apply migrations despite a DANGER safety verdict",
		},
		&cli.BoolFlag{
			Name:  "batch",
			Usage: "run all pending migrations in a single transaction",
		},
		&cli.StringFlag{
			Name:  "target",
			Usage: "highest version migrate will apply",
			Config: cli.StringConfig{
				TrimSpace: true,
			},
		},
		&cli.IntFlag{
			Name:        "connect-retries",
			Usage:       "connection attempts after the first failure",
			DefaultText: "3",
		},
		&cli.StringFlag{
			Name:  "ssl-mode",
			Usage: "disable, prefer, or require",
			Config: cli.StringConfig{
				TrimSpace: true,
			},
		},
		&cli.IntFlag{
			Name:  "connect-timeout",
			Usage: "per-attempt connection timeout in seconds",
		},
		&cli.IntFlag{
			Name:  "statement-timeout",
			Usage: "statement_timeout applied to the session, in seconds",
		},
		&cli.IntFlag{
			Name:  "lock-timeout",
			Usage: "seconds to wait for the advisory lock (0 waits forever)",
		},
	}
}

// resolveConfig is the Before hook shared by every command that talks to the
// database. It configures logging from the output flags, resolves the layered
// configuration, and fills the shared State.
func resolveConfig(st *State) func(context.Context, *cli.Command) (context.Context, error) {
	return func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
		level := slog.LevelInfo
		switch {
		case cmd.Bool("verbose"):
			level = slog.LevelDebug
		case cmd.Bool("quiet"), cmd.Bool("json"):
			level = slog.LevelError
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

		// An empty path means waypoint.toml is optional; WAYPOINT_CONFIG may
		// arrive via .env, which loads after the flag's own env source is
		// read.
		path := cmd.String("config")
		if path == "" {
			path = os.Getenv("WAYPOINT_CONFIG")
		}

		cfg, err := st.Load(path, overridesFrom(cmd))
		if err != nil {
			return ctx, &engine.Error{Kind: engine.KindConfiguration, Err: err}
		}

		st.Config = cfg
		st.JSON = cmd.Bool("json")
		st.Renderer = format.New(os.Stdout, format.Defaults)

		return ctx, nil
	}
}

// printError writes the error and, when the failure has a well-known remedy,
// a hint naming it. Reports go to stdout; errors and hints stay on stderr so
// --json output remains parseable.
func printError(w io.Writer, err error) {
	fmt.Fprintln(w, color.New(color.FgHiRed, color.Bold).Sprint("ERROR:"), err)

	if hint := hintFor(err); hint != "" {
		fmt.Fprintln(w, color.New(color.Faint).Sprint("Hint: "+hint))
	}
}

func hintFor(err error) string {
	switch engine.KindOf(err) {
	case engine.KindConfiguration:
		return "Check your waypoint.toml or set the WAYPOINT_URL environment variable."
	case engine.KindDB:
		return "Verify the database is running and the connection details are correct."
	case engine.KindCleanDisabled:
		return "Set clean_enabled = true in waypoint.toml and pass --allow-clean."
	case engine.KindValidation:
		msg := err.Error()
		if strings.Contains(msg, "checksum") {
			return "Run 'waypoint repair' to update checksums, or restore the original migration file."
		}
		if strings.Contains(msg, "out_of_order") {
			return "Use --out-of-order to allow applying versions below the latest applied one."
		}
	}

	return ""
}
