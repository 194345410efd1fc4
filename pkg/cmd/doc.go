// Package cmd provides the CLI commands for the waypoint tool.
//
// This package implements the command-line interface for waypoint,
// providing commands for applying, inspecting, and repairing PostgreSQL
// schema migrations. Commands are thin wrappers around pkg/engine:
// they resolve configuration, open a database session, run one engine
// operation, and render its report.
//
// # Available Commands
//
// The cmd package currently provides:
//   - migrate: Apply pending migrations (with --dry-run planning)
//   - info: Show the state of every migration, applied and pending
//   - validate: Check applied history against the migration files
//   - repair: Remove failed rows and realign stored checksums
//   - baseline: Initialize history for an existing database
//   - undo: Roll back applied versions, newest first
//   - clean: Drop every object in the managed schema
//   - snapshot: Write a YAML snapshot of the live schema
//   - drift: Compare the live schema against a saved snapshot
//   - simulate: Rehearse pending migrations in a scratch schema
//   - init: Scaffold a new waypoint project directory
//
// # Command Structure
//
// Each command is implemented as a constructor function that returns a
// *cli.Command, following the urfave/cli/v3 pattern. Constructors are
// registered with the fx container under the "commands" group and
// assembled into the root command by Run.
//
// # Global Options
//
// Connection and behavior flags are declared on the root command and
// layered over waypoint.toml and WAYPOINT_* environment variables:
//
//	waypoint --url postgres://localhost/app migrate
//	waypoint --config deploy/waypoint.toml --json info
//	waypoint --schema billing --locations sql/billing validate
//
// A .env file in the working directory is loaded before configuration
// is resolved, so connection URLs can live next to the project without
// being committed.
package cmd
