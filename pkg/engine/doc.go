// Package engine implements the waypoint operations against a PostgreSQL
// database: migrate, info, validate, repair, baseline, undo, clean, snapshot,
// drift, and simulate.
//
// The engine composes the leaf packages into the full migration lifecycle.
// Migration files come from pkg/migration, the schema history table from
// pkg/history, statement splitting from pkg/sqlsplit, guard evaluation from
// pkg/guard, lock-impact analysis from pkg/safety, and reversal capture from
// pkg/schema and pkg/schemadiff. Every operation is a method on Engine and
// returns a report struct the CLI renders as text or JSON.
//
// # Execution Model
//
// Operations that write (migrate, repair, baseline, undo, clean) take a
// PostgreSQL advisory lock derived from the schema and history table names
// before reading any state, so concurrent runs against the same schema
// serialize instead of interleaving. Read-only operations (info, validate,
// snapshot, drift) do not lock. Simulate runs on a second connection against
// a throwaway schema and does not lock either.
//
// Within a migrate run each migration's statements, its ensure guards, and
// its history row share one transaction; in batch mode the entire run shares
// one. Statements that PostgreSQL cannot run inside a transaction, VACUUM and
// CREATE INDEX CONCURRENTLY, must be the sole statement of their migration
// and run directly on the session.
//
// # Error Classification
//
// Every error carries a Kind assigned where the failure happened. The kind
// survives wrapping, maps to a stable process exit code via ExitCode, and
// tells the CLI which hint to print. Statement failures additionally carry a
// MigrationError with the script, 1-based statement offset, and line number.
//
// # Usage Example
//
//	opts, err := cfg.DBOptions()
//	if err != nil {
//		return err
//	}
//	session, err := db.Connect(ctx, opts)
//	if err != nil {
//		return err
//	}
//	defer session.Close(ctx)
//
//	eng := engine.New(engine.Config{
//		DB:     session,
//		Config: cfg,
//	})
//
//	report, err := eng.Migrate(ctx, engine.MigrateOptions{})
//	if err != nil {
//		log.Error("migrate failed", "error", err)
//		os.Exit(engine.ExitCode(err))
//	}
//	for _, d := range report.Details {
//		fmt.Printf("%s %s (%dms)\n", d.Status, d.Script, d.TimeMs)
//	}
package engine
