package engine

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"

	"github.com/waypointdb/waypoint/pkg/config"
	"github.com/waypointdb/waypoint/pkg/consts"
	"github.com/waypointdb/waypoint/pkg/db"
	"github.com/waypointdb/waypoint/pkg/history"
	"github.com/waypointdb/waypoint/pkg/migration"
	"github.com/waypointdb/waypoint/pkg/placeholder"
)

type (
	// Conn is the database session surface the engine drives. *db.Session
	// implements it; tests substitute fakes.
	Conn interface {
		Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
		Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
		QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
		Begin(ctx context.Context) (pgx.Tx, error)
		AcquireLock(ctx context.Context, key int64, timeout time.Duration) error
		ReleaseLock(ctx context.Context, key int64) error
		CurrentUser(ctx context.Context) (string, error)
		CurrentDatabase(ctx context.Context) (string, error)
	}

	// SessionConn is a Conn the engine opened itself and must close when done.
	SessionConn interface {
		Conn
		Close(ctx context.Context) error
	}

	// DialFunc opens an additional database session. Simulate uses it so the
	// scratch-schema rehearsal never disturbs the primary session's state.
	DialFunc func(ctx context.Context) (SessionConn, error)

	// Engine runs the waypoint operations against a single database session.
	// It is not safe for concurrent use; the advisory lock it takes guards
	// against other processes, not other goroutines.
	//
	// Example usage:
	//
	//	session, err := db.Connect(ctx, opts)
	//	if err != nil {
	//		return err
	//	}
	//	eng := engine.New(engine.Config{
	//		DB:     session,
	//		Config: cfg,
	//	})
	//	report, err := eng.Migrate(ctx, engine.MigrateOptions{})
	Engine struct {
		db        Conn
		cfg       *config.Config
		locations []migration.Location
		dial      DialFunc
		log       *slog.Logger
	}

	// Config configures engine creation.
	Config struct {
		// DB is the primary database session
		DB Conn

		// Config is the fully resolved waypoint configuration
		Config *config.Config

		// Locations overrides the migration filesystems derived from the
		// configuration; tests inject fstest.MapFS trees through it
		Locations []migration.Location

		// Dial opens the second session Simulate runs on
		Dial DialFunc

		// Logger defaults to slog.Default
		Logger *slog.Logger
	}

	// identity is the run principal resolved once per operation: who we are
	// connected as and what gets written into history's installed_by.
	identity struct {
		user        string
		database    string
		installedBy string
	}

	// runner is the query surface shared by Conn and pgx.Tx. Code that must
	// work both inside and outside a transaction takes a runner.
	runner interface {
		Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
		Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
		QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	}
)

// New creates an Engine with the given configuration.
func New(config Config) *Engine {
	log := config.Logger
	if log == nil {
		log = slog.Default()
	}

	return &Engine{
		db:        config.DB,
		cfg:       config.Config,
		locations: config.Locations,
		dial:      config.Dial,
		log:       log,
	}
}

// migrationLocations returns the filesystems to scan, preferring injected
// locations over the configured directories.
func (e *Engine) migrationLocations() []migration.Location {
	if len(e.locations) > 0 {
		return e.locations
	}

	locations := make([]migration.Location, 0, len(e.cfg.Migrations.Locations))
	for _, dir := range e.cfg.Migrations.Locations {
		locations = append(locations, migration.Location{Name: dir, FS: os.DirFS(dir)})
	}

	return locations
}

// scan reads every migration location and the configured hook files.
// Unrecognized files are logged and skipped; a scan that skips files and
// still comes up empty is treated as a misconfiguration rather than a
// database with nothing to do.
func (e *Engine) scan() (*migration.Dir, error) {
	dir, err := migration.ScanLocations(e.migrationLocations()...)
	if err != nil {
		return nil, fail(KindScan, err)
	}

	for _, w := range dir.Warnings {
		e.log.Warn("skipping migration file", "path", w.Path, "reason", w.Reason)
	}
	if len(dir.Warnings) > 0 && dir.Empty() {
		return nil, failf(KindScan, "no usable migrations found: %d file(s) were skipped", len(dir.Warnings))
	}

	if err := e.loadConfigHooks(dir); err != nil {
		return nil, err
	}

	return dir, nil
}

// withLock runs fn while holding the schema's advisory lock. The lock key is
// derived from the schema and history table names, so two engines pointed at
// different schemas of one database do not contend.
func (e *Engine) withLock(ctx context.Context, fn func(ctx context.Context) error) error {
	key := db.LockKey(e.cfg.Migrations.Schema, e.cfg.Migrations.Table)

	if err := e.db.AcquireLock(ctx, key, e.cfg.LockTimeout()); err != nil {
		if errors.Is(err, db.ErrLockTimeout) {
			return fail(KindLock, err)
		}

		return fail(KindDB, err)
	}
	e.log.Debug("acquired advisory lock", "key", key)

	defer func() {
		if err := e.db.ReleaseLock(ctx, key); err != nil {
			e.log.Warn("failed to release advisory lock", "key", key, "error", err)
		}
	}()

	return fn(ctx)
}

// identify resolves the session user, database, and the installed_by value
// recorded in history rows: the configured name when set, otherwise the
// session user, otherwise a fixed fallback.
func (e *Engine) identify(ctx context.Context) (identity, error) {
	user, err := e.db.CurrentUser(ctx)
	if err != nil {
		return identity{}, fail(KindDB, errors.Wrap(err, "resolving session user"))
	}

	database, err := e.db.CurrentDatabase(ctx)
	if err != nil {
		return identity{}, fail(KindDB, errors.Wrap(err, "resolving database name"))
	}

	installedBy := e.cfg.Migrations.InstalledBy
	if installedBy == "" {
		installedBy = user
	}
	if installedBy == "" {
		installedBy = consts.DefaultInstalledBy
	}

	return identity{user: user, database: database, installedBy: installedBy}, nil
}

// history returns the history table bound to the primary session.
func (e *Engine) history() *history.Table {
	return history.New(e.db, e.cfg.Migrations.Schema, e.cfg.Migrations.Table)
}

// placeholders builds the expander for one script: the engine's built-in
// values for the current run plus the configured placeholders, with the
// configured ones winning on bare keys. The reserved waypoint: keys cannot be
// overridden because config validation rejects them.
func (e *Engine) placeholders(ident identity, filename string) *placeholder.Expander {
	values := placeholder.Builtins(e.cfg.Migrations.Schema, ident.user, ident.database, filename, time.Now())
	for k, v := range e.cfg.Placeholders {
		values[k] = v
	}

	return placeholder.New(values)
}

// expand substitutes placeholders into a script's SQL. Unresolved references
// follow the configured policy: left literal with a warning, or a
// configuration error naming what is missing and what was available.
func (e *Engine) expand(exp *placeholder.Expander, script, raw string) (string, error) {
	out, missing := exp.Expand(raw)
	if len(missing) == 0 {
		return out, nil
	}

	if e.cfg.Migrations.OnMissingPlaceholder == config.MissingPlaceholderWarn {
		e.log.Warn("unresolved placeholders left literal", "script", script, "placeholders", missing)
		return out, nil
	}

	return "", failf(KindConfiguration, "%s references undefined placeholder(s) %s (available: %s)",
		script, strings.Join(missing, ", "), strings.Join(exp.Available(), ", "))
}
