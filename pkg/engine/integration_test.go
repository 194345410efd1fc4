package engine_test

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/require"
	"github.com/waypointdb/waypoint/pkg/config"
	"github.com/waypointdb/waypoint/pkg/db"
	"github.com/waypointdb/waypoint/pkg/docker"
	"github.com/waypointdb/waypoint/pkg/engine"
	"github.com/waypointdb/waypoint/pkg/migration"
)

// Shared container state. Tests get isolated databases inside one server;
// the container itself is reaped by testcontainers when the process exits.
var (
	pgOnce sync.Once
	pgDSN  string
	pgErr  error
)

// skipIfNoDocker skips the test if Docker is not available
func skipIfNoDocker(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration tests in short mode")
	}

	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("Docker not available")
	}

	cmd := exec.Command("docker", "ps")
	if err := cmd.Run(); err != nil {
		t.Skip("Docker daemon not running")
	}
}

// adminDSN starts the shared PostgreSQL container on first use.
func adminDSN(t *testing.T) string {
	t.Helper()
	skipIfNoDocker(t)

	pgOnce.Do(func() {
		container := docker.New()
		if err := container.Start(context.Background()); err != nil {
			pgErr = err
			return
		}
		pgDSN, pgErr = container.GetDSN()
	})
	require.NoError(t, pgErr, "failed to start PostgreSQL container")

	return pgDSN
}

// freshDB creates an empty database on the shared server and returns its DSN.
func freshDB(t *testing.T) string {
	t.Helper()

	admin := adminDSN(t)
	ctx := context.Background()

	session, err := db.Connect(ctx, db.Options{URL: admin})
	require.NoError(t, err)
	defer func() { _ = session.Close(ctx) }()

	name := uniqueDBName()
	_, err = session.Exec(ctx, "CREATE DATABASE "+name)
	require.NoError(t, err)

	return replaceDBName(admin, name)
}

func uniqueDBName() string {
	b := make([]byte, 6)
	_, _ = rand.Read(b)
	return "wp_" + hex.EncodeToString(b)
}

// replaceDBName swaps the database segment of a postgres:// URL.
func replaceDBName(dsn, name string) string {
	slash := strings.LastIndex(dsn, "/")
	rest := dsn[slash+1:]
	if q := strings.Index(rest, "?"); q >= 0 {
		return dsn[:slash+1] + name + rest[q:]
	}

	return dsn[:slash+1] + name
}

func connect(t *testing.T, dsn string) *db.Session {
	t.Helper()

	session, err := db.Connect(context.Background(), db.Options{URL: dsn})
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close(context.Background()) })

	return session
}

// newLiveEngine builds an engine over a real session with migrations served
// from an in-memory tree, mirroring newTestEngine from the unit tests.
func newLiveEngine(session *db.Session, dsn string, files map[string]string, mutate func(cfg *config.Config)) *engine.Engine {
	cfg := config.Default()
	if mutate != nil {
		mutate(cfg)
	}

	fsys := fstest.MapFS{}
	for name, content := range files {
		fsys[name] = &fstest.MapFile{Data: []byte(content)}
	}

	return engine.New(engine.Config{
		DB:        session,
		Config:    cfg,
		Locations: []migration.Location{{Name: "db/migrations", FS: fsys}},
		Dial: func(ctx context.Context) (engine.SessionConn, error) {
			s, err := db.Connect(ctx, db.Options{URL: dsn})
			if err != nil {
				return nil, err
			}
			return s, nil
		},
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func tableExists(t *testing.T, session *db.Session, name string) bool {
	t.Helper()

	var exists bool
	err := session.QueryRow(context.Background(),
		"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = 'public' AND table_name = $1)",
		name).Scan(&exists)
	require.NoError(t, err)

	return exists
}

type historyEntry struct {
	Rank    int
	Version string
	Success bool
}

// sqlHistory reads the migration rows back in rank order, leaving out hook,
// baseline, and undo bookkeeping.
func sqlHistory(t *testing.T, session *db.Session) []historyEntry {
	t.Helper()

	rows, err := session.Query(context.Background(),
		"SELECT installed_rank, COALESCE(version, ''), success FROM public.waypoint_schema_history WHERE type = 'SQL' ORDER BY installed_rank")
	require.NoError(t, err)
	defer rows.Close()

	var out []historyEntry
	for rows.Next() {
		var e historyEntry
		require.NoError(t, rows.Scan(&e.Rank, &e.Version, &e.Success))
		out = append(out, e)
	}
	require.NoError(t, rows.Err())

	return out
}

func TestIntegrationInitialMigrate(t *testing.T) {
	dsn := freshDB(t)
	session := connect(t, dsn)
	ctx := context.Background()

	eng := newLiveEngine(session, dsn, map[string]string{
		"V1__create_users.sql":  "CREATE TABLE users (id serial PRIMARY KEY);",
		"V1.1__add_email.sql":   "ALTER TABLE users ADD COLUMN email text;",
		"V2__create_orders.sql": "CREATE TABLE orders (id serial PRIMARY KEY, user_id int REFERENCES users (id));",
	}, nil)

	report, err := eng.Migrate(ctx, engine.MigrateOptions{})
	require.NoError(t, err)
	require.Equal(t, 3, report.Applied)

	entries := sqlHistory(t, session)
	require.Len(t, entries, 3)
	for i, e := range entries {
		require.Equal(t, i+1, e.Rank, "ranks are contiguous from 1")
		require.True(t, e.Success)
	}
	require.Equal(t, "1", entries[0].Version)
	require.Equal(t, "1.1", entries[1].Version)
	require.Equal(t, "2", entries[2].Version)

	require.True(t, tableExists(t, session, "users"))
	require.True(t, tableExists(t, session, "orders"))

	vr, err := eng.Validate(ctx, engine.ValidateOptions{})
	require.NoError(t, err)
	require.True(t, vr.Valid)

	// Second run finds nothing pending.
	report, err = eng.Migrate(ctx, engine.MigrateOptions{})
	require.NoError(t, err)
	require.Zero(t, report.Applied)

	info, err := eng.Info(ctx)
	require.NoError(t, err)
	require.Len(t, info.Rows, 3)
	for _, row := range info.Rows {
		require.Equal(t, engine.StateApplied, row.State)
	}
}

func TestIntegrationRepeatableReapply(t *testing.T) {
	dsn := freshDB(t)
	session := connect(t, dsn)
	ctx := context.Background()

	eng := newLiveEngine(session, dsn, map[string]string{
		"R__user_names.sql": "CREATE OR REPLACE VIEW user_names AS SELECT 'ada'::text AS name;",
	}, nil)

	report, err := eng.Migrate(ctx, engine.MigrateOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, report.Applied)

	// Unchanged body: checksum matches, nothing to do.
	report, err = eng.Migrate(ctx, engine.MigrateOptions{})
	require.NoError(t, err)
	require.Zero(t, report.Applied)

	// Changed body: re-applied, and a new history row is appended while the
	// old one is retained.
	eng = newLiveEngine(session, dsn, map[string]string{
		"R__user_names.sql": "CREATE OR REPLACE VIEW user_names AS SELECT 'grace'::text AS name;",
	}, nil)

	report, err = eng.Migrate(ctx, engine.MigrateOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, report.Applied)

	entries := sqlHistory(t, session)
	require.Len(t, entries, 2)
	require.Equal(t, 2, entries[1].Rank)

	vr, err := eng.Validate(ctx, engine.ValidateOptions{})
	require.NoError(t, err)
	require.True(t, vr.Valid)
}

func TestIntegrationChecksumDriftRepair(t *testing.T) {
	dsn := freshDB(t)
	session := connect(t, dsn)
	ctx := context.Background()

	eng := newLiveEngine(session, dsn, map[string]string{
		"V1__create_users.sql": "CREATE TABLE users (id serial PRIMARY KEY);",
	}, nil)

	_, err := eng.Migrate(ctx, engine.MigrateOptions{})
	require.NoError(t, err)

	// The file changes after application.
	drifted := newLiveEngine(session, dsn, map[string]string{
		"V1__create_users.sql": "CREATE TABLE users (id bigserial PRIMARY KEY);",
	}, nil)

	vr, err := drifted.Validate(ctx, engine.ValidateOptions{})
	require.NoError(t, err)
	require.False(t, vr.Valid)
	require.Len(t, vr.Issues, 1)
	require.Contains(t, vr.Issues[0], "checksum mismatch")

	// validate_on_migrate refuses to run until repaired.
	_, err = drifted.Migrate(ctx, engine.MigrateOptions{})
	require.Error(t, err)
	require.Equal(t, 3, engine.ExitCode(err))

	rr, err := drifted.Repair(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, rr.ChecksumsUpdated)

	vr, err = drifted.Validate(ctx, engine.ValidateOptions{})
	require.NoError(t, err)
	require.True(t, vr.Valid)
}

func TestIntegrationGuardSkipInBatch(t *testing.T) {
	dsn := freshDB(t)
	session := connect(t, dsn)
	ctx := context.Background()

	eng := newLiveEngine(session, dsn, map[string]string{
		"V1__create_a.sql": "CREATE TABLE a (id int);",
		"V2__create_b.sql": "-- waypoint:require table_exists(\"absent\")\nCREATE TABLE b (id int);",
		"V3__create_c.sql": "CREATE TABLE c (id int);",
	}, func(cfg *config.Config) {
		cfg.Migrations.Batch = true
		cfg.Migrations.OnRequireFail = config.RequireFailSkip
	})

	report, err := eng.Migrate(ctx, engine.MigrateOptions{})
	require.NoError(t, err)
	require.Equal(t, 2, report.Applied)
	require.Equal(t, 1, report.Skipped)

	require.True(t, tableExists(t, session, "a"))
	require.False(t, tableExists(t, session, "b"), "the guarded migration must leave no effects")
	require.True(t, tableExists(t, session, "c"))

	entries := sqlHistory(t, session)
	require.Len(t, entries, 3, "the skip is recorded alongside the applied rows")
	require.Equal(t, "2", entries[1].Version)
	require.True(t, entries[1].Success)
}

func TestIntegrationLockContention(t *testing.T) {
	dsn := freshDB(t)
	ctx := context.Background()

	files := map[string]string{
		"V1__create_a.sql": "CREATE TABLE a (id int);",
		"V2__create_b.sql": "CREATE TABLE b (id int);",
		"V3__create_c.sql": "CREATE TABLE c (id int);",
	}

	first := connect(t, dsn)
	second := connect(t, dsn)

	engines := []*engine.Engine{
		newLiveEngine(first, dsn, files, nil),
		newLiveEngine(second, dsn, files, nil),
	}

	var wg sync.WaitGroup
	applied := make([]int, len(engines))
	errs := make([]error, len(engines))
	for i, eng := range engines {
		wg.Add(1)
		go func(i int, eng *engine.Engine) {
			defer wg.Done()
			report, err := eng.Migrate(ctx, engine.MigrateOptions{})
			errs[i] = err
			if report != nil {
				applied[i] = report.Applied
			}
		}(i, eng)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	require.Equal(t, 3, applied[0]+applied[1], "one runner applies everything, the other finds nothing pending")

	entries := sqlHistory(t, first)
	require.Len(t, entries, 3)
	for i, e := range entries {
		require.Equal(t, i+1, e.Rank)
	}
}

func TestIntegrationUndoCapturedReversal(t *testing.T) {
	dsn := freshDB(t)
	session := connect(t, dsn)
	ctx := context.Background()

	eng := newLiveEngine(session, dsn, map[string]string{
		"V1__create_widgets.sql": "CREATE TABLE widgets (id serial PRIMARY KEY, name text NOT NULL);",
	}, nil)

	_, err := eng.Migrate(ctx, engine.MigrateOptions{})
	require.NoError(t, err)
	require.True(t, tableExists(t, session, "widgets"))

	// No U1 file exists, so undo replays the reversal captured during
	// migrate.
	ur, err := eng.Undo(ctx, engine.UndoOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, ur.Undone)
	require.Equal(t, engine.UndoSourceReversal, ur.Details[0].Source)

	require.False(t, tableExists(t, session, "widgets"))

	// The file is still on disk, so the version is pending again.
	info, err := eng.Info(ctx)
	require.NoError(t, err)
	require.Len(t, info.Rows, 1)
	require.Equal(t, engine.StatePending, info.Rows[0].State)
}

func TestIntegrationSnapshotDrift(t *testing.T) {
	dsn := freshDB(t)
	session := connect(t, dsn)
	ctx := context.Background()

	eng := newLiveEngine(session, dsn, map[string]string{
		"V1__create_users.sql": "CREATE TABLE users (id serial PRIMARY KEY);",
	}, nil)

	_, err := eng.Migrate(ctx, engine.MigrateOptions{})
	require.NoError(t, err)

	snap, err := eng.Snapshot(ctx)
	require.NoError(t, err)

	dr, err := eng.Drift(ctx, snap)
	require.NoError(t, err)
	require.True(t, dr.InSync)

	// An out-of-band change shows up as drift, with DDL converging the live
	// schema back to the snapshot.
	_, err = session.Exec(ctx, "CREATE TABLE stray (id int)")
	require.NoError(t, err)

	dr, err = eng.Drift(ctx, snap)
	require.NoError(t, err)
	require.False(t, dr.InSync)
	require.Contains(t, dr.DDL, "stray")
	require.Error(t, dr.Err())
	require.Equal(t, 3, engine.ExitCode(dr.Err()))

	_, err = session.Exec(ctx, "DROP TABLE stray")
	require.NoError(t, err)

	dr, err = eng.Drift(ctx, snap)
	require.NoError(t, err)
	require.True(t, dr.InSync)
}

func TestIntegrationSimulateLeavesNoTrace(t *testing.T) {
	dsn := freshDB(t)
	session := connect(t, dsn)
	ctx := context.Background()

	eng := newLiveEngine(session, dsn, map[string]string{
		"V1__create_users.sql": "CREATE TABLE users (id serial PRIMARY KEY);",
	}, nil)

	sr, err := eng.Simulate(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, sr.Report.Applied)

	// The rehearsal ran in a scratch schema; the real one is untouched.
	require.False(t, tableExists(t, session, "users"))

	var schemas int
	err = session.QueryRow(ctx,
		"SELECT count(*) FROM information_schema.schemata WHERE schema_name LIKE 'waypoint_sim_%'").Scan(&schemas)
	require.NoError(t, err)
	require.Zero(t, schemas, "the scratch schema is dropped afterwards")
}

func TestIntegrationCleanDropsManagedSchema(t *testing.T) {
	dsn := freshDB(t)
	session := connect(t, dsn)
	ctx := context.Background()

	eng := newLiveEngine(session, dsn, map[string]string{
		"V1__create_users.sql": "CREATE TABLE users (id serial PRIMARY KEY);",
		"R__user_names.sql":    "CREATE OR REPLACE VIEW user_names AS SELECT 1 AS id;",
	}, func(cfg *config.Config) {
		cfg.Migrations.CleanEnabled = true
	})

	_, err := eng.Migrate(ctx, engine.MigrateOptions{})
	require.NoError(t, err)

	cr, err := eng.Clean(ctx, true)
	require.NoError(t, err)
	require.NotEmpty(t, cr.Dropped)

	require.False(t, tableExists(t, session, "users"))
	require.False(t, tableExists(t, session, "waypoint_schema_history"))

	// Everything is pending again on a cleaned database.
	info, err := eng.Info(ctx)
	require.NoError(t, err)
	for _, row := range info.Rows {
		require.Equal(t, engine.StatePending, row.State)
	}
}
