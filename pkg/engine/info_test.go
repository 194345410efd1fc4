package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/waypointdb/waypoint/pkg/checksum"
	"github.com/waypointdb/waypoint/pkg/config"
	"github.com/waypointdb/waypoint/pkg/history"
)

func versionsOf(rows []InfoRow) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.Version
	}

	return out
}

func statesOf(rows []InfoRow) []State {
	out := make([]State, len(rows))
	for i, r := range rows {
		out[i] = r.State
	}

	return out
}

func TestInfoEmptyDatabase(t *testing.T) {
	t.Parallel()

	conn := newFakeConn()
	eng := newTestEngine(conn, map[string]string{
		"V2__add_email.sql":    "ALTER TABLE users ADD COLUMN email text;",
		"V1__create_users.sql": "CREATE TABLE users (id int);",
		"R__user_counts.sql":   "CREATE OR REPLACE VIEW user_counts AS SELECT count(*) FROM users;",
	}, nil)

	report, err := eng.Info(context.Background())
	require.NoError(t, err)
	require.Equal(t, "public", report.Schema)
	require.Equal(t, "waypoint_schema_history", report.Table)

	require.Equal(t, []string{"1", "2", ""}, versionsOf(report.Rows))
	require.Equal(t, []State{StatePending, StatePending, StatePending}, statesOf(report.Rows))

	first := report.Rows[0]
	require.Equal(t, "create users", first.Description)
	require.Equal(t, "SQL", first.Type)
	require.NotNil(t, first.Checksum)
	require.Nil(t, first.InstalledOn, "a file the history has not seen carries no timestamps")
}

func TestInfoStates(t *testing.T) {
	t.Parallel()

	emailSQL := "ALTER TABLE users ADD COLUMN email text;"
	ordersSQL := "CREATE TABLE orders (id int);"
	viewSQL := "CREATE OR REPLACE VIEW user_counts AS SELECT count(*) FROM users;"

	failed := appliedRow(3, "3", "broken", "V3__broken.sql", 333)
	failed.Success = false

	hook := repeatableRow(9, "beforeMigrate", "beforeMigrate.sql", 0)
	hook.Type = history.TypeHook
	hook.Checksum = nil

	conn := newFakeConn()
	conn.histExists = true
	conn.hist = []history.Row{
		baselineRow(1, "1"),
		appliedRow(2, "2", "add email", "V2__add_email.sql", checksum.Sum(emailSQL)),
		failed,
		appliedRow(4, "4", "gone", "V4__gone.sql", 444),
		repeatableRow(5, "user counts", "R__user_counts.sql", 111),
		repeatableRow(6, "user counts", "R__user_counts.sql", 222),
		appliedRow(7, "5", "orders", "V5__orders.sql", checksum.Sum(ordersSQL)),
		undoRow(8, "5", "U5__orders.sql"),
		hook,
	}
	eng := newTestEngine(conn, map[string]string{
		"V2__add_email.sql":  emailSQL,
		"V3__broken.sql":     "CREATE TABLE broken (id int);",
		"V5__orders.sql":     ordersSQL,
		"R__user_counts.sql": viewSQL,
	}, nil)

	report, err := eng.Info(context.Background())
	require.NoError(t, err)

	require.Equal(t, []string{"1", "2", "3", "4", "5", "5", "5", "", ""}, versionsOf(report.Rows))
	require.Equal(t, []State{
		StateBaseline,
		StateApplied,
		StateFailed,
		StateMissing,
		StateUndone,
		StateUndone,
		StatePending,
		StateSuperseded,
		StateOutdated,
	}, statesOf(report.Rows))

	for _, row := range report.Rows {
		require.NotEqual(t, "HOOK", row.Type, "hook rows stay out of the listing")
	}

	undonePending := report.Rows[6]
	require.Equal(t, "V5__orders.sql", undonePending.Script, "an undone version is pending again from its file")
	require.Nil(t, undonePending.InstalledOn)
}

func TestInfoPendingStates(t *testing.T) {
	t.Parallel()

	ordersSQL := "CREATE TABLE orders (id int);"
	files := map[string]string{
		"V1__old.sql":    "CREATE TABLE old (id int);",
		"V4__mid.sql":    "CREATE TABLE mid (id int);",
		"V5__orders.sql": ordersSQL,
		"V9__new.sql":    "CREATE TABLE new (id int);",
	}
	rows := []history.Row{
		baselineRow(1, "3"),
		appliedRow(2, "5", "orders", "V5__orders.sql", checksum.Sum(ordersSQL)),
	}

	conn := newFakeConn()
	conn.histExists = true
	conn.hist = rows
	eng := newTestEngine(conn, files, nil)

	report, err := eng.Info(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"1", "3", "4", "5", "9"}, versionsOf(report.Rows))
	require.Equal(t, []State{
		StateBelowBaseline,
		StateBaseline,
		StateIgnored,
		StateApplied,
		StatePending,
	}, statesOf(report.Rows))

	conn = newFakeConn()
	conn.histExists = true
	conn.hist = rows
	eng = newTestEngine(conn, files, func(cfg *config.Config) {
		cfg.Migrations.OutOfOrder = true
	})

	report, err = eng.Info(context.Background())
	require.NoError(t, err)
	require.Equal(t, StateOutOfOrder, report.Rows[2].State, "out_of_order turns Ignored into Out of Order")
}

func TestInfoVersionOrderFallback(t *testing.T) {
	t.Parallel()

	conn := newFakeConn()
	conn.histExists = true
	conn.hist = []history.Row{
		appliedRow(1, "10", "ten", "V10__ten.sql", 10),
		appliedRow(2, "9", "nine", "V9__nine.sql", 9),
		appliedRow(3, "beta", "beta", "beta.sql", 2),
		appliedRow(4, "alpha", "alpha", "alpha.sql", 1),
	}
	eng := newTestEngine(conn, nil, nil)

	report, err := eng.Info(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"9", "10", "alpha", "beta"}, versionsOf(report.Rows),
		"numeric order where versions parse, string order for foreign rows")
}
