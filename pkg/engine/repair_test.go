package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/waypointdb/waypoint/pkg/checksum"
	"github.com/waypointdb/waypoint/pkg/history"
)

func TestRepairRemovesFailedRows(t *testing.T) {
	t.Parallel()

	conn := newFakeConn()
	conn.failedRows = 2
	eng := newTestEngine(conn, nil, nil)

	report, err := eng.Repair(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(2), report.FailedRemoved)
	require.Zero(t, report.ChecksumsUpdated)
	require.Equal(t, []string{"removed 2 failed migration record(s)"}, report.Details)

	require.Len(t, conn.locks, 1)
	require.Len(t, conn.unlocks, 1)
	require.Equal(t, 1, conn.begins, "all repair mutations share one transaction")
	require.Equal(t, 1, conn.commits)
	require.Zero(t, conn.rollbacks)

	deletes := execsContaining(conn, "DELETE FROM")
	require.Len(t, deletes, 1)
	require.True(t, deletes[0].tx, "the failed-row sweep rides the repair transaction")
}

func TestRepairRealignsChecksums(t *testing.T) {
	t.Parallel()

	table := "CREATE TABLE users (id int, email text);"
	view := "CREATE OR REPLACE VIEW user_counts AS SELECT count(*), email FROM users GROUP BY email;"

	conn := newFakeConn()
	conn.hist = []history.Row{
		baselineRow(1, "0"),
		appliedRow(2, "1", "create users", "V1__create_users.sql", checksum.Sum(table)+5),
		repeatableRow(3, "user counts", "R__user_counts.sql", checksum.Sum(view)+5),
	}
	eng := newTestEngine(conn, map[string]string{
		"V1__create_users.sql": table,
		"R__user_counts.sql":   view,
	}, nil)

	report, err := eng.Repair(context.Background())
	require.NoError(t, err)
	require.Zero(t, report.FailedRemoved)
	require.Equal(t, 2, report.ChecksumsUpdated)
	require.Len(t, report.Details, 2)
	require.Contains(t, report.Details[0], "updated checksum for version 1")
	require.Contains(t, report.Details[1], `updated checksum for repeatable "user counts"`)

	updates := execsContaining(conn, "SET checksum")
	require.Len(t, updates, 2)
	require.True(t, updates[0].tx)
	require.True(t, updates[1].tx)
	require.Equal(t, checksum.Sum(table), updates[0].args[0])
	require.Equal(t, "1", updates[0].args[1])
	require.Contains(t, updates[1].sql, "version IS NULL")
	require.Equal(t, checksum.Sum(view), updates[1].args[0])
	require.Equal(t, "R__user_counts.sql", updates[1].args[1])
	require.Equal(t, 1, conn.commits)
}

func TestRepairNothingToDo(t *testing.T) {
	t.Parallel()

	table := "CREATE TABLE users (id int);"
	conn := newFakeConn()
	conn.hist = []history.Row{
		appliedRow(1, "1", "create users", "V1__create_users.sql", checksum.Sum(table)),
	}
	eng := newTestEngine(conn, map[string]string{"V1__create_users.sql": table}, nil)

	report, err := eng.Repair(context.Background())
	require.NoError(t, err)
	require.Zero(t, report.FailedRemoved)
	require.Zero(t, report.ChecksumsUpdated)
	require.Empty(t, report.Details)
	require.Empty(t, execsContaining(conn, "SET checksum"))
}
