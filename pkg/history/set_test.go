package history_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/waypointdb/waypoint/pkg/history"
	"github.com/waypointdb/waypoint/pkg/utils"
)

func versionedRow(rank int, version string, typ history.RowType, success bool) history.Row {
	return history.Row{
		InstalledRank: rank,
		Version:       utils.Ptr(version),
		Description:   "migration " + version,
		Type:          typ,
		Script:        "V" + version + "__migration.sql",
		Success:       success,
	}
}

func TestSetAppliedAndUndone(t *testing.T) {
	t.Parallel()

	set := history.NewSet([]history.Row{
		versionedRow(1, "1", history.TypeSQL, true),
		versionedRow(2, "2", history.TypeSQL, true),
		versionedRow(3, "2", history.TypeUndo, true),
		versionedRow(4, "3", history.TypeSQL, false),
	})

	require.True(t, set.IsApplied("1"))
	require.False(t, set.IsApplied("2"), "an undone version is no longer applied")
	require.True(t, set.IsUndone("2"))
	require.False(t, set.IsApplied("3"), "failed rows do not apply a version")
	require.False(t, set.IsUndone("3"))
	require.Equal(t, []string{"1"}, set.AppliedVersions())
}

func TestSetReapplyAfterUndo(t *testing.T) {
	t.Parallel()

	set := history.NewSet([]history.Row{
		versionedRow(1, "2", history.TypeSQL, true),
		versionedRow(2, "2", history.TypeUndo, true),
		versionedRow(3, "2", history.TypeSQL, true),
	})

	require.True(t, set.IsApplied("2"), "re-running the migration applies it again")
	require.False(t, set.IsUndone("2"))
	require.Equal(t, []string{"2"}, set.AppliedVersions())
}

func TestSetFailedUndoKeepsVersionApplied(t *testing.T) {
	t.Parallel()

	set := history.NewSet([]history.Row{
		versionedRow(1, "1", history.TypeSQL, true),
		versionedRow(2, "1", history.TypeUndo, false),
	})

	require.True(t, set.IsApplied("1"), "a failed undo leaves the version in place")
	require.False(t, set.IsUndone("1"))
}

func TestSetAppliedRow(t *testing.T) {
	t.Parallel()

	applied := versionedRow(1, "1", history.TypeSQL, true)
	applied.ReversalSQL = utils.Ptr(`DROP TABLE "public"."users";`)

	set := history.NewSet([]history.Row{
		applied,
		versionedRow(2, "2", history.TypeSQL, true),
		versionedRow(3, "2", history.TypeUndo, true),
	})

	row := set.AppliedRow("1")
	require.NotNil(t, row)
	require.Equal(t, `DROP TABLE "public"."users";`, *row.ReversalSQL)

	require.Nil(t, set.AppliedRow("2"), "undone versions have no applied row")
	require.Nil(t, set.AppliedRow("9"))
}

func TestSetBaselineCountsAsApplied(t *testing.T) {
	t.Parallel()

	set := history.NewSet([]history.Row{
		{
			InstalledRank: 1,
			Version:       utils.Ptr("5"),
			Description:   "<< Waypoint Baseline >>",
			Type:          history.TypeBaseline,
			Script:        history.BaselineScript,
			Success:       true,
		},
	})

	require.True(t, set.IsApplied("5"))
	version := set.BaselineVersion()
	require.NotNil(t, version)
	require.Equal(t, "5", *version)
}

func TestSetBaselineVersionAbsent(t *testing.T) {
	t.Parallel()

	set := history.NewSet([]history.Row{
		versionedRow(1, "1", history.TypeSQL, true),
	})

	require.Nil(t, set.BaselineVersion())
}

func TestSetFailed(t *testing.T) {
	t.Parallel()

	set := history.NewSet([]history.Row{
		versionedRow(1, "1", history.TypeSQL, true),
		versionedRow(2, "2", history.TypeSQL, false),
		versionedRow(3, "3", history.TypeSQL, false),
	})

	failed := set.Failed()
	require.Len(t, failed, 2)
	require.Equal(t, "2", *failed[0].Version)
	require.Equal(t, "3", *failed[1].Version)
	require.True(t, set.HasFailed())
}

func TestSetLastSuccessfulRepeatable(t *testing.T) {
	t.Parallel()

	first := history.Row{
		InstalledRank: 1,
		Description:   "refresh views",
		Type:          history.TypeSQL,
		Script:        "R__refresh_views.sql",
		Checksum:      utils.Ptr(int32(100)),
		Success:       true,
	}
	second := first
	second.InstalledRank = 2
	second.Checksum = utils.Ptr(int32(200))

	failed := first
	failed.InstalledRank = 3
	failed.Checksum = utils.Ptr(int32(300))
	failed.Success = false

	set := history.NewSet([]history.Row{first, second, failed})

	row := set.LastSuccessfulRepeatable("refresh views")
	require.NotNil(t, row)
	require.Equal(t, int32(200), *row.Checksum, "the latest successful run wins, failures are ignored")

	require.Nil(t, set.LastSuccessfulRepeatable("never ran"))
}

func TestSetEmpty(t *testing.T) {
	t.Parallel()

	set := history.NewSet(nil)

	require.Equal(t, 0, set.Len())
	require.Equal(t, 0, set.MaxRank())
	require.False(t, set.IsApplied("1"))
	require.False(t, set.HasFailed())
	require.Empty(t, set.AppliedVersions())
}

func TestSetMaxRank(t *testing.T) {
	t.Parallel()

	set := history.NewSet([]history.Row{
		versionedRow(1, "1", history.TypeSQL, true),
		versionedRow(7, "2", history.TypeSQL, true),
	})

	require.Equal(t, 7, set.MaxRank())
	require.Equal(t, 2, set.Len())
}
