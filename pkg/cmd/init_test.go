package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/waypointdb/waypoint/pkg/cmd/testutil"
	"github.com/waypointdb/waypoint/pkg/consts"
)

func TestInitCommand_ScaffoldsProject(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "svc", "orders")

	err := testutil.RunCommand(t, initCmd(), []string{dir})
	require.NoError(t, err)

	require.FileExists(t, filepath.Join(dir, consts.DefaultConfigFile))
	require.DirExists(t, filepath.Join(dir, consts.DefaultLocation))
}

func TestInitCommand_DefaultsToWorkingDirectory(t *testing.T) {
	t.Chdir(t.TempDir())

	err := testutil.RunCommand(t, initCmd(), nil)
	require.NoError(t, err)

	require.FileExists(t, consts.DefaultConfigFile)
	require.DirExists(t, consts.DefaultLocation)
}

func TestInitCommand_PreservesExistingConfig(t *testing.T) {
	dir := t.TempDir()
	custom := "[migrations]\nschema = \"custom\"\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, consts.DefaultConfigFile), []byte(custom), 0o600))

	err := testutil.RunCommand(t, initCmd(), []string{dir})
	require.NoError(t, err)

	content, err := os.ReadFile(filepath.Join(dir, consts.DefaultConfigFile))
	require.NoError(t, err)
	require.Equal(t, custom, string(content), "existing config should be preserved")
}

func TestInitCommand_Idempotent(t *testing.T) {
	dir := t.TempDir()

	require.NoError(t, testutil.RunCommand(t, initCmd(), []string{dir}))
	require.NoError(t, testutil.RunCommand(t, initCmd(), []string{dir}))

	require.FileExists(t, filepath.Join(dir, consts.DefaultConfigFile))
	require.DirExists(t, filepath.Join(dir, consts.DefaultLocation))
}
