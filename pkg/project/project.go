package project

import (
	_ "embed"
	"os"
	"path/filepath"
	"testing/fstest"

	"github.com/pkg/errors"
	"github.com/waypointdb/waypoint/pkg/consts"
)

var (
	//go:embed embed/waypoint.toml
	defaultConfig []byte

	// image is the layout stamped out by Initialize. Directory entries carry
	// the directory bit so the walk can tell them apart from files.
	image = fstest.MapFS{
		"db":                     {Mode: os.ModeDir | 0o755},
		"db/migrations":          {Mode: os.ModeDir | 0o755},
		consts.DefaultConfigFile: {Data: defaultConfig, Mode: 0o600},
	}
)

// Project scaffolds the standard waypoint layout into a directory: the
// waypoint.toml starter configuration and the default migration location.
type Project struct {
	root string
}

// New creates a Project rooted at path. The directory does not have to
// exist; Initialize creates it.
//
// Example:
//
//	proj := project.New("services/orders")
//	if err := proj.Initialize(); err != nil {
//		log.Fatal(err)
//	}
//
//	// The directory now contains waypoint.toml and db/migrations/,
//	// ready for the first V1__*.sql migration.
func New(path string) *Project {
	return &Project{root: path}
}

// Root returns the project root directory.
func (p *Project) Root() string {
	return p.root
}

// Initialize creates the project layout under the root. It is idempotent:
// entries that already exist are left untouched, so running it in a
// populated project never overwrites a tuned waypoint.toml or existing
// migrations. The configuration file is written mode 0600 because it
// commonly holds database credentials.
func (p *Project) Initialize() error {
	if err := os.MkdirAll(p.root, consts.ModeDir); err != nil {
		return errors.Wrapf(err, "failed to create project directory %s", p.root)
	}

	for path, entry := range image {
		fullPath := filepath.Join(p.root, path)

		if _, err := os.Stat(fullPath); err == nil {
			continue
		} else if !os.IsNotExist(err) {
			return errors.Wrapf(err, "failed to stat %s", fullPath)
		}

		if entry.Mode.IsDir() {
			if err := os.MkdirAll(fullPath, entry.Mode.Perm()); err != nil {
				return errors.Wrapf(err, "failed to create directory %s", fullPath)
			}

			continue
		}

		// Map iteration order is random, so a file can be visited before
		// its directory entry.
		parentDir := filepath.Dir(fullPath)
		if err := os.MkdirAll(parentDir, consts.ModeDir); err != nil {
			return errors.Wrapf(err, "failed to create parent directory %s", parentDir)
		}

		if err := os.WriteFile(fullPath, entry.Data, entry.Mode.Perm()); err != nil {
			return errors.Wrapf(err, "failed to write file %s", fullPath)
		}
	}

	return nil
}
