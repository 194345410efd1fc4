package migration

import (
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strings"

	"github.com/pkg/errors"
)

type (
	// Location is one configured migration directory. Name is used in
	// messages; FS is usually os.DirFS(Name) but tests pass fstest.MapFS.
	Location struct {
		Name string
		FS   fs.FS
	}

	// Warning records a file the scanner skipped and why. Warnings are not
	// fatal; the engine surfaces them and fails only when nothing scanned.
	Warning struct {
		Path   string
		Reason string
	}

	// Dir is the result of scanning all configured locations: every
	// well-formed migration grouped by kind, hook scripts grouped by type,
	// and warnings for everything skipped.
	Dir struct {
		// Versioned migrations sorted by version.
		Versioned []*Migration

		// Repeatable migrations sorted by script name.
		Repeatable []*Migration

		// Undo migrations sorted by version.
		Undo []*Migration

		// Hooks per lifecycle point, each slice sorted by script name.
		Hooks map[HookType][]*Hook

		// Warnings for malformed files that were skipped.
		Warnings []Warning
	}

	// DuplicateError reports two files resolving to the same identity; the
	// scan aborts before any database work.
	DuplicateError struct {
		Kind   Kind
		Key    string
		First  string
		Second string
	}
)

func (e *DuplicateError) Error() string {
	what := "version"
	if e.Kind == KindRepeatable {
		what = "description"
	}
	return fmt.Sprintf("duplicate %s migration %s %q: %s and %s", e.Kind, what, e.Key, e.First, e.Second)
}

// ScanLocations discovers migrations in every location, non-recursively and
// in lexical filename order per location. Files that are neither migrations
// nor hooks are ignored when they are not .sql files and collected as
// warnings when they are. Two files resolving to the same versioned or undo
// version, or to the same repeatable description, abort the scan with a
// DuplicateError.
//
// Example usage:
//
//	dir, err := migration.ScanLocations(migration.Location{
//		Name: "db/migrations",
//		FS:   os.DirFS("db/migrations"),
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	for _, m := range dir.Versioned {
//		fmt.Printf("%s %s (%d)\n", m.Version, m.Description, m.Checksum)
//	}
func ScanLocations(locations ...Location) (*Dir, error) {
	dir := &Dir{Hooks: make(map[HookType][]*Hook)}

	versioned := make(map[string]*Migration)
	repeatable := make(map[string]*Migration)
	undo := make(map[string]*Migration)

	for _, loc := range locations {
		entries, err := fs.ReadDir(loc.FS, ".")
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read location %s", loc.Name)
		}

		// NB: ReadDir returns entries in lexical order.
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}

			name := entry.Name()
			fullPath := path.Join(loc.Name, name)

			if hookType, ok := ClassifyHook(name); ok {
				content, err := readFile(loc.FS, name)
				if err != nil {
					return nil, errors.Wrapf(err, "failed to read hook %s", fullPath)
				}
				dir.Hooks[hookType] = append(dir.Hooks[hookType], &Hook{
					Type:   hookType,
					Script: name,
					Path:   fullPath,
					RawSQL: content,
				})
				continue
			}

			if !strings.HasSuffix(name, ".sql") {
				continue
			}

			content, err := readFile(loc.FS, name)
			if err != nil {
				return nil, errors.Wrapf(err, "failed to read migration %s", fullPath)
			}

			m, err := Load(name, content)
			if err != nil {
				dir.Warnings = append(dir.Warnings, Warning{Path: fullPath, Reason: err.Error()})
				continue
			}
			m.Path = fullPath

			switch m.Kind {
			case KindVersioned:
				if prior, ok := versioned[m.Version.Key()]; ok {
					return nil, &DuplicateError{Kind: KindVersioned, Key: m.Version.String(), First: prior.Path, Second: m.Path}
				}
				versioned[m.Version.Key()] = m
				dir.Versioned = append(dir.Versioned, m)

			case KindRepeatable:
				if prior, ok := repeatable[m.Description]; ok {
					return nil, &DuplicateError{Kind: KindRepeatable, Key: m.Description, First: prior.Path, Second: m.Path}
				}
				repeatable[m.Description] = m
				dir.Repeatable = append(dir.Repeatable, m)

			case KindUndo:
				if prior, ok := undo[m.Version.Key()]; ok {
					return nil, &DuplicateError{Kind: KindUndo, Key: m.Version.String(), First: prior.Path, Second: m.Path}
				}
				undo[m.Version.Key()] = m
				dir.Undo = append(dir.Undo, m)
			}
		}
	}

	slices.SortFunc(dir.Versioned, func(a, b *Migration) int { return a.Version.Compare(b.Version) })
	slices.SortFunc(dir.Undo, func(a, b *Migration) int { return a.Version.Compare(b.Version) })
	slices.SortFunc(dir.Repeatable, func(a, b *Migration) int { return strings.Compare(a.Script, b.Script) })

	for _, hooks := range dir.Hooks {
		slices.SortFunc(hooks, func(a, b *Hook) int { return strings.Compare(a.Script, b.Script) })
	}

	return dir, nil
}

// FindUndo returns the undo migration for the given version, or nil.
func (d *Dir) FindUndo(v Version) *Migration {
	for _, m := range d.Undo {
		if m.Version.Equal(v) {
			return m
		}
	}
	return nil
}

// FindVersioned returns the versioned migration for the given version, or nil.
func (d *Dir) FindVersioned(v Version) *Migration {
	for _, m := range d.Versioned {
		if m.Version.Equal(v) {
			return m
		}
	}
	return nil
}

// Empty reports whether the scan found no migrations of any kind.
func (d *Dir) Empty() bool {
	return len(d.Versioned) == 0 && len(d.Repeatable) == 0 && len(d.Undo) == 0
}

func readFile(fsys fs.FS, name string) (string, error) {
	b, err := fs.ReadFile(fsys, name)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
