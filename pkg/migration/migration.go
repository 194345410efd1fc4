// Package migration provides discovery, parsing, and ordering of Waypoint
// migration files.
//
// This package handles the filesystem half of the migration lifecycle:
//   - Parsing the Flyway-compatible filename grammar (V/R/U files)
//   - Ordering versions (dot-separated numeric components, prefix-strict)
//   - Extracting waypoint directive headers (env, depends, require, ensure,
//     safety-override)
//   - Scanning configured locations with duplicate detection and
//     warn-and-skip handling of malformed files
//   - Classifying hook scripts (beforeMigrate, afterMigrate,
//     beforeEachMigrate, afterEachMigrate)
//
// Everything here is pure filesystem work; no database state is consulted.
// The engine package combines a scanned Dir with the history table to decide
// what actually runs.
package migration

import (
	"regexp"
	"strings"

	"github.com/pkg/errors"
	"github.com/waypointdb/waypoint/pkg/checksum"
)

type (
	// Kind discriminates the three migration flavors.
	Kind string

	// Migration describes a single migration file found by the scanner.
	//
	// Versioned migrations are applied at most once and are identified by
	// Version. Repeatable migrations have no version, are identified by
	// Description, and re-apply whenever their checksum changes. Undo
	// migrations carry the version of the versioned migration they reverse.
	Migration struct {
		// Kind is Versioned, Repeatable, or Undo.
		Kind Kind

		// Version orders versioned and undo migrations. Zero for repeatables.
		Version Version

		// Description is the filename segment after the double underscore,
		// with underscores replaced by spaces.
		Description string

		// Script is the bare filename, recorded in the history table.
		Script string

		// Path is the location-qualified path, used in messages only.
		Path string

		// RawSQL is the file content exactly as read.
		RawSQL string

		// Checksum is the Flyway-compatible CRC32 of RawSQL.
		Checksum int32

		// Directives holds the parsed waypoint header directives.
		Directives Directives
	}
)

const (
	// KindVersioned migrations apply at most once, in version order.
	KindVersioned Kind = "versioned"

	// KindRepeatable migrations re-apply whenever their checksum changes.
	KindRepeatable Kind = "repeatable"

	// KindUndo migrations reverse the versioned migration of the same version.
	KindUndo Kind = "undo"
)

// filenamePattern captures the bit-exact grammar:
//
//	migration  := ('V' version | 'R' | 'U' version) '__' description '.sql'
//	version    := NUM ('.' NUM)*
//	description:= [A-Za-z0-9][A-Za-z0-9_]*
//
// The separator is literally two underscores; a single underscore does not
// split, which makes V1_2__desc.sql a malformed version rather than a
// migration named "2__desc".
var filenamePattern = regexp.MustCompile(`^([VRU])(.*?)__([A-Za-z0-9][A-Za-z0-9_]*)\.sql$`)

// ParseFilename parses a migration filename per the grammar above and returns
// the migration skeleton (kind, version, description, script). Filenames that
// do not match return an error; the scanner downgrades these to warnings and
// skips the file.
//
// Example usage:
//
//	m, err := migration.ParseFilename("V2.1__Add_email_column.sql")
//	if err != nil {
//		log.Fatal(err)
//	}
//	fmt.Println(m.Kind, m.Version, m.Description)
//	// versioned 2.1 Add email column
func ParseFilename(name string) (*Migration, error) {
	groups := filenamePattern.FindStringSubmatch(name)
	if groups == nil {
		return nil, errors.Errorf("filename %q does not match V<version>__<description>.sql, R__<description>.sql, or U<version>__<description>.sql", name)
	}

	prefix, rawVersion, desc := groups[1], groups[2], groups[3]

	m := &Migration{
		Script:      name,
		Description: strings.ReplaceAll(desc, "_", " "),
	}

	switch prefix {
	case "V":
		m.Kind = KindVersioned
	case "R":
		m.Kind = KindRepeatable
	case "U":
		m.Kind = KindUndo
	}

	if m.Kind == KindRepeatable {
		if rawVersion != "" {
			return nil, errors.Errorf("filename %q: repeatable migrations must not carry a version", name)
		}
		return m, nil
	}

	version, err := ParseVersion(rawVersion)
	if err != nil {
		return nil, errors.Wrapf(err, "filename %q", name)
	}
	m.Version = version

	return m, nil
}

// Load completes a parsed filename with content: raw SQL, checksum, and the
// directive header.
func Load(name, content string) (*Migration, error) {
	m, err := ParseFilename(name)
	if err != nil {
		return nil, err
	}

	directives, err := ParseDirectives(content)
	if err != nil {
		return nil, errors.Wrapf(err, "file %q", name)
	}

	m.RawSQL = content
	m.Checksum = checksum.Sum(content)
	m.Directives = directives

	return m, nil
}

// IsVersioned reports whether the migration applies at most once.
func (m *Migration) IsVersioned() bool { return m.Kind == KindVersioned }

// IsRepeatable reports whether the migration re-applies on checksum change.
func (m *Migration) IsRepeatable() bool { return m.Kind == KindRepeatable }

// IsUndo reports whether the migration reverses another.
func (m *Migration) IsUndo() bool { return m.Kind == KindUndo }
