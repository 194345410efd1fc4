package migration

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Version is an ordered migration identifier made of dot-separated numeric
// components ("1", "2.1", "20240115.3"). Components compare as integers, and
// a version that is a strict prefix of another orders before it, so
// 1 < 1.1 < 1.2 < 2 < 10.
//
// The zero Version is used for migrations that have no version (repeatables)
// and reports true from IsZero.
type Version struct {
	raw   string
	parts []uint64
}

// ParseVersion parses a version string. Each dot-separated component must be
// a decimal number; anything else (empty components, signs, separators other
// than '.') is rejected.
//
// Example usage:
//
//	v, err := migration.ParseVersion("2.1")
//	if err != nil {
//		log.Fatal(err)
//	}
//	fmt.Println(v) // 2.1
func ParseVersion(s string) (Version, error) {
	if s == "" {
		return Version{}, errors.New("version must not be empty")
	}

	segments := strings.Split(s, ".")
	parts := make([]uint64, 0, len(segments))

	for _, seg := range segments {
		if seg == "" {
			return Version{}, errors.Errorf("invalid version %q: empty component", s)
		}

		n, err := strconv.ParseUint(seg, 10, 64)
		if err != nil {
			return Version{}, errors.Errorf("invalid version %q: component %q is not a number", s, seg)
		}

		parts = append(parts, n)
	}

	return Version{raw: s, parts: parts}, nil
}

// MustVersion is ParseVersion for version literals in tests and defaults;
// it panics on invalid input.
func MustVersion(s string) Version {
	v, err := ParseVersion(s)
	if err != nil {
		panic(err)
	}
	return v
}

// IsZero reports whether v is the absent version.
func (v Version) IsZero() bool {
	return len(v.parts) == 0
}

// String returns the version exactly as written in the filename.
func (v Version) String() string {
	return v.raw
}

// Compare returns -1, 0, or 1 ordering v against o. Components are compared
// numerically left to right; when all shared components are equal the shorter
// version is strictly less ("1" < "1.1").
func (v Version) Compare(o Version) int {
	n := min(len(v.parts), len(o.parts))

	for i := 0; i < n; i++ {
		switch {
		case v.parts[i] < o.parts[i]:
			return -1
		case v.parts[i] > o.parts[i]:
			return 1
		}
	}

	switch {
	case len(v.parts) < len(o.parts):
		return -1
	case len(v.parts) > len(o.parts):
		return 1
	default:
		return 0
	}
}

// Less reports whether v orders strictly before o.
func (v Version) Less(o Version) bool {
	return v.Compare(o) < 0
}

// Equal reports whether v and o denote the same version. Note that "1" and
// "1.0" are distinct versions under prefix ordering.
func (v Version) Equal(o Version) bool {
	return v.Compare(o) == 0
}

// Key returns the canonical form of the version, suitable as a map key.
// Leading zeros are dropped ("01.002" and "1.2" share a key) because they
// denote the same version and must collide in applied-set lookups.
func (v Version) Key() string {
	if v.IsZero() {
		return ""
	}

	segs := make([]string, len(v.parts))
	for i, p := range v.parts {
		segs[i] = strconv.FormatUint(p, 10)
	}
	return strings.Join(segs, ".")
}
