package migration

import (
	"strings"

	"github.com/pkg/errors"
)

// Directives are the waypoint header annotations of a migration file: a
// contiguous block of "--" comment lines at the very top of the file, each
// directive matching
//
//	-- waypoint:<key> <value>
//
// Recognized keys are env, depends, require, ensure, and safety-override.
// Plain comment lines may be interleaved; the header ends at the first line
// that is not a "--" comment. Key matching is exact, so "waypoint:environment"
// is not the env directive (it is an error, to keep typos from silently
// disabling a guard).
type Directives struct {
	// Env restricts the migration to the named environments. Empty means the
	// migration runs everywhere.
	Env []string

	// Depends lists versions that must be ordered before this migration when
	// dependency ordering is enabled.
	Depends []Version

	// Require holds guard expressions evaluated before the migration runs.
	Require []string

	// Ensure holds guard expressions evaluated inside the migration's
	// transaction after its statements ran.
	Ensure []string

	// SafetyOverride permits a DANGER-verdict migration under block_on_danger.
	SafetyOverride bool
}

const directiveMarker = "waypoint:"

// ParseDirectives extracts the directive header from migration content.
// Unknown waypoint keys and malformed values return errors; the scanner
// surfaces those as warnings and skips the file.
//
// Example usage:
//
//	d, err := migration.ParseDirectives(sql)
//	if err != nil {
//		log.Fatal(err)
//	}
//	if len(d.Require) > 0 {
//		// evaluate guards before applying
//	}
func ParseDirectives(content string) (Directives, error) {
	var d Directives

	for _, line := range headerLines(content) {
		rest, ok := directiveBody(line)
		if !ok {
			continue // plain comment
		}

		key, value := splitDirective(rest)

		switch key {
		case "env":
			names, err := splitList(value)
			if err != nil {
				return Directives{}, errors.Wrap(err, "waypoint:env")
			}
			d.Env = append(d.Env, names...)

		case "depends":
			names, err := splitList(value)
			if err != nil {
				return Directives{}, errors.Wrap(err, "waypoint:depends")
			}
			for _, name := range names {
				v, err := ParseVersion(name)
				if err != nil {
					return Directives{}, errors.Wrap(err, "waypoint:depends")
				}
				d.Depends = append(d.Depends, v)
			}

		case "require":
			if value == "" {
				return Directives{}, errors.New("waypoint:require needs an expression")
			}
			d.Require = append(d.Require, value)

		case "ensure":
			if value == "" {
				return Directives{}, errors.New("waypoint:ensure needs an expression")
			}
			d.Ensure = append(d.Ensure, value)

		case "safety-override":
			if value != "" {
				return Directives{}, errors.Errorf("waypoint:safety-override takes no value, got %q", value)
			}
			d.SafetyOverride = true

		default:
			return Directives{}, errors.Errorf("unknown directive waypoint:%s", key)
		}
	}

	return d, nil
}

// AppliesTo reports whether the migration runs in the given environment.
// Migrations without an env directive run everywhere, including when no
// environment is configured at all.
func (d Directives) AppliesTo(environment string) bool {
	if len(d.Env) == 0 {
		return true
	}

	for _, name := range d.Env {
		if name == environment {
			return true
		}
	}
	return false
}

// headerLines returns the contiguous leading "--" comment lines.
func headerLines(content string) []string {
	var header []string

	for len(content) > 0 {
		var line string
		if i := strings.IndexByte(content, '\n'); i >= 0 {
			line, content = content[:i], content[i+1:]
		} else {
			line, content = content, ""
		}
		line = strings.TrimSuffix(line, "\r")

		if !strings.HasPrefix(line, "--") {
			break
		}
		header = append(header, line)
	}

	return header
}

// directiveBody strips the comment prefix and the waypoint marker, returning
// the "<key> <value>" remainder. Comment lines without the marker report
// ok=false.
func directiveBody(line string) (string, bool) {
	body := strings.TrimLeft(strings.TrimPrefix(line, "--"), " \t")
	if !strings.HasPrefix(body, directiveMarker) {
		return "", false
	}
	return body[len(directiveMarker):], true
}

// splitDirective separates the directive key from its optional value.
func splitDirective(rest string) (key, value string) {
	if i := strings.IndexAny(rest, " \t"); i >= 0 {
		return rest[:i], strings.TrimSpace(rest[i+1:])
	}
	return rest, ""
}

// splitList parses a comma-separated directive value, rejecting empty items.
func splitList(value string) ([]string, error) {
	if value == "" {
		return nil, errors.New("needs a comma-separated list")
	}

	parts := strings.Split(value, ",")
	items := make([]string, 0, len(parts))

	for _, part := range parts {
		item := strings.TrimSpace(part)
		if item == "" {
			return nil, errors.Errorf("list %q contains an empty item", value)
		}
		items = append(items, item)
	}

	return items, nil
}
