package engine

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies engine errors. Every error returned by an Engine operation
// carries exactly one Kind, assigned at the point of failure and never
// reassigned while the error travels up; ExitCode maps kinds to the process
// exit statuses the CLI reports.
type Kind string

const (
	// KindConfiguration covers invalid or contradictory settings discovered at
	// run time, including unresolved placeholders under the error policy.
	KindConfiguration Kind = "configuration"

	// KindScan covers failures reading migration locations.
	KindScan Kind = "scan"

	// KindParse covers malformed guard expressions and unsplittable SQL.
	KindParse Kind = "parse"

	// KindDB covers connection and query failures outside migration execution.
	KindDB Kind = "database"

	// KindLock is returned when the advisory lock cannot be acquired in time.
	KindLock Kind = "lock"

	// KindValidation covers checksum mismatches, order violations, and drift.
	KindValidation Kind = "validation"

	// KindMigration is a migration statement failing against the database.
	KindMigration Kind = "migration"

	// KindGuard is a require or ensure guard failing under the error policy.
	KindGuard Kind = "guard"

	// KindSafety is a DANGER verdict blocking a migration without an override.
	KindSafety Kind = "safety"

	// KindSimulation is a failure inside a scratch-schema rehearsal.
	KindSimulation Kind = "simulation"

	// KindCleanDisabled is returned when clean runs without being enabled.
	KindCleanDisabled Kind = "clean_disabled"

	// KindBaselineExists is returned when baseline finds existing history rows.
	KindBaselineExists Kind = "baseline_exists"

	// KindHook is a hook script failing; the run aborts where it stood.
	KindHook Kind = "hook"

	// KindUndo covers undo failures, including versions with nothing to undo by.
	KindUndo Kind = "undo"
)

// Error tags an underlying error with the Kind that determines how the CLI
// exits. Use KindOf to read the kind back through wrapping.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string { return e.Err.Error() }

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the Kind from an engine error. Nil and foreign errors
// report an empty kind.
func KindOf(err error) Kind {
	var kinded *Error
	if errors.As(err, &kinded) {
		return kinded.Kind
	}

	return ""
}

// ExitCode maps an error to the process exit status: 0 for nil, a dedicated
// code per kind, and 1 for everything unclassified.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}

	switch KindOf(err) {
	case KindConfiguration:
		return 2
	case KindValidation:
		return 3
	case KindDB:
		return 4
	case KindMigration, KindHook, KindUndo:
		return 5
	case KindLock:
		return 6
	case KindCleanDisabled:
		return 7
	case KindGuard:
		return 13
	case KindSafety:
		return 14
	case KindSimulation:
		return 15
	default:
		return 1
	}
}

// MigrationError pins a statement failure to its script, 1-based statement
// offset, and source line. It is always wrapped in an Error of KindMigration.
type MigrationError struct {
	Script    string
	Version   string // empty for repeatable migrations
	Statement int
	Line      int
	Err       error
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf("migration %s failed at statement %d (line %d): %v",
		e.Script, e.Statement, e.Line, e.Err)
}

func (e *MigrationError) Unwrap() error { return e.Err }

// fail tags err with kind. Errors that already carry a kind pass through
// untouched so the original classification survives wrapping.
func fail(kind Kind, err error) error {
	if err == nil {
		return nil
	}

	var kinded *Error
	if errors.As(err, &kinded) {
		return err
	}

	return &Error{Kind: kind, Err: err}
}

// failf builds a fresh error of the given kind.
func failf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Err: errors.Errorf(format, args...)}
}
