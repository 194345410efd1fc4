package migration

import "strings"

type (
	// HookType names the four lifecycle points at which hook scripts run.
	HookType string

	// Hook is a callback script discovered in a migration location. Hooks are
	// plain SQL files named either "<prefix>.sql" or "<prefix>__<label>.sql";
	// within a type they run sorted by script name.
	Hook struct {
		Type   HookType
		Script string
		Path   string
		RawSQL string
	}
)

const (
	// HookBeforeMigrate runs once before the first pending migration.
	HookBeforeMigrate HookType = "beforeMigrate"

	// HookAfterMigrate runs once after the last pending migration.
	HookAfterMigrate HookType = "afterMigrate"

	// HookBeforeEachMigrate runs before every pending migration.
	HookBeforeEachMigrate HookType = "beforeEachMigrate"

	// HookAfterEachMigrate runs after every successfully applied migration.
	HookAfterEachMigrate HookType = "afterEachMigrate"
)

// hookTypes is ordered longest prefix first; classification takes the first
// match.
var hookTypes = []HookType{
	HookBeforeEachMigrate,
	HookAfterEachMigrate,
	HookBeforeMigrate,
	HookAfterMigrate,
}

// ClassifyHook reports whether a filename is a hook script and of which type.
// A file is a hook iff it is exactly "<prefix>.sql" or "<prefix>__<rest>.sql";
// "beforeMigration.sql" is not a hook.
func ClassifyHook(name string) (HookType, bool) {
	if !strings.HasSuffix(name, ".sql") {
		return "", false
	}

	for _, t := range hookTypes {
		prefix := string(t)
		if name == prefix+".sql" || strings.HasPrefix(name, prefix+"__") {
			return t, true
		}
	}

	return "", false
}
