package consts

import "os"

const (
	// ModeDir is the standard file mode for creating directories
	ModeDir = os.FileMode(0o755)

	// ModeFile is the standard file mode for creating files
	ModeFile = os.FileMode(0o644)

	// DefaultConfigFile is the config file looked up in the working directory
	DefaultConfigFile = "waypoint.toml"

	// DefaultHistoryTable is the schema history table created in the managed schema
	DefaultHistoryTable = "waypoint_schema_history"

	// DefaultSchema is the schema managed when none is configured
	DefaultSchema = "public"

	// DefaultLocation is the migration directory used when none is configured
	DefaultLocation = "db/migrations"

	// DefaultBaselineVersion is the version recorded by baseline when none is given
	DefaultBaselineVersion = "1"

	// DefaultInstalledBy is recorded in history rows when no installed_by is
	// configured and the session user cannot be determined
	DefaultInstalledBy = "waypoint"

	// DefaultConnectRetries bounds connection attempts before giving up
	DefaultConnectRetries = 3

	// DefaultConnectTimeoutSecs is the per-attempt dial timeout
	DefaultConnectTimeoutSecs = 10

	// DefaultSnapshotFile is where snapshot writes and drift reads the schema
	// snapshot when no path is given
	DefaultSnapshotFile = "db/schema.yaml"
)
