// Package config resolves the waypoint configuration from its four layers:
// built-in defaults, the waypoint.toml file, WAYPOINT_* environment
// variables, and command line overrides, in that order of precedence.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
	"github.com/waypointdb/waypoint/pkg/consts"
	"github.com/waypointdb/waypoint/pkg/db"
	"github.com/waypointdb/waypoint/pkg/safety"
	"github.com/waypointdb/waypoint/pkg/utils"
)

// Values for migrations.on_require_fail.
const (
	// RequireFailError aborts the run when a require guard fails.
	RequireFailError = "error"

	// RequireFailWarn logs the failed guard and applies the migration anyway.
	RequireFailWarn = "warn"

	// RequireFailSkip removes the migration from the pending set for this run.
	RequireFailSkip = "skip"
)

// Values for migrations.on_missing_placeholder.
const (
	// MissingPlaceholderError aborts expansion on an unresolved placeholder.
	MissingPlaceholderError = "error"

	// MissingPlaceholderWarn leaves the reference in place and logs a warning.
	MissingPlaceholderWarn = "warn"
)

// ReservedPlaceholderPrefix marks placeholder names injected by the engine
// itself. Neither the config file nor the environment may define keys under
// it.
const ReservedPlaceholderPrefix = "waypoint:"

type (
	// Config is the resolved waypoint configuration. Use Resolve to build
	// one; the zero value is not usable because several keys default to
	// non-zero values (ssl_mode, validate_on_migrate, reversal capture).
	Config struct {
		// Database holds connection settings for the target PostgreSQL server
		Database Database `toml:"database"`

		// Migrations controls discovery and application of migration files
		Migrations Migrations `toml:"migrations"`

		// Safety configures the pre-apply lock impact analysis
		Safety Safety `toml:"safety"`

		// Reversal controls automatic capture of reverse DDL
		Reversal Reversal `toml:"reversal"`

		// Guards configures guard directive evaluation
		Guards Guards `toml:"guards"`

		// Hooks lists SQL scripts to run around migrations, in addition to
		// the hook files discovered by filename prefix
		Hooks Hooks `toml:"hooks"`

		// Placeholders are substituted into ${key} references in migration SQL
		Placeholders map[string]string `toml:"placeholders"`
	}

	// Database is the [database] section.
	Database struct {
		// URL is the full connection URL and wins over the discrete fields.
		// jdbc:postgresql:// URLs are accepted for Flyway compatibility
		URL string `toml:"url"`

		// Host of the server when no URL is given (default localhost)
		Host string `toml:"host"`

		// Port of the server when no URL is given (default 5432)
		Port int `toml:"port"`

		// User to connect as when no URL is given
		User string `toml:"user"`

		// Password for User
		Password string `toml:"password"`

		// Database is the database name when no URL is given
		Database string `toml:"database"`

		// ConnectRetries is how many times the initial connection is retried
		// with exponential backoff, capped at db.MaxConnectRetries
		ConnectRetries int `toml:"connect_retries"`

		// SSLMode is disable, prefer, or require
		SSLMode string `toml:"ssl_mode"`

		// ConnectTimeoutSecs bounds each connection attempt
		ConnectTimeoutSecs int `toml:"connect_timeout_secs"`

		// StatementTimeoutSecs is applied to the session after connecting;
		// zero leaves the server default in place
		StatementTimeoutSecs int `toml:"statement_timeout_secs"`

		// LockTimeoutSecs bounds the wait for the migration advisory lock;
		// zero waits forever
		LockTimeoutSecs int `toml:"lock_timeout_secs"`
	}

	// Migrations is the [migrations] section.
	Migrations struct {
		// Locations are the directories scanned for migration files, in
		// order. Flyway-style filesystem: prefixes are stripped
		Locations []string `toml:"locations"`

		// Table is the schema history table name
		Table string `toml:"table"`

		// Schema contains both the history table and the managed objects
		Schema string `toml:"schema"`

		// OutOfOrder permits applying versions below the highest applied one
		OutOfOrder bool `toml:"out_of_order"`

		// ValidateOnMigrate runs validate before every migrate
		ValidateOnMigrate bool `toml:"validate_on_migrate"`

		// CleanEnabled must be true for the clean command to run at all
		CleanEnabled bool `toml:"clean_enabled"`

		// BaselineVersion is recorded when baseline is run without a version
		BaselineVersion string `toml:"baseline_version"`

		// InstalledBy is recorded in history rows; empty records the session user
		InstalledBy string `toml:"installed_by"`

		// Environment selects migrations carrying env directives; migrations
		// without a directive always run
		Environment string `toml:"environment"`

		// OnRequireFail is the policy for failing require guards:
		// error, warn, or skip
		OnRequireFail string `toml:"on_require_fail"`

		// OnMissingPlaceholder is the policy for unresolved placeholders:
		// error or warn
		OnMissingPlaceholder string `toml:"on_missing_placeholder"`

		// Batch applies all pending migrations in a single transaction
		Batch bool `toml:"batch"`

		// DependencyOrder orders pending migrations by their requires
		// directives instead of strictly by version
		DependencyOrder bool `toml:"dependency_order"`

		// Target stops migrate after the given version; empty applies everything
		Target string `toml:"target"`
	}

	// Safety is the [safety] section. The row counts are the estimated
	// pg_class.reltuples bounds between the table size classes.
	Safety struct {
		// BlockOnDanger refuses DANGER verdict migrations without an override
		BlockOnDanger bool `toml:"block_on_danger"`

		// SmallRows is the row count at which a table stops being small
		SmallRows int64 `toml:"small_rows"`

		// LargeRows is the row count at which a table counts as large
		LargeRows int64 `toml:"large_rows"`

		// HugeRows is the row count at which a table counts as huge
		HugeRows int64 `toml:"huge_rows"`
	}

	// Reversal is the [reversal] section.
	Reversal struct {
		// Capture diffs the schema around each migration and stores the
		// generated reverse DDL in the history row
		Capture bool `toml:"capture"`
	}

	// Guards is the [guards] section.
	Guards struct {
		// DisableSQLGuard turns off the sql() guard escape hatch
		DisableSQLGuard bool `toml:"disable_sql_guard"`
	}

	// Hooks is the [hooks] section. Paths are resolved relative to the
	// working directory.
	Hooks struct {
		// BeforeMigrate runs once before the first migration of a run
		BeforeMigrate []string `toml:"before_migrate"`

		// AfterMigrate runs once after the last migration of a run
		AfterMigrate []string `toml:"after_migrate"`

		// BeforeEachMigrate runs before every migration
		BeforeEachMigrate []string `toml:"before_each_migrate"`

		// AfterEachMigrate runs after every migration
		AfterEachMigrate []string `toml:"after_each_migrate"`
	}

	// Overrides carries command line values layered over the file and the
	// environment. Nil fields leave the resolved value untouched.
	Overrides struct {
		URL                  *string
		Schema               *string
		Table                *string
		Locations            []string
		Environment          *string
		Target               *string
		BaselineVersion      *string
		OutOfOrder           *bool
		ValidateOnMigrate    *bool
		Batch                *bool
		ConnectRetries       *int
		SSLMode              *string
		ConnectTimeoutSecs   *int
		StatementTimeoutSecs *int
		LockTimeoutSecs      *int
	}
)

// Default returns the built-in configuration: db/migrations scanned into
// waypoint_schema_history in the public schema, ssl_mode prefer, validation
// on, reversal capture on, clean disabled.
func Default() *Config {
	return &Config{
		Database: Database{
			ConnectRetries:     consts.DefaultConnectRetries,
			SSLMode:            db.SSLPrefer,
			ConnectTimeoutSecs: consts.DefaultConnectTimeoutSecs,
		},
		Migrations: Migrations{
			Locations:            []string{consts.DefaultLocation},
			Table:                consts.DefaultHistoryTable,
			Schema:               consts.DefaultSchema,
			ValidateOnMigrate:    true,
			BaselineVersion:      consts.DefaultBaselineVersion,
			OnRequireFail:        RequireFailError,
			OnMissingPlaceholder: MissingPlaceholderError,
		},
		Safety: Safety{
			SmallRows: safety.DefaultThresholds.Small,
			LargeRows: safety.DefaultThresholds.Medium,
			HugeRows:  safety.DefaultThresholds.Large,
		},
		Reversal:     Reversal{Capture: true},
		Placeholders: map[string]string{},
	}
}

// Load parses TOML configuration from r on top of the built-in defaults.
// Keys absent from the document keep their defaults. Unknown keys are
// rejected so a typo fails loudly instead of silently reverting the setting
// to its default.
//
// Example usage:
//
//	cfg, err := config.Load(strings.NewReader(`
//	[database]
//	url = "postgres://app@localhost/orders"
//
//	[migrations]
//	schema = "app"
//	`))
//	if err != nil {
//		log.Fatal(err)
//	}
func Load(r io.Reader) (*Config, error) {
	cfg := Default()

	dec := toml.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, errors.Wrap(err, "parsing config")
	}

	return cfg, nil
}

// LoadFile loads configuration from the given path. Credentials often live
// in this file, so a file readable by other users draws a warning.
func LoadFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening config file %s", path)
	}
	defer func() { _ = f.Close() }()

	if info, err := f.Stat(); err == nil && info.Mode().Perm()&0o077 != 0 {
		slog.Warn("config file is readable by other users, consider chmod 600",
			"path", path,
			"mode", fmt.Sprintf("%04o", info.Mode().Perm()),
		)
	}

	return Load(f)
}

// Resolve builds the effective configuration for one run: defaults, then the
// config file, then WAYPOINT_* environment variables, then command line
// overrides, validated as a whole.
//
// path selects the config file. When empty, waypoint.toml in the working
// directory is used if present and skipped silently if not; every key has a
// default, so commands still work in a directory with no config at all. An
// explicitly given path that does not exist is an error.
func Resolve(path string, o Overrides) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = consts.DefaultConfigFile
	}

	cfg := Default()
	if _, err := os.Stat(path); err == nil {
		if cfg, err = LoadFile(path); err != nil {
			return nil, err
		}
	} else if explicit {
		return nil, errors.Errorf("config file %s not found", path)
	}

	if err := cfg.ApplyEnv(os.Environ()); err != nil {
		return nil, err
	}
	cfg.ApplyOverrides(o)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyEnv overlays WAYPOINT_* environment variables onto the configuration.
// environ entries are in the key=value form of os.Environ. Variable names
// are the upper snake case of the config keys (WAYPOINT_URL,
// WAYPOINT_SCHEMA, WAYPOINT_OUT_OF_ORDER, ...), except [reversal] capture
// which is WAYPOINT_REVERSAL_CAPTURE. WAYPOINT_PLACEHOLDER_<KEY> defines the
// placeholder <key>. Values that fail to parse are reported as errors rather
// than ignored.
func (c *Config) ApplyEnv(environ []string) error {
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, "WAYPOINT_") {
			continue
		}
		if err := c.applyEnvVar(key, value); err != nil {
			return err
		}
	}
	return nil
}

// applyEnvVar applies a single environment variable. Unrecognized WAYPOINT_
// names are left alone; WAYPOINT_CONFIG and similar are consumed by the
// command layer.
func (c *Config) applyEnvVar(key, value string) error {
	if pk, ok := strings.CutPrefix(key, "WAYPOINT_PLACEHOLDER_"); ok && pk != "" {
		if c.Placeholders == nil {
			c.Placeholders = map[string]string{}
		}
		c.Placeholders[strings.ToLower(pk)] = value
		return nil
	}

	var err error
	switch key {
	case "WAYPOINT_URL":
		c.Database.URL = value
	case "WAYPOINT_HOST":
		c.Database.Host = value
	case "WAYPOINT_PORT":
		c.Database.Port, err = envInt(key, value)
	case "WAYPOINT_USER":
		c.Database.User = value
	case "WAYPOINT_PASSWORD":
		c.Database.Password = value
	case "WAYPOINT_DATABASE":
		c.Database.Database = value
	case "WAYPOINT_CONNECT_RETRIES":
		c.Database.ConnectRetries, err = envInt(key, value)
	case "WAYPOINT_SSL_MODE":
		c.Database.SSLMode = value
	case "WAYPOINT_CONNECT_TIMEOUT_SECS":
		c.Database.ConnectTimeoutSecs, err = envInt(key, value)
	case "WAYPOINT_STATEMENT_TIMEOUT_SECS":
		c.Database.StatementTimeoutSecs, err = envInt(key, value)
	case "WAYPOINT_LOCK_TIMEOUT_SECS":
		c.Database.LockTimeoutSecs, err = envInt(key, value)
	case "WAYPOINT_LOCATIONS":
		c.Migrations.Locations = SplitList(value)
	case "WAYPOINT_TABLE":
		c.Migrations.Table = value
	case "WAYPOINT_SCHEMA":
		c.Migrations.Schema = value
	case "WAYPOINT_OUT_OF_ORDER":
		c.Migrations.OutOfOrder, err = envBool(key, value)
	case "WAYPOINT_VALIDATE_ON_MIGRATE":
		c.Migrations.ValidateOnMigrate, err = envBool(key, value)
	case "WAYPOINT_CLEAN_ENABLED":
		c.Migrations.CleanEnabled, err = envBool(key, value)
	case "WAYPOINT_BASELINE_VERSION":
		c.Migrations.BaselineVersion = value
	case "WAYPOINT_INSTALLED_BY":
		c.Migrations.InstalledBy = value
	case "WAYPOINT_ENVIRONMENT":
		c.Migrations.Environment = value
	case "WAYPOINT_ON_REQUIRE_FAIL":
		c.Migrations.OnRequireFail = value
	case "WAYPOINT_ON_MISSING_PLACEHOLDER":
		c.Migrations.OnMissingPlaceholder = value
	case "WAYPOINT_BATCH":
		c.Migrations.Batch, err = envBool(key, value)
	case "WAYPOINT_DEPENDENCY_ORDER":
		c.Migrations.DependencyOrder, err = envBool(key, value)
	case "WAYPOINT_TARGET":
		c.Migrations.Target = value
	case "WAYPOINT_BLOCK_ON_DANGER":
		c.Safety.BlockOnDanger, err = envBool(key, value)
	case "WAYPOINT_SMALL_ROWS":
		c.Safety.SmallRows, err = envInt64(key, value)
	case "WAYPOINT_LARGE_ROWS":
		c.Safety.LargeRows, err = envInt64(key, value)
	case "WAYPOINT_HUGE_ROWS":
		c.Safety.HugeRows, err = envInt64(key, value)
	case "WAYPOINT_REVERSAL_CAPTURE":
		c.Reversal.Capture, err = envBool(key, value)
	case "WAYPOINT_DISABLE_SQL_GUARD":
		c.Guards.DisableSQLGuard, err = envBool(key, value)
	}
	return err
}

// ApplyOverrides layers command line values over the resolved configuration.
func (c *Config) ApplyOverrides(o Overrides) {
	setIf(&c.Database.URL, o.URL)
	setIf(&c.Database.ConnectRetries, o.ConnectRetries)
	setIf(&c.Database.SSLMode, o.SSLMode)
	setIf(&c.Database.ConnectTimeoutSecs, o.ConnectTimeoutSecs)
	setIf(&c.Database.StatementTimeoutSecs, o.StatementTimeoutSecs)
	setIf(&c.Database.LockTimeoutSecs, o.LockTimeoutSecs)
	setIf(&c.Migrations.Schema, o.Schema)
	setIf(&c.Migrations.Table, o.Table)
	setIf(&c.Migrations.Environment, o.Environment)
	setIf(&c.Migrations.Target, o.Target)
	setIf(&c.Migrations.BaselineVersion, o.BaselineVersion)
	setIf(&c.Migrations.OutOfOrder, o.OutOfOrder)
	setIf(&c.Migrations.ValidateOnMigrate, o.ValidateOnMigrate)
	setIf(&c.Migrations.Batch, o.Batch)

	if o.Locations != nil {
		c.Migrations.Locations = o.Locations
	}
}

// Validate normalizes and checks the fully layered configuration. Values it
// normalizes are rewritten in place: ssl_mode aliases collapse to their
// canonical spelling, locations lose the filesystem: prefix, and
// connect_retries is capped.
func (c *Config) Validate() error {
	if err := utils.ValidateIdentifier(c.Migrations.Schema, "schema name"); err != nil {
		return err
	}
	if err := utils.ValidateIdentifier(c.Migrations.Table, "history table name"); err != nil {
		return err
	}

	mode, err := normalizeSSLMode(c.Database.SSLMode)
	if err != nil {
		return err
	}
	c.Database.SSLMode = mode

	switch c.Migrations.OnRequireFail {
	case RequireFailError, RequireFailWarn, RequireFailSkip:
	default:
		return errors.Errorf("invalid on_require_fail %q: expected error, warn, or skip", c.Migrations.OnRequireFail)
	}

	switch c.Migrations.OnMissingPlaceholder {
	case MissingPlaceholderError, MissingPlaceholderWarn:
	default:
		return errors.Errorf("invalid on_missing_placeholder %q: expected error or warn", c.Migrations.OnMissingPlaceholder)
	}

	for key := range c.Placeholders {
		if strings.HasPrefix(key, ReservedPlaceholderPrefix) {
			return errors.Errorf("placeholder %q: the %s prefix is reserved for built-in placeholders", key, ReservedPlaceholderPrefix)
		}
	}

	for _, n := range []struct {
		key   string
		value int
	}{
		{"connect_retries", c.Database.ConnectRetries},
		{"connect_timeout_secs", c.Database.ConnectTimeoutSecs},
		{"statement_timeout_secs", c.Database.StatementTimeoutSecs},
		{"lock_timeout_secs", c.Database.LockTimeoutSecs},
	} {
		if n.value < 0 {
			return errors.Errorf("%s must not be negative", n.key)
		}
	}

	if c.Database.ConnectRetries > db.MaxConnectRetries {
		slog.Warn("connect_retries capped",
			"configured", c.Database.ConnectRetries,
			"max", db.MaxConnectRetries,
		)
		c.Database.ConnectRetries = db.MaxConnectRetries
	}

	if c.Safety.SmallRows <= 0 || c.Safety.LargeRows <= c.Safety.SmallRows || c.Safety.HugeRows <= c.Safety.LargeRows {
		return errors.New("safety thresholds must increase: small_rows < large_rows < huge_rows")
	}

	c.Migrations.Locations = normalizeLocations(c.Migrations.Locations)
	if len(c.Migrations.Locations) == 0 {
		return errors.New("at least one migration location is required")
	}

	return nil
}

// DBOptions maps the database section onto connection options. When no URL
// is configured, the discrete fields must at least identify a user and a
// database; host and port have defaults.
func (c *Config) DBOptions() (db.Options, error) {
	if c.Database.URL == "" {
		if c.Database.User == "" {
			return db.Options{}, errors.New("database user is required when no url is configured")
		}
		if c.Database.Database == "" {
			return db.Options{}, errors.New("database name is required when no url is configured")
		}
	}

	return db.Options{
		URL:              c.Database.URL,
		Host:             c.Database.Host,
		Port:             c.Database.Port,
		User:             c.Database.User,
		Password:         c.Database.Password,
		Database:         c.Database.Database,
		SSLMode:          c.Database.SSLMode,
		ConnectRetries:   c.Database.ConnectRetries,
		ConnectTimeout:   c.Database.ConnectTimeoutSecs,
		StatementTimeout: c.Database.StatementTimeoutSecs,
	}, nil
}

// LockTimeout is how long to wait for the migration advisory lock. Zero
// means wait forever.
func (c *Config) LockTimeout() time.Duration {
	return time.Duration(c.Database.LockTimeoutSecs) * time.Second
}

// SafetyThresholds maps the safety section onto analyzer thresholds.
func (c *Config) SafetyThresholds() safety.Thresholds {
	return safety.Thresholds{
		Small:  c.Safety.SmallRows,
		Medium: c.Safety.LargeRows,
		Large:  c.Safety.HugeRows,
	}
}

// NormalizeLocation strips the Flyway filesystem: prefix from a migration
// location.
func NormalizeLocation(location string) string {
	return strings.TrimPrefix(location, "filesystem:")
}

func normalizeLocations(locations []string) []string {
	out := make([]string, 0, len(locations))
	for _, loc := range locations {
		if loc = NormalizeLocation(strings.TrimSpace(loc)); loc != "" {
			out = append(out, loc)
		}
	}
	return out
}

func normalizeSSLMode(mode string) (string, error) {
	switch strings.ToLower(mode) {
	case "", db.SSLPrefer:
		return db.SSLPrefer, nil
	case db.SSLDisable, "disabled":
		return db.SSLDisable, nil
	case db.SSLRequire, "required":
		return db.SSLRequire, nil
	}
	return "", errors.Errorf("unsupported ssl mode %q: expected disable, prefer, or require", mode)
}

func setIf[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

func envInt(key, value string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, errors.Errorf("invalid %s %q: expected an integer", key, value)
	}
	return n, nil
}

func envInt64(key, value string) (int64, error) {
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, errors.Errorf("invalid %s %q: expected an integer", key, value)
	}
	return n, nil
}

func envBool(key, value string) (bool, error) {
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, errors.Errorf("invalid %s %q: expected a boolean", key, value)
	}
	return b, nil
}

// SplitList splits a comma-separated list, trimming whitespace and dropping
// empty entries. WAYPOINT_LOCATIONS and the --locations flag share this
// format.
func SplitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
