// Package history manages the schema history table: the Flyway-compatible
// record of every migration applied to a database, extended with a
// reversal_sql column for captured undo scripts.
//
// The table is created lazily inside the advisory-locked section of a run.
// Ranks are allocated atomically by the INSERT itself, so concurrent writers
// (already serialized by the advisory lock) can never collide on
// installed_rank.
package history

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"

	"github.com/waypointdb/waypoint/pkg/utils"
)

// Row types recorded in the history table.
const (
	// TypeSQL is a regular versioned or repeatable migration.
	TypeSQL RowType = "SQL"

	// TypeBaseline is the synthetic row written by the baseline command to
	// mark the version an existing database starts from.
	TypeBaseline RowType = "BASELINE"

	// TypeUndo marks a version as undone. The original row is retained; the
	// undo row records the reversal.
	TypeUndo RowType = "UNDO_SQL"

	// TypeHook records a lifecycle hook execution.
	TypeHook RowType = "HOOK"
)

// BaselineScript is the script text of the synthetic baseline row.
const BaselineScript = "<< Waypoint Baseline >>"

type (
	// RowType categorizes a history row.
	RowType string

	// Querier is the part of a pgx connection or transaction the history
	// table needs. Both *pgx.Conn and pgx.Tx satisfy it.
	Querier interface {
		Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
		Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
		QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	}

	// Row is one record of the schema history table.
	Row struct {
		InstalledRank int
		Version       *string // nil for repeatable migrations and hooks
		Description   string
		Type          RowType
		Script        string
		Checksum      *int32 // nil for baseline and hook rows
		InstalledBy   string
		InstalledOn   time.Time
		ExecutionTime int // milliseconds
		Success       bool
		ReversalSQL   *string // captured reverse DDL, nil when not captured
	}

	// Table reads and writes the schema history table.
	//
	// Example usage:
	//
	//	hist := history.New(session, "public", "waypoint_history")
	//	if err := hist.Ensure(ctx); err != nil {
	//	    return err
	//	}
	//	rows, err := hist.LoadAll(ctx)
	//	if err != nil {
	//	    return err
	//	}
	//	applied := history.NewSet(rows)
	Table struct {
		db     Querier
		schema string
		name   string
	}
)

// New returns a Table bound to db. Binding a transaction instead of the
// session scopes every write to that transaction.
func New(db Querier, schema, name string) *Table {
	return &Table{db: db, schema: schema, name: name}
}

// qualified returns the quoted schema-qualified table name.
func (t *Table) qualified() string {
	return utils.QualifiedName(t.schema, t.name)
}

// Ensure creates the history table and its indexes when missing. The ALTER
// adds the reversal column to tables created by Flyway, which lack it; on a
// table waypoint created it is a no-op.
func (t *Table) Ensure(ctx context.Context) error {
	fq := t.qualified()
	ddl := `CREATE TABLE IF NOT EXISTS ` + fq + ` (
    installed_rank INTEGER PRIMARY KEY,
    version        VARCHAR(50),
    description    VARCHAR(200) NOT NULL,
    type           VARCHAR(20) NOT NULL,
    script         VARCHAR(1000) NOT NULL,
    checksum       INTEGER,
    installed_by   VARCHAR(100) NOT NULL,
    installed_on   TIMESTAMPTZ NOT NULL DEFAULT now(),
    execution_time INTEGER NOT NULL,
    success        BOOLEAN NOT NULL,
    reversal_sql   TEXT
);
CREATE INDEX IF NOT EXISTS ` + utils.QuoteIdentifier(t.name+"_s_idx") + ` ON ` + fq + ` (success);
CREATE INDEX IF NOT EXISTS ` + utils.QuoteIdentifier(t.name+"_v_idx") + ` ON ` + fq + ` (version);
ALTER TABLE ` + fq + ` ADD COLUMN IF NOT EXISTS reversal_sql TEXT;`

	if _, err := t.db.Exec(ctx, ddl); err != nil {
		return errors.Wrapf(err, "creating history table %s", fq)
	}

	return nil
}

// Exists reports whether the history table is present.
func (t *Table) Exists(ctx context.Context) (bool, error) {
	const query = `SELECT EXISTS (
    SELECT FROM information_schema.tables
    WHERE table_schema = $1 AND table_name = $2
)`

	var exists bool
	if err := t.db.QueryRow(ctx, query, t.schema, t.name).Scan(&exists); err != nil {
		return false, errors.Wrap(err, "checking history table existence")
	}

	return exists, nil
}

// LoadAll returns every history row ordered by installed_rank.
func (t *Table) LoadAll(ctx context.Context) ([]Row, error) {
	query := `SELECT installed_rank, version, description, type, script, checksum,
    installed_by, installed_on, execution_time, success, reversal_sql
FROM ` + t.qualified() + ` ORDER BY installed_rank`

	rows, err := t.db.Query(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "loading history rows")
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var (
			row     Row
			rowType string
		)
		err := rows.Scan(
			&row.InstalledRank,
			&row.Version,
			&row.Description,
			&rowType,
			&row.Script,
			&row.Checksum,
			&row.InstalledBy,
			&row.InstalledOn,
			&row.ExecutionTime,
			&row.Success,
			&row.ReversalSQL,
		)
		if err != nil {
			return nil, errors.Wrap(err, "scanning history row")
		}
		row.Type = RowType(rowType)
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterating history rows")
	}

	return out, nil
}

// NextRank returns the rank the next insert will receive. Inserts allocate
// their rank atomically; this exists for planning and dry-run display.
func (t *Table) NextRank(ctx context.Context) (int, error) {
	query := `SELECT COALESCE(MAX(installed_rank), 0) + 1 FROM ` + t.qualified()

	var rank int
	if err := t.db.QueryRow(ctx, query).Scan(&rank); err != nil {
		return 0, errors.Wrap(err, "computing next installed_rank")
	}

	return rank, nil
}

// RecordSuccess inserts row with success forced to true.
func (t *Table) RecordSuccess(ctx context.Context, row Row) error {
	row.Success = true
	return t.insert(ctx, row)
}

// RecordFailure inserts row with success forced to false. Failed rows stay
// until repair removes them.
func (t *Table) RecordFailure(ctx context.Context, row Row) error {
	row.Success = false
	row.ReversalSQL = nil
	return t.insert(ctx, row)
}

// RecordSkip inserts a successful zero-duration row for a migration whose
// require guard removed it from the run.
func (t *Table) RecordSkip(ctx context.Context, row Row) error {
	row.Success = true
	row.ExecutionTime = 0
	row.ReversalSQL = nil
	return t.insert(ctx, row)
}

// insert writes a history row, allocating installed_rank inside the INSERT
// so the read-then-write race cannot occur.
func (t *Table) insert(ctx context.Context, row Row) error {
	fq := t.qualified()
	query := `INSERT INTO ` + fq + `
    (installed_rank, version, description, type, script, checksum, installed_by, execution_time, success, reversal_sql)
VALUES ((SELECT COALESCE(MAX(installed_rank), 0) + 1 FROM ` + fq + `), $1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := t.db.Exec(ctx, query,
		row.Version,
		row.Description,
		string(row.Type),
		row.Script,
		row.Checksum,
		row.InstalledBy,
		row.ExecutionTime,
		row.Success,
		row.ReversalSQL,
	)
	if err != nil {
		return errors.Wrapf(err, "recording history row for %s", row.Script)
	}

	return nil
}

// DeleteFailed removes all failed rows and reports how many were deleted.
func (t *Table) DeleteFailed(ctx context.Context) (int64, error) {
	tag, err := t.db.Exec(ctx, `DELETE FROM `+t.qualified()+` WHERE success = FALSE`)
	if err != nil {
		return 0, errors.Wrap(err, "deleting failed history rows")
	}

	return tag.RowsAffected(), nil
}

// UpdateChecksum realigns the stored checksum of a versioned migration.
func (t *Table) UpdateChecksum(ctx context.Context, version string, checksum int32) error {
	query := `UPDATE ` + t.qualified() + ` SET checksum = $1 WHERE version = $2 AND type = 'SQL'`
	if _, err := t.db.Exec(ctx, query, checksum, version); err != nil {
		return errors.Wrapf(err, "updating checksum of version %s", version)
	}

	return nil
}

// UpdateRepeatableChecksum realigns the stored checksum of a repeatable
// migration, identified by script name since its version is NULL.
func (t *Table) UpdateRepeatableChecksum(ctx context.Context, script string, checksum int32) error {
	query := `UPDATE ` + t.qualified() + ` SET checksum = $1 WHERE script = $2 AND version IS NULL AND type = 'SQL'`
	if _, err := t.db.Exec(ctx, query, checksum, script); err != nil {
		return errors.Wrapf(err, "updating checksum of %s", script)
	}

	return nil
}

// HasEntries reports whether the history table contains any rows.
func (t *Table) HasEntries(ctx context.Context) (bool, error) {
	var entries bool
	query := `SELECT EXISTS (SELECT 1 FROM ` + t.qualified() + `)`
	if err := t.db.QueryRow(ctx, query).Scan(&entries); err != nil {
		return false, errors.Wrap(err, "checking for history entries")
	}

	return entries, nil
}

// Baseline writes the synthetic row marking the version an existing database
// starts from. Migrations at or below it are never applied.
func (t *Table) Baseline(ctx context.Context, version, description, installedBy string) error {
	return t.insert(ctx, Row{
		Version:     &version,
		Description: description,
		Type:        TypeBaseline,
		Script:      BaselineScript,
		InstalledBy: installedBy,
		Success:     true,
	})
}
