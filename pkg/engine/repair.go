package engine

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/waypointdb/waypoint/pkg/history"
	"github.com/waypointdb/waypoint/pkg/migration"
)

// RepairReport lists what repair changed.
type RepairReport struct {
	FailedRemoved    int64    `json:"failed_removed"`
	ChecksumsUpdated int      `json:"checksums_updated"`
	Details          []string `json:"details,omitempty"`
}

// Repair reconciles the history table with the files on disk: failed rows are
// deleted so their migrations can run again, and stored checksums are
// realigned to the current file contents. All of it happens in one
// transaction under the advisory lock, and schema objects are never touched.
func (e *Engine) Repair(ctx context.Context) (*RepairReport, error) {
	dir, err := e.scan()
	if err != nil {
		return nil, err
	}

	report := &RepairReport{}
	err = e.withLock(ctx, func(ctx context.Context) error {
		if err := e.history().Ensure(ctx); err != nil {
			return fail(KindDB, err)
		}

		tx, err := e.db.Begin(ctx)
		if err != nil {
			return fail(KindDB, err)
		}

		if err := e.repairInTx(ctx, tx, dir, report); err != nil {
			_ = tx.Rollback(ctx)
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			return fail(KindDB, errors.Wrap(err, "committing repair"))
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return report, nil
}

func (e *Engine) repairInTx(ctx context.Context, tx pgx.Tx, dir *migration.Dir, report *RepairReport) error {
	hist := history.New(tx, e.cfg.Migrations.Schema, e.cfg.Migrations.Table)

	removed, err := hist.DeleteFailed(ctx)
	if err != nil {
		return fail(KindDB, err)
	}
	report.FailedRemoved = removed
	if removed > 0 {
		report.Details = append(report.Details, fmt.Sprintf("removed %d failed migration record(s)", removed))
	}

	rows, err := hist.LoadAll(ctx)
	if err != nil {
		return fail(KindDB, err)
	}
	set := history.NewSet(rows)

	for _, raw := range set.AppliedVersions() {
		row := set.AppliedRow(raw)
		if row == nil || row.Type != history.TypeSQL {
			continue
		}

		file := findVersionedRaw(dir, raw)
		if file == nil || (row.Checksum != nil && *row.Checksum == file.Checksum) {
			continue
		}

		if err := hist.UpdateChecksum(ctx, raw, file.Checksum); err != nil {
			return fail(KindDB, err)
		}
		report.ChecksumsUpdated++
		report.Details = append(report.Details, fmt.Sprintf(
			"updated checksum for version %s (%s -> %d)", raw, fmtChecksum(row.Checksum), file.Checksum))
	}

	for _, row := range lastRepeatables(set) {
		file := findRepeatable(dir, row.Description)
		if file == nil || (row.Checksum != nil && *row.Checksum == file.Checksum) {
			continue
		}

		if err := hist.UpdateRepeatableChecksum(ctx, row.Script, file.Checksum); err != nil {
			return fail(KindDB, err)
		}
		report.ChecksumsUpdated++
		report.Details = append(report.Details, fmt.Sprintf(
			"updated checksum for repeatable %q (%s -> %d)", row.Description, fmtChecksum(row.Checksum), file.Checksum))
	}

	return nil
}
