package engine

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/waypointdb/waypoint/pkg/history"
	"github.com/waypointdb/waypoint/pkg/migration"
	"github.com/waypointdb/waypoint/pkg/sqlsplit"
	"github.com/waypointdb/waypoint/pkg/utils"
)

// Undo source values.
const (
	// UndoSourceFile means a U-prefixed migration performed the undo.
	UndoSourceFile = "file"

	// UndoSourceReversal means the reverse DDL captured at apply time did.
	UndoSourceReversal = "reversal"
)

type (
	// UndoOptions selects how far back to roll.
	UndoOptions struct {
		// Target undoes every applied version at or above it; empty undoes
		// only the latest applied version
		Target string
	}

	// UndoDetail describes one undone version.
	UndoDetail struct {
		Version     string `json:"version"`
		Description string `json:"description"`
		Script      string `json:"script"`
		Source      string `json:"source"`
		TimeMs      int64  `json:"execution_time_ms"`
	}

	// UndoReport is the outcome of an undo run.
	UndoReport struct {
		Undone      int          `json:"undone"`
		TotalTimeMs int64        `json:"total_time_ms"`
		Details     []UndoDetail `json:"details"`
	}

	// appliedVersion pairs a parsed version with its current applied row.
	appliedVersion struct {
		version migration.Version
		row     history.Row
	}
)

// Undo rolls applied versioned migrations back, newest first, down to and
// including the target version. Each version prefers its U-prefixed undo file
// and falls back to the reversal captured when it was applied; a version with
// neither stops the run. Every undo runs in its own transaction and appends
// an UNDO_SQL row; the original rows are kept, and an undone version is
// pending again for the next migrate.
func (e *Engine) Undo(ctx context.Context, opts UndoOptions) (*UndoReport, error) {
	dir, err := e.scan()
	if err != nil {
		return nil, err
	}

	var target *migration.Version
	if opts.Target != "" {
		v, err := migration.ParseVersion(opts.Target)
		if err != nil {
			return nil, failf(KindConfiguration, "invalid target version %q: %v", opts.Target, err)
		}
		target = &v
	}

	report := &UndoReport{}
	err = e.withLock(ctx, func(ctx context.Context) error {
		started := time.Now()

		hist := e.history()
		exists, err := hist.Exists(ctx)
		if err != nil {
			return fail(KindDB, err)
		}
		if !exists {
			e.log.Info("no history table, nothing to undo")
			return nil
		}

		rows, err := hist.LoadAll(ctx)
		if err != nil {
			return fail(KindDB, err)
		}
		set := history.NewSet(rows)

		applied := e.appliedForUndo(set)
		if len(applied) == 0 {
			e.log.Info("no applied versioned migrations, nothing to undo")
			return nil
		}
		if target == nil {
			target = &applied[0].version
		}

		ident, err := e.identify(ctx)
		if err != nil {
			return err
		}

		for _, entry := range applied {
			if entry.version.Less(*target) {
				break
			}

			detail, err := e.undoOne(ctx, hist, dir, ident, entry)
			if err != nil {
				return err
			}
			report.Details = append(report.Details, detail)
			report.Undone++
		}

		report.TotalTimeMs = time.Since(started).Milliseconds()

		return nil
	})

	return report, err
}

// appliedForUndo collects the currently applied versioned migrations, newest
// first. Baseline markers cannot be undone and versions in formats we do not
// parse cannot be ordered, so both stay out.
func (e *Engine) appliedForUndo(set *history.Set) []appliedVersion {
	var out []appliedVersion
	for _, raw := range set.AppliedVersions() {
		row := set.AppliedRow(raw)
		if row == nil || row.Type != history.TypeSQL {
			continue
		}

		v, err := migration.ParseVersion(raw)
		if err != nil {
			e.log.Warn("cannot undo version written by another tool", "version", raw, "script", row.Script)
			continue
		}

		out = append(out, appliedVersion{version: v, row: *row})
	}

	sort.Slice(out, func(i, j int) bool { return out[j].version.Less(out[i].version) })

	return out
}

func (e *Engine) undoOne(ctx context.Context, hist *history.Table, dir *migration.Dir, ident identity, entry appliedVersion) (UndoDetail, error) {
	detail := UndoDetail{Version: entry.version.String()}

	undoFile := dir.FindUndo(entry.version)

	var sql string
	switch {
	case undoFile != nil:
		expanded, err := e.expand(e.placeholders(ident, undoFile.Script), undoFile.Script, undoFile.RawSQL)
		if err != nil {
			return detail, err
		}
		sql = expanded
		detail.Description = undoFile.Description
		detail.Script = undoFile.Script
		detail.Source = UndoSourceFile
	case entry.row.ReversalSQL != nil && strings.TrimSpace(*entry.row.ReversalSQL) != "":
		sql = *entry.row.ReversalSQL
		detail.Description = entry.row.Description
		detail.Script = entry.row.Script
		detail.Source = UndoSourceReversal
	default:
		return detail, failf(KindUndo,
			"no undo migration or captured reversal for version %s (%s)", entry.version, entry.row.Script)
	}

	stmts, err := sqlsplit.Split(sql)
	if err != nil {
		return detail, failf(KindParse, "splitting undo for version %s: %v", entry.version, err)
	}

	row := history.Row{
		Version:     utils.Ptr(entry.version.String()),
		Description: detail.Description,
		Type:        history.TypeUndo,
		Script:      detail.Script,
		InstalledBy: ident.installedBy,
	}
	if undoFile != nil {
		row.Checksum = utils.Ptr(undoFile.Checksum)
	}

	started := time.Now()
	tx, err := e.db.Begin(ctx)
	if err != nil {
		return detail, fail(KindDB, err)
	}

	for i, stmt := range stmts {
		if _, err := tx.Exec(ctx, stmt.SQL); err != nil {
			_ = tx.Rollback(ctx)
			row.ExecutionTime = int(time.Since(started).Milliseconds())
			if rerr := hist.RecordFailure(ctx, row); rerr != nil {
				e.log.Error("failed to record undo failure", "version", detail.Version, "error", rerr)
			}

			return detail, fail(KindUndo, errors.Wrapf(err,
				"undo of version %s failed at statement %d (line %d)", entry.version, i+1, stmt.Line))
		}
	}

	row.ExecutionTime = int(time.Since(started).Milliseconds())
	txHist := history.New(tx, e.cfg.Migrations.Schema, e.cfg.Migrations.Table)
	if err := txHist.RecordSuccess(ctx, row); err != nil {
		_ = tx.Rollback(ctx)
		return detail, fail(KindDB, errors.Wrapf(err, "recording undo of version %s", entry.version))
	}

	if err := tx.Commit(ctx); err != nil {
		return detail, fail(KindDB, errors.Wrapf(err, "committing undo of version %s", entry.version))
	}

	detail.TimeMs = time.Since(started).Milliseconds()
	e.log.Info("undid migration", "version", detail.Version, "script", detail.Script, "source", detail.Source)

	return detail, nil
}
