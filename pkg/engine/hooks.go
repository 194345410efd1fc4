package engine

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/waypointdb/waypoint/pkg/history"
	"github.com/waypointdb/waypoint/pkg/migration"
	"github.com/waypointdb/waypoint/pkg/sqlsplit"
)

// loadConfigHooks reads the hook scripts listed in configuration and appends
// them to the hooks discovered by filename, preserving list order after the
// scanned ones. A listed file that cannot be read aborts the run; a missing
// hook named in config is a misconfiguration, not something to skip past.
func (e *Engine) loadConfigHooks(dir *migration.Dir) error {
	groups := []struct {
		typ   migration.HookType
		paths []string
	}{
		{migration.HookBeforeMigrate, e.cfg.Hooks.BeforeMigrate},
		{migration.HookAfterMigrate, e.cfg.Hooks.AfterMigrate},
		{migration.HookBeforeEachMigrate, e.cfg.Hooks.BeforeEachMigrate},
		{migration.HookAfterEachMigrate, e.cfg.Hooks.AfterEachMigrate},
	}

	for _, group := range groups {
		for _, path := range group.paths {
			raw, err := os.ReadFile(path)
			if err != nil {
				return failf(KindConfiguration, "reading hook %s: %v", path, err)
			}

			dir.Hooks[group.typ] = append(dir.Hooks[group.typ], &migration.Hook{
				Type:   group.typ,
				Script: filepath.Base(path),
				Path:   path,
				RawSQL: string(raw),
			})
		}
	}

	return nil
}

// runHooks executes every hook of one type in order. filename is what hook
// placeholders see as ${filename}: the migration script for the per-migration
// types, the phase name for the run-level ones. Each execution writes a HOOK
// history row and the first failure aborts the run.
//
// With a non-nil tx the hooks run on it and commit or vanish with the batch;
// otherwise each hook gets its own transaction.
func (e *Engine) runHooks(ctx context.Context, st *runState, tx pgx.Tx, typ migration.HookType, filename string) error {
	for _, h := range st.dir.Hooks[typ] {
		if err := e.runHook(ctx, st, tx, h, filename); err != nil {
			return err
		}
		st.report.HooksRun++
	}

	return nil
}

func (e *Engine) runHook(ctx context.Context, st *runState, tx pgx.Tx, h *migration.Hook, filename string) error {
	exp := e.placeholders(st.ident, filename)
	sql, err := e.expand(exp, h.Script, h.RawSQL)
	if err != nil {
		return err
	}

	stmts, err := sqlsplit.Split(sql)
	if err != nil {
		return failf(KindParse, "splitting hook %s: %v", h.Script, err)
	}

	started := time.Now()
	execErr := e.execHook(ctx, tx, stmts)
	elapsed := int(time.Since(started).Milliseconds())

	row := history.Row{
		Description:   string(h.Type),
		Type:          history.TypeHook,
		Script:        h.Script,
		InstalledBy:   st.ident.installedBy,
		ExecutionTime: elapsed,
	}

	if execErr != nil {
		// Inside a batch the session connection still sits in the doomed
		// transaction, so a failure row written here would roll back with it.
		if tx == nil {
			if err := st.hist.RecordFailure(ctx, row); err != nil {
				e.log.Error("failed to record hook failure", "script", h.Script, "error", err)
			}
		}

		return fail(KindHook, errors.Wrapf(execErr, "hook %s (%s)", h.Script, h.Type))
	}

	rec := st.hist
	if tx != nil {
		rec = history.New(tx, e.cfg.Migrations.Schema, e.cfg.Migrations.Table)
	}
	if err := rec.RecordSuccess(ctx, row); err != nil {
		return fail(KindDB, errors.Wrapf(err, "recording hook %s", h.Script))
	}

	e.log.Debug("ran hook", "script", h.Script, "type", h.Type, "time_ms", elapsed)

	return nil
}

func (e *Engine) execHook(ctx context.Context, tx pgx.Tx, stmts []sqlsplit.Statement) error {
	if tx != nil {
		for _, stmt := range stmts {
			if _, err := tx.Exec(ctx, stmt.SQL); err != nil {
				return err
			}
		}

		return nil
	}

	own, err := e.db.Begin(ctx)
	if err != nil {
		return err
	}

	for _, stmt := range stmts {
		if _, err := own.Exec(ctx, stmt.SQL); err != nil {
			_ = own.Rollback(ctx)
			return err
		}
	}

	return own.Commit(ctx)
}
