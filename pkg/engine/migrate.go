package engine

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/waypointdb/waypoint/pkg/config"
	"github.com/waypointdb/waypoint/pkg/guard"
	"github.com/waypointdb/waypoint/pkg/history"
	"github.com/waypointdb/waypoint/pkg/migration"
	"github.com/waypointdb/waypoint/pkg/safety"
	"github.com/waypointdb/waypoint/pkg/schema"
	"github.com/waypointdb/waypoint/pkg/schemadiff"
	"github.com/waypointdb/waypoint/pkg/sqlsplit"
	"github.com/waypointdb/waypoint/pkg/utils"
)

// Status is the outcome of one migration within a run.
type Status string

const (
	// StatusApplied means the migration ran and its history row committed.
	StatusApplied Status = "applied"

	// StatusSkipped means a require guard removed it from this run.
	StatusSkipped Status = "skipped"

	// StatusPending means a dry run would apply it.
	StatusPending Status = "pending"

	// StatusFailed means a statement or ensure guard failed.
	StatusFailed Status = "failed"
)

type (
	// MigrateOptions are the per-invocation switches; everything durable
	// comes from the configuration.
	MigrateOptions struct {
		// DryRun plans, expands, and analyzes without locking or writing
		DryRun bool

		// SafetyOverride applies migrations despite a DANGER verdict
		SafetyOverride bool
	}

	// MigrateReport is the outcome of a migrate run. It is returned alongside
	// a non-nil error when the run fails partway, so callers still see what
	// committed before the failure.
	MigrateReport struct {
		Applied     int             `json:"applied"`
		Skipped     int             `json:"skipped"`
		HooksRun    int             `json:"hooks_run"`
		TotalTimeMs int64           `json:"total_time_ms"`
		DryRun      bool            `json:"dry_run,omitempty"`
		Details     []MigrateDetail `json:"details"`
	}

	// MigrateDetail describes one migration's outcome.
	MigrateDetail struct {
		Version     string   `json:"version,omitempty"`
		Description string   `json:"description"`
		Script      string   `json:"script"`
		Status      Status   `json:"status"`
		TimeMs      int64    `json:"execution_time_ms"`
		Verdict     string   `json:"safety_verdict,omitempty"`
		Statements  int      `json:"statements,omitempty"`
		SQL         []string `json:"sql,omitempty"`
	}

	// runState carries everything resolved once per locked run.
	runState struct {
		dir      *migration.Dir
		set      *history.Set
		hist     *history.Table
		ident    identity
		analyzer *safety.Analyzer
		override bool
		report   *MigrateReport
	}

	// prepared is a migration ready to execute: placeholders expanded, SQL
	// split, and the safety gate passed.
	prepared struct {
		m     *migration.Migration
		stmts []sqlsplit.Statement
		nonTx bool
		worst safety.Verdict
	}
)

// Migrate applies every pending migration. Versioned migrations run in
// version order (or dependency order when configured), repeatable ones after
// them; each migration's statements, ensure guards, and history row share a
// transaction, and in batch mode the whole run shares one. The first failure
// stops the run with the failure recorded in history.
func (e *Engine) Migrate(ctx context.Context, opts MigrateOptions) (*MigrateReport, error) {
	dir, err := e.scan()
	if err != nil {
		return nil, err
	}

	if opts.DryRun {
		return e.dryRun(ctx, dir)
	}

	report := &MigrateReport{}
	err = e.withLock(ctx, func(ctx context.Context) error {
		return e.migrateLocked(ctx, dir, opts, report)
	})

	return report, err
}

func (e *Engine) migrateLocked(ctx context.Context, dir *migration.Dir, opts MigrateOptions, report *MigrateReport) error {
	started := time.Now()

	hist := e.history()
	if err := hist.Ensure(ctx); err != nil {
		return fail(KindDB, err)
	}

	rows, err := hist.LoadAll(ctx)
	if err != nil {
		return fail(KindDB, err)
	}
	set := history.NewSet(rows)

	if e.cfg.Migrations.ValidateOnMigrate {
		vr := e.validateReport(dir, set, ValidateOptions{})
		for _, w := range vr.Warnings {
			e.log.Warn(w)
		}
		if err := vr.Err(); err != nil {
			return err
		}
	}

	ident, err := e.identify(ctx)
	if err != nil {
		return err
	}

	st := &runState{
		dir:      dir,
		set:      set,
		hist:     hist,
		ident:    ident,
		analyzer: safety.NewAnalyzer(e.db, e.cfg.Migrations.Schema, e.cfg.SafetyThresholds()),
		override: opts.SafetyOverride,
		report:   report,
	}

	if err := e.runHooks(ctx, st, nil, migration.HookBeforeMigrate, string(migration.HookBeforeMigrate)); err != nil {
		return err
	}

	pl, err := buildPlan(dir, set, e.planOptions())
	if err != nil {
		return err
	}

	switch {
	case pl.empty():
		e.log.Info("schema is up to date", "schema", e.cfg.Migrations.Schema)
	case e.cfg.Migrations.Batch:
		if err := e.applyBatch(ctx, st, pl); err != nil {
			return err
		}
	default:
		if err := e.applyEach(ctx, st, pl); err != nil {
			return err
		}
	}

	if err := e.runHooks(ctx, st, nil, migration.HookAfterMigrate, string(migration.HookAfterMigrate)); err != nil {
		return err
	}

	report.TotalTimeMs = time.Since(started).Milliseconds()

	return nil
}

// applyEach runs the plan one transaction per migration.
func (e *Engine) applyEach(ctx context.Context, st *runState, pl *plan) error {
	for _, m := range pl.migrations() {
		skipped, err := e.checkRequireGuards(ctx, st, e.db, m)
		if err != nil {
			return err
		}
		if skipped {
			continue
		}

		if err := e.runHooks(ctx, st, nil, migration.HookBeforeEachMigrate, m.Script); err != nil {
			return err
		}

		prep, err := e.prepare(ctx, st, m)
		if err != nil {
			return err
		}

		detail, err := e.applyOne(ctx, st, prep)
		st.report.Details = append(st.report.Details, detail)
		if err != nil {
			return err
		}
		st.report.Applied++
		e.log.Info("applied migration", "script", m.Script, "time_ms", detail.TimeMs)

		if err := e.runHooks(ctx, st, nil, migration.HookAfterEachMigrate, m.Script); err != nil {
			return err
		}
	}

	return nil
}

// applyBatch runs the whole plan in a single transaction. Guards, expansion,
// and safety analysis all happen before BEGIN, so a refusal leaves no trace;
// per-migration hooks and history rows ride inside the batch transaction and
// roll back with it.
func (e *Engine) applyBatch(ctx context.Context, st *runState, pl *plan) error {
	preps := make([]*prepared, 0, len(pl.versioned)+len(pl.repeatable))
	for _, m := range pl.migrations() {
		skipped, err := e.checkRequireGuards(ctx, st, e.db, m)
		if err != nil {
			return err
		}
		if skipped {
			continue
		}

		prep, err := e.prepare(ctx, st, m)
		if err != nil {
			return err
		}
		if prep.nonTx {
			return failf(KindConfiguration,
				"%s must run outside a transaction and cannot be part of a batch; disable batch or move it to its own run",
				m.Script)
		}

		preps = append(preps, prep)
	}

	if len(preps) == 0 {
		return nil
	}

	tx, err := e.db.Begin(ctx)
	if err != nil {
		return fail(KindDB, err)
	}

	var details []MigrateDetail
	for _, prep := range preps {
		if err := e.runHooks(ctx, st, tx, migration.HookBeforeEachMigrate, prep.m.Script); err != nil {
			_ = tx.Rollback(ctx)
			return err
		}

		started := time.Now()
		if err := e.applyInTx(ctx, st, tx, prep); err != nil {
			_ = tx.Rollback(ctx)
			elapsed := time.Since(started).Milliseconds()
			e.recordFailure(ctx, st, prep.m, elapsed)
			st.report.Details = append(st.report.Details, failedDetail(prep, elapsed))

			return err
		}
		details = append(details, appliedDetail(prep, time.Since(started).Milliseconds()))

		if err := e.runHooks(ctx, st, tx, migration.HookAfterEachMigrate, prep.m.Script); err != nil {
			_ = tx.Rollback(ctx)
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fail(KindDB, errors.Wrap(err, "committing batch"))
	}

	st.report.Details = append(st.report.Details, details...)
	st.report.Applied += len(details)
	e.log.Info("applied batch", "migrations", len(details))

	return nil
}

// prepare expands placeholders, splits the SQL, flags non-transactional
// statements, and applies the safety gate. A DANGER verdict without an
// override refuses the migration before any of it runs.
func (e *Engine) prepare(ctx context.Context, st *runState, m *migration.Migration) (*prepared, error) {
	exp := e.placeholders(st.ident, m.Script)
	sql, err := e.expand(exp, m.Script, m.RawSQL)
	if err != nil {
		return nil, err
	}

	stmts, err := sqlsplit.Split(sql)
	if err != nil {
		return nil, failf(KindParse, "splitting %s: %v", m.Script, err)
	}

	var nonTx bool
	for _, stmt := range stmts {
		op, ok := safety.NonTransactional(stmt.SQL)
		if !ok {
			continue
		}
		if len(stmts) > 1 {
			return nil, failf(KindMigration,
				"%s: %s cannot run inside a transaction and must be the only statement in the migration",
				m.Script, op)
		}
		nonTx = true
	}

	assessments, err := st.analyzer.Analyze(ctx, stmts)
	if err != nil {
		return nil, fail(KindDB, err)
	}

	verdicts := make([]safety.Verdict, len(assessments))
	for i, a := range assessments {
		verdicts[i] = a.Verdict
	}
	worst := safety.Worst(verdicts...)

	switch worst {
	case safety.VerdictCaution:
		e.log.Warn("migration needs caution", "script", m.Script, "hints", hints(assessments, safety.VerdictCaution))
	case safety.VerdictDanger:
		override := st.override || m.Directives.SafetyOverride
		if e.cfg.Safety.BlockOnDanger && !override {
			return nil, failf(KindSafety, "%s is classified DANGER: %s; pass --safety-override or add a safety-override directive to apply it anyway",
				m.Script, strings.Join(hints(assessments, safety.VerdictDanger), "; "))
		}
		e.log.Warn("applying DANGER migration under override", "script", m.Script,
			"hints", hints(assessments, safety.VerdictDanger))
	}

	return &prepared{m: m, stmts: stmts, nonTx: nonTx, worst: worst}, nil
}

// applyOne executes a prepared migration in per-migration mode.
func (e *Engine) applyOne(ctx context.Context, st *runState, prep *prepared) (MigrateDetail, error) {
	started := time.Now()

	var err error
	if prep.nonTx {
		err = e.applyNonTransactional(ctx, st, prep)
	} else {
		err = e.applyTransactional(ctx, st, prep)
	}

	elapsed := time.Since(started).Milliseconds()
	if err != nil {
		return failedDetail(prep, elapsed), err
	}

	return appliedDetail(prep, elapsed), nil
}

func (e *Engine) applyTransactional(ctx context.Context, st *runState, prep *prepared) error {
	tx, err := e.db.Begin(ctx)
	if err != nil {
		return fail(KindDB, err)
	}

	started := time.Now()
	if err := e.applyInTx(ctx, st, tx, prep); err != nil {
		_ = tx.Rollback(ctx)
		e.recordFailure(ctx, st, prep.m, time.Since(started).Milliseconds())

		return err
	}

	if err := tx.Commit(ctx); err != nil {
		e.recordFailure(ctx, st, prep.m, time.Since(started).Milliseconds())

		return fail(KindDB, errors.Wrapf(err, "committing %s", prep.m.Script))
	}

	return nil
}

// applyInTx runs a migration's statements, its ensure guards, reversal
// capture, and the history insert on one transaction. The caller owns commit
// and rollback.
func (e *Engine) applyInTx(ctx context.Context, st *runState, tx pgx.Tx, prep *prepared) error {
	m := prep.m
	started := time.Now()

	capture := e.cfg.Reversal.Capture && m.Kind == migration.KindVersioned
	var before *schema.Snapshot
	if capture {
		snap, err := e.snapshotOn(ctx, tx)
		if err != nil {
			return err
		}
		before = snap
	}

	for i, stmt := range prep.stmts {
		if _, err := tx.Exec(ctx, stmt.SQL); err != nil {
			return fail(KindMigration, &MigrationError{
				Script:    m.Script,
				Version:   versionOf(m),
				Statement: i + 1,
				Line:      stmt.Line,
				Err:       err,
			})
		}
	}

	if err := e.checkEnsureGuards(ctx, tx, m); err != nil {
		return err
	}

	var reversal *string
	if capture {
		after, err := e.snapshotOn(ctx, tx)
		if err != nil {
			return err
		}

		diff := schemadiff.Compare(before, after)
		for _, w := range diff.Warnings() {
			e.log.Warn("reversal capture", "script", m.Script, "warning", w)
		}
		if !diff.Empty() {
			if sql := diff.ReverseSQL(); sql != "" {
				reversal = &sql
			}
		}
	}

	row := historyRow(m, st.ident.installedBy, int(time.Since(started).Milliseconds()), reversal)
	txHist := history.New(tx, e.cfg.Migrations.Schema, e.cfg.Migrations.Table)
	if err := txHist.RecordSuccess(ctx, row); err != nil {
		return fail(KindDB, errors.Wrapf(err, "recording %s", m.Script))
	}

	return nil
}

// applyNonTransactional runs a sole VACUUM-class statement directly on the
// session. There is no surrounding transaction, so no reversal is captured
// and a failure cannot roll anything back.
func (e *Engine) applyNonTransactional(ctx context.Context, st *runState, prep *prepared) error {
	m := prep.m
	stmt := prep.stmts[0]
	started := time.Now()

	if _, err := e.db.Exec(ctx, stmt.SQL); err != nil {
		e.recordFailure(ctx, st, m, time.Since(started).Milliseconds())

		return fail(KindMigration, &MigrationError{
			Script:    m.Script,
			Version:   versionOf(m),
			Statement: 1,
			Line:      stmt.Line,
			Err:       err,
		})
	}

	if err := e.checkEnsureGuards(ctx, e.db, m); err != nil {
		e.recordFailure(ctx, st, m, time.Since(started).Milliseconds())

		return err
	}

	row := historyRow(m, st.ident.installedBy, int(time.Since(started).Milliseconds()), nil)
	if err := st.hist.RecordSuccess(ctx, row); err != nil {
		return fail(KindDB, errors.Wrapf(err, "recording %s", m.Script))
	}

	return nil
}

// checkRequireGuards evaluates a migration's require directives against
// committed state. A false guard follows the configured policy; under skip
// the migration is recorded as skipped and reported back as such.
func (e *Engine) checkRequireGuards(ctx context.Context, st *runState, run runner, m *migration.Migration) (bool, error) {
	for _, expr := range m.Directives.Require {
		if _, err := guard.Parse(expr); err != nil {
			return false, failf(KindParse, "%s: require guard %q: %v", m.Script, expr, err)
		}

		ok, err := e.evaluator(run).Eval(ctx, expr)
		if err != nil {
			return false, fail(KindGuard, errors.Wrapf(err, "%s: evaluating require guard %q", m.Script, expr))
		}
		if ok {
			continue
		}

		switch e.cfg.Migrations.OnRequireFail {
		case config.RequireFailWarn:
			e.log.Warn("require guard failed, applying anyway", "script", m.Script, "guard", expr)
		case config.RequireFailSkip:
			e.log.Info("require guard failed, skipping", "script", m.Script, "guard", expr)
			if err := e.recordSkip(ctx, st, m); err != nil {
				return false, err
			}

			return true, nil
		default:
			return false, failf(KindGuard, "%s: require guard failed: %s", m.Script, expr)
		}
	}

	return false, nil
}

// checkEnsureGuards evaluates ensure directives on the migration's own
// transaction so they see its uncommitted effects. A false guard fails the
// migration.
func (e *Engine) checkEnsureGuards(ctx context.Context, run runner, m *migration.Migration) error {
	for _, expr := range m.Directives.Ensure {
		if _, err := guard.Parse(expr); err != nil {
			return failf(KindParse, "%s: ensure guard %q: %v", m.Script, expr, err)
		}

		ok, err := e.evaluator(run).Eval(ctx, expr)
		if err != nil {
			return fail(KindGuard, errors.Wrapf(err, "%s: evaluating ensure guard %q", m.Script, expr))
		}
		if !ok {
			return failf(KindGuard, "%s: ensure guard failed after apply: %s", m.Script, expr)
		}
	}

	return nil
}

func (e *Engine) evaluator(run runner) *guard.Evaluator {
	opts := []guard.Option{guard.WithSchema(e.cfg.Migrations.Schema)}
	if e.cfg.Guards.DisableSQLGuard {
		opts = append(opts, guard.WithoutSQLEscape())
	}

	return guard.NewEvaluator(run, opts...)
}

func (e *Engine) recordSkip(ctx context.Context, st *runState, m *migration.Migration) error {
	if err := st.hist.RecordSkip(ctx, historyRow(m, st.ident.installedBy, 0, nil)); err != nil {
		return fail(KindDB, errors.Wrapf(err, "recording skipped %s", m.Script))
	}

	st.report.Skipped++
	st.report.Details = append(st.report.Details, MigrateDetail{
		Version:     versionOf(m),
		Description: m.Description,
		Script:      m.Script,
		Status:      StatusSkipped,
	})

	return nil
}

// recordFailure writes the failed history row on the session connection,
// after the migration's transaction has rolled back.
func (e *Engine) recordFailure(ctx context.Context, st *runState, m *migration.Migration, elapsedMs int64) {
	if err := st.hist.RecordFailure(ctx, historyRow(m, st.ident.installedBy, int(elapsedMs), nil)); err != nil {
		e.log.Error("failed to record migration failure", "script", m.Script, "error", err)
	}
}

// snapshotOn introspects the managed schema through the given transaction so
// uncommitted DDL is visible; the history table stays out of the picture.
func (e *Engine) snapshotOn(ctx context.Context, tx pgx.Tx) (*schema.Snapshot, error) {
	snap, err := schema.NewIntrospector(tx).Snapshot(ctx, e.cfg.Migrations.Schema, e.cfg.Migrations.Table)
	if err != nil {
		return nil, fail(KindDB, errors.Wrap(err, "snapshotting schema"))
	}

	return snap, nil
}

// dryRun reports what a migrate would do: the plan, the expanded statements,
// and their safety verdicts. It takes no lock and writes nothing.
func (e *Engine) dryRun(ctx context.Context, dir *migration.Dir) (*MigrateReport, error) {
	report := &MigrateReport{DryRun: true}

	hist := e.history()
	exists, err := hist.Exists(ctx)
	if err != nil {
		return nil, fail(KindDB, err)
	}

	var rows []history.Row
	if exists {
		if rows, err = hist.LoadAll(ctx); err != nil {
			return nil, fail(KindDB, err)
		}
	}
	set := history.NewSet(rows)

	ident, err := e.identify(ctx)
	if err != nil {
		return nil, err
	}

	pl, err := buildPlan(dir, set, e.planOptions())
	if err != nil {
		return nil, err
	}

	analyzer := safety.NewAnalyzer(e.db, e.cfg.Migrations.Schema, e.cfg.SafetyThresholds())
	for _, m := range pl.migrations() {
		exp := e.placeholders(ident, m.Script)
		sql, err := e.expand(exp, m.Script, m.RawSQL)
		if err != nil {
			return nil, err
		}

		stmts, err := sqlsplit.Split(sql)
		if err != nil {
			return nil, failf(KindParse, "splitting %s: %v", m.Script, err)
		}

		assessments, err := analyzer.Analyze(ctx, stmts)
		if err != nil {
			return nil, fail(KindDB, err)
		}
		verdicts := make([]safety.Verdict, len(assessments))
		for i, a := range assessments {
			verdicts[i] = a.Verdict
		}

		detail := MigrateDetail{
			Version:     versionOf(m),
			Description: m.Description,
			Script:      m.Script,
			Status:      StatusPending,
			Verdict:     string(safety.Worst(verdicts...)),
			Statements:  len(stmts),
		}
		for _, stmt := range stmts {
			detail.SQL = append(detail.SQL, stmt.SQL)
		}
		report.Details = append(report.Details, detail)
	}

	return report, nil
}

func historyRow(m *migration.Migration, installedBy string, elapsedMs int, reversal *string) history.Row {
	row := history.Row{
		Description:   m.Description,
		Type:          history.TypeSQL,
		Script:        m.Script,
		Checksum:      utils.Ptr(m.Checksum),
		InstalledBy:   installedBy,
		ExecutionTime: elapsedMs,
		ReversalSQL:   reversal,
	}
	if m.Kind == migration.KindVersioned {
		row.Version = utils.Ptr(m.Version.String())
	}

	return row
}

func versionOf(m *migration.Migration) string {
	if m.Kind == migration.KindVersioned {
		return m.Version.String()
	}

	return ""
}

func appliedDetail(prep *prepared, elapsedMs int64) MigrateDetail {
	return MigrateDetail{
		Version:     versionOf(prep.m),
		Description: prep.m.Description,
		Script:      prep.m.Script,
		Status:      StatusApplied,
		TimeMs:      elapsedMs,
		Verdict:     string(prep.worst),
		Statements:  len(prep.stmts),
	}
}

func failedDetail(prep *prepared, elapsedMs int64) MigrateDetail {
	d := appliedDetail(prep, elapsedMs)
	d.Status = StatusFailed

	return d
}

// hints collects the assessment hints at one verdict level.
func hints(assessments []safety.Assessment, level safety.Verdict) []string {
	var out []string
	for _, a := range assessments {
		if a.Verdict == level && a.Hint != "" {
			out = append(out, a.Hint)
		}
	}

	return out
}
