package format

import (
	"fmt"

	"github.com/waypointdb/waypoint/pkg/engine"
	"github.com/waypointdb/waypoint/pkg/safety"
)

// Migrate renders a migrate run as a line report. When the run failed
// partway the report still lists what committed; the caller prints the
// error itself.
func (r *Renderer) Migrate(report *engine.MigrateReport) error {
	if report.DryRun {
		return r.dryRun(report)
	}

	var lines []string
	if report.HooksRun > 0 {
		lines = append(lines, r.pal.dim.Sprintf("Executed %d hook(s)", report.HooksRun))
	}

	switch {
	case report.Applied > 0:
		lines = append(lines, r.pal.okHdr.Sprintf(
			"✅ Successfully applied %d migration(s) (execution time %dms)",
			report.Applied, report.TotalTimeMs))
	case !hasFailed(report):
		lines = append(lines, r.pal.ok.Sprint("✅ Schema is up to date. No migration necessary."))
	}

	for _, d := range report.Details {
		lines = append(lines, r.migrateLine(d))
	}
	return writeLines(r.w, lines)
}

// Simulate renders a rehearsal: where it ran, then the migrate report the
// rehearsal produced.
func (r *Renderer) Simulate(report *engine.SimulateReport) error {
	header := r.pal.info.Sprintf("🧪 Simulated against scratch schema %q", report.Schema)
	if err := writeLines(r.w, []string{header}); err != nil {
		return err
	}
	if report.Report == nil {
		return nil
	}
	return r.Migrate(report.Report)
}

func (r *Renderer) dryRun(report *engine.MigrateReport) error {
	if len(report.Details) == 0 {
		return writeLines(r.w, []string{r.pal.ok.Sprint("✅ Schema is up to date. No migration necessary.")})
	}

	lines := []string{r.pal.warn.Sprintf("Dry run: %d migration(s) would be applied", len(report.Details))}
	for _, d := range report.Details {
		line := fmt.Sprintf("  → %s (%d statements)", migrateLabel(d), d.Statements)
		if d.Verdict != "" {
			line += " " + r.verdictTag(d.Verdict)
		}
		lines = append(lines, line)
		for _, stmt := range d.SQL {
			lines = append(lines, r.pal.dim.Sprint("      "+stmt))
		}
	}
	return writeLines(r.w, lines)
}

func (r *Renderer) migrateLine(d engine.MigrateDetail) string {
	label := migrateLabel(d)
	switch d.Status {
	case engine.StatusSkipped:
		return r.pal.dim.Sprintf("  → %s (skipped by require guard)", label)
	case engine.StatusFailed:
		return fmt.Sprintf("  → %s %s", label, r.pal.failHdr.Sprint("(failed)"))
	default:
		line := fmt.Sprintf("  → %s (%dms)", label, d.TimeMs)
		if d.Verdict != "" && d.Verdict != string(safety.VerdictSafe) {
			line += " " + r.verdictTag(d.Verdict)
		}
		return line
	}
}

func (r *Renderer) verdictTag(verdict string) string {
	tag := "[" + verdict + "]"
	if verdict == string(safety.VerdictDanger) {
		return r.pal.failHdr.Sprint(tag)
	}
	if verdict == string(safety.VerdictCaution) {
		return r.pal.warn.Sprint(tag)
	}
	return r.pal.dim.Sprint(tag)
}

func migrateLabel(d engine.MigrateDetail) string {
	version := d.Version
	if version == "" {
		version = "(repeatable)"
	}
	return version + " - " + d.Description
}

func hasFailed(report *engine.MigrateReport) bool {
	for _, d := range report.Details {
		if d.Status == engine.StatusFailed {
			return true
		}
	}
	return false
}
