package format

import (
	"fmt"
	"strings"

	"github.com/waypointdb/waypoint/pkg/engine"
)

// Validate renders issues and warnings in the order the checks ran.
func (r *Renderer) Validate(report *engine.ValidateReport) error {
	var lines []string
	if report.Valid {
		lines = append(lines, r.pal.ok.Sprint("✅ Successfully validated all applied migrations."))
	}
	for _, warning := range report.Warnings {
		lines = append(lines, r.pal.warnHdr.Sprint("WARNING:")+" "+warning)
	}
	for _, issue := range report.Issues {
		lines = append(lines, r.pal.failHdr.Sprint("ERROR:")+" "+issue)
	}
	return writeLines(r.w, lines)
}

// Repair renders what repair removed and realigned.
func (r *Renderer) Repair(report *engine.RepairReport) error {
	if report.FailedRemoved == 0 && report.ChecksumsUpdated == 0 {
		return writeLines(r.w, []string{r.pal.ok.Sprint("✅ Repair complete. No changes needed.")})
	}
	lines := []string{r.pal.okHdr.Sprint("✅ Repair complete:")}
	for _, detail := range report.Details {
		lines = append(lines, "  → "+detail)
	}
	return writeLines(r.w, lines)
}

// Baseline renders the freshly initialized history marker.
func (r *Renderer) Baseline(report *engine.BaselineReport) error {
	return writeLines(r.w, []string{r.pal.okHdr.Sprintf(
		"✅ History initialized at baseline version %s (%s)",
		report.Version, report.Description)})
}

// Undo renders the reversals that ran, newest first.
func (r *Renderer) Undo(report *engine.UndoReport) error {
	if report.Undone == 0 {
		return writeLines(r.w, []string{r.pal.ok.Sprint("Nothing to undo.")})
	}
	lines := []string{r.pal.okHdr.Sprintf(
		"✅ Undid %d migration(s) (execution time %dms)", report.Undone, report.TotalTimeMs)}
	for _, d := range report.Details {
		source := "undo migration"
		if d.Source == engine.UndoSourceReversal {
			source = "captured reversal"
		}
		lines = append(lines, fmt.Sprintf("  → %s - %s (%s, %dms)", d.Version, d.Description, source, d.TimeMs))
	}
	return writeLines(r.w, lines)
}

// Clean renders every object the clean run dropped.
func (r *Renderer) Clean(report *engine.CleanReport) error {
	if len(report.Dropped) == 0 {
		return writeLines(r.w, []string{r.pal.ok.Sprint("Nothing to clean.")})
	}
	lines := []string{r.pal.okHdr.Sprintf(
		"✅ Successfully cleaned. Dropped %d object(s):", len(report.Dropped))}
	for _, item := range report.Dropped {
		lines = append(lines, "  "+r.pal.fail.Sprint("✗")+" "+item)
	}
	return writeLines(r.w, lines)
}

// Drift renders a drift check, including the converging DDL when the live
// schema has moved away from the snapshot.
func (r *Renderer) Drift(report *engine.DriftReport) error {
	if report.InSync {
		return writeLines(r.w, []string{r.pal.ok.Sprint("✅ Schema matches the saved snapshot.")})
	}
	lines := []string{r.pal.failHdr.Sprintf("❌ Schema drift detected: %d difference(s)", report.Differences)}
	for _, warning := range report.Warnings {
		lines = append(lines, r.pal.warnHdr.Sprint("WARNING:")+" "+warning)
	}
	if report.DDL != "" {
		lines = append(lines, "", "Apply the following to converge:", "", strings.TrimRight(report.DDL, "\n"))
	}
	return writeLines(r.w, lines)
}
