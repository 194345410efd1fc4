package format

import (
	"fmt"
	"strconv"

	"github.com/fatih/color"
	"github.com/pkg/errors"

	"github.com/waypointdb/waypoint/pkg/engine"
)

// Info renders the migration state table.
func (r *Renderer) Info(report *engine.InfoReport) error {
	if _, err := fmt.Fprintf(r.w, "Schema history for %s.%s\n", report.Schema, report.Table); err != nil {
		return errors.Wrap(err, "writing report")
	}
	if len(report.Rows) == 0 {
		return writeLines(r.w, []string{r.pal.warn.Sprint("No migrations found.")})
	}

	headers := []string{"Version", "Description", "Type", "State", "Installed On", "Execution Time"}
	rows := make([][]cell, 0, len(report.Rows))
	for _, row := range report.Rows {
		var installed string
		if row.InstalledOn != nil {
			installed = row.InstalledOn.Format(r.opts.TimeLayout)
		}
		var execTime string
		if row.TimeMs != nil {
			execTime = strconv.Itoa(*row.TimeMs) + "ms"
		}
		rows = append(rows, []cell{
			{text: row.Version},
			{text: row.Description},
			{text: row.Type},
			{text: string(row.State), style: r.stateStyle(row.State)},
			{text: installed},
			{text: execTime},
		})
	}
	return renderTable(r.w, headers, rows)
}

func (r *Renderer) stateStyle(state engine.State) *color.Color {
	switch state {
	case engine.StateApplied:
		return r.pal.ok
	case engine.StatePending, engine.StateOutOfOrder:
		return r.pal.warn
	case engine.StateFailed:
		return r.pal.failHdr
	case engine.StateMissing:
		return r.pal.fail
	case engine.StateOutdated:
		return r.pal.info
	case engine.StateBaseline:
		return r.pal.note
	case engine.StateIgnored, engine.StateBelowBaseline, engine.StateUndone, engine.StateSuperseded:
		return r.pal.dim
	default:
		return nil
	}
}
