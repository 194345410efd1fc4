package engine

import (
	"context"
	"sort"
	"time"

	"github.com/waypointdb/waypoint/pkg/history"
	"github.com/waypointdb/waypoint/pkg/migration"
	"github.com/waypointdb/waypoint/pkg/utils"
)

// State is the displayed status of one migration in the info report.
type State string

const (
	// StatePending will be applied by the next migrate.
	StatePending State = "Pending"

	// StateApplied ran successfully and its file still matches.
	StateApplied State = "Applied"

	// StateFailed ran and failed; repair clears it.
	StateFailed State = "Failed"

	// StateMissing was applied but its file is gone.
	StateMissing State = "Missing"

	// StateOutdated is an applied repeatable whose file has since changed.
	StateOutdated State = "Outdated"

	// StateSuperseded is an older run of a repeatable that ran again later.
	StateSuperseded State = "Superseded"

	// StateOutOfOrder sits below an applied version and will apply out of order.
	StateOutOfOrder State = "Out of Order"

	// StateIgnored sits below an applied version and out_of_order is disabled.
	StateIgnored State = "Ignored"

	// StateBelowBaseline sits at or below the baseline and never applies.
	StateBelowBaseline State = "Below Baseline"

	// StateBaseline is the synthetic baseline marker row.
	StateBaseline State = "Baseline"

	// StateUndone was applied and later undone.
	StateUndone State = "Undone"
)

type (
	// InfoRow is one line of the info report: either a history row or a
	// migration file the history has not seen.
	InfoRow struct {
		Version     string     `json:"version,omitempty"`
		Description string     `json:"description"`
		Type        string     `json:"type"`
		Script      string     `json:"script,omitempty"`
		State       State      `json:"state"`
		InstalledOn *time.Time `json:"installed_on,omitempty"`
		TimeMs      *int       `json:"execution_time_ms,omitempty"`
		Checksum    *int32     `json:"checksum,omitempty"`
	}

	// InfoReport is the merged view of history and files: versioned entries
	// in version order, then repeatable ones by description.
	InfoReport struct {
		Schema string    `json:"schema"`
		Table  string    `json:"table"`
		Rows   []InfoRow `json:"migrations"`
	}
)

// Info merges the history table with the migration files on disk. Hook rows
// stay out of the listing; everything else is shown, including failed runs,
// undone versions, and files the history has never seen. Info takes no lock,
// and a database without a history table simply reports everything pending.
func (e *Engine) Info(ctx context.Context) (*InfoReport, error) {
	dir, err := e.scan()
	if err != nil {
		return nil, err
	}

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

	return e.infoReport(dir, history.NewSet(rows)), nil
}

func (e *Engine) infoReport(dir *migration.Dir, set *history.Set) *InfoReport {
	report := &InfoReport{
		Schema: e.cfg.Migrations.Schema,
		Table:  e.cfg.Migrations.Table,
	}

	// rank of the latest successful run per repeatable description
	lastRep := make(map[string]int)
	for _, row := range set.Rows() {
		if row.Type == history.TypeSQL && row.Version == nil && row.Success {
			lastRep[row.Description] = row.InstalledRank
		}
	}

	var baseline *migration.Version
	if raw := set.BaselineVersion(); raw != nil {
		if v, err := migration.ParseVersion(*raw); err == nil {
			baseline = &v
		}
	}
	highest := maxAppliedVersion(set)

	seen := make(map[string]bool)

	var versioned, repeatable []InfoRow
	for _, row := range set.Rows() {
		if row.Type == history.TypeHook {
			continue
		}

		entry := InfoRow{
			Description: row.Description,
			Type:        string(row.Type),
			Script:      row.Script,
			InstalledOn: utils.Ptr(row.InstalledOn),
			TimeMs:      utils.Ptr(row.ExecutionTime),
			Checksum:    row.Checksum,
		}
		if row.Version != nil {
			entry.Version = *row.Version
			seen[*row.Version] = true
		}
		entry.State = e.rowState(dir, set, lastRep, row)

		if row.Version != nil {
			versioned = append(versioned, entry)
		} else {
			repeatable = append(repeatable, entry)
		}
	}

	// files the history has not seen, plus undone versions that are pending
	// again
	for _, m := range dir.Versioned {
		raw := m.Version.String()
		if seen[raw] && !set.IsUndone(raw) {
			continue
		}

		versioned = append(versioned, InfoRow{
			Version:     raw,
			Description: m.Description,
			Type:        string(history.TypeSQL),
			Script:      m.Script,
			State:       pendingState(m, baseline, highest, e.cfg.Migrations.OutOfOrder),
			Checksum:    utils.Ptr(m.Checksum),
		})
	}

	for _, m := range dir.Repeatable {
		if _, ok := lastRep[m.Description]; ok {
			continue
		}

		repeatable = append(repeatable, InfoRow{
			Description: m.Description,
			Type:        string(history.TypeSQL),
			Script:      m.Script,
			State:       StatePending,
			Checksum:    utils.Ptr(m.Checksum),
		})
	}

	sort.SliceStable(versioned, func(i, j int) bool {
		return lessVersionRaw(versioned[i].Version, versioned[j].Version)
	})
	sort.SliceStable(repeatable, func(i, j int) bool {
		return repeatable[i].Description < repeatable[j].Description
	})

	report.Rows = append(versioned, repeatable...)

	return report
}

func (e *Engine) rowState(dir *migration.Dir, set *history.Set, lastRep map[string]int, row history.Row) State {
	switch {
	case row.Type == history.TypeBaseline:
		return StateBaseline
	case !row.Success:
		return StateFailed
	case row.Type == history.TypeUndo:
		return StateUndone
	case row.Version == nil:
		if lastRep[row.Description] != row.InstalledRank {
			return StateSuperseded
		}
		file := findRepeatable(dir, row.Description)
		switch {
		case file == nil:
			return StateMissing
		case row.Checksum == nil || *row.Checksum != file.Checksum:
			return StateOutdated
		default:
			return StateApplied
		}
	default:
		applied := set.AppliedRow(*row.Version)
		if applied == nil || applied.InstalledRank != row.InstalledRank {
			return StateUndone
		}
		if findVersionedRaw(dir, *row.Version) == nil {
			return StateMissing
		}

		return StateApplied
	}
}

func pendingState(m *migration.Migration, baseline, highest *migration.Version, outOfOrder bool) State {
	switch {
	case baseline != nil && !baseline.Less(m.Version):
		return StateBelowBaseline
	case highest != nil && m.Version.Less(*highest) && outOfOrder:
		return StateOutOfOrder
	case highest != nil && m.Version.Less(*highest):
		return StateIgnored
	default:
		return StatePending
	}
}

// lessVersionRaw orders versions numerically when both parse and falls back
// to string order for rows written by other tools.
func lessVersionRaw(a, b string) bool {
	va, errA := migration.ParseVersion(a)
	vb, errB := migration.ParseVersion(b)

	switch {
	case errA == nil && errB == nil:
		return va.Less(vb)
	case errA == nil:
		return true
	case errB == nil:
		return false
	default:
		return a < b
	}
}
