package engine

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/waypointdb/waypoint/pkg/history"
	"github.com/waypointdb/waypoint/pkg/migration"
)

type (
	// ValidateOptions tunes validation severity.
	ValidateOptions struct {
		// Strict escalates missing-file warnings to failures
		Strict bool
	}

	// ValidateReport lists everything validation found. Issues fail the run;
	// warnings do not.
	ValidateReport struct {
		Valid    bool     `json:"valid"`
		Issues   []string `json:"issues,omitempty"`
		Warnings []string `json:"warnings,omitempty"`
	}
)

// Err converts a failed report into the error migrate and the CLI act on.
func (r *ValidateReport) Err() error {
	if r.Valid {
		return nil
	}

	return failf(KindValidation, "validation failed: %s", strings.Join(r.Issues, "; "))
}

func (r *ValidateReport) note(strict bool, msg string) {
	if strict {
		r.Issues = append(r.Issues, msg)
	} else {
		r.Warnings = append(r.Warnings, msg)
	}
}

// Validate checks applied history against the migration files: every applied
// versioned migration must still exist with an unchanged checksum, applied
// repeatables should still exist, and pending versions must not sit below the
// highest applied one unless out_of_order is enabled. It takes no lock and
// writes nothing; a database without a history table is trivially valid.
func (e *Engine) Validate(ctx context.Context, opts ValidateOptions) (*ValidateReport, error) {
	dir, err := e.scan()
	if err != nil {
		return nil, err
	}

	hist := e.history()
	exists, err := hist.Exists(ctx)
	if err != nil {
		return nil, fail(KindDB, err)
	}
	if !exists {
		return &ValidateReport{
			Valid:    true,
			Warnings: []string{"no history table found, nothing to validate"},
		}, nil
	}

	rows, err := hist.LoadAll(ctx)
	if err != nil {
		return nil, fail(KindDB, err)
	}

	return e.validateReport(dir, history.NewSet(rows), opts), nil
}

func (e *Engine) validateReport(dir *migration.Dir, set *history.Set, opts ValidateOptions) *ValidateReport {
	report := &ValidateReport{}

	for _, raw := range set.AppliedVersions() {
		row := set.AppliedRow(raw)
		if row == nil || row.Type != history.TypeSQL {
			continue
		}

		file := findVersionedRaw(dir, raw)
		if file == nil {
			report.note(opts.Strict, fmt.Sprintf("applied version %s (%s) has no migration file", raw, row.Script))
			continue
		}
		if row.Checksum == nil || *row.Checksum != file.Checksum {
			report.Issues = append(report.Issues, fmt.Sprintf(
				"checksum mismatch for version %s (%s): history %s, file %d",
				raw, file.Script, fmtChecksum(row.Checksum), file.Checksum))
		}
	}

	for _, row := range lastRepeatables(set) {
		if findRepeatable(dir, row.Description) == nil {
			report.Warnings = append(report.Warnings, fmt.Sprintf(
				"applied repeatable %q (%s) has no migration file", row.Description, row.Script))
		}
	}

	// Order violations mirror what migrate would refuse: only versions the
	// plan would actually pick up count, so files below the baseline or
	// filtered out by environment and target stay quiet.
	pl, err := buildPlan(dir, set, planOptions{
		environment: e.cfg.Migrations.Environment,
		target:      e.cfg.Migrations.Target,
		outOfOrder:  true,
	})
	switch {
	case err != nil:
		report.Issues = append(report.Issues, err.Error())
	case !e.cfg.Migrations.OutOfOrder:
		if highest := maxAppliedVersion(set); highest != nil {
			for _, m := range pl.versioned {
				if m.Version.Less(*highest) {
					report.Issues = append(report.Issues, fmt.Sprintf(
						"pending version %s is below the already applied %s and out_of_order is disabled",
						m.Version, highest))
				}
			}
		}
	}

	report.Valid = len(report.Issues) == 0

	return report
}

// findVersionedRaw matches a history version against the files by raw string,
// so rows written by other tools in formats we do not parse still line up
// with their files.
func findVersionedRaw(dir *migration.Dir, raw string) *migration.Migration {
	for _, m := range dir.Versioned {
		if m.Version.String() == raw {
			return m
		}
	}

	return nil
}

func findRepeatable(dir *migration.Dir, description string) *migration.Migration {
	for _, m := range dir.Repeatable {
		if m.Description == description {
			return m
		}
	}

	return nil
}

// lastRepeatables returns the latest successful run of each repeatable
// description, in first-applied order.
func lastRepeatables(set *history.Set) []history.Row {
	index := make(map[string]int)

	var out []history.Row
	for _, row := range set.Rows() {
		if row.Type != history.TypeSQL || row.Version != nil || !row.Success {
			continue
		}
		if i, ok := index[row.Description]; ok {
			out[i] = row
		} else {
			index[row.Description] = len(out)
			out = append(out, row)
		}
	}

	return out
}

func fmtChecksum(c *int32) string {
	if c == nil {
		return "none"
	}

	return strconv.FormatInt(int64(*c), 10)
}
