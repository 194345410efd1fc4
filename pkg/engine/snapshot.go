package engine

import (
	"context"

	"github.com/pkg/errors"

	"github.com/waypointdb/waypoint/pkg/schema"
	"github.com/waypointdb/waypoint/pkg/schemadiff"
)

// Snapshot captures the managed schema's current structure for later drift
// comparison. The history table is excluded so bookkeeping never reads as
// drift.
func (e *Engine) Snapshot(ctx context.Context) (*schema.Snapshot, error) {
	snap, err := schema.NewIntrospector(e.db).Snapshot(ctx, e.cfg.Migrations.Schema, e.cfg.Migrations.Table)
	if err != nil {
		return nil, fail(KindDB, errors.Wrap(err, "snapshotting schema"))
	}

	return snap, nil
}

// DriftReport describes how the live schema diverged from a saved snapshot.
type DriftReport struct {
	InSync      bool     `json:"in_sync"`
	Differences int      `json:"differences,omitempty"`
	DDL         string   `json:"ddl,omitempty"`
	Warnings    []string `json:"warnings,omitempty"`
}

// Err converts a drifted report into the error the CLI exits on.
func (r *DriftReport) Err() error {
	if r.InSync {
		return nil
	}

	return failf(KindValidation, "schema drift detected: %d difference(s) between the saved snapshot and the live schema",
		r.Differences)
}

// Drift compares a saved snapshot against the live schema. The DDL in the
// report transforms the snapshotted structure into the live one, which shows
// what changed outside migrations since the snapshot was taken.
func (e *Engine) Drift(ctx context.Context, saved *schema.Snapshot) (*DriftReport, error) {
	live, err := e.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	diff := schemadiff.Compare(saved, live)
	report := &DriftReport{InSync: diff.Empty(), Warnings: diff.Warnings()}
	if !diff.Empty() {
		report.Differences = len(diff.Diffs)
		report.DDL = diff.ForwardSQL()
	}

	return report, nil
}
