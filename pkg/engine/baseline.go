package engine

import (
	"context"

	"github.com/waypointdb/waypoint/pkg/consts"
	"github.com/waypointdb/waypoint/pkg/history"
	"github.com/waypointdb/waypoint/pkg/migration"
)

// BaselineReport records the marker baseline wrote.
type BaselineReport struct {
	Version     string `json:"version"`
	Description string `json:"description"`
}

// Baseline initializes the history of a database that already carries schema:
// it writes a synthetic marker row at the given version, below which nothing
// will ever be applied. It refuses to run once the history has any entries.
// Empty arguments fall back to the configured baseline version and the stock
// marker description.
func (e *Engine) Baseline(ctx context.Context, version, description string) (*BaselineReport, error) {
	if version == "" {
		version = e.cfg.Migrations.BaselineVersion
	}
	if version == "" {
		version = consts.DefaultBaselineVersion
	}
	if _, err := migration.ParseVersion(version); err != nil {
		return nil, failf(KindConfiguration, "invalid baseline version %q: %v", version, err)
	}

	if description == "" {
		description = history.BaselineScript
	}

	report := &BaselineReport{Version: version, Description: description}
	err := e.withLock(ctx, func(ctx context.Context) error {
		hist := e.history()
		if err := hist.Ensure(ctx); err != nil {
			return fail(KindDB, err)
		}

		entries, err := hist.HasEntries(ctx)
		if err != nil {
			return fail(KindDB, err)
		}
		if entries {
			return failf(KindBaselineExists, "history table already has entries; baseline only initializes an empty history")
		}

		ident, err := e.identify(ctx)
		if err != nil {
			return err
		}

		if err := hist.Baseline(ctx, version, description, ident.installedBy); err != nil {
			return fail(KindDB, err)
		}
		e.log.Info("baselined schema", "schema", e.cfg.Migrations.Schema, "version", version)

		return nil
	})
	if err != nil {
		return nil, err
	}

	return report, nil
}
