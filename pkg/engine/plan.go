package engine

import (
	"github.com/waypointdb/waypoint/pkg/depgraph"
	"github.com/waypointdb/waypoint/pkg/history"
	"github.com/waypointdb/waypoint/pkg/migration"
)

type (
	// plan is the ordered set of migrations one run will apply: versioned
	// first, repeatable after the last versioned one.
	plan struct {
		versioned  []*migration.Migration
		repeatable []*migration.Migration
	}

	// planOptions are the configuration knobs that shape a plan.
	planOptions struct {
		environment     string
		target          string
		outOfOrder      bool
		dependencyOrder bool
	}
)

func (p *plan) empty() bool {
	return len(p.versioned) == 0 && len(p.repeatable) == 0
}

// migrations returns the full application order.
func (p *plan) migrations() []*migration.Migration {
	out := make([]*migration.Migration, 0, len(p.versioned)+len(p.repeatable))
	out = append(out, p.versioned...)

	return append(out, p.repeatable...)
}

func (e *Engine) planOptions() planOptions {
	return planOptions{
		environment:     e.cfg.Migrations.Environment,
		target:          e.cfg.Migrations.Target,
		outOfOrder:      e.cfg.Migrations.OutOfOrder,
		dependencyOrder: e.cfg.Migrations.DependencyOrder,
	}
}

// buildPlan decides what is pending. A versioned migration is pending when it
// applies to the environment, is not currently applied (an undone version is
// pending again), sits above the baseline and at or below the target, and
// does not violate version order. A repeatable migration is pending when its
// checksum differs from the last successfully applied run of the same
// description.
func buildPlan(dir *migration.Dir, set *history.Set, opts planOptions) (*plan, error) {
	var target *migration.Version
	if opts.target != "" {
		v, err := migration.ParseVersion(opts.target)
		if err != nil {
			return nil, failf(KindConfiguration, "invalid target version %q: %v", opts.target, err)
		}
		target = &v
	}

	var baseline *migration.Version
	if raw := set.BaselineVersion(); raw != nil {
		v, err := migration.ParseVersion(*raw)
		if err != nil {
			return nil, failf(KindValidation, "history baseline version %q does not parse: %v", *raw, err)
		}
		baseline = &v
	}

	maxApplied := maxAppliedVersion(set)

	pl := &plan{}
	for _, m := range dir.Versioned {
		switch {
		case !m.Directives.AppliesTo(opts.environment):
			continue
		case set.IsApplied(m.Version.String()):
			continue
		case baseline != nil && !baseline.Less(m.Version):
			continue
		case target != nil && target.Less(m.Version):
			continue
		}

		if maxApplied != nil && m.Version.Less(*maxApplied) && !opts.outOfOrder {
			return nil, failf(KindValidation,
				"version %s is below the already applied %s; set out_of_order to apply it",
				m.Version, maxApplied)
		}

		pl.versioned = append(pl.versioned, m)
	}

	if opts.dependencyOrder && len(pl.versioned) > 0 {
		ordered, err := orderByDepends(pl.versioned, set)
		if err != nil {
			return nil, err
		}
		pl.versioned = ordered
	}

	for _, m := range dir.Repeatable {
		if !m.Directives.AppliesTo(opts.environment) {
			continue
		}
		if last := set.LastSuccessfulRepeatable(m.Description); last != nil &&
			last.Checksum != nil && *last.Checksum == m.Checksum {
			continue
		}

		pl.repeatable = append(pl.repeatable, m)
	}

	return pl, nil
}

// orderByDepends reorders pending versioned migrations so every depends
// target runs first. A depends target must be pending in this run or already
// applied; anything else aborts planning rather than silently running a
// migration before its prerequisite. Membership is checked on canonical
// version keys, so a "depends: 1" directive finds its target whether the
// filename spells it V1 or V01 and however the history row spells it.
func orderByDepends(pending []*migration.Migration, set *history.Set) ([]*migration.Migration, error) {
	inRun := make(map[string]bool, len(pending))
	for _, m := range pending {
		inRun[m.Version.Key()] = true
	}

	applied := make(map[string]bool)
	for _, raw := range set.AppliedVersions() {
		v, err := migration.ParseVersion(raw)
		if err != nil {
			continue
		}
		applied[v.Key()] = true
	}

	for _, m := range pending {
		for _, dep := range m.Directives.Depends {
			if inRun[dep.Key()] || applied[dep.Key()] {
				continue
			}

			return nil, failf(KindValidation,
				"%s depends on version %s, which is neither applied nor pending in this run",
				m.Script, dep)
		}
	}

	ordered, err := depgraph.Order(pending)
	if err != nil {
		return nil, fail(KindValidation, err)
	}

	return ordered, nil
}

// maxAppliedVersion is the highest currently applied version. History rows
// written by other tools whose versions do not parse stay out of order math.
func maxAppliedVersion(set *history.Set) *migration.Version {
	var highest *migration.Version
	for _, raw := range set.AppliedVersions() {
		v, err := migration.ParseVersion(raw)
		if err != nil {
			continue
		}
		if highest == nil || highest.Less(v) {
			highest = &v
		}
	}

	return highest
}
