// Package depgraph orders versioned migrations by their declared
// dependencies.
//
// When dependency ordering is enabled, the depends directives induce a DAG
// over the pending versioned migrations and the run order is a topological
// sort of that DAG. Ties are broken by version order, so a set without any
// depends directives sorts exactly as it would with dependency ordering
// disabled.
package depgraph

import (
	"fmt"
	"slices"
	"strings"

	"github.com/waypointdb/waypoint/pkg/migration"
)

// CycleError reports a dependency cycle. Edges holds the implicated
// "dependency -> dependent" pairs that could not be scheduled.
type CycleError struct {
	Edges []Edge
}

// Edge is one depends relation: To declares it depends on From.
type Edge struct {
	From migration.Version
	To   migration.Version
}

func (e *CycleError) Error() string {
	parts := make([]string, len(e.Edges))
	for i, edge := range e.Edges {
		parts[i] = fmt.Sprintf("%s -> %s", edge.From, edge.To)
	}
	return "dependency cycle between migrations: " + strings.Join(parts, ", ")
}

// Order returns the migrations sorted so that every migration runs after all
// versions it depends on, using Kahn's algorithm with version order breaking
// ties. Dependencies on versions outside the given set (already applied or
// absent) are ignored here; the engine validates missing dependencies against
// the full file set before planning. A cycle returns a CycleError naming the
// unsatisfiable edges.
//
// Example usage:
//
//	ordered, err := depgraph.Order(pending)
//	if err != nil {
//		var cycle *depgraph.CycleError
//		if errors.As(err, &cycle) {
//			log.Fatalf("unschedulable: %v", cycle)
//		}
//	}
func Order(migrations []*migration.Migration) ([]*migration.Migration, error) {
	byKey := make(map[string]*migration.Migration, len(migrations))
	for _, m := range migrations {
		byKey[m.Version.Key()] = m
	}

	// in-edge counts and adjacency, keyed by canonical version
	indegree := make(map[string]int, len(migrations))
	dependents := make(map[string][]*migration.Migration)

	for _, m := range migrations {
		indegree[m.Version.Key()] += 0
		for _, dep := range m.Directives.Depends {
			if _, inSet := byKey[dep.Key()]; !inSet {
				continue
			}
			indegree[m.Version.Key()]++
			dependents[dep.Key()] = append(dependents[dep.Key()], m)
		}
	}

	// ready holds the zero-in-edge frontier in version order. Sizes are
	// small, so re-sorting after each insert beats carrying a heap.
	var ready []*migration.Migration
	for _, m := range migrations {
		if indegree[m.Version.Key()] == 0 {
			ready = append(ready, m)
		}
	}
	sortByVersion(ready)

	ordered := make([]*migration.Migration, 0, len(migrations))
	for len(ready) > 0 {
		next := ready[0]
		ready = ready[1:]
		ordered = append(ordered, next)

		released := false
		for _, dependent := range dependents[next.Version.Key()] {
			indegree[dependent.Version.Key()]--
			if indegree[dependent.Version.Key()] == 0 {
				ready = append(ready, dependent)
				released = true
			}
		}
		if released {
			sortByVersion(ready)
		}
	}

	if len(ordered) != len(migrations) {
		return nil, cycleError(migrations, indegree)
	}

	return ordered, nil
}

func sortByVersion(ms []*migration.Migration) {
	slices.SortFunc(ms, func(a, b *migration.Migration) int {
		return a.Version.Compare(b.Version)
	})
}

// cycleError collects the depends edges among the migrations that never
// reached in-degree zero.
func cycleError(migrations []*migration.Migration, indegree map[string]int) *CycleError {
	stuck := make(map[string]*migration.Migration)
	for _, m := range migrations {
		if indegree[m.Version.Key()] > 0 {
			stuck[m.Version.Key()] = m
		}
	}

	var edges []Edge
	for _, m := range migrations {
		if _, ok := stuck[m.Version.Key()]; !ok {
			continue
		}
		for _, dep := range m.Directives.Depends {
			if _, ok := stuck[dep.Key()]; ok {
				edges = append(edges, Edge{From: dep, To: m.Version})
			}
		}
	}

	slices.SortFunc(edges, func(a, b Edge) int {
		if c := a.From.Compare(b.From); c != 0 {
			return c
		}
		return a.To.Compare(b.To)
	})

	return &CycleError{Edges: edges}
}
