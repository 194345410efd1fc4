package history

// Set is an indexed view over loaded history rows with the state queries
// planning needs. A version counts as applied when its latest successful
// SQL or BASELINE row is not followed by a successful UNDO_SQL row; a later
// re-apply makes it applied again.
//
// Example usage:
//
//	set := history.NewSet(rows)
//	if set.IsApplied("2.1") {
//	    // already on the database
//	}
//	for _, row := range set.Failed() {
//	    // needs repair
//	}
type Set struct {
	rows    []Row
	applied map[string]int // version -> index of the row that applied it
	undone  map[string]bool
}

// NewSet indexes rows, which must be in installed_rank order as LoadAll
// returns them.
func NewSet(rows []Row) *Set {
	s := &Set{
		rows:    rows,
		applied: make(map[string]int),
		undone:  make(map[string]bool),
	}

	for i, row := range rows {
		if row.Version == nil || !row.Success {
			continue
		}
		switch row.Type {
		case TypeSQL, TypeBaseline:
			s.applied[*row.Version] = i
			delete(s.undone, *row.Version)
		case TypeUndo:
			if _, ok := s.applied[*row.Version]; ok {
				delete(s.applied, *row.Version)
				s.undone[*row.Version] = true
			}
		}
	}

	return s
}

// Rows returns all rows in installed_rank order.
func (s *Set) Rows() []Row {
	return s.rows
}

// Len returns the number of history rows.
func (s *Set) Len() int {
	return len(s.rows)
}

// MaxRank returns the highest installed_rank, or zero for an empty set.
func (s *Set) MaxRank() int {
	if len(s.rows) == 0 {
		return 0
	}

	return s.rows[len(s.rows)-1].InstalledRank
}

// IsApplied reports whether version is currently applied.
func (s *Set) IsApplied(version string) bool {
	_, ok := s.applied[version]
	return ok
}

// IsUndone reports whether version was applied and later undone without
// being re-applied.
func (s *Set) IsUndone(version string) bool {
	return s.undone[version]
}

// AppliedRow returns the row that applied version, or nil when the version
// is not currently applied. The row carries the captured reversal, if any.
func (s *Set) AppliedRow(version string) *Row {
	i, ok := s.applied[version]
	if !ok {
		return nil
	}

	return &s.rows[i]
}

// AppliedVersions returns the currently applied versions in the order they
// were applied.
func (s *Set) AppliedVersions() []string {
	versions := make([]string, 0, len(s.applied))
	for i, row := range s.rows {
		if row.Version == nil {
			continue
		}
		if j, ok := s.applied[*row.Version]; ok && j == i {
			versions = append(versions, *row.Version)
		}
	}

	return versions
}

// Failed returns all failed rows in installed_rank order.
func (s *Set) Failed() []Row {
	var failed []Row
	for _, row := range s.rows {
		if !row.Success {
			failed = append(failed, row)
		}
	}

	return failed
}

// HasFailed reports whether any row is failed.
func (s *Set) HasFailed() bool {
	for _, row := range s.rows {
		if !row.Success {
			return true
		}
	}

	return false
}

// LastSuccessfulRepeatable returns the latest successful row of the
// repeatable migration with the given description, or nil if it has never
// run. A repeatable is pending when its file checksum differs from this
// row's checksum.
func (s *Set) LastSuccessfulRepeatable(description string) *Row {
	for i := len(s.rows) - 1; i >= 0; i-- {
		row := &s.rows[i]
		if row.Version == nil && row.Type == TypeSQL && row.Success && row.Description == description {
			return row
		}
	}

	return nil
}

// BaselineVersion returns the version of the latest successful baseline row,
// or nil when the database was never baselined.
func (s *Set) BaselineVersion() *string {
	for i := len(s.rows) - 1; i >= 0; i-- {
		row := s.rows[i]
		if row.Type == TypeBaseline && row.Success && row.Version != nil {
			return row.Version
		}
	}

	return nil
}
