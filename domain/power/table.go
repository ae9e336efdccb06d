package power

import (
	"fmt"
	"sync"
)

// ResultsTable is the append-only sequence of sweep rows
type ResultsTable struct {
	mu   sync.RWMutex
	rows []PowerRow
}

// NewResultsTable creates an empty table
func NewResultsTable() *ResultsTable {
	return &ResultsTable{}
}

// Append adds a row; a sample size may appear only once
func (t *ResultsTable) Append(row PowerRow) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, r := range t.rows {
		if r.N == row.N {
			return fmt.Errorf("sample size %d already tabulated", row.N)
		}
	}
	t.rows = append(t.rows, row)
	return nil
}

// Rows returns a copy of the rows in insertion order
func (t *ResultsTable) Rows() []PowerRow {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]PowerRow, len(t.rows))
	copy(out, t.rows)
	return out
}

// Len returns the number of rows
func (t *ResultsTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rows)
}

// Lookup returns the row for a sample size
func (t *ResultsTable) Lookup(n int) (PowerRow, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, r := range t.rows {
		if r.N == n {
			return r, true
		}
	}
	return PowerRow{}, false
}

// MinimumN returns the smallest tabulated sample size at which every target
// reaches the required power.
func (t *ResultsTable) MinimumN(targets []string, required float64) (int, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	best, found := 0, false
	for _, r := range t.rows {
		if !MeetsTarget(r, targets, required) {
			continue
		}
		if !found || r.N < best {
			best, found = r.N, true
		}
	}
	return best, found
}

// MeetsTarget reports whether all targets in the row reach the required power
func MeetsTarget(row PowerRow, targets []string, required float64) bool {
	if len(targets) == 0 {
		return false
	}
	for _, name := range targets {
		s, ok := row.Summary(name)
		if !ok || s.Power < required {
			return false
		}
	}
	return true
}
