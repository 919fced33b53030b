// Package globalvars holds the process-wide mapping from writable
// register variable_name to its current real value. It is the channel by
// which a writable register in one Simulation Instance influences
// expressions evaluated in every other instance (spec.md §3/§5/§9).
package globalvars

import "sync"

// Table is a concurrency-safe name -> value map. Reads observe torn-free
// single values; writes only ever happen from the ingest-writes pipeline
// phase, under the owning instance's mutex.
type Table struct {
	mu   sync.RWMutex
	data map[string]float64
}

// New builds a Table seeded from the given (name, value) pairs — the
// seeds register.Load returns. cmd/modsim calls it exactly once at
// startup, never per-instance (spec.md §9, Open Question 1).
func New(seeds map[string]float64) *Table {
	t := &Table{data: make(map[string]float64, len(seeds))}
	for name, v := range seeds {
		t.data[name] = v
	}
	return t
}

// Get returns the current value of name and whether it exists.
func (t *Table) Get(name string) (float64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.data[name]
	return v, ok
}

// Set updates the value of name. Called only from the ingest-writes phase.
func (t *Table) Set(name string, v float64) {
	t.mu.Lock()
	t.data[name] = v
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of every variable, suitable for
// merging into the expression evaluator's namespace without holding the
// table lock across arithmetic.
func (t *Table) Snapshot() map[string]float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]float64, len(t.data))
	for k, v := range t.data {
		out[k] = v
	}
	return out
}
