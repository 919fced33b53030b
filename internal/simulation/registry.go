package simulation

import "sync"

// Registry is the process-wide, mutex-guarded ordered list of Simulation
// Instances (spec.md §4.8). It is mutated only from the operator/daemon
// goroutine that builds instances at startup; Append, All and Count are
// safe to call concurrently from a UI or diagnostic goroutine.
type Registry struct {
	mu        sync.Mutex
	instances []*Instance
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Append adds inst to the registry.
func (r *Registry) Append(inst *Instance) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.instances = append(r.instances, inst)
}

// All returns a snapshot slice of every registered instance, in
// append order.
func (r *Registry) All() []*Instance {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Instance, len(r.instances))
	copy(out, r.instances)
	return out
}

// Count returns the number of registered instances.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.instances)
}
