package capability

import (
	"fmt"
	"sync"

	"github.com/chimera-factory/chimera/internal/domain/task"
)

// Registry holds the invokers available to this agent's worker pool,
// keyed by task type.
type Registry struct {
	mu       sync.RWMutex
	invokers map[task.Type]Invoker
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{invokers: make(map[task.Type]Invoker)}
}

// Register makes an invoker available. Registering the same task type
// twice is a wiring bug and panics.
func (r *Registry) Register(inv Invoker) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.invokers[inv.Type()]; exists {
		panic(fmt.Sprintf("capability: duplicate registration for %q", inv.Type()))
	}
	r.invokers[inv.Type()] = inv
}

// Get returns the invoker for a task type.
func (r *Registry) Get(t task.Type) (Invoker, error) {
	r.mu.RLock()
	inv, ok := r.invokers[t]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("capability: no invoker for task type %q", t)
	}
	return inv, nil
}

// Types returns the task types this registry can serve, which is the
// agent's advertised capability set.
func (r *Registry) Types() []task.Type {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]task.Type, 0, len(r.invokers))
	for t := range r.invokers {
		types = append(types, t)
	}
	return types
}
