package dobbin

import (
	"sync"

	"github.com/dobbindb/dobbin/persistent"
)

// Constructor builds a zero-value instance of a registered persistent
// type, ready for [persistent.Base.Init] to have already been called by
// the constructor itself.
type Constructor func() persistent.Object

// Registry maps class tags (spec §4.1's "class tag" carried in oid://
// reference tokens) to constructors, letting the log replay path
// materialize the right concrete type for an oid when its record is
// loaded. [Database.Get] does not use it: a miss there installs a
// [persistent.Broken] placeholder instead.
type Registry struct {
	mu   sync.RWMutex
	ctor map[string]Constructor
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{ctor: map[string]Constructor{}}
}

// Register associates classTag with ctor. A later call for the same tag
// replaces the earlier one.
func (r *Registry) Register(classTag string, ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.ctor[classTag] = ctor
}

// New constructs a fresh instance for classTag, or reports false if
// nothing is registered for it.
func (r *Registry) New(classTag string) (persistent.Object, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ctor, ok := r.ctor[classTag]
	if !ok {
		return nil, false
	}

	return ctor(), true
}
