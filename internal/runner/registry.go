package runner

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrNoRunner is returned when no runner is registered for a kind.
	ErrNoRunner = errors.New("no runner registered for job kind")

	// ErrDuplicateKind is returned when registering a second runner for a kind.
	ErrDuplicateKind = errors.New("runner already registered for job kind")
)

// Registry maps specification kinds to runners. It is populated at startup
// and safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	runners map[string]Runner
}

// NewRegistry creates an empty runner registry.
func NewRegistry() *Registry {
	return &Registry{
		runners: make(map[string]Runner),
	}
}

// Register adds r under r.Kind().
func (reg *Registry) Register(r Runner) error {
	if r == nil {
		return errors.New("runner is nil")
	}
	kind := r.Kind()
	if kind == "" {
		return errors.New("runner kind is empty")
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()
	if _, exists := reg.runners[kind]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateKind, kind)
	}
	reg.runners[kind] = r
	return nil
}

// MustRegister is Register for startup wiring; it panics on error.
func (reg *Registry) MustRegister(runners ...Runner) {
	for _, r := range runners {
		if err := reg.Register(r); err != nil {
			panic(err)
		}
	}
}

// Resolve returns the runner for kind.
func (reg *Registry) Resolve(kind string) (Runner, error) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	r, ok := reg.runners[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoRunner, kind)
	}
	return r, nil
}

// Kinds returns the registered kinds sorted by name.
func (reg *Registry) Kinds() []string {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	kinds := make([]string, 0, len(reg.runners))
	for k := range reg.runners {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
