// Package probe tracks the named dependencies the router needs before it
// can be constructed. Dependencies are injected explicitly into a Registry;
// CheckDependencies reports which of a required list are still absent.
package probe

import (
	"errors"
	"reflect"
	"sort"
	"sync"
)

// Well-known dependency names.
const (
	RouterFactory    = "RouterFactory"
	AuthGuardFactory = "AuthGuardFactory"
	RouteConfig      = "RouteConfig"
)

var ErrMissingDependency = errors.New("missing dependency")

type Registry struct {
	mu    sync.RWMutex
	slots map[string]any
}

func NewRegistry() *Registry {
	return &Registry{slots: map[string]any{}}
}

// Provide populates a slot. Providing nil is the same as Withdraw.
func (r *Registry) Provide(name string, value any) {
	if isNil(value) {
		r.Withdraw(name)
		return
	}
	r.mu.Lock()
	r.slots[name] = value
	r.mu.Unlock()
}

func (r *Registry) Withdraw(name string) {
	r.mu.Lock()
	delete(r.slots, name)
	r.mu.Unlock()
}

func (r *Registry) Lookup(name string) (any, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	v, ok := r.slots[name]
	r.mu.RUnlock()
	return v, ok
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.slots))
	for name := range r.slots {
		out = append(out, name)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

// CheckDependencies returns the subset of required that is not populated,
// preserving input order. It never mutates the registry.
func (r *Registry) CheckDependencies(required []string) []string {
	missing := make([]string, 0)
	for _, name := range required {
		if _, ok := r.Lookup(name); !ok {
			missing = append(missing, name)
		}
	}
	return missing
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Func, reflect.Map, reflect.Pointer, reflect.Interface, reflect.Slice, reflect.Chan:
		return rv.IsNil()
	}
	return false
}
