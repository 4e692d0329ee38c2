package lifecycle

import (
	"context"
	"errors"
	"sync"
)

var ErrNoNavigator = errors.New("no navigation function installed")

// NavigateFunc is the navigation entry point the UI layer calls.
type NavigateFunc func(ctx context.Context, page string) error

// EntryPoint holds the active navigation function and the original one it
// replaced, so fallback can put the original back.
type EntryPoint struct {
	mu       sync.RWMutex
	current  NavigateFunc
	original NavigateFunc
	saved    bool
}

func NewEntryPoint(initial NavigateFunc) *EntryPoint {
	return &EntryPoint{current: initial}
}

// Install makes fn the active navigator. The first Install remembers the
// navigator it displaced; later ones keep that first original.
func (e *EntryPoint) Install(fn NavigateFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.saved {
		e.original = e.current
		e.saved = true
	}
	e.current = fn
}

// Restore reinstates the saved original. It reports false when nothing was
// saved.
func (e *EntryPoint) Restore() bool {
	if e == nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.saved {
		return false
	}
	e.current = e.original
	e.original = nil
	e.saved = false
	return true
}

func (e *EntryPoint) Current() NavigateFunc {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.current
}

// Navigate calls the active navigator.
func (e *EntryPoint) Navigate(ctx context.Context, page string) error {
	fn := e.Current()
	if fn == nil {
		return ErrNoNavigator
	}
	return fn(ctx, page)
}
