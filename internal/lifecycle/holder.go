package lifecycle

import "sync"

// Holder keeps the one Manager of a process or session. The composition
// root owns the Holder; nothing here is package-global.
type Holder struct {
	mu      sync.Mutex
	current *Manager
}

// Acquire returns the held manager, building one from opts if none is held.
// opts is ignored when a manager already exists.
func (h *Holder) Acquire(opts Options) (*Manager, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.current != nil {
		return h.current, nil
	}
	m, err := NewManager(opts)
	if err != nil {
		return nil, err
	}
	m.release = func() { h.releaseManager(m) }
	h.current = m
	return m, nil
}

// Current returns the held manager or nil.
func (h *Holder) Current() *Manager {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current
}

func (h *Holder) releaseManager(m *Manager) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.current == m {
		h.current = nil
	}
}
