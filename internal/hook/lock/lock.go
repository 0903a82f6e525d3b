// Package lock provides per-hook-name mutual exclusion for hook
// executions. Distinct hook names run fully concurrently; a second
// acquisition for the same name blocks until the first is released.
package lock

import "sync"

// Manager hands out per-name locks. Mutexes are created lazily on
// first acquisition and live for the manager's lifetime.
type Manager struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewManager creates an empty lock manager.
func NewManager() *Manager {
	return &Manager{
		locks: make(map[string]*sync.Mutex),
	}
}

// Handle releases a held lock. Release is idempotent: calling it more
// than once is a no-op, which keeps deferred releases safe on every
// exit path.
type Handle struct {
	mu       *sync.Mutex
	released sync.Once
}

// Release unlocks the underlying per-name mutex.
func (h *Handle) Release() {
	h.released.Do(h.mu.Unlock)
}

// Acquire blocks until the lock for name is held and returns a scoped
// release handle. Callers must release the handle on every return
// path, typically via defer.
func (m *Manager) Acquire(name string) *Handle {
	m.mu.Lock()
	l, ok := m.locks[name]
	if !ok {
		l = &sync.Mutex{}
		m.locks[name] = l
	}
	m.mu.Unlock()

	l.Lock()
	return &Handle{mu: l}
}
