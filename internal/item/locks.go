package item

import "sync"

// LockSet hands out per-item exclusive locks so the orchestrator never runs
// two phases against the same item. Acquisition is non-blocking: a worker
// that loses the race skips the item instead of queueing behind it.
type LockSet struct {
	mu   sync.Mutex
	held map[string]bool
}

// NewLockSet returns an empty lock set.
func NewLockSet() *LockSet {
	return &LockSet{held: make(map[string]bool)}
}

// TryAcquire claims the lock for id, returning false when another holder
// already has it.
func (l *LockSet) TryAcquire(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[id] {
		return false
	}
	l.held[id] = true
	return true
}

// Release frees the lock for id. Releasing an unheld lock is a no-op.
func (l *LockSet) Release(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, id)
}

// Held reports whether id is currently locked.
func (l *LockSet) Held(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held[id]
}
