package reconciler

import "sync"

// updateTracker records which networks have a refresh attempted in this
// process lifetime. TryMark acts as the mutex surrogate that keeps at most
// one refresh per network in flight; Clear re-arms the network after a
// failed pass so the next accessor call retries.
type updateTracker struct {
	mu       sync.Mutex
	attempts map[uint64]bool
}

func newUpdateTracker() *updateTracker {
	return &updateTracker{attempts: make(map[uint64]bool)}
}

// TryMark marks the network as update-attempted. It returns false if the
// network was already marked.
func (t *updateTracker) TryMark(networkID uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.attempts[networkID] {
		return false
	}
	t.attempts[networkID] = true
	return true
}

// Clear removes the update-attempted mark for the network.
func (t *updateTracker) Clear(networkID uint64) {
	t.mu.Lock()
	delete(t.attempts, networkID)
	t.mu.Unlock()
}

// Marked reports whether the network is currently marked.
func (t *updateTracker) Marked(networkID uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attempts[networkID]
}
