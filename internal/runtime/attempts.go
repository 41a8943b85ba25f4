package runtime

import "sync"

// attemptTracker counts deliveries of the same position per identity. A new
// position resets the count; a commit forgets the identity.
type attemptTracker struct {
	mu      sync.Mutex
	entries map[string]attemptEntry
}

type attemptEntry struct {
	position string
	count    int
}

func newAttemptTracker() *attemptTracker {
	return &attemptTracker{entries: make(map[string]attemptEntry)}
}

// next records a delivery of position on key and returns its attempt number,
// starting at 1.
func (t *attemptTracker) next(key, position string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry := t.entries[key]
	if entry.position != position {
		entry = attemptEntry{position: position}
	}
	entry.count++
	t.entries[key] = entry
	return entry.count
}

func (t *attemptTracker) reset(key string) {
	t.mu.Lock()
	delete(t.entries, key)
	t.mu.Unlock()
}
