package source

import (
	"sync"
	"time"
)

// dedupWindow collapses duplicate fill reports by dedupe key within a
// bounded retention window. Keys older than the window are evicted to bound
// memory; a duplicate arriving after eviction is treated as new, an accepted
// tradeoff. It is safe for concurrent use.
type dedupWindow struct {
	seen   map[string]time.Time // dedupe key -> first seen time
	window time.Duration
	mu     sync.Mutex
}

// newDedupWindow creates a dedupWindow with the given retention window.
func newDedupWindow(window time.Duration) *dedupWindow {
	return &dedupWindow{
		seen:   make(map[string]time.Time),
		window: window,
	}
}

// isDuplicate returns true if key has been seen within the retention window.
// If the key has not been seen (or has been evicted), it is recorded and
// false is returned.
func (d *dedupWindow) isDuplicate(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	if first, ok := d.seen[key]; ok {
		if now.Sub(first) < d.window {
			return true
		}
	}

	d.seen[key] = now
	return false
}

// cleanup removes entries older than the retention window. The coordinator
// calls this periodically to keep the map bounded.
func (d *dedupWindow) cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	for key, ts := range d.seen {
		if now.Sub(ts) >= d.window {
			delete(d.seen, key)
		}
	}
}

// size returns the current number of retained keys.
func (d *dedupWindow) size() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
