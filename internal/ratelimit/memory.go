package ratelimit

import (
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// memoryWindows is the in-process fallback. Windows expire one window length
// after their last request and the go-cache janitor drops them.
type memoryWindows struct {
	mu      sync.Mutex
	windows *gocache.Cache
}

type slidingWindow struct {
	mu   sync.Mutex
	hits []time.Time
}

func newMemoryWindows(sweepInterval time.Duration) *memoryWindows {
	return &memoryWindows{
		windows: gocache.New(gocache.NoExpiration, sweepInterval),
	}
}

func (m *memoryWindows) window(key string, span time.Duration) *slidingWindow {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.windows.Get(key)
	if !ok {
		w = &slidingWindow{}
	}
	m.windows.Set(key, w, span)
	return w.(*slidingWindow)
}

func (m *memoryWindows) check(key string, now time.Time, max int, span time.Duration) Result {
	w := m.window(key, span)

	w.mu.Lock()
	defer w.mu.Unlock()

	cutoff := now.Add(-span)
	kept := w.hits[:0]
	for _, hit := range w.hits {
		if hit.After(cutoff) {
			kept = append(kept, hit)
		}
	}
	w.hits = append(kept, now)

	result := Result{Allowed: true, Limit: max}
	if len(w.hits) > max {
		w.hits = w.hits[:len(w.hits)-1]
		result.Allowed = false
		result.RetryAfter = span
	} else {
		result.Remaining = max - len(w.hits)
	}
	// max >= 1, so at least one hit remains
	result.ResetAt = w.hits[0].Add(span)
	return result
}

func (m *memoryWindows) reset(key string) {
	m.windows.Delete(key)
}

// flush drops every window. The go-cache janitor has no stop method; it
// exits when the cache is garbage collected.
func (m *memoryWindows) flush() {
	m.windows.Flush()
}
