package indexer

import (
	"sync"
)

// flights tracks the transactions being indexed. Unlike a singleflight,
// a second caller for the same key is turned away instead of waiting.
type flights struct {
	mu       sync.Mutex          // protects inflight
	inflight map[string]struct{} // keys in progress
}

// Begin marks key as in progress. It returns false if it already was.
func (f *flights) Begin(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.inflight[key]; ok {
		return false
	}
	if f.inflight == nil {
		f.inflight = make(map[string]struct{})
	}
	f.inflight[key] = struct{}{}
	return true
}

// End clears key.
func (f *flights) End(key string) {
	f.mu.Lock()
	delete(f.inflight, key)
	f.mu.Unlock()
}

// Busy reports whether key is in progress.
func (f *flights) Busy(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.inflight[key]
	return ok
}
