package store

// Remote stores need to remember what they have already learned about
// keys. This file implements a small expiring cache of object sizes.

import (
	"sync"
	"time"
)

// head is the structure stored in a sizecache.
type head struct {
	expire time.Time
	size   int64 // see sizeDeleted
}

// A sizecache remembers the size of a remote object, or that it does not
// exist. Entries expire. Misses expire sooner than hits since payloads are
// often written soon after a miss.
type sizecache struct {
	m         sync.Mutex      // protects everything below
	cache     map[string]head // cache for item sizes
	sweeptime time.Time       // next time to age everything
	hitTTL    time.Duration
	missTTL   time.Duration
}

const (
	// sizeDeleted marks a key known not to exist.
	sizeDeleted int64 = -1

	defaultMissTTL = 5 * time.Minute
	defaultHitTTL  = 24 * time.Hour
)

func newSizeCache() *sizecache {
	return &sizecache{
		cache:   make(map[string]head),
		hitTTL:  defaultHitTTL,
		missTTL: defaultMissTTL,
	}
}

// Get returns the size associated with key. A key not in the cache, or
// expired, is filled by calling fill, whose answer is cached. Use
// sizeDeleted in fill to report a missing key. A missing key is reported as
// ErrNotFound.
func (s *sizecache) Get(key string, fill func(key string) (int64, error)) (int64, error) {
	s.m.Lock()
	now := time.Now()
	if now.After(s.sweeptime) {
		s.age(now)
	}
	entry, ok := s.cache[key]
	s.m.Unlock()
	if !ok || now.After(entry.expire) {
		size, err := fill(key)
		if err != nil {
			return 0, err
		}
		s.Set(key, size)
		entry.size = size
	}
	if entry.size < 0 {
		return 0, ErrNotFound
	}
	return entry.size, nil
}

// Set caches a size to use for the given key.
// Use sizeDeleted to mark the key as missing.
func (s *sizecache) Set(key string, size int64) {
	ttl := s.hitTTL
	if size < 0 {
		ttl = s.missTTL
	}
	s.m.Lock()
	s.cache[key] = head{expire: time.Now().Add(ttl), size: size}
	s.m.Unlock()
}

// Forget removes key so the next Get asks again.
func (s *sizecache) Forget(key string) {
	s.m.Lock()
	delete(s.cache, key)
	s.m.Unlock()
}

// age removes expired entries. The caller holds m.
func (s *sizecache) age(now time.Time) {
	s.sweeptime = now.Add(time.Hour)
	for k, v := range s.cache {
		if now.After(v.expire) {
			delete(s.cache, k)
		}
	}
}
