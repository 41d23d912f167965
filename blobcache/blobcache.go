// Package blobcache keeps raw bundles fetched from the gateway so a bundle
// indexed twice is only downloaded once. It is backed by a store, so it can
// be entirely in memory or disk-backed.
//
// While the cached contents are kept in the store, the list recording usage
// information is kept only in memory. On startup the items in the store are
// enumerated and taken to populate the cache list in an undetermined order.
//
// The cache uses an LRU replacement policy.
package blobcache

import (
	"container/list"
	"io"
	"sync"

	"github.com/pkg/errors"

	"github.com/ndlib/ansindex/store"
)

// A Cache holds blobs by key. A miss is not an error: Get returns a nil
// ReadAtCloser.
type Cache interface {
	Contains(key string) bool
	Get(key string) (store.ReadAtCloser, int64, error)
	Put(key string) (io.WriteCloser, error)
}

// LRU is a size bounded Cache which evicts the least recently used blob.
type LRU struct {
	// this is the place where cached items are stored
	s store.Store

	m sync.Mutex // protects everything below

	// total size used to store items in cache, including reservations for
	// writes in progress.
	size int64

	maxSize int64 // The maximum amount of space we may use

	// front of list is MRU, tail is LRU.
	lru     *list.List
	index   map[string]*list.Element
	pending map[string]bool // keys with an open writer
}

type entry struct {
	key  string
	size int64
}

var (
	_ Cache = &LRU{}

	// ErrCacheFull means a blob is larger than the whole cache.
	ErrCacheFull = errors.New("cache is full and no more items can be removed")

	// ErrPutPending means another writer is filling the same key.
	ErrPutPending = errors.New("key is already being written")
)

// NewLRU creates a cache using s to hold up to maxSize bytes. The given
// store may already have items in it. Call Scan() either inline or in a
// goroutine to add them to the LRU list.
func NewLRU(s store.Store, maxSize int64) *LRU {
	return &LRU{
		s:       s,
		maxSize: maxSize,
		lru:     list.New(),
		index:   make(map[string]*list.Element),
		pending: make(map[string]bool),
	}
}

// Scan enumerates the items in the backing store and adds them to the
// cache. Items which do not fit are deleted. Blocks until it is finished.
func (t *LRU) Scan() {
	for key := range t.s.List() {
		if t.Contains(key) {
			continue
		}
		rc, size, err := t.s.Open(key)
		if err != nil {
			continue
		}
		rc.Close()
		if err = t.reserve(size); err != nil {
			// this item is too big for the cache.
			t.s.Delete(key)
			continue
		}
		t.link(entry{key: key, size: size})
	}
}

// Contains returns true if the given item is in the cache. It does not
// update the LRU status, and does not guarantee the item will be in the
// cache when Get() is called.
func (t *LRU) Contains(key string) bool {
	t.m.Lock()
	_, ok := t.index[key]
	t.m.Unlock()
	return ok
}

// Get returns a reader for the given blob and moves it to the front of the
// LRU list. If the blob is not in the cache a nil ReadAtCloser is returned.
func (t *LRU) Get(key string) (store.ReadAtCloser, int64, error) {
	t.m.Lock()
	e, ok := t.index[key]
	if ok {
		t.lru.MoveToFront(e)
	}
	t.m.Unlock()
	if !ok {
		return nil, 0, nil
	}
	rac, size, err := t.s.Open(key)
	if errors.Cause(err) == store.ErrNotFound {
		// removed behind our back
		t.unlink(key)
		return nil, 0, nil
	}
	return rac, size, err
}

// Put returns a WriteCloser which saves writes to it in the cache under the
// provided key. Items are evicted from the cache as content is written to
// the writer. The blob is not added to the cache until the writer is closed.
//
// Only one writer to a given key can be active at a time. Once a blob is in
// the cache, Puts for it return store.ErrKeyExists until it is evicted.
func (t *LRU) Put(key string) (io.WriteCloser, error) {
	t.m.Lock()
	if t.pending[key] {
		t.m.Unlock()
		return nil, ErrPutPending
	}
	if _, ok := t.index[key]; ok {
		t.m.Unlock()
		return nil, errors.Wrap(store.ErrKeyExists, key)
	}
	t.pending[key] = true
	t.m.Unlock()

	w, err := t.s.Create(key)
	if err != nil {
		t.m.Lock()
		delete(t.pending, key)
		t.m.Unlock()
		return nil, err
	}
	return &writer{parent: t, key: key, w: w}, nil
}

// Size returns the number of bytes the cache is using.
func (t *LRU) Size() int64 {
	t.m.Lock()
	defer t.m.Unlock()
	return t.size
}

func (t *LRU) link(e entry) {
	t.m.Lock()
	t.index[e.key] = t.lru.PushFront(e)
	t.m.Unlock()
}

func (t *LRU) unlink(key string) {
	t.m.Lock()
	if e, ok := t.index[key]; ok {
		t.size -= t.lru.Remove(e).(entry).size
		delete(t.index, key)
	}
	t.m.Unlock()
}

// save is called when a writer closes successfully.
func (t *LRU) save(w *writer) {
	t.m.Lock()
	delete(t.pending, w.key)
	t.index[w.key] = t.lru.PushFront(entry{key: w.key, size: w.size})
	t.m.Unlock()
}

// discard is called when a writer fails. Its reservation is returned.
func (t *LRU) discard(w *writer) {
	t.s.Delete(w.key)
	t.m.Lock()
	delete(t.pending, w.key)
	t.size -= w.size
	t.m.Unlock()
}

// reserve space for the passed in size, evicting items if necessary to stay
// under maxSize. Nothing is reserved if there is an error.
func (t *LRU) reserve(size int64) error {
	t.m.Lock()
	defer t.m.Unlock()

	t.size += size
	for t.size > t.maxSize {
		e := t.lru.Back()
		if e == nil {
			t.size -= size
			return ErrCacheFull
		}
		ent := t.lru.Remove(e).(entry)
		delete(t.index, ent.key)
		if err := t.s.Delete(ent.key); err != nil {
			t.size -= size
			return err
		}
		t.size -= ent.size
	}
	return nil
}
