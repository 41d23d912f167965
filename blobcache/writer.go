package blobcache

import (
	"io"
)

// writer copies a new blob into the cache, reserving space as it goes.
type writer struct {
	parent *LRU
	key    string
	w      io.WriteCloser
	size   int64 // bytes reserved so far
	failed bool
}

func (w *writer) Write(p []byte) (int, error) {
	// evict first so we never have more than maxSize in the store
	if err := w.parent.reserve(int64(len(p))); err != nil {
		w.failed = true
		return 0, err
	}
	w.size += int64(len(p))
	n, err := w.w.Write(p)
	if err != nil {
		w.failed = true
	}
	return n, err
}

// Close adds the blob to the cache, unless a write failed. In that case
// the partial blob is removed.
func (w *writer) Close() error {
	err := w.w.Close()
	if err != nil || w.failed {
		w.parent.discard(w)
		return err
	}
	w.parent.save(w)
	return nil
}
