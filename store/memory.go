package store

import (
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// Memory implements a simple in-memory version of a store. It is intended
// mainly for testing.
type Memory struct {
	m     sync.RWMutex
	store map[string][]byte
}

var (
	// ensure Memory satisfies the Store interface
	_ Store = &Memory{}
)

// NewMemory returns a new, empty memory store.
func NewMemory() *Memory {
	return &Memory{store: make(map[string][]byte)}
}

// List returns a channel giving every key in the store. The keys are
// gathered when List is called.
func (ms *Memory) List() <-chan string {
	keys, _ := ms.ListPrefix("")
	c := make(chan string)
	go func() {
		for _, k := range keys {
			c <- k
		}
		close(c)
	}()
	return c
}

// ListPrefix returns the keys which begin with the given prefix, in sorted
// order.
func (ms *Memory) ListPrefix(prefix string) ([]string, error) {
	var result []string
	ms.m.RLock()
	for k := range ms.store {
		if strings.HasPrefix(k, prefix) {
			result = append(result, k)
		}
	}
	ms.m.RUnlock()
	sort.Strings(result)
	return result, nil
}

// Open returns a ReadAtCloser and the size of the given value. Values are
// never modified in place, so readers need no lock.
func (ms *Memory) Open(key string) (ReadAtCloser, int64, error) {
	ms.m.RLock()
	v, ok := ms.store[key]
	ms.m.RUnlock()
	if !ok {
		return nil, 0, errors.Wrap(ErrNotFound, key)
	}
	return memReader(v), int64(len(v)), nil
}

type memReader []byte

func (r memReader) Close() error { return nil }

func (r memReader) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(r)) {
		return 0, io.EOF
	}
	n := copy(p, r[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Create returns a writer to save a new value. The value appears in the
// store when the writer is closed.
func (ms *Memory) Create(key string) (io.WriteCloser, error) {
	ms.m.RLock()
	_, ok := ms.store[key]
	ms.m.RUnlock()
	if ok {
		return nil, errors.Wrap(ErrKeyExists, key)
	}
	return &memWriter{parent: ms, key: key}, nil
}

type memWriter struct {
	parent *Memory
	key    string
	b      []byte
}

func (w *memWriter) Write(p []byte) (int, error) {
	w.b = append(w.b, p...)
	return len(p), nil
}

func (w *memWriter) Close() error {
	ms := w.parent
	ms.m.Lock()
	defer ms.m.Unlock()
	if _, ok := ms.store[w.key]; ok {
		return errors.Wrap(ErrKeyExists, w.key)
	}
	if w.b == nil {
		w.b = []byte{}
	}
	ms.store[w.key] = w.b
	return nil
}

// Delete the given key from the store. It is not an error if the key does
// not exist in the store.
func (ms *Memory) Delete(key string) error {
	ms.m.Lock()
	delete(ms.store, key)
	ms.m.Unlock()
	return nil
}

// Put replaces the value under key directly. Tests use it to tamper with
// stored values.
func (ms *Memory) Put(key string, value []byte) {
	ms.m.Lock()
	ms.store[key] = append([]byte{}, value...)
	ms.m.Unlock()
}
