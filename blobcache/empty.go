package blobcache

import (
	"io"
	"io/ioutil"

	"github.com/ndlib/ansindex/store"
)

// An EmptyCache always misses. It contains nothing and saves nothing. It is
// used when caching is turned off.
type EmptyCache struct{}

var _ Cache = EmptyCache{}

// Contains always returns false.
func (EmptyCache) Contains(key string) bool {
	return false
}

// Get always returns a cache miss.
func (EmptyCache) Get(key string) (store.ReadAtCloser, int64, error) {
	return nil, 0, nil
}

// Put returns a valid WriteCloser which discards its input.
func (EmptyCache) Put(key string) (io.WriteCloser, error) {
	return nopCloser{ioutil.Discard}, nil
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }
