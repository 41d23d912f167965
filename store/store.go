// Package store provides a simple, goroutine safe key-value interface for
// item payloads. Values are streams rather than byte slices so large
// payloads never need to be held twice.
//
// The FileSystem store is the default home for payloads. Memory is for
// tests, and S3 keeps payloads in a bucket. A prefix wrapper lets several
// users share one store.
package store

import (
	"io"

	"github.com/pkg/errors"
)

// ReadAtCloser combines the io.ReaderAt and io.Closer interfaces.
type ReadAtCloser interface {
	io.ReaderAt
	io.Closer
}

// Store defines the basic stream based key-value store.
// Values are immutable once stored, but they may be deleted and then
// replaced with a new value. Writing a payload again is done that way.
//
// Since the FileSystem store uses the key as file names, keys should not
// contain forbidden filesystem characters, such as '/'. Item ids printed as
// base64url are always safe keys.
type Store interface {
	ROStore
	Create(key string) (io.WriteCloser, error)
	Delete(key string) error
}

// ROStore is the read-only pieces of a Store. It allows one to list contents,
// and to retrieve data.
type ROStore interface {
	List() <-chan string
	ListPrefix(prefix string) ([]string, error)
	Open(key string) (ReadAtCloser, int64, error)
}

var (
	// ErrNotFound is returned by Open when the key does not exist.
	ErrNotFound = errors.New("key not found")

	// ErrKeyExists indicates an attempt to create a key which already exists
	ErrKeyExists = errors.New("key already exists")
)

// Replace stores value under key, removing any previous value first. It is
// the way to overwrite a key.
func Replace(s Store, key string, value []byte) error {
	if err := s.Delete(key); err != nil {
		return errors.Wrapf(err, "replace %s", key)
	}
	w, err := s.Create(key)
	if err != nil {
		return errors.Wrapf(err, "replace %s", key)
	}
	_, err = w.Write(value)
	if err2 := w.Close(); err == nil {
		err = err2
	}
	if err != nil {
		// don't leave a partial value behind. ErrKeyExists means the
		// value there is someone else's.
		if errors.Cause(err) != ErrKeyExists {
			s.Delete(key)
		}
		return errors.Wrapf(err, "replace %s", key)
	}
	return nil
}

// ReadAll returns the whole value stored under key.
func ReadAll(s ROStore, key string) ([]byte, error) {
	rac, size, err := s.Open(key)
	if err != nil {
		return nil, err
	}
	defer rac.Close()
	b := make([]byte, size)
	n, err := rac.ReadAt(b, 0)
	if err == io.EOF && int64(n) == size {
		err = nil
	}
	return b[:n], err
}

// NewReader converts a ReaderAt into a io.Reader. It is here as a utility to
// help work with the ReadAtCloser returned by Open.
func NewReader(r io.ReaderAt) io.Reader {
	return &reader{r: r}
}

type reader struct {
	r   io.ReaderAt
	off int64
}

func (r *reader) Read(p []byte) (n int, err error) {
	n, err = r.r.ReadAt(p, r.off)
	r.off += int64(n)
	if err == io.EOF && n > 0 {
		// reading less than a full buffer is not an error for
		// an io.Reader
		err = nil
	}
	return
}
