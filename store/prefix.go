package store

import (
	"io"
	"strings"
)

// NewWithPrefix wraps s so every key is stored as prefix+key. Several users
// can share one store this way without their keys colliding. The index and
// the bundle cache can live in the same S3 bucket, for example.
func NewWithPrefix(s Store, prefix string) Store {
	return &Prefixed{s: s, prefix: prefix}
}

// Prefixed is a Store whose keys are namespaced within another Store.
type Prefixed struct {
	s      Store  // the store being wrapped
	prefix string // the prefix for our keys
}

// List returns our keys, with the prefix removed.
func (p *Prefixed) List() <-chan string {
	out := make(chan string)
	in := p.s.List()
	go func() {
		for key := range in {
			if strings.HasPrefix(key, p.prefix) {
				out <- key[len(p.prefix):]
			}
		}
		close(out)
	}()
	return out
}

// ListPrefix returns our keys beginning with prefix, with our namespace
// prefix removed.
func (p *Prefixed) ListPrefix(prefix string) ([]string, error) {
	keys, err := p.s.ListPrefix(p.prefix + prefix)
	var result []string
	for _, key := range keys {
		result = append(result, strings.TrimPrefix(key, p.prefix))
	}
	return result, err
}

func (p *Prefixed) Open(key string) (ReadAtCloser, int64, error) {
	return p.s.Open(p.prefix + key)
}

func (p *Prefixed) Create(key string) (io.WriteCloser, error) {
	return p.s.Create(p.prefix + key)
}

func (p *Prefixed) Delete(key string) error {
	return p.s.Delete(p.prefix + key)
}
