package gateway

import (
	"context"
	"io"
	"os"

	mmap "github.com/edsrzf/mmap-go"
	"github.com/sirupsen/logrus"

	"github.com/ndlib/ansindex/blobcache"
	"github.com/ndlib/ansindex/store"
)

// Cached is a Source which keeps what Source fetches in Cache and answers
// from the cache when it can. A cached bundle kept in a file is memory
// mapped rather than read.
type Cached struct {
	Source Source
	Cache  blobcache.Cache
	Log    logrus.FieldLogger
}

var _ Source = &Cached{}

// Fetch returns txid from the cache, or from the Source on a miss. Cache
// failures are logged and otherwise treated as misses.
func (c *Cached) Fetch(ctx context.Context, txid string) (*Data, error) {
	if err := checkID(txid); err != nil {
		return nil, err
	}
	log := c.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	log = log.WithField("txid", txid)

	rac, size, err := c.Cache.Get(txid)
	if err != nil {
		log.WithError(err).Warn("bundle cache")
	}
	if rac != nil {
		d, err := load(rac, size)
		if err == nil {
			log.Debug("bundle cache hit")
			d.Cached = true
			return d, nil
		}
		log.WithError(err).Warn("reading cached bundle")
	}

	d, err := c.Source.Fetch(ctx, txid)
	if err != nil {
		return nil, err
	}
	if err := c.fill(txid, d.Bytes); err != nil {
		log.WithError(err).Warn("saving bundle to cache")
	}
	return d, nil
}

func (c *Cached) fill(txid string, b []byte) error {
	w, err := c.Cache.Put(txid)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	if err2 := w.Close(); err == nil {
		err = err2
	}
	return err
}

// load reads a cached bundle. Files are mapped instead of copied; the
// mapping lasts until the Data is closed.
func load(rac store.ReadAtCloser, size int64) (*Data, error) {
	if f, ok := rac.(*os.File); ok && size > 0 {
		m, err := mmap.MapRegion(f, int(size), mmap.RDONLY, 0, 0)
		if err == nil {
			return &Data{
				Bytes: m,
				closer: func() error {
					err := m.Unmap()
					if err2 := f.Close(); err == nil {
						err = err2
					}
					return err
				},
			}, nil
		}
		// fall back to reading it
	}
	defer rac.Close()
	b := make([]byte, size)
	n, err := rac.ReadAt(b, 0)
	if err == io.EOF && int64(n) == size {
		err = nil
	}
	if err != nil {
		return nil, err
	}
	return &Data{Bytes: b}, nil
}
