// Package gateway fetches raw bundle bytes. A Connection talks to an
// Arweave gateway over HTTP, and Cached puts a blobcache in front of any
// Source.
package gateway

import (
	"context"

	"github.com/pkg/errors"

	"github.com/ndlib/ansindex/ans104"
)

// Errors returned by a Source. They may be wrapped; compare against
// errors.Cause(err).
var (
	ErrNotFound  = errors.New("transaction not found")
	ErrNetwork   = errors.New("gateway request failed")
	ErrTimeout   = errors.New("gateway request timed out")
	ErrInvalidID = errors.New("invalid transaction id")
)

// A Source provides the raw bytes of a transaction.
type Source interface {
	Fetch(ctx context.Context, txid string) (*Data, error)
}

// Data is the content of one transaction. Bytes must not be modified, since
// they may be shared or mapped read only. Call Close when finished with it.
type Data struct {
	Bytes []byte

	// Cached is true when the bytes came from the local cache.
	Cached bool

	closer func() error
}

// Close releases the bytes. It is safe to call more than once.
func (d *Data) Close() error {
	if d == nil || d.closer == nil {
		return nil
	}
	f := d.closer
	d.closer = nil
	d.Bytes = nil
	return f()
}

// checkID makes sure txid is a well formed id before it goes into a URL or
// a cache key.
func checkID(txid string) error {
	if _, err := ans104.ParseID(txid); err != nil {
		return errors.Wrap(ErrInvalidID, txid)
	}
	return nil
}
