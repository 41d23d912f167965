package indexer

import (
	"bytes"
	"sync"

	"github.com/getsentry/raven-go"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/ndlib/ansindex/index"
	"github.com/ndlib/ansindex/store"
)

// PayloadKey is the store key for the payload of item itemID in bundle
// bundleID. The same item id may be claimed by several bundles, so the key
// includes both. Both ids are base64url, so the key has no slashes.
func PayloadKey(bundleID, itemID string) string {
	return bundleID + "-" + itemID
}

// StoreWriter is a StorageWriter which keeps payloads in a store.Store and
// entries in an index.DB. The key a payload is stored under is the
// location recorded in the entry.
type StoreWriter struct {
	Store store.Store
	DB    index.DB
	Log   logrus.FieldLogger

	locks keyLocks
}

// Write replaces any payload already stored under key. Writes to the same
// key are serialized. If the key is recreated by someone else between the
// delete and the create, the write succeeds when the stored bytes are the
// same as payload.
func (sw *StoreWriter) Write(key string, payload []byte) (string, error) {
	unlock := sw.locks.lock(key)
	defer unlock()
	err := store.Replace(sw.Store, key, payload)
	if errors.Cause(err) == store.ErrKeyExists {
		if got, err2 := store.ReadAll(sw.Store, key); err2 == nil && bytes.Equal(got, payload) {
			err = nil
		}
	}
	if err != nil {
		sw.report(err)
		return "", err
	}
	return key, nil
}

// WriteIndexEntry upserts e.
func (sw *StoreWriter) WriteIndexEntry(e *index.Entry) error {
	err := sw.DB.SetEntry(e)
	if err != nil {
		err = errors.Wrapf(err, "index entry %s", e.ItemID)
		sw.report(err)
	}
	return err
}

func (sw *StoreWriter) report(err error) {
	log := sw.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	log.WithError(err).Error("storage write")
	raven.CaptureError(err, nil)
}

// keyLocks is a set of mutexes, one per key in use. A key's mutex is
// dropped once nobody holds or waits for it.
type keyLocks struct {
	mu   sync.Mutex          // protects held
	held map[string]*keyLock // keys locked or waited on
}

type keyLock struct {
	sync.Mutex
	refs int
}

// lock blocks until key is free and returns the function to release it.
func (kl *keyLocks) lock(key string) func() {
	kl.mu.Lock()
	if kl.held == nil {
		kl.held = make(map[string]*keyLock)
	}
	l := kl.held[key]
	if l == nil {
		l = &keyLock{}
		kl.held[key] = l
	}
	l.refs++
	kl.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		kl.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(kl.held, key)
		}
		kl.mu.Unlock()
	}
}
