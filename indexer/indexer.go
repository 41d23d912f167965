// Package indexer turns a bundle into index entries and stored payloads.
//
// An Indexer walks a bundle buffer with an ans104.Reader, validates each
// item, and hands payloads and entries to a StorageWriter. Nested bundles
// are indexed recursively up to a depth limit. A Runner wraps an Indexer
// with fetching, freshness checks and a guard against indexing the same
// transaction twice at once.
package indexer

import (
	"context"
	"encoding/base64"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/ksuid"
	"github.com/sirupsen/logrus"

	"github.com/ndlib/ansindex/ans104"
	"github.com/ndlib/ansindex/index"
	"github.com/ndlib/ansindex/util"
)

// StorageWriter persists payloads and index entries. Write stores payload
// under key, replacing any earlier value, and returns where it went.
// Both methods may be called from several goroutines at once.
type StorageWriter interface {
	Write(key string, payload []byte) (location string, err error)
	WriteIndexEntry(e *index.Entry) error
}

// A StorageError records that the payload or entry of one item could not
// be stored.
type StorageError struct {
	ItemID string
	Err    error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storing %s: %s", e.ItemID, e.Err)
}

// Unwrap gives errors.As and errors.Is access to the underlying error.
func (e *StorageError) Unwrap() error { return e.Err }

// ErrDuplicateItem is recorded for an item whose id was already indexed
// earlier in the same run.
var ErrDuplicateItem = errors.New("duplicate item id, first occurrence kept")

// Defaults used for zero Indexer fields.
const (
	DefaultMaxDepth    = 4
	DefaultConcurrency = 4
)

// An Indexer indexes bundles. The zero value is not usable; Writer must be
// set. An Indexer may be used for several bundles at once.
type Indexer struct {
	Writer StorageWriter

	// MaxDepth bounds nesting. Items of the root bundle are at depth 0,
	// and a nested item at depth MaxDepth or deeper is not opened.
	MaxDepth int

	// FailFast stops a run at the first storage failure.
	FailFast bool

	// Concurrency bounds the number of writes in progress.
	Concurrency int

	Log logrus.FieldLogger
}

// Validated pairs an item with its validation result.
type Validated struct {
	Item   *ans104.Item
	Result ans104.Result
}

func (ix *Indexer) maxDepth() int {
	if ix.MaxDepth <= 0 {
		return DefaultMaxDepth
	}
	return ix.MaxDepth
}

// Index indexes the bundle in buf under the transaction id txid. An error
// reading the bundle header is returned without indexing anything.
// Otherwise the summary is returned, along with the context's error if the
// run was cancelled or a *StorageError if FailFast stopped it. Writes in
// progress are always finished before Index returns.
func (ix *Indexer) Index(ctx context.Context, txid string, buf []byte) (*Summary, error) {
	if _, err := ans104.ReadHeader(buf); err != nil {
		return nil, errors.Wrapf(err, "bundle %s", txid)
	}
	r := ix.start(ctx, txid)
	r.bundle(buf, "", 0)
	return r.finish()
}

// IndexItems indexes items of the root bundle which were already read from
// buf and validated. Nested items are still opened.
func (ix *Indexer) IndexItems(ctx context.Context, txid string, buf []byte, items []Validated) (*Summary, error) {
	r := ix.start(ctx, txid)
	for _, v := range items {
		if r.stopped() {
			break
		}
		r.item(buf, v.Item, v.Result, "", 0)
	}
	return r.finish()
}

// run is the state of one call to Index or IndexItems.
type run struct {
	ix       *Indexer
	outer    context.Context // the caller's
	ctx      context.Context // cancelled when fail fast trips
	cancel   context.CancelFunc
	log      logrus.FieldLogger
	bundleID string
	runID    string
	gate     util.Gate
	wg       sync.WaitGroup
	seen     map[string]bool // item ids already handled in this run

	m       sync.Mutex // protects below
	summary *Summary
	fatal   error
	seq     int
}

func (ix *Indexer) start(ctx context.Context, txid string) *run {
	n := ix.Concurrency
	if n <= 0 {
		n = DefaultConcurrency
	}
	log := ix.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	runID := ksuid.New().String()
	inner, cancel := context.WithCancel(ctx)
	return &run{
		ix:       ix,
		outer:    ctx,
		ctx:      inner,
		cancel:   cancel,
		log:      log.WithFields(logrus.Fields{"bundle": txid, "run": runID}),
		bundleID: txid,
		runID:    runID,
		gate:     util.NewGate(n),
		seen:     make(map[string]bool),
		summary: &Summary{
			BundleID: txid,
			RunID:    runID,
			Started:  time.Now(),
		},
	}
}

func (r *run) stopped() bool {
	return r.ctx.Err() != nil
}

// finish waits for the writes and returns the summary.
func (r *run) finish() (*Summary, error) {
	r.wg.Wait()
	r.cancel()
	s := r.summary
	s.Finished = time.Now()
	s.sortFailures()
	r.log.WithFields(logrus.Fields{
		"valid":     s.Valid,
		"malformed": s.Malformed,
		"failed":    s.Failed,
		"bytes":     s.Bytes,
	}).Info("indexed")
	if r.fatal != nil {
		return s, r.fatal
	}
	if err := r.outer.Err(); err != nil {
		return s, errors.Wrapf(err, "bundle %s", r.bundleID)
	}
	return s, nil
}

// bundle indexes the items of the bundle in buf. It returns an error only
// if the header cannot be read. Offsets of valid items are collected in a
// first pass so overlapping items can be flagged in the second.
func (r *run) bundle(buf []byte, parentID string, depth int) error {
	rd, err := ans104.NewReader(buf)
	if err != nil {
		return err
	}
	size := uint64(len(buf))
	var ranges []ans104.Range
	for rd.Next() {
		it := rd.Item()
		if ans104.Validate(it, size) == ans104.Ok {
			ranges = append(ranges, ans104.RangeOf(it))
		}
	}
	overlaps := ans104.FindOverlaps(ranges)

	rd, _ = ans104.NewReader(buf)
	for rd.Next() {
		if r.stopped() {
			break
		}
		it := rd.Item()
		result := ans104.Validate(it, size)
		if result == ans104.Ok && overlaps[it.Index] {
			result = ans104.Fail(ans104.OverlappingRanges)
		}
		r.item(buf, it, result, parentID, depth)
	}
	return nil
}

// item indexes one item. Valid items have their payload and entry written;
// malformed ones only their entry. A nested item is opened after its own
// writes are dispatched. Only the first item with a given id is indexed;
// later ones are listed as failures.
func (r *run) item(buf []byte, it *ans104.Item, result ans104.Result, parentID string, depth int) {
	id := it.ID.String()
	if r.seen[id] {
		r.log.WithFields(logrus.Fields{"item": id, "parent": parentID}).Warn("duplicate item id")
		r.record(func(s *Summary, seq int) {
			s.Failures = append(s.Failures, Failure{
				ItemID:   id,
				ParentID: parentID,
				Depth:    depth,
				Err:      ErrDuplicateItem.Error(),
				seq:      seq,
			})
		})
		return
	}
	r.seen[id] = true
	if result.Status == ans104.Valid && it.Nested && depth >= r.ix.maxDepth() {
		result = ans104.Fail(ans104.RecursionLimitExceeded)
	}
	e := r.entry(it, result, parentID, depth)
	if result.Status != ans104.Valid {
		ok := r.dispatch(e, func() error {
			return r.ix.Writer.WriteIndexEntry(e)
		}, func(s *Summary, seq int) {
			s.Malformed++
			s.Failures = append(s.Failures, Failure{
				ItemID:   id,
				ParentID: parentID,
				Depth:    depth,
				Reason:   result.Reason,
				seq:      seq,
			})
		})
		if ok {
			r.log.WithFields(logrus.Fields{"item": id, "reason": result.Reason}).Debug("malformed item")
		}
		return
	}

	payload := it.Data(buf)
	hw := util.NewHashWriterPlain()
	hw.Write(payload)
	e.SHA256 = hw.SHA256Hex()
	ok := r.dispatch(e, func() error {
		loc, err := r.ix.Writer.Write(PayloadKey(r.bundleID, id), payload)
		if err != nil {
			return err
		}
		e.Location = loc
		if err = r.ix.Writer.WriteIndexEntry(e); err != nil {
			return err
		}
		r.m.Lock()
		r.summary.Bytes += int64(len(payload))
		r.m.Unlock()
		return nil
	}, func(s *Summary, seq int) {
		s.Valid++
	})
	if !ok || !it.Nested {
		return
	}
	if err := r.bundle(payload, id, depth+1); err != nil {
		r.log.WithField("item", id).WithError(err).Warn("nested bundle unreadable")
		r.record(func(s *Summary, seq int) {
			s.Failures = append(s.Failures, Failure{
				ItemID:   id,
				ParentID: parentID,
				Depth:    depth,
				Err:      "nested bundle: " + err.Error(),
				seq:      seq,
			})
		})
	}
}

func (r *run) entry(it *ans104.Item, result ans104.Result, parentID string, depth int) *index.Entry {
	return &index.Entry{
		ItemID:        it.ID.String(),
		BundleID:      r.bundleID,
		ParentID:      parentID,
		Depth:         depth,
		Offset:        toInt64(it.DataOffset),
		Size:          toInt64(it.DataLength),
		SignatureType: int(it.SignatureType),
		Owner:         base64.RawURLEncoding.EncodeToString(it.Owner),
		Target:        it.Target.String(),
		Anchor:        it.Anchor.String(),
		Tags:          it.Tags,
		Status:        result.Status,
		Reason:        result.Reason,
		RunID:         r.runID,
		Indexed:       time.Now(),
	}
}

// dispatch runs write for the item of e in its own goroutine once the gate
// lets it in, and applies count to the summary. It returns false without
// doing either if the run was stopped first.
func (r *run) dispatch(e *index.Entry, write func() error, count func(*Summary, int)) bool {
	if err := r.gate.Enter(r.ctx); err != nil {
		return false
	}
	seq := r.record(count)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.gate.Leave()
		if err := write(); err != nil {
			r.failed(e, seq, err)
		}
	}()
	return true
}

// record applies f to the summary under the lock. It returns the sequence
// number given to f.
func (r *run) record(f func(*Summary, int)) int {
	r.m.Lock()
	defer r.m.Unlock()
	r.seq++
	f(r.summary, r.seq)
	return r.seq
}

func (r *run) failed(e *index.Entry, seq int, err error) {
	r.log.WithField("item", e.ItemID).WithError(err).Warn("storage failure")
	r.m.Lock()
	defer r.m.Unlock()
	s := r.summary
	s.Failed++
	s.Failures = append(s.Failures, Failure{
		ItemID:   e.ItemID,
		ParentID: e.ParentID,
		Depth:    e.Depth,
		Err:      err.Error(),
		seq:      seq,
	})
	if r.ix.FailFast && r.fatal == nil {
		r.fatal = &StorageError{ItemID: e.ItemID, Err: err}
		r.cancel()
	}
}

func toInt64(v uint64) int64 {
	if v > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(v)
}
