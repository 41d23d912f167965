package indexer

import (
	"bytes"
	"context"
	"io/ioutil"
	"os"
	"sync"
	"testing"

	"github.com/pkg/errors"

	"github.com/ndlib/ansindex/ans104"
	"github.com/ndlib/ansindex/index"
	"github.com/ndlib/ansindex/store"
)

const testTx = "dGVzdC1idW5kbGUtdHJhbnNhY3Rpb24taWQtMDAwMDA"

func plain(sig byte, data string) *ans104.DataItem {
	return &ans104.DataItem{
		SignatureType: ans104.ED25519,
		Signature:     bytes.Repeat([]byte{sig}, 64),
		Tags:          []ans104.Tag{{Name: "Content-Type", Value: "text/plain"}},
		Data:          []byte(data),
	}
}

func nested(sig byte, inner []byte) *ans104.DataItem {
	return &ans104.DataItem{
		SignatureType: ans104.ED25519,
		Signature:     bytes.Repeat([]byte{sig}, 64),
		Tags: []ans104.Tag{
			{Name: ans104.BundleFormatTag, Value: ans104.BundleFormat},
			{Name: ans104.BundleVersionTag, Value: ans104.BundleVersion},
		},
		Data: inner,
	}
}

func makeBundle(t *testing.T, items ...*ans104.DataItem) ([]byte, []string) {
	var w ans104.Writer
	var ids []string
	for _, d := range items {
		id, err := w.Add(d)
		if err != nil {
			t.Fatalf("Received %s", err.Error())
		}
		ids = append(ids, id.String())
	}
	return w.Bytes(), ids
}

type testEnv struct {
	store *store.Memory
	db    *index.QL
	ix    *Indexer
}

func newTestEnv(t *testing.T) *testEnv {
	db, err := index.NewQL("memory")
	if err != nil {
		t.Fatalf("Received %s", err.Error())
	}
	env := &testEnv{store: store.NewMemory(), db: db}
	env.ix = &Indexer{Writer: &StoreWriter{Store: env.store, DB: db}}
	return env
}

func (env *testEnv) entry(t *testing.T, item string) *index.Entry {
	got, err := env.db.Lookup(item)
	if err != nil {
		t.Fatalf("Received %s", err.Error())
	}
	if len(got) != 1 {
		t.Fatalf("item %s: Received %d entries, expected 1", item, len(got))
	}
	return got[0]
}

func checkCounts(t *testing.T, s *Summary, valid, malformed, failed int) {
	t.Helper()
	if s.Valid != valid || s.Malformed != malformed || s.Failed != failed {
		t.Errorf("Received %d/%d/%d valid/malformed/failed, expected %d/%d/%d",
			s.Valid, s.Malformed, s.Failed, valid, malformed, failed)
	}
}

func TestIndexEmptyBundle(t *testing.T) {
	env := newTestEnv(t)
	defer env.db.Close()
	var w ans104.Writer
	s, err := env.ix.Index(context.Background(), testTx, w.Bytes())
	if err != nil {
		t.Fatalf("Received %s", err.Error())
	}
	checkCounts(t, s, 0, 0, 0)
	if s.Bytes != 0 || len(s.Failures) != 0 {
		t.Errorf("Received %+v", s)
	}
}

func TestIndexUnreadableHeader(t *testing.T) {
	env := newTestEnv(t)
	defer env.db.Close()
	s, err := env.ix.Index(context.Background(), testTx, make([]byte, 10))
	if errors.Cause(err) != ans104.ErrTruncated {
		t.Errorf("Received %v, expected %v", err, ans104.ErrTruncated)
	}
	if s != nil {
		t.Errorf("Received summary %+v", s)
	}
	keys, _ := env.store.ListPrefix("")
	if len(keys) != 0 {
		t.Errorf("Received keys %v", keys)
	}
}

func TestIndexOutOfBounds(t *testing.T) {
	env := newTestEnv(t)
	defer env.db.Close()
	d := plain(1, "too short")
	raw, _ := d.Encode()
	var w ans104.Writer
	w.AddEntry(ans104.Entry{Size: uint64(len(raw)) + 50, ID: d.ID()}, raw)

	s, err := env.ix.Index(context.Background(), testTx, w.Bytes())
	if err != nil {
		t.Fatalf("Received %s", err.Error())
	}
	checkCounts(t, s, 0, 1, 0)
	if len(s.Failures) != 1 || s.Failures[0].Reason != ans104.OffsetOutOfBounds {
		t.Errorf("Received failures %v", s.Failures)
	}
	e := env.entry(t, d.ID().String())
	if e.Status != ans104.Malformed || e.Reason != ans104.OffsetOutOfBounds {
		t.Errorf("Received %s %s, expected malformed offset-out-of-bounds", e.Status, e.Reason)
	}
	if e.Location != "" {
		t.Errorf("Received location %q for a malformed item", e.Location)
	}
	if _, _, err := env.store.Open(PayloadKey(testTx, d.ID().String())); errors.Cause(err) != store.ErrNotFound {
		t.Errorf("payload of a malformed item was stored")
	}
}

func TestIndexItemsOverlap(t *testing.T) {
	env := newTestEnv(t)
	defer env.db.Close()
	buf, _ := makeBundle(t, plain(1, "first"), plain(2, "second"))
	_, items, err := ans104.ReadAll(buf)
	if err != nil {
		t.Fatalf("Received %s", err.Error())
	}
	// a third item claiming the payload of the first
	twin := *items[0]
	twin.Index = 2
	twin.ID = ans104.ID{42}
	items = append(items, &twin)
	results := ans104.ValidateAll(items, uint64(len(buf)))
	var vs []Validated
	for i := range items {
		vs = append(vs, Validated{Item: items[i], Result: results[i]})
	}

	s, err := env.ix.IndexItems(context.Background(), testTx, buf, vs)
	if err != nil {
		t.Fatalf("Received %s", err.Error())
	}
	checkCounts(t, s, 1, 2, 0)
	for _, id := range []string{items[0].ID.String(), twin.ID.String()} {
		e := env.entry(t, id)
		if e.Reason != ans104.OverlappingRanges {
			t.Errorf("item %s: Received %s, expected %s", id, e.Reason, ans104.OverlappingRanges)
		}
	}
	if e := env.entry(t, items[1].ID.String()); e.Status != ans104.Valid {
		t.Errorf("Received %s, expected valid", e.Status)
	}
}

func TestIsolation(t *testing.T) {
	env := newTestEnv(t)
	defer env.db.Close()
	good := []*ans104.DataItem{plain(1, "one"), plain(2, "two"), plain(3, "three")}
	bad, _ := plain(4, "bad").Encode()
	bad[2+64+32] = 9 // target presence byte

	var w ans104.Writer
	id0, _ := w.Add(good[0])
	w.AddRaw(ans104.ID{4}, bad)
	id1, _ := w.Add(good[1])
	id2, _ := w.Add(good[2])
	buf := w.Bytes()

	s, err := env.ix.Index(context.Background(), testTx, buf)
	if err != nil {
		t.Fatalf("Received %s", err.Error())
	}
	checkCounts(t, s, 3, 1, 0)
	if s.Bytes != int64(len("one")+len("two")+len("three")) {
		t.Errorf("Received %d bytes", s.Bytes)
	}
	if len(s.Failures) != 1 || s.Failures[0].ItemID != (ans104.ID{4}).String() || s.Failures[0].Reason != ans104.InvalidPresence {
		t.Errorf("Received failures %v", s.Failures)
	}
	for i, id := range []ans104.ID{id0, id1, id2} {
		payload, err := store.ReadAll(env.store, PayloadKey(testTx, id.String()))
		if err != nil {
			t.Errorf("item %d: Received %s", i, err.Error())
			continue
		}
		if !bytes.Equal(payload, good[i].Data) {
			t.Errorf("item %d: Received %q, expected %q", i, payload, good[i].Data)
		}
		e := env.entry(t, id.String())
		if e.Status != ans104.Valid || e.Location != PayloadKey(testTx, id.String()) || e.SHA256 == "" {
			t.Errorf("item %d: Received %+v", i, e)
		}
		if e.BundleID != testTx || e.ParentID != "" || e.Depth != 0 {
			t.Errorf("item %d: Received %+v", i, e)
		}
	}
}

func TestIndexIdempotent(t *testing.T) {
	env := newTestEnv(t)
	defer env.db.Close()
	inner, _ := makeBundle(t, plain(10, "inner"))
	buf, _ := makeBundle(t, plain(1, "one"), nested(2, inner), plain(3, ""))

	if _, err := env.ix.Index(context.Background(), testTx, buf); err != nil {
		t.Fatalf("Received %s", err.Error())
	}
	first, _ := env.db.Bundle(testTx)
	keys1, _ := env.store.ListPrefix("")

	s, err := env.ix.Index(context.Background(), testTx, buf)
	if err != nil {
		t.Fatalf("Received %s", err.Error())
	}
	second, _ := env.db.Bundle(testTx)
	keys2, _ := env.store.ListPrefix("")

	if len(first) != 4 || len(first) != len(second) {
		t.Fatalf("Received %d and %d entries, expected 4", len(first), len(second))
	}
	for i := range first {
		if !first[i].Same(second[i]) {
			t.Errorf("Received %+v, expected %+v", second[i], first[i])
		}
		if second[i].RunID != s.RunID {
			t.Errorf("entry kept run %s, expected %s", second[i].RunID, s.RunID)
		}
	}
	if len(keys1) != len(keys2) {
		t.Errorf("Received keys %v, expected %v", keys2, keys1)
	}
}

func TestNestedBundle(t *testing.T) {
	env := newTestEnv(t)
	defer env.db.Close()
	inner, innerIDs := makeBundle(t, plain(10, "child a"), plain(11, "child b"))
	buf, ids := makeBundle(t, nested(1, inner), plain(2, "sibling"))

	s, err := env.ix.Index(context.Background(), testTx, buf)
	if err != nil {
		t.Fatalf("Received %s", err.Error())
	}
	checkCounts(t, s, 4, 0, 0)
	for _, id := range innerIDs {
		e := env.entry(t, id)
		if e.ParentID != ids[0] || e.Depth != 1 || e.BundleID != testTx {
			t.Errorf("child %s: Received parent %q depth %d bundle %q", id, e.ParentID, e.Depth, e.BundleID)
		}
	}
	// the nested bundle itself is stored whole
	payload, _ := store.ReadAll(env.store, PayloadKey(testTx, ids[0]))
	if !bytes.Equal(payload, inner) {
		t.Errorf("nested payload not stored")
	}
	entries, _ := env.db.Bundle(testTx)
	if len(entries) != 4 {
		t.Errorf("Received %d entries, expected 4", len(entries))
	}
}

func TestRecursionLimit(t *testing.T) {
	env := newTestEnv(t)
	defer env.db.Close()
	env.ix.MaxDepth = 1
	deepest, _ := makeBundle(t, plain(30, "deep"))
	middle, middleIDs := makeBundle(t, nested(20, deepest))
	buf, ids := makeBundle(t, nested(10, middle))

	s, err := env.ix.Index(context.Background(), testTx, buf)
	if err != nil {
		t.Fatalf("Received %s", err.Error())
	}
	checkCounts(t, s, 1, 1, 0)
	if e := env.entry(t, ids[0]); e.Status != ans104.Valid {
		t.Errorf("Received %s, expected valid", e.Status)
	}
	e := env.entry(t, middleIDs[0])
	if e.Reason != ans104.RecursionLimitExceeded || e.Depth != 1 || e.ParentID != ids[0] {
		t.Errorf("Received %+v", e)
	}
	if _, _, err := env.store.Open(PayloadKey(testTx, middleIDs[0])); errors.Cause(err) != store.ErrNotFound {
		t.Errorf("payload past the depth limit was stored")
	}
}

func TestSelfNestingTerminates(t *testing.T) {
	env := newTestEnv(t)
	defer env.db.Close()
	// each level wraps the one below, far deeper than the default limit
	var w ans104.Writer
	buf := w.Bytes()
	for i := 0; i < 20; i++ {
		buf, _ = makeBundle(t, nested(byte(i+1), buf))
	}
	s, err := env.ix.Index(context.Background(), testTx, buf)
	if err != nil {
		t.Fatalf("Received %s", err.Error())
	}
	checkCounts(t, s, DefaultMaxDepth, 1, 0)
	if s.Failures[0].Reason != ans104.RecursionLimitExceeded || s.Failures[0].Depth != DefaultMaxDepth {
		t.Errorf("Received %v", s.Failures)
	}
}

func TestNestedUnreadable(t *testing.T) {
	env := newTestEnv(t)
	defer env.db.Close()
	buf, ids := makeBundle(t, nested(1, []byte("not a bundle")))
	s, err := env.ix.Index(context.Background(), testTx, buf)
	if err != nil {
		t.Fatalf("Received %s", err.Error())
	}
	checkCounts(t, s, 1, 0, 0)
	if len(s.Failures) != 1 || s.Failures[0].ItemID != ids[0] || s.Failures[0].Err == "" {
		t.Errorf("Received failures %v", s.Failures)
	}
	if e := env.entry(t, ids[0]); e.Status != ans104.Valid {
		t.Errorf("Received %s, expected valid", e.Status)
	}
}

// failWriter fails writes of the listed keys and counts calls.
type failWriter struct {
	StorageWriter
	fail map[string]bool

	m      sync.Mutex
	writes int
	after  func()
}

func (fw *failWriter) Write(key string, payload []byte) (string, error) {
	fw.m.Lock()
	fw.writes++
	after := fw.after
	fw.m.Unlock()
	if after != nil {
		defer after()
	}
	if fw.fail[key] {
		return "", errors.New("disk full")
	}
	return fw.StorageWriter.Write(key, payload)
}

func TestStorageFailureContinues(t *testing.T) {
	env := newTestEnv(t)
	defer env.db.Close()
	buf, ids := makeBundle(t, plain(1, "one"), plain(2, "two"), plain(3, "three"))
	env.ix.Writer = &failWriter{StorageWriter: env.ix.Writer, fail: map[string]bool{PayloadKey(testTx, ids[1]): true}}

	s, err := env.ix.Index(context.Background(), testTx, buf)
	if err != nil {
		t.Fatalf("Received %s", err.Error())
	}
	checkCounts(t, s, 3, 0, 1)
	if len(s.Failures) != 1 || s.Failures[0].ItemID != ids[1] || s.Failures[0].Err != "disk full" {
		t.Errorf("Received failures %v", s.Failures)
	}
	for _, id := range []string{ids[0], ids[2]} {
		if _, err := store.ReadAll(env.store, PayloadKey(testTx, id)); err != nil {
			t.Errorf("item %s: Received %s", id, err.Error())
		}
	}
	if got, _ := env.db.Lookup(ids[1]); len(got) != 0 {
		t.Errorf("Received an entry for an item whose payload failed")
	}
}

func TestFailFast(t *testing.T) {
	env := newTestEnv(t)
	defer env.db.Close()
	var items []*ans104.DataItem
	for i := 1; i <= 10; i++ {
		items = append(items, plain(byte(i), "payload"))
	}
	buf, ids := makeBundle(t, items...)
	fw := &failWriter{StorageWriter: env.ix.Writer, fail: map[string]bool{PayloadKey(testTx, ids[0]): true}}
	env.ix.Writer = fw
	env.ix.FailFast = true
	env.ix.Concurrency = 1

	s, err := env.ix.Index(context.Background(), testTx, buf)
	var serr *StorageError
	if !errors.As(err, &serr) {
		t.Fatalf("Received %v, expected a storage error", err)
	}
	if serr.ItemID != ids[0] {
		t.Errorf("Received %s, expected %s", serr.ItemID, ids[0])
	}
	// the item after the failure may already have been let in
	if fw.writes > 2 {
		t.Errorf("Received %d writes after a fail fast error", fw.writes)
	}
	if s == nil || s.Failed != 1 {
		t.Errorf("Received summary %+v", s)
	}
}

func TestCancelBetweenItems(t *testing.T) {
	env := newTestEnv(t)
	defer env.db.Close()
	var items []*ans104.DataItem
	for i := 1; i <= 10; i++ {
		items = append(items, plain(byte(i), "payload"))
	}
	buf, _ := makeBundle(t, items...)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	env.ix.Writer = &failWriter{StorageWriter: env.ix.Writer, after: cancel}
	env.ix.Concurrency = 1

	s, err := env.ix.Index(ctx, testTx, buf)
	if errors.Cause(err) != context.Canceled {
		t.Fatalf("Received %v, expected %v", err, context.Canceled)
	}
	if s.Valid == 0 || s.Valid >= len(items) {
		t.Errorf("Received %d valid items", s.Valid)
	}
	// every item counted was stored completely
	entries, _ := env.db.Bundle(testTx)
	keys, _ := env.store.ListPrefix("")
	if len(entries) != s.Valid || len(keys) != s.Valid {
		t.Errorf("Received %d entries and %d payloads, expected %d", len(entries), len(keys), s.Valid)
	}
}

func TestCancelledBeforeStart(t *testing.T) {
	env := newTestEnv(t)
	defer env.db.Close()
	buf, _ := makeBundle(t, plain(1, "one"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s, err := env.ix.Index(ctx, testTx, buf)
	if errors.Cause(err) != context.Canceled {
		t.Errorf("Received %v, expected %v", err, context.Canceled)
	}
	checkCounts(t, s, 0, 0, 0)
}

func TestDuplicateItemID(t *testing.T) {
	dir, err := ioutil.TempDir("", "indexer")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)
	env := newTestEnv(t)
	defer env.db.Close()
	fs := store.NewFileSystem(dir)
	env.ix.Writer = &StoreWriter{Store: fs, DB: env.db}
	env.ix.Concurrency = 8
	env.ix.FailFast = true

	// plain(1, ...) twice gives the same id with different payloads
	buf, ids := makeBundle(t,
		plain(1, "first copy"),
		plain(2, "two"),
		plain(1, "second copy"),
		plain(3, "three"),
		plain(1, "third copy"),
		plain(4, "four"))
	for i := 0; i < 20; i++ {
		s, err := env.ix.Index(context.Background(), testTx, buf)
		if err != nil {
			t.Fatalf("run %d: Received %s", i, err.Error())
		}
		checkCounts(t, s, 4, 0, 0)
		if len(s.Failures) != 2 {
			t.Fatalf("run %d: Received failures %v", i, s.Failures)
		}
		for _, f := range s.Failures {
			if f.ItemID != ids[0] || f.Err != ErrDuplicateItem.Error() {
				t.Errorf("run %d: Received failure %v", i, f)
			}
		}
		payload, err := store.ReadAll(fs, PayloadKey(testTx, ids[0]))
		if err != nil || string(payload) != "first copy" {
			t.Errorf("run %d: Received %q %v, expected %q", i, payload, err, "first copy")
		}
	}
	entries, _ := env.db.Bundle(testTx)
	if len(entries) != 4 {
		t.Errorf("Received %d entries, expected 4", len(entries))
	}
	if e := env.entry(t, ids[0]); e.Size != int64(len("first copy")) {
		t.Errorf("Received size %d, expected %d", e.Size, len("first copy"))
	}
}
