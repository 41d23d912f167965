package indexer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/ndlib/ansindex/gateway"
)

// fakeSource serves bundles from a map. If hold is set, Fetch waits for it
// to be closed.
type fakeSource struct {
	bundles map[string][]byte
	hold    chan struct{}

	m       sync.Mutex
	fetches int
}

func (fs *fakeSource) Fetch(ctx context.Context, txid string) (*gateway.Data, error) {
	fs.m.Lock()
	fs.fetches++
	fs.m.Unlock()
	if fs.hold != nil {
		<-fs.hold
	}
	b, ok := fs.bundles[txid]
	if !ok {
		return nil, errors.Wrap(gateway.ErrNotFound, txid)
	}
	return &gateway.Data{Bytes: b}, nil
}

func (fs *fakeSource) count() int {
	fs.m.Lock()
	defer fs.m.Unlock()
	return fs.fetches
}

func newTestRunner(t *testing.T) (*Runner, *testEnv, *fakeSource) {
	env := newTestEnv(t)
	buf, _ := makeBundle(t, plain(1, "one"), plain(2, "two"))
	src := &fakeSource{bundles: map[string][]byte{testTx: buf}}
	rn := &Runner{Source: src, Indexer: env.ix, DB: env.db}
	return rn, env, src
}

func TestRunnerRecordsRun(t *testing.T) {
	rn, env, _ := newTestRunner(t)
	defer env.db.Close()
	s, err := rn.Run(context.Background(), testTx, false)
	if err != nil {
		t.Fatalf("Received %s", err.Error())
	}
	checkCounts(t, s, 2, 0, 0)
	last, err := env.db.LastRun(testTx)
	if err != nil || last == nil {
		t.Fatalf("Received %v %v", last, err)
	}
	if last.RunID != s.RunID || last.Valid != 2 || last.Bytes != 6 {
		t.Errorf("Received %+v", last)
	}
}

func TestRunnerFresh(t *testing.T) {
	rn, env, src := newTestRunner(t)
	defer env.db.Close()
	rn.Fresh = time.Hour

	first, err := rn.Run(context.Background(), testTx, false)
	if err != nil {
		t.Fatalf("Received %s", err.Error())
	}
	again, err := rn.Run(context.Background(), testTx, false)
	if err != nil {
		t.Fatalf("Received %s", err.Error())
	}
	if !again.Reused || again.RunID != first.RunID || again.Valid != 2 {
		t.Errorf("Received %+v, expected the first run", again)
	}
	if src.count() != 1 {
		t.Errorf("Received %d fetches, expected 1", src.count())
	}

	forced, err := rn.Run(context.Background(), testTx, true)
	if err != nil {
		t.Fatalf("Received %s", err.Error())
	}
	if forced.Reused || forced.RunID == first.RunID {
		t.Errorf("Received %+v, expected a new run", forced)
	}
	if src.count() != 2 {
		t.Errorf("Received %d fetches, expected 2", src.count())
	}
}

func TestRunnerNotFound(t *testing.T) {
	rn, env, _ := newTestRunner(t)
	defer env.db.Close()
	missing := "bWlzc2luZy1idW5kbGUtdHJhbnNhY3Rpb24taWQtMDA"
	s, err := rn.Run(context.Background(), missing, false)
	if errors.Cause(err) != gateway.ErrNotFound {
		t.Errorf("Received %v, expected %v", err, gateway.ErrNotFound)
	}
	if s != nil {
		t.Errorf("Received summary %+v", s)
	}
	entries, _ := env.db.Bundle(missing)
	last, _ := env.db.LastRun(missing)
	if len(entries) != 0 || last != nil {
		t.Errorf("Received %d entries and run %v", len(entries), last)
	}
}

func TestRunnerDuplicateInFlight(t *testing.T) {
	rn, env, src := newTestRunner(t)
	defer env.db.Close()
	src.hold = make(chan struct{})

	done := make(chan error)
	go func() {
		_, err := rn.Run(context.Background(), testTx, false)
		done <- err
	}()
	for !rn.Running(testTx) {
		time.Sleep(time.Millisecond)
	}
	_, err := rn.Run(context.Background(), testTx, false)
	if errors.Cause(err) != ErrDuplicateInFlight {
		t.Errorf("Received %v, expected %v", err, ErrDuplicateInFlight)
	}
	close(src.hold)
	if err := <-done; err != nil {
		t.Errorf("Received %s", err.Error())
	}
	if rn.Running(testTx) {
		t.Errorf("run still marked in flight")
	}
	if src.count() != 1 {
		t.Errorf("Received %d fetches, expected 1", src.count())
	}
}
