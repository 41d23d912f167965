// Package storetest provides functions for testing anything implementing
// the store.Store interface the way the indexer uses it.
package storetest

import (
	"crypto/rand"
	"io"
	"math"
	mrand "math/rand"
	"sync"
	"testing"

	"github.com/ndlib/ansindex/ans104"
	"github.com/ndlib/ansindex/store"
	"github.com/ndlib/ansindex/util"
)

type blob struct {
	key  string
	hash []byte
	size int64
}

// Stress will spawn several goroutines to simultaneously write, overwrite,
// read and delete payloads in the given store. It is a good test to run
// with the -race flag.
//
// Sizes are generated until their sum is >= totalsize. For each size a
// random payload is stored under a random item id, and then read back and
// compared by SHA-256. Each payload is then either deleted, read again, or
// replaced by a new payload under the same key, until every payload has
// been deleted.
//
// Note, this does not test the list or list prefix functions.
func Stress(t *testing.T, s store.Store, totalsize int64) {
	// the pipeline is
	//       size maker
	// sizes ----> uploader pool
	// dwnld ----> downloader pool (possible repeat)
	//       ----> delete
	if totalsize == 0 {
		totalsize = 100 * 1000 * 1000
	}
	sizes := make(chan int64)
	dwnld := make(chan blob, 1000)
	var uppool, downpool sync.WaitGroup
	var pending sync.WaitGroup // blobs not deleted yet

	for i := 0; i < 5; i++ {
		uppool.Add(1)
		go func() {
			uploader(t, s, sizes, dwnld, &pending)
			uppool.Done()
		}()
	}

	done := make(chan struct{})
	for i := 0; i < 10; i++ {
		downpool.Add(1)
		go func() {
			downloader(t, s, dwnld, done, &pending)
			downpool.Done()
		}()
	}

	generatesizes(sizes, totalsize)
	close(sizes)
	uppool.Wait()
	pending.Wait()
	close(done)
	downpool.Wait()
}

// randomReader provides n bytes of data by repeating data.
type randomReader struct {
	n    int64
	data []byte
}

func (r *randomReader) Read(p []byte) (int, error) {
	if r.n <= 0 {
		return 0, io.EOF
	}
	total := 0
	data := r.data
	for len(p) > 0 && r.n > 0 {
		if r.n < int64(len(data)) {
			data = data[:int(r.n)]
		}
		n := copy(p, data)
		p = p[n:]
		r.n -= int64(n)
		total += n
	}
	return total, nil
}

func uploader(t *testing.T, s store.Store, in <-chan int64, out chan<- blob, pending *sync.WaitGroup) {
	for size := range in {
		var id ans104.ID
		rand.Read(id[:])
		b, ok := put(t, s, id.String(), size)
		if ok {
			pending.Add(1)
			out <- b
		}
	}
}

// put stores size random bytes under key, replacing anything already there.
func put(t *testing.T, s store.Store, key string, size int64) (blob, bool) {
	const L = 64 * 1024 // 64k
	buffer := make([]byte, L)
	rand.Read(buffer)
	if err := s.Delete(key); err != nil {
		t.Error(key, err)
		return blob{}, false
	}
	w, err := s.Create(key)
	if err != nil {
		t.Error(key, err)
		return blob{}, false
	}
	hw := util.NewHashWriter(w)
	n, err := io.Copy(hw, &randomReader{data: buffer, n: size})
	if n != size {
		t.Error("expected", size, "only read", n)
	}
	if err != nil {
		t.Error(err)
	}
	if err = w.Close(); err != nil {
		t.Error(key, size, err)
		return blob{}, false
	}
	return blob{key: key, hash: hw.SHA256(), size: size}, true
}

func downloader(t *testing.T, s store.Store, in chan blob, done chan struct{}, pending *sync.WaitGroup) {
	for {
		var b blob
		select {
		case <-done:
			return
		case b = <-in:
		}
		rac, size, err := s.Open(b.key)
		if err != nil {
			t.Error(err)
			pending.Done()
			continue
		}
		if size != b.size {
			t.Error("Expected", b.size, "Open() returned", size)
		}
		n, ok, err := util.VerifyStreamHash(store.NewReader(rac), b.hash)
		if err != nil {
			t.Error(err)
		}
		if n != size {
			t.Error("Expected", size, "but read", n)
		}
		if err = rac.Close(); err != nil {
			t.Error(err)
		}
		if !ok {
			t.Errorf("hashes unequal for %s", b.key)
			// note that the payload is left in the store...
			pending.Done()
			continue
		}

		// figure out what to do next
		x := mrand.Float32()
		switch {
		case x < 0.5:
			if err := s.Delete(b.key); err != nil {
				t.Error(err)
			}
			pending.Done()
		case x < 0.7:
			// overwrite, as indexing a bundle again does
			nb, ok := put(t, s, b.key, b.size/2)
			if !ok {
				pending.Done()
				continue
			}
			in <- nb
		default:
			in <- b
		}
	}
}

func generatesizes(out chan<- int64, totalsize int64) {
	// We want a wide range of sizes, so generate the exponent of the size
	// uniformly at random.
	//  choose number x ~ uniform(0, 16)
	//  let size be exp(x)
	for totalsize > 0 {
		x := 16 * mrand.Float64()
		size := int64(math.Trunc(math.Exp(x)))
		out <- size
		totalsize -= size
	}
}
