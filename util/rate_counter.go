package util

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"
)

// A RateCounter keeps a reader under a byte rate. Every interval the pool
// is refilled with the credits due for that interval. Reads remove credits
// from the pool. If the pool goes negative, then readers wait until it goes
// positive again.
type RateCounter struct {
	c       chan struct{} // receives while credits are positive
	stop    chan struct{} // close to signal adder goroutine to exit
	once    sync.Once
	m       sync.Mutex // protects below
	credits int64      // current credit balance
}

// DefaultRateInterval is how often credits are added. The shorter it is,
// the more waking and churning we do.
const DefaultRateInterval = 1 * time.Second

// NewRateCounter returns a counter where credits accumulate at the given
// rate per second, added in one lump every DefaultRateInterval.
func NewRateCounter(rate float64) *RateCounter {
	return NewRateCounterInterval(rate, DefaultRateInterval)
}

// NewRateCounterInterval is NewRateCounter with a choice of refill interval.
func NewRateCounterInterval(rate float64, interval time.Duration) *RateCounter {
	amount := int64(rate * interval.Seconds())
	if amount < 1 {
		amount = 1
	}
	r := &RateCounter{
		c:       make(chan struct{}),
		stop:    make(chan struct{}),
		credits: amount,
	}
	go r.adder(amount, interval)
	return r
}

// Use some number of units. It is okay if it takes this counter negative.
func (r *RateCounter) Use(count int64) {
	r.m.Lock()
	r.credits -= count
	r.m.Unlock()
}

// Wait blocks until the counter has credit, the counter is stopped, or ctx
// is done.
func (r *RateCounter) Wait(ctx context.Context) error {
	select {
	case _, ok := <-r.c:
		if !ok {
			return ErrStopped
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop the background goroutine refilling the RateCounter. Waiting readers
// fail with ErrStopped. It is safe to call more than once.
func (r *RateCounter) Stop() {
	r.once.Do(func() { close(r.stop) })
}

func (r *RateCounter) adder(amount int64, interval time.Duration) {
	tick := time.NewTicker(interval)
	defer tick.Stop()
	for {
		var signal chan struct{}
		r.m.Lock()
		if r.credits > 0 {
			signal = r.c
		}
		r.m.Unlock()
		select {
		case <-tick.C:
			r.m.Lock()
			r.credits += amount
			// don't let an idle counter bank more than one interval
			if r.credits > amount {
				r.credits = amount
			}
			r.m.Unlock()
		case signal <- struct{}{}:
		case <-r.stop:
			close(r.c)
			return
		}
	}
}

// Wrap takes an io.Reader and returns a new one where reads are limited by
// this RateCounter. Reads block until the RateCounter says the current
// usage is ok or ctx is done. It is okay for more than one goroutine to use
// the same RateCounter. A nil RateCounter returns reader unchanged.
func (r *RateCounter) Wrap(ctx context.Context, reader io.Reader) io.Reader {
	if r == nil {
		return reader
	}
	return rateReader{ctx: ctx, reader: reader, rate: r}
}

// ErrStopped means a read failed because the governing rate counter was stopped.
var ErrStopped = errors.New("RateCounter stopped")

type rateReader struct {
	ctx    context.Context
	reader io.Reader
	rate   *RateCounter
}

func (r rateReader) Read(p []byte) (int, error) {
	if err := r.rate.Wait(r.ctx); err != nil {
		return 0, err
	}
	n, err := r.reader.Read(p)
	r.rate.Use(int64(n))
	return n, err
}
