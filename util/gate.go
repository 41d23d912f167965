package util

import "context"

// A Gate limits concurrency. Every gate has a maximum number of goroutines
// to allow through at a time. Goroutines enter the gate by calling Enter(),
// and signal that they are done by calling Leave().
type Gate chan struct{}

// NewGate returns a Gate which accepts at most n entries at a time.
// A gate with n < 1 lets one goroutine in at a time.
func NewGate(n int) Gate {
	if n < 1 {
		n = 1
	}
	return Gate(make(chan struct{}, n))
}

// Enter blocks until there are fewer than n goroutines inside the gate or
// ctx is done. On success the caller must balance it with a call to Leave.
// If ctx ends first the caller is not inside the gate and ctx.Err() is
// returned.
func (g Gate) Enter(ctx context.Context) error {
	// prefer the context if both are ready
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case g <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Leave marks a goroutine outside the critical section. Enter and Leave do
// not need to be called from the same goroutine.
func (g Gate) Leave() {
	<-g
}
