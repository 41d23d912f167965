package util

import (
	"bytes"
	"context"
	"io/ioutil"
	"testing"
	"time"
)

func TestRateCounterLimits(t *testing.T) {
	// 1000 bytes a second refilled every 10ms is 10 bytes a tick
	r := NewRateCounterInterval(1000, 10*time.Millisecond)
	defer r.Stop()
	src := bytes.NewReader(make([]byte, 100))
	start := time.Now()
	// read in small pieces so each read uses at most one tick of credit
	buf := make([]byte, 10)
	reader := r.Wrap(context.Background(), src)
	total := 0
	for {
		n, err := reader.Read(buf)
		total += n
		if err != nil {
			break
		}
	}
	if total != 100 {
		t.Errorf("Received %d bytes, expected 100", total)
	}
	if d := time.Since(start); d < 50*time.Millisecond {
		t.Errorf("read finished in %s, expected the rate to slow it down", d)
	}
}

func TestRateCounterStop(t *testing.T) {
	r := NewRateCounterInterval(1, time.Hour)
	r.Use(100)
	r.Stop()
	r.Stop()
	_, err := ioutil.ReadAll(r.Wrap(context.Background(), bytes.NewReader([]byte("abc"))))
	if err != ErrStopped {
		t.Errorf("Received %v, expected %v", err, ErrStopped)
	}
}

func TestRateCounterContext(t *testing.T) {
	r := NewRateCounterInterval(1, time.Hour)
	defer r.Stop()
	r.Use(100)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := r.Wait(ctx); err != context.DeadlineExceeded {
		t.Errorf("Received %v, expected %v", err, context.DeadlineExceeded)
	}
}

func TestNilRateCounter(t *testing.T) {
	var r *RateCounter
	b, err := ioutil.ReadAll(r.Wrap(context.Background(), bytes.NewReader([]byte("abc"))))
	if err != nil || string(b) != "abc" {
		t.Errorf("Received %q %v", b, err)
	}
}
