package telemetry

import (
	"sync"
	"time"
)

// RateCounter measures events per second over a rolling window, divided into
// fixed-size buckets. It is safe for concurrent use.
type RateCounter struct {
	last    time.Time
	now     func() time.Time
	buckets []int64
	bucket  time.Duration
	window  time.Duration
	mu      sync.Mutex
}

// NewRateCounter constructs a RateCounter. The rate is zero until events
// are recorded, and averages over the whole window thereafter.
func NewRateCounter(window, bucket time.Duration) *RateCounter {
	n := max(int(window/bucket), 1)
	return &RateCounter{
		last:    time.Now(),
		now:     time.Now,
		buckets: make([]int64, n),
		bucket:  bucket,
		window:  time.Duration(n) * bucket,
	}
}

// Increment records one event.
func (x *RateCounter) Increment() {
	x.mu.Lock()
	x.rotateLocked()
	x.buckets[len(x.buckets)-1]++
	x.mu.Unlock()
}

// Rate returns events per second, averaged over the window.
func (x *RateCounter) Rate() float64 {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.rotateLocked()
	var sum int64
	for _, v := range x.buckets {
		sum += v
	}
	return float64(sum) / x.window.Seconds()
}

func (x *RateCounter) rotateLocked() {
	now := x.now()
	advance := int(now.Sub(x.last) / x.bucket)
	switch {
	case advance <= 0:
		return
	case advance >= len(x.buckets):
		clear(x.buckets)
		x.last = now
		return
	}
	n := copy(x.buckets, x.buckets[advance:])
	clear(x.buckets[n:])
	x.last = x.last.Add(time.Duration(advance) * x.bucket)
}
