package audio

import "sync"

// RingBuffer is a fixed-capacity circular store of mono float32 samples with
// overwrite-oldest semantics. The audio callback writes, the segment
// pre-roll snapshot reads; one mutex serialises the two.
type RingBuffer struct {
	mu    sync.Mutex
	buf   []float32
	head  int // next write position
	count int // number of valid samples, ≤ len(buf)
}

// NewRingBuffer creates a ring buffer holding up to capacity samples.
// capacity must be > 0.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &RingBuffer{buf: make([]float32, capacity)}
}

// Write appends samples, overwriting the oldest data once full. The slice is
// copied; the caller may reuse it.
func (r *RingBuffer) Write(samples []float32) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.buf)
	if len(samples) >= n {
		// Only the trailing window survives.
		copy(r.buf, samples[len(samples)-n:])
		r.head = 0
		r.count = n
		return
	}
	for _, s := range samples {
		r.buf[r.head] = s
		r.head = (r.head + 1) % n
	}
	r.count += len(samples)
	if r.count > n {
		r.count = n
	}
}

// Snapshot returns a copy of the most recent n samples in write order. When
// fewer than n samples have been written, all available samples are returned.
func (r *RingBuffer) Snapshot(n int) []float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n > r.count {
		n = r.count
	}
	if n <= 0 {
		return nil
	}
	out := make([]float32, n)
	start := (r.head - n + len(r.buf)) % len(r.buf)
	for i := range n {
		out[i] = r.buf[(start+i)%len(r.buf)]
	}
	return out
}

// Len returns the number of valid samples currently stored.
func (r *RingBuffer) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Cap returns the fixed capacity in samples.
func (r *RingBuffer) Cap() int {
	return len(r.buf)
}

// Reset discards all stored samples.
func (r *RingBuffer) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.head = 0
	r.count = 0
}
