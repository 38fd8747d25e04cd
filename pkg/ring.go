package pkg

import (
	"io"
	"sync"
)

// Ring is a fixed-size byte buffer which discards the oldest bytes when full.
// It is safe for concurrent use. Writes never block and never fail.
type Ring struct {
	mutex sync.Mutex
	buf   []byte
	start int
	size  int
}

// NewRing creates a ring holding at most capacity bytes.
func NewRing(capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{buf: make([]byte, capacity)}
}

// Cap returns the ring capacity.
func (r *Ring) Cap() int {
	return len(r.buf)
}

// Len returns the number of buffered bytes.
func (r *Ring) Len() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.size
}

// Write appends p, overwriting the oldest content if needed.
func (r *Ring) Write(p []byte) (int, error) {
	n := len(p)
	r.mutex.Lock()
	defer r.mutex.Unlock()

	c := len(r.buf)
	if len(p) >= c {
		// Only the tail survives.
		copy(r.buf, p[len(p)-c:])
		r.start = 0
		r.size = c
		return n, nil
	}

	end := (r.start + r.size) % c
	k := copy(r.buf[end:], p)
	copy(r.buf, p[k:])

	r.size += len(p)
	if r.size > c {
		r.start = (r.start + r.size - c) % c
		r.size = c
	}
	return n, nil
}

// Read drains up to len(p) of the oldest bytes into p. It returns io.EOF
// when the ring is empty.
func (r *Ring) Read(p []byte) (int, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.size == 0 && len(p) > 0 {
		return 0, io.EOF
	}

	n := min(len(p), r.size)
	c := len(r.buf)
	k := copy(p[:n], r.buf[r.start:min(r.start+n, c)])
	copy(p[k:n], r.buf)

	r.start = (r.start + n) % c
	r.size -= n
	if r.size == 0 {
		r.start = 0
	}
	return n, nil
}
