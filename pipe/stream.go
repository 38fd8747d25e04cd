package pipe

import (
	"context"
	"runtime"
	"sync"
)

// DefaultStreamCapacity is the default size of the byte stream in bytes.
const DefaultStreamCapacity = 8192

// Stream is a circular byte buffer shared by one producer and one consumer.
type Stream struct {
	mutex sync.Mutex
	start int
	end   int
	mask  int
	buf   []byte
}

// NewStream creates a stream of the given capacity, which must be a power of
// two greater than one.
func NewStream(capacity int) *Stream {
	if !isPowerOfTwo(capacity) || capacity < 2 {
		panic("pipe: stream capacity must be a power of two")
	}
	return &Stream{
		mask: capacity - 1,
		buf:  make([]byte, capacity),
	}
}

// Cap returns the stream capacity. At most Cap()-1 bytes can be buffered.
func (s *Stream) Cap() int {
	return len(s.buf)
}

// Used returns how many bytes are queued.
func (s *Stream) Used() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.used()
}

// Free returns how many bytes can be enqueued without waiting.
func (s *Stream) Free() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.mask - s.used()
}

func (s *Stream) used() int {
	return (s.end - s.start) & s.mask
}

// Enqueue appends p, blocking until the stream has enough free space.
func (s *Stream) Enqueue(p []byte) {
	_ = s.EnqueueContext(context.Background(), p)
}

// EnqueueContext appends p like [Stream.Enqueue] but gives up when ctx is
// cancelled. Bytes appended before cancellation stay in the stream.
func (s *Stream) EnqueueContext(ctx context.Context, p []byte) error {
	for len(p) > 0 {
		n := min(len(p), s.mask)
		for s.Free() < n {
			if err := ctx.Err(); err != nil {
				return err
			}
			runtime.Gosched()
		}
		s.put(p[:n])
		p = p[n:]
	}
	return nil
}

// put copies p into the buffer, wrapping at the end in at most two copies.
func (s *Stream) put(p []byte) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	k := copy(s.buf[s.end:], p)
	if k < len(p) {
		copy(s.buf, p[k:])
	}
	s.end = (s.end + len(p)) & s.mask
}

// Dequeue fills p, blocking until len(p) bytes are available.
func (s *Stream) Dequeue(p []byte) {
	_ = s.DequeueContext(context.Background(), p)
}

// DequeueContext fills p like [Stream.Dequeue] but gives up when ctx is
// cancelled. Bytes already moved into p stay consumed.
func (s *Stream) DequeueContext(ctx context.Context, p []byte) error {
	for len(p) > 0 {
		n := min(len(p), s.mask)
		for s.Used() < n {
			if err := ctx.Err(); err != nil {
				return err
			}
			runtime.Gosched()
		}
		s.take(p[:n])
		p = p[n:]
	}
	return nil
}

// take moves len(p) bytes out of the buffer in at most two copies.
func (s *Stream) take(p []byte) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	k := copy(p, s.buf[s.start:])
	if k < len(p) {
		copy(p[k:], s.buf)
	}
	s.start = (s.start + len(p)) & s.mask
}

func isPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}
