package pipe

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// =============================================================================
// Stream Tests
// =============================================================================

func TestNewStream_Capacity(t *testing.T) {
	tests := []struct {
		capacity int
		panics   bool
	}{
		{2, false},
		{8192, false},
		{0, true},
		{1, true},
		{3000, true},
	}

	for _, tt := range tests {
		func() {
			defer func() {
				if r := recover(); (r != nil) != tt.panics {
					t.Errorf("NewStream(%d) panic = %v, want %v", tt.capacity, r != nil, tt.panics)
				}
			}()
			s := NewStream(tt.capacity)
			if s.Free() != tt.capacity-1 {
				t.Errorf("Free() = %d, want %d", s.Free(), tt.capacity-1)
			}
		}()
	}
}

func TestStream_FreeUsed(t *testing.T) {
	s := NewStream(16)
	s.Enqueue([]byte("hello"))
	if s.Used() != 5 {
		t.Errorf("Used() = %d, want 5", s.Used())
	}
	if s.Free() != 10 {
		t.Errorf("Free() = %d, want 10", s.Free())
	}

	out := make([]byte, 5)
	s.Dequeue(out)
	if string(out) != "hello" {
		t.Errorf("Dequeue() = %q, want %q", out, "hello")
	}
	if s.Used() != 0 || s.Free() != 15 {
		t.Errorf("after drain Used=%d Free=%d", s.Used(), s.Free())
	}
}

func TestStream_ZeroLength(t *testing.T) {
	s := NewStream(4)
	s.Enqueue(make([]byte, 3))

	// Neither call may wait, even though the stream is full.
	s.Enqueue(nil)
	s.Dequeue([]byte{})
	if s.Used() != 3 {
		t.Errorf("Used() = %d, want 3", s.Used())
	}
}

func TestStream_WrapBoundary(t *testing.T) {
	s := NewStream(8)
	scratch := make([]byte, 6)
	s.Enqueue([]byte("abcdef"))
	s.Dequeue(scratch)

	// start=end=6: the next write wraps after two bytes.
	s.Enqueue([]byte("0123456"))
	out := make([]byte, 7)
	s.Dequeue(out)
	if string(out) != "0123456" {
		t.Errorf("Dequeue() = %q, want %q", out, "0123456")
	}
}

func TestStream_RoundTripConcurrent(t *testing.T) {
	s := NewStream(8192)

	input := make([]byte, 12000)
	for i := range input {
		input[i] = byte(i * 7)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.Enqueue(input[:6000])
		s.Enqueue(input[6000:])
	}()

	output := make([]byte, 0, len(input))
	part := make([]byte, 1000)
	for len(output) < len(input) {
		s.Dequeue(part)
		output = append(output, part...)
	}
	wg.Wait()

	if !bytes.Equal(output, input) {
		t.Error("round trip through wrapped buffer corrupted data")
	}
}

func TestStream_OversizedSplit(t *testing.T) {
	s := NewStream(16)

	input := bytes.Repeat([]byte("0123456789abcdef"), 4)
	done := make(chan struct{})
	go func() {
		s.Enqueue(input)
		close(done)
	}()

	output := make([]byte, len(input))
	s.Dequeue(output)
	<-done

	if !bytes.Equal(output, input) {
		t.Errorf("Dequeue() = %q, want %q", output, input)
	}
}

func TestStream_Context(t *testing.T) {
	s := NewStream(8)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := s.DequeueContext(ctx, make([]byte, 1)); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("DequeueContext(empty) = %v, want DeadlineExceeded", err)
	}

	s.Enqueue(make([]byte, 7))
	ctx2, cancel2 := context.WithCancel(context.Background())
	cancel2()
	if err := s.EnqueueContext(ctx2, []byte{1}); !errors.Is(err, context.Canceled) {
		t.Errorf("EnqueueContext(full) = %v, want Canceled", err)
	}
	if s.Used() != 7 {
		t.Errorf("Used() = %d, want 7", s.Used())
	}
}
