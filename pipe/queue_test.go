package pipe

import (
	"sync"
	"testing"
)

// =============================================================================
// Queue Tests
// =============================================================================

func TestQueue_Full(t *testing.T) {
	tests := []struct {
		name     string
		capacity int
	}{
		{"two", 2},
		{"small", 4},
		{"default", DefaultQueueCapacity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := NewQueue[int](tt.capacity)
			for i := 0; i < tt.capacity-1; i++ {
				if !q.TryEnqueue(i) {
					t.Fatalf("TryEnqueue(%d) = false before capacity", i)
				}
			}

			for attempt := 0; attempt < 3; attempt++ {
				if q.TryEnqueue(-1) {
					t.Fatal("TryEnqueue() on full queue = true")
				}
				if q.Len() != tt.capacity-1 {
					t.Fatalf("Len() = %d, want %d", q.Len(), tt.capacity-1)
				}
			}

			// Contents are unchanged by the rejected calls.
			for i := 0; i < tt.capacity-1; i++ {
				var got int
				if !q.ExecuteOne(func(v int) { got = v }) {
					t.Fatalf("ExecuteOne() = false at %d", i)
				}
				if got != i {
					t.Fatalf("ExecuteOne() ran %d, want %d", got, i)
				}
			}
			if q.HasPending() {
				t.Error("HasPending() = true after drain")
			}
		})
	}
}

func TestQueue_ExecuteOneEmpty(t *testing.T) {
	q := NewQueue[string](4)
	called := false
	if q.ExecuteOne(func(string) { called = true }) {
		t.Error("ExecuteOne() on empty queue = true")
	}
	if called {
		t.Error("run called on empty queue")
	}
}

func TestQueue_FIFOWrap(t *testing.T) {
	q := NewQueue[int](4)
	var got []int
	record := func(v int) { got = append(got, v) }

	for i := 0; i < 10; i++ {
		q.TryEnqueue(i)
		q.TryEnqueue(i + 100)
		q.ExecuteOne(record)
		q.ExecuteOne(record)
	}

	for i := 0; i < 10; i++ {
		if got[2*i] != i || got[2*i+1] != i+100 {
			t.Fatalf("order broken at %d: %v", i, got[2*i:2*i+2])
		}
	}
}

func TestQueue_Reentrant(t *testing.T) {
	q := NewQueue[int](4)
	q.TryEnqueue(1)

	// A task may enqueue onto its own queue without deadlocking.
	q.ExecuteOne(func(v int) {
		if !q.TryEnqueue(v + 1) {
			t.Error("TryEnqueue() inside task = false")
		}
	})

	var got int
	q.ExecuteOne(func(v int) { got = v })
	if got != 2 {
		t.Errorf("re-enqueued task = %d, want 2", got)
	}
}

func TestQueue_Concurrent(t *testing.T) {
	q := NewQueue[int](8)
	const total = 1000

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < total; {
			if q.TryEnqueue(i) {
				i++
			}
		}
	}()

	next := 0
	for next < total {
		q.ExecuteOne(func(v int) {
			if v != next {
				t.Errorf("got %d, want %d", v, next)
			}
			next++
		})
	}
	wg.Wait()
}
