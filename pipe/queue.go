package pipe

import "sync"

// DefaultQueueCapacity is the default number of task slots per queue.
const DefaultQueueCapacity = 32

// Queue is a bounded FIFO of tasks executed by a single consumer loop.
//
// Producers call [Queue.TryEnqueue] from any goroutine. The consumer calls
// [Queue.ExecuteOne] from the loop that owns the state the tasks mutate.
type Queue[T any] struct {
	mutex sync.Mutex
	start int
	end   int
	mask  int
	tasks []T
}

// NewQueue creates a queue with the given capacity, which must be a power of
// two greater than one. The queue holds at most capacity-1 tasks.
func NewQueue[T any](capacity int) *Queue[T] {
	if !isPowerOfTwo(capacity) || capacity < 2 {
		panic("pipe: queue capacity must be a power of two")
	}
	return &Queue[T]{
		mask:  capacity - 1,
		tasks: make([]T, capacity),
	}
}

// Cap returns the queue capacity.
func (q *Queue[T]) Cap() int {
	return len(q.tasks)
}

// Len returns the number of pending tasks.
func (q *Queue[T]) Len() int {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return (q.end - q.start) & q.mask
}

// TryEnqueue appends task. It returns false, leaving the queue untouched,
// when the queue is full.
func (q *Queue[T]) TryEnqueue(task T) bool {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	next := (q.end + 1) & q.mask
	if next == q.start {
		return false
	}
	q.tasks[q.end] = task
	q.end = next
	return true
}

// HasPending reports whether a task is waiting to be executed.
func (q *Queue[T]) HasPending() bool {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return q.start != q.end
}

// ExecuteOne pops the oldest task and passes it to run on the calling
// goroutine. The queue mutex is released before run is called, so run may
// enqueue new tasks on this queue. It returns false if the queue was empty.
func (q *Queue[T]) ExecuteOne(run func(T)) bool {
	q.mutex.Lock()
	if q.start == q.end {
		q.mutex.Unlock()
		return false
	}
	task := q.tasks[q.start]
	var zero T
	q.tasks[q.start] = zero
	q.start = (q.start + 1) & q.mask
	q.mutex.Unlock()

	run(task)
	return true
}
