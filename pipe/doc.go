// Package pipe implements the shared-memory primitives used between the
// device loop and the network loop.
//
// Two primitives are provided:
//
//   - [Stream]: a fixed-capacity circular byte buffer with one producer and
//     one consumer. [Stream.Enqueue] and [Stream.Dequeue] busy-wait until the
//     requested room or data is available, then copy under the mutex.
//   - [Queue]: a fixed-capacity circular buffer of tasks. [Queue.TryEnqueue]
//     never blocks and reports whether the task was accepted;
//     [Queue.ExecuteOne] pops the oldest task and runs it on the caller's
//     goroutine, outside of the queue mutex.
//
// Capacities are powers of two so that index arithmetic is a mask. One slot is
// always kept empty to tell a full buffer from an empty one, so a buffer of
// capacity N holds at most N-1 bytes or tasks.
//
// The busy-waits in [Stream] require a second goroutine to make progress.
// Never use a Stream to synchronize a goroutine with itself.
package pipe
