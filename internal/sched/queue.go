package sched

import "sync"

// opQueue is a thread-safe priority queue of pending operations.
//
// The queue is unbounded: an offline session can accumulate arbitrarily
// many deferred mutations without blocking their callers.
//
// Ordering is priority first (CRITICAL before HIGH before NORMAL before
// LOW), FIFO within a priority. Enqueue inserts the new operation
// immediately before the first queued operation with strictly lower
// priority, which preserves arrival order among equals.
//
// The queue uses a channel for signaling to enable context-aware waiting
// in the worker loop (prevents goroutine hangs on shutdown).
type opQueue struct {
	mu     sync.Mutex
	ops    []*operation
	closed bool
	signal chan struct{} // Signals work availability (buffered, size 1)
}

// newOpQueue creates an empty operation queue.
func newOpQueue() *opQueue {
	return &opQueue{
		ops:    make([]*operation, 0, 16),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue inserts an operation at its priority position.
// Thread-safe: may be called from any goroutine.
// Returns false if the queue is closed.
func (q *opQueue) Enqueue(op *operation) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	idx := len(q.ops)
	for i, queued := range q.ops {
		if queued.priority > op.priority {
			idx = i
			break
		}
	}
	q.ops = append(q.ops, nil)
	copy(q.ops[idx+1:], q.ops[idx:])
	q.ops[idx] = op

	// Signal availability (non-blocking - buffer of 1 coalesces multiple signals)
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue attempts to dequeue the head without blocking.
// Returns (nil, false) if the queue is empty.
func (q *opQueue) TryDequeue() (*operation, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.ops) == 0 {
		return nil, false
	}

	op := q.ops[0]

	// Nil out the slot so the backing array does not retain the operation
	// (it holds the payload and executor closures) until reallocation.
	q.ops[0] = nil
	if len(q.ops) == 1 {
		q.ops = q.ops[:0]
	} else {
		q.ops = q.ops[1:]
	}

	return op, true
}

// Remove deletes a queued operation by id, preserving order.
// Returns false if the operation is not queued (it may already be running).
func (q *opQueue) Remove(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, op := range q.ops {
		if op.id == id {
			copy(q.ops[i:], q.ops[i+1:])
			q.ops[len(q.ops)-1] = nil
			q.ops = q.ops[:len(q.ops)-1]
			return true
		}
	}
	return false
}

// Drain removes and returns all queued operations in queue order.
func (q *opQueue) Drain() []*operation {
	q.mu.Lock()
	defer q.mu.Unlock()

	drained := q.ops
	q.ops = make([]*operation, 0, 16)
	return drained
}

// PendingIDs returns the queued operation ids in dequeue order.
func (q *opQueue) PendingIDs() []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	ids := make([]string, len(q.ops))
	for i, op := range q.ops {
		ids[i] = op.id
	}
	return ids
}

// Wait returns a channel that signals when operations may be available.
// Use with select for context-aware waiting.
func (q *opQueue) Wait() <-chan struct{} {
	return q.signal
}

// nudge wakes the worker without enqueueing, used after a lock release so
// the next operation starts without waiting out a poll interval.
func (q *opQueue) nudge() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// Len returns the current queue length.
func (q *opQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ops)
}

// Closed reports whether Close has been called.
func (q *opQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close signals that no more operations will be enqueued.
// Wakes any blocked waiters by closing the signal channel.
func (q *opQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return // Already closed
	}

	q.closed = true
	close(q.signal) // Wakes all waiters
}
