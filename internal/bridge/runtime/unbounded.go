package runtime

import (
	"context"
	"sync"
)

// unbounded is a FIFO queue whose Push never blocks. It backs both the
// command queue and the notification feed: the SDK's reader goroutine must
// never stall on a slow worker, and Handle.Prompt must never wait for the
// worker to become idle before its command is accepted.
//
// A single consumer is assumed.
type unbounded[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool

	signal   chan struct{} // one pending wake-up, capacity 1
	closedCh chan struct{}
}

func newUnbounded[T any]() *unbounded[T] {
	return &unbounded[T]{
		signal:   make(chan struct{}, 1),
		closedCh: make(chan struct{}),
	}
}

// Push appends v. It returns false, dropping v, once the queue is closed.
func (q *unbounded[T]) Push(v T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.items = append(q.items, v)
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryPop removes the head without blocking.
func (q *unbounded[T]) TryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	v := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	return v, true
}

// Pop blocks until an item is available, the queue is closed and drained
// (ok=false), or ctx is done (ok=false).
func (q *unbounded[T]) Pop(ctx context.Context) (T, bool) {
	for {
		if v, ok := q.TryPop(); ok {
			return v, true
		}
		select {
		case <-q.signal:
		case <-q.closedCh:
			// Items pushed before Close are still delivered.
			return q.TryPop()
		case <-ctx.Done():
			var zero T
			return zero, false
		}
	}
}

// Signal fires after at least one Push since the last receive. Spurious
// wake-ups are possible; callers re-check with TryPop.
func (q *unbounded[T]) Signal() <-chan struct{} {
	return q.signal
}

// Closed is closed when Close is called.
func (q *unbounded[T]) Closed() <-chan struct{} {
	return q.closedCh
}

// Close stops accepting items. Already queued items stay poppable.
func (q *unbounded[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.closedCh)
}

// Len reports the number of queued items.
func (q *unbounded[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
