package observation

import (
	"sync"
	"sync/atomic"
)

// DefaultQueueSize is the number of pending observations held before the
// oldest ones are dropped.
const DefaultQueueSize = 500

// Queue is a bounded multi-producer, single-consumer observation queue.
// Push never blocks: when the queue is full the oldest pending observation
// is discarded. Staleness is preferred over stalling the capture pipeline.
type Queue struct {
	mu     sync.Mutex
	buf    []Observation
	head   int
	size   int
	closed bool

	notify  chan struct{}
	dropped atomic.Uint64
	pushed  atomic.Uint64
}

// NewQueue creates a queue holding at most capacity observations
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultQueueSize
	}
	return &Queue{
		buf:    make([]Observation, capacity),
		notify: make(chan struct{}, 1),
	}
}

// Push enqueues an observation. It reports false if the queue is closed.
func (q *Queue) Push(obs Observation) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	if q.size == len(q.buf) {
		q.buf[q.head] = Observation{}
		q.head = (q.head + 1) % len(q.buf)
		q.size--
		q.dropped.Add(1)
	}
	q.buf[(q.head+q.size)%len(q.buf)] = obs
	q.size++
	q.mu.Unlock()

	q.pushed.Add(1)
	select {
	case q.notify <- struct{}{}:
	default:
	}
	return true
}

// Drain removes and returns every pending observation in arrival order.
// The returned slice reuses dst's storage when large enough.
func (q *Queue) Drain(dst []Observation) []Observation {
	dst = dst[:0]
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.size > 0 {
		dst = append(dst, q.buf[q.head])
		q.buf[q.head] = Observation{}
		q.head = (q.head + 1) % len(q.buf)
		q.size--
	}
	q.head = 0
	return dst
}

// Len returns the number of pending observations
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Cap returns the queue capacity
func (q *Queue) Cap() int {
	return len(q.buf)
}

// Ready is signalled after a push. It is a hint; Drain may return nothing.
func (q *Queue) Ready() <-chan struct{} {
	return q.notify
}

// Dropped returns how many observations were discarded because the queue was full
func (q *Queue) Dropped() uint64 {
	return q.dropped.Load()
}

// Pushed returns how many observations were accepted by Push
func (q *Queue) Pushed() uint64 {
	return q.pushed.Load()
}

// Close rejects further pushes. Pending observations remain drainable.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
}

// Discard drops every pending observation and returns how many were removed.
func (q *Queue) Discard() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := q.size
	for i := range q.buf {
		q.buf[i] = Observation{}
	}
	q.head, q.size = 0, 0
	return n
}
