// Package queue provides an unbounded FIFO exposed as a receive channel.
package queue

import "sync"

// Queue buffers values without bound and delivers them in order on Out.
// Push never blocks. Close stops accepting values; items already queued are
// still delivered before Out is closed. Discard drops them instead.
type Queue[T any] struct {
	mu      sync.Mutex
	items   []T
	closed  bool
	discard bool
	signal  chan struct{}
	out     chan T
	done    chan struct{}
}

// New starts a queue.
func New[T any]() *Queue[T] {
	q := &Queue[T]{
		signal: make(chan struct{}, 1),
		out:    make(chan T),
		done:   make(chan struct{}),
	}
	go q.pump()
	return q
}

// Push appends v. It reports false if the queue is closed.
func (q *Queue[T]) Push(v T) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, v)
	q.mu.Unlock()
	q.wake()
	return true
}

// Out returns the delivery channel.
func (q *Queue[T]) Out() <-chan T {
	return q.out
}

// Len returns the number of values not yet delivered.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops the queue after draining what is already buffered.
func (q *Queue[T]) Close() {
	q.close(false)
}

// Discard stops the queue and drops anything buffered.
func (q *Queue[T]) Discard() {
	q.close(true)
}

func (q *Queue[T]) close(discard bool) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.discard = discard
	if discard {
		q.items = nil
	}
	q.mu.Unlock()
	close(q.done)
	q.wake()
}

func (q *Queue[T]) wake() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *Queue[T]) pump() {
	defer close(q.out)
	for {
		q.mu.Lock()
		if len(q.items) == 0 {
			closed := q.closed
			q.mu.Unlock()
			if closed {
				return
			}
			<-q.signal
			continue
		}
		next := q.items[0]
		var zero T
		q.items[0] = zero
		q.items = q.items[1:]
		q.mu.Unlock()

		select {
		case q.out <- next:
		case <-q.done:
			q.mu.Lock()
			discard := q.discard
			q.mu.Unlock()
			if discard {
				return
			}
			// Closed but draining: block until the consumer takes it.
			q.out <- next
		}
	}
}
