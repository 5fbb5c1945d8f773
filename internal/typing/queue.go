package typing

import (
	"context"
	"errors"
	"sync"
)

// ErrQueueComplete is returned by Enqueue after Complete, and by Dequeue
// once a completed queue has drained.
var ErrQueueComplete = errors.New("typing: queue completed")

// Queue is the ordered command channel between transcript processing and the
// injector. Enqueue never blocks and preserves arrival order; Dequeue
// suspends until a command arrives, the completed queue drains, or the
// context is cancelled. Safe for concurrent use by multiple producers and
// one consumer.
type Queue struct {
	mu       sync.Mutex
	items    []Command
	complete bool
	notify   chan struct{} // buffered(1) wakeup for the consumer
}

// NewQueue creates an empty, open queue.
func NewQueue() *Queue {
	return &Queue{notify: make(chan struct{}, 1)}
}

// Enqueue appends cmd. It never blocks; it fails only after Complete.
func (q *Queue) Enqueue(cmd Command) error {
	q.mu.Lock()
	if q.complete {
		q.mu.Unlock()
		return ErrQueueComplete
	}
	q.items = append(q.items, cmd)
	q.mu.Unlock()
	q.wake()
	return nil
}

// Dequeue returns the next command in order. It blocks until one is
// available. After Complete, pending commands still drain in order; once
// empty Dequeue returns ErrQueueComplete. Context cancellation returns
// ctx.Err with pending commands left intact.
func (q *Queue) Dequeue(ctx context.Context) (Command, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			cmd := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return cmd, nil
		}
		done := q.complete
		q.mu.Unlock()

		if done {
			return Command{}, ErrQueueComplete
		}
		select {
		case <-q.notify:
		case <-ctx.Done():
			return Command{}, ctx.Err()
		}
	}
}

// Clear discards all pending commands without executing them.
func (q *Queue) Clear() {
	q.mu.Lock()
	q.items = nil
	q.mu.Unlock()
}

// Complete marks the end of the command stream. Pending commands remain
// dequeueable; new Enqueue calls fail.
func (q *Queue) Complete() {
	q.mu.Lock()
	q.complete = true
	q.mu.Unlock()
	q.wake()
}

// Len returns the number of pending commands.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Reset clears pending commands and reopens a completed queue.
func (q *Queue) Reset() {
	q.mu.Lock()
	q.items = nil
	q.complete = false
	q.mu.Unlock()
}

func (q *Queue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
