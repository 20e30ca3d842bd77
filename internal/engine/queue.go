package engine

import (
	"sync"

	"github.com/roach88/graphcache/internal/ir"
	"github.com/roach88/graphcache/internal/store"
	"github.com/roach88/graphcache/internal/txn"
)

// EventType distinguishes between event kinds.
type EventType int

const (
	// EventTypeResponse carries a transport result for one transaction.
	EventTypeResponse EventType = iota + 1
	// EventTypeServerData carries server truth pushed outside any mutation.
	EventTypeServerData
)

// Response is the transport result for one transaction.
type Response struct {
	Token   txn.Token
	Payload ir.IRObject
	Err     error
}

// Event wraps everything the Run loop serializes onto the store.
type Event struct {
	Type       EventType
	Response   *Response
	ServerData store.Patch
}

// eventQueue is a thread-safe FIFO queue for events.
//
// Transport goroutines enqueue responses in arrival order while the Run loop
// dequeues. The queue is unbounded so a slow Run loop never blocks a
// transport goroutine.
//
// The queue uses a channel for signaling to enable context-aware waiting
// in the Run loop.
type eventQueue struct {
	mu     sync.Mutex
	events []Event
	closed bool
	signal chan struct{} // buffered, size 1
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		events: make([]Event, 0, 16),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds an event to the back of the queue.
// Returns false if the queue is closed.
func (q *eventQueue) Enqueue(e Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.events = append(q.events, e)

	// Non-blocking: the buffer of 1 coalesces signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue removes the front event without blocking.
func (q *eventQueue) TryDequeue() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return Event{}, false
	}
	e := q.events[0]

	// Clear the slot so the payload can be collected.
	q.events[0] = Event{}
	if len(q.events) == 1 {
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
	}
	return e, true
}

// Wait returns a channel that signals when events may be available. It is
// closed when the queue is closed.
func (q *eventQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Closed reports whether Close has been called.
func (q *eventQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close signals that no more events will be enqueued and wakes waiters.
func (q *eventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
