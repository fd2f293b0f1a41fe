package session

import "sync"

// Sink receives a session's events in order.
//
// Send is called one event at a time, with no session lock held, on the
// goroutine that raised the event (an engine callback or SendBufferingUpdate).
// It should return promptly. It may issue transport commands and queries on
// the session, SendBufferingUpdate included; events those raise are delivered
// after Send returns. It must not call Dispose; hand the event to another
// goroutine first (a Queue does that).
type Sink interface {
	Send(e Event)
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(Event)

func (f SinkFunc) Send(e Event) { f(e) }

var discard = SinkFunc(func(Event) {})

// Queue is a Sink that never blocks the engine. Events are buffered without
// bound and delivered in order on the channel returned by Events.
type Queue struct {
	mu      sync.Mutex
	pending []Event
	closed  bool

	wake chan struct{}
	done chan struct{}
	out  chan Event
}

// NewQueue creates a queue and starts its delivery goroutine.
func NewQueue() *Queue {
	q := &Queue{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
		out:  make(chan Event),
	}
	go q.pump()
	return q
}

// Send enqueues e. Events sent after Close are dropped.
func (q *Queue) Send(e Event) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.pending = append(q.pending, e)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Events returns the delivery channel. It is closed after Close.
func (q *Queue) Events() <-chan Event {
	return q.out
}

// Close stops delivery and discards undelivered events. It is safe to call
// more than once.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.pending = nil
	close(q.done)
}

func (q *Queue) pump() {
	defer close(q.out)
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return
		}
		if len(q.pending) == 0 {
			q.mu.Unlock()
			select {
			case <-q.wake:
			case <-q.done:
				return
			}
			continue
		}
		e := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		q.mu.Unlock()

		select {
		case q.out <- e:
		case <-q.done:
			return
		}
	}
}
