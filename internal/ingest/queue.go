package ingest

import (
	"sync"

	"spyview/internal/stacktrace"
)

// message is either a batchMessage or a shutdownMessage
type message interface {
	isMessage()
}

type batchMessage struct {
	traces    []stacktrace.StackTrace
	elapsedMS uint64
}

type shutdownMessage struct{}

func (batchMessage) isMessage()    {}
func (shutdownMessage) isMessage() {}

// queue is an unbounded FIFO with a single consumer. push never blocks.
type queue struct {
	mu    sync.Mutex
	items []message
	ready chan struct{}
}

func newQueue() *queue {
	return &queue{ready: make(chan struct{}, 1)}
}

func (q *queue) push(m message) {
	q.mu.Lock()
	q.items = append(q.items, m)
	q.mu.Unlock()

	// wake the consumer; a pending token is enough
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// pop blocks until a message is available. Only one goroutine may call it.
func (q *queue) pop() message {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			m := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			if len(q.items) == 0 {
				q.items = nil
			}
			q.mu.Unlock()
			return m
		}
		q.mu.Unlock()
		<-q.ready
	}
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
