package cdp

import (
	"context"
	"sync"

	"github.com/lukemcguire/primal/browser"
)

// eventQueue hands protocol events from chromedp's read loop to listener
// callbacks on a separate goroutine. The read loop must never block, and
// callbacks are allowed to issue protocol commands, so the queue is
// unbounded.
type eventQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []func()
	closed bool
}

func newEventQueue() *eventQueue {
	q := &eventQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// push queues fn. It reports false once the queue is closed.
func (q *eventQueue) push(fn func()) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.items = append(q.items, fn)
	q.cond.Signal()
	return true
}

// flush waits until every callback queued before the call has run.
func (q *eventQueue) flush(ctx context.Context) error {
	done := make(chan struct{})
	if !q.push(func() { close(done) }) {
		return browser.ErrClosed
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run delivers queued callbacks in order until close is called. Items
// queued before close are still delivered.
func (q *eventQueue) run() {
	for {
		q.mu.Lock()
		for len(q.items) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.items) == 0 {
			q.mu.Unlock()
			return
		}
		fn := q.items[0]
		q.items[0] = nil
		q.items = q.items[1:]
		q.mu.Unlock()

		fn()
	}
}

func (q *eventQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
}
