package device

import (
	"sync"

	"github.com/aircast-project/aircast/internal/plist"
)

// delivery is one item on the listener→consumer queue: an event or the
// fatal error that ended the listener.
type delivery struct {
	event plist.Dict
	err   error
}

// fifo is an unbounded, strictly ordered queue. The event listener must
// never block on a slow consumer (it has acknowledgment deadlines on the
// wire), so a plain bounded channel is not enough: items accumulate here
// until the consumer drains them, always in arrival order.
type fifo struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []delivery
	closed bool
}

func newFIFO() *fifo {
	q := &fifo{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// push appends an item. Pushing to a closed queue is a no-op.
func (q *fifo) push(d delivery) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.items = append(q.items, d)
	q.cond.Signal()
}

// pop removes the head item. In blocking mode it waits until an item
// arrives or the queue closes; in non-blocking mode it returns ok=false
// immediately when the queue is empty. ok=false also means closed-and-
// drained in blocking mode.
func (q *fifo) pop(block bool) (delivery, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 {
		if q.closed || !block {
			return delivery{}, false
		}
		q.cond.Wait()
	}

	d := q.items[0]
	q.items = q.items[1:]
	return d, true
}

// close marks the queue finished. Queued items remain poppable.
func (q *fifo) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.cond.Broadcast()
}
