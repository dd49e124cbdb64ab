package network

import (
	"sync"

	"github.com/gamelink-project/gamelink/internal/protocol"
)

// DefaultQueueLimit caps how many outbound messages are buffered while
// a connection is down. Zero means unbounded.
const DefaultQueueLimit = 1000

// SendQueue buffers outbound messages in FIFO order while a connection
// is not yet authenticated. Flushing preserves the original order; a
// message that fails to send mid-flush is pushed back to the front so
// it is retried on the next successful connect rather than dropped.
type SendQueue struct {
	mu    sync.Mutex
	items []*protocol.Message
	limit int
}

// NewSendQueue creates a queue holding at most limit messages
// (0 = unbounded).
func NewSendQueue(limit int) *SendQueue {
	return &SendQueue{limit: limit}
}

// Enqueue appends a message. It reports false when the queue is full.
func (q *SendQueue) Enqueue(m *protocol.Message) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.limit > 0 && len(q.items) >= q.limit {
		return false
	}
	q.items = append(q.items, m)
	return true
}

// Flush sends all queued messages in order through write. On the first
// write error the failed message is re-queued at the head and the error
// is returned; the remaining messages keep their positions.
func (q *SendQueue) Flush(write func(*protocol.Message) error) error {
	for {
		q.mu.Lock()
		if len(q.items) == 0 {
			q.mu.Unlock()
			return nil
		}
		m := q.items[0]
		q.items = q.items[1:]
		q.mu.Unlock()

		if err := write(m); err != nil {
			q.mu.Lock()
			q.items = append([]*protocol.Message{m}, q.items...)
			q.mu.Unlock()
			return err
		}
	}
}

// Drain empties the queue and returns the removed messages in order.
// Used on administrative removal to reject buffered work.
func (q *SendQueue) Drain() []*protocol.Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

// Len returns the number of buffered messages.
func (q *SendQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
