package netio

import "sync"

// EarlyQueueCapacity is the bounded FIFO size for payloads arriving before a
// connection is attached to a room.
const EarlyQueueCapacity = 3

// EarlyPayload is one buffered payload together with the reliability flag it
// arrived with, so draining the queue can forward it the same way it would
// have been forwarded had the connection already been attached to a room.
type EarlyPayload struct {
	Data     []byte
	Reliable bool
}

// EarlyQueue is a bounded, order-preserving FIFO of opaque payloads. Pushing
// past capacity drops the new payload and reports false; the peer is
// expected to retransmit at the application layer, so overflow is silent to
// the sender but observable to the caller via the return value for logging.
type EarlyQueue struct {
	mu       sync.Mutex
	buf      []EarlyPayload
	capacity int
}

func NewEarlyQueue(capacity int) *EarlyQueue {
	return &EarlyQueue{capacity: capacity}
}

// Push appends data, returning false if the queue was already full.
func (q *EarlyQueue) Push(reliable bool, data []byte) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.buf) >= q.capacity {
		return false
	}
	q.buf = append(q.buf, EarlyPayload{Data: data, Reliable: reliable})
	return true
}

// Drain returns the buffered payloads in FIFO order and empties the queue.
func (q *EarlyQueue) Drain() []EarlyPayload {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.buf) == 0 {
		return nil
	}
	out := q.buf
	q.buf = nil
	return out
}

// Len reports the current buffered count.
func (q *EarlyQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf)
}
