package protocol

import (
	"github.com/gammazero/deque"
)

// outputQueue - FIFO of complete wire messages, accounted by full entry length
type outputQueue struct {
	entries *deque.Deque[[]byte]
	size    int
	limit   int
	// bytes of the head entry already handed to the transport
	offset int
}

func newOutputQueue(limit int) *outputQueue {
	return &outputQueue{entries: deque.New[[]byte](), limit: limit}
}

// fits - whether an entry of n bytes can be pushed
func (q *outputQueue) fits(n int) bool {
	return q.size+n <= q.limit
}

func (q *outputQueue) push(entry []byte) error {
	if !q.fits(len(entry)) {
		return ErrQueueFull
	}
	q.entries.PushBack(entry)
	q.size += len(entry)
	return nil
}

func (q *outputQueue) empty() bool {
	return q.entries.Len() == 0
}

// head - the unwritten remainder of the oldest entry
func (q *outputQueue) head() []byte {
	return q.entries.Front()[q.offset:]
}

// advance - n more bytes of the head entry were written
func (q *outputQueue) advance(n int) {
	q.offset += n
	if front := q.entries.Front(); q.offset >= len(front) {
		q.entries.PopFront()
		q.size -= len(front)
		q.offset = 0
	}
}

func (q *outputQueue) clear() {
	q.entries.Clear()
	q.size = 0
	q.offset = 0
}
