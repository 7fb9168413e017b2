// Package outbox holds encoded packets until the next flush.
package outbox

import (
	"sync"

	"github.com/blukai/fragrelay/internal/protocol"
)

// Queue is an ordered list of encoded packets. Enqueue and Drain are its only
// operations and never interleave: a drain takes everything queued so far and
// leaves an empty queue behind for the next window.
type Queue struct {
	mu      sync.Mutex
	packets [][]byte
	bytes   int
}

func New() *Queue {
	return &Queue{}
}

func (q *Queue) Enqueue(packet []byte) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.packets = append(q.packets, packet)
	q.bytes += len(packet)
}

// Drain returns the queued packets joined into one frame, or nil when the
// queue is empty, together with the number of packets in it.
func (q *Queue) Drain() ([]byte, int) {
	q.mu.Lock()
	packets := q.packets
	q.packets = nil
	q.bytes = 0
	q.mu.Unlock()

	if len(packets) == 0 {
		return nil, 0
	}
	return protocol.JoinFrame(packets), len(packets)
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.packets)
}

// Bytes is the size of the frame the next Drain would produce.
func (q *Queue) Bytes() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.bytes
}
