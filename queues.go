package ptcsim

import (
	"context"
	"sync"
	"time"

	"github.com/dbuentello/PTC-Sim/wire"
)

// queueDepth bounds every per-address queue. A full queue rejects the send
// instead of blocking the receiver loop.
const queueDepth = 1024

// queueTable maps destination addresses to their pending-message FIFOs.
// The mutex guards only queue creation; the channels themselves make
// concurrent push by the receiver and pop by the dispatcher safe.
type queueTable struct {
	mu     sync.Mutex
	queues map[string]chan *wire.Message
}

func newQueueTable() *queueTable {
	return &queueTable{
		queues: map[string]chan *wire.Message{},
	}
}

// Push appends msg to the FIFO of its destination, creating the queue on
// first use. Returns false if the queue is full.
func (t *queueTable) Push(dest string, msg *wire.Message) bool {
	t.mu.Lock()
	q, exists := t.queues[dest]
	if !exists {
		q = make(chan *wire.Message, queueDepth)
		t.queues[dest] = q
	}
	t.mu.Unlock()

	select {
	case q <- msg:
		return true
	default:
		return false
	}
}

// Pop removes and returns the oldest message queued for dest, waiting up to
// wait for one to arrive. A pop against an address that never received a
// message returns immediately and does not create the queue.
func (t *queueTable) Pop(ctx context.Context, dest string, wait time.Duration) (*wire.Message, bool) {
	t.mu.Lock()
	q, exists := t.queues[dest]
	t.mu.Unlock()

	if !exists {
		return nil, false
	}

	select {
	case msg := <-q:
		return msg, true
	case <-time.After(wait):
		return nil, false
	case <-ctx.Done():
		return nil, false
	}
}
