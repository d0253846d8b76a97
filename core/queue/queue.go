// Package queue implements the outbound packet queue (C4): a FIFO-among-ready
// holding area between the engine and the radio. It exposes the next
// transmittable packet and marks exactly one packet complete per radio TX
// event, matching the "first Ok packet wins" rule in spec.md §4.4/§9.
//
// Entries are addressed by a monotonically increasing packet id assigned at
// Enqueue time, not by slice position — spec.md §9 flags position-based
// tracking as fragile because outbound is edited between ticks. A caller
// that needs to keep driving a specific packet (the engine's "working
// packet") should remember the id returned by Enqueue.
package queue

import (
	"errors"
	"sync"

	"github.com/go-rbmesh/rbmesh/core/packet"
)

// ErrQueueFull is returned by Enqueue when the queue is at capacity.
var ErrQueueFull = errors.New("outbound queue full")

// DefaultCapacity is the default maximum number of packets held at once.
const DefaultCapacity = 32

// entry pairs a packet with the id used to address it.
type entry struct {
	id  uint64
	pkt *packet.Packet
}

// Queue is the bounded, mutex-guarded outbound packet queue.
type Queue struct {
	mu       sync.Mutex
	items    []entry
	capacity int
	nextID   uint64
}

// New creates a Queue with the given capacity. A capacity <= 0 uses
// DefaultCapacity.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{capacity: capacity}
}

// Enqueue appends pkt to the tail of the queue and returns the id by which
// it can later be found or dropped. Returns ErrQueueFull if the queue is at
// capacity.
func (q *Queue) Enqueue(pkt *packet.Packet) (uint64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) >= q.capacity {
		return 0, ErrQueueFull
	}
	q.nextID++
	id := q.nextID
	q.items = append(q.items, entry{id: id, pkt: pkt})
	return id, nil
}

// PeekNextTransmittable returns the first packet, in insertion order, whose
// Meta.TxState is TxOk, along with its id. Returns (nil, 0, false) if none
// is ready.
func (q *Queue) PeekNextTransmittable() (*packet.Packet, uint64, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, e := range q.items {
		if e.pkt.Meta.TxState == packet.TxOk {
			return e.pkt, e.id, true
		}
	}
	return nil, 0, false
}

// MarkTxDone is called when the radio reports that the in-flight TX
// finished. It finds the first TxOk packet and either:
//   - if WaitForReply is set, transitions it to TxComplete and stamps
//     TxCompleteTimestamp, incrementing TxCount; or
//   - otherwise, removes it from the queue entirely.
//
// Exactly one packet is mutated per call. If no TxOk packet exists, no state
// changes and the false result is the only signal; nothing is logged here.
// Returns the id of the mutated/removed packet and true, or (0, false) if
// there was nothing to mark.
func (q *Queue) MarkTxDone(now int64) (uint64, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, e := range q.items {
		if e.pkt.Meta.TxState != packet.TxOk {
			continue
		}
		if e.pkt.Meta.WaitForReply {
			e.pkt.Meta.TxState = packet.TxComplete
			e.pkt.Meta.TxCompleteTimestamp = now
			e.pkt.Meta.TxCompleteSet = true
			e.pkt.Meta.TxCount++
		} else {
			q.items = append(q.items[:i], q.items[i+1:]...)
		}
		return e.id, true
	}
	return 0, false
}

// FindFirst returns the first packet, in insertion order, for which pred
// returns true, along with its id.
func (q *Queue) FindFirst(pred func(*packet.Packet) bool) (*packet.Packet, uint64, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, e := range q.items {
		if pred(e.pkt) {
			return e.pkt, e.id, true
		}
	}
	return nil, 0, false
}

// FindByID returns the packet with the given id, if still present.
func (q *Queue) FindByID(id uint64) (*packet.Packet, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, e := range q.items {
		if e.id == id {
			return e.pkt, true
		}
	}
	return nil, false
}

// DropByID removes the packet with the given id, if present. Used by the
// engine to retire a tracked packet once it is no longer needed (e.g. after
// discovery succeeds or a transfer reaches a terminal state).
func (q *Queue) DropByID(id uint64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, e := range q.items {
		if e.id == id {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return true
		}
	}
	return false
}

// Len returns the number of packets currently held, regardless of state.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
