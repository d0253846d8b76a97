// Package routetable maps destination node ids to their route.Entry,
// bounded at a fixed capacity. It is updated on every received packet, not
// just on discovery traffic — a passively observed relay is evidence of
// reachability.
package routetable

import (
	"log/slog"
	"sync"

	"github.com/go-rbmesh/rbmesh/core/route"
)

// DefaultCapacity is the maximum number of destinations tracked.
const DefaultCapacity = 100

// Table is a mutex-guarded destination -> route.Entry map.
type Table struct {
	mu       sync.Mutex
	entries  map[uint32]*route.Entry
	order    []uint32 // insertion order, for RouteAt
	capacity int
	log      *slog.Logger
}

// Config configures a Table.
type Config struct {
	// Capacity is the maximum number of destinations tracked. Default: 100.
	Capacity int
	// Logger falls back to slog.Default() if nil.
	Logger *slog.Logger
}

// New creates a Table with the given configuration.
func New(cfg Config) *Table {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Table{
		entries:  make(map[uint32]*route.Entry),
		capacity: cfg.Capacity,
		log:      logger.WithGroup("routetable"),
	}
}

// Update records an observation: destination `originator` is reachable via
// `via`, `distance` hops away, as of `now`, with signal quality `rssi`.
// Called for every received packet. If the table is full and originator is
// not already present, the update is dropped (logged, not fatal).
func (t *Table) Update(originator uint32, via uint32, distance uint8, now int64, rssi int32) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[originator]
	if !ok {
		if len(t.entries) >= t.capacity {
			t.log.Warn("routing table full, dropping new destination",
				"originator", originator, "capacity", t.capacity)
			return
		}
		e = route.NewEntry()
		t.entries[originator] = e
		t.order = append(t.order, originator)
	}
	e.UpsertSample(via, distance, now, rssi)
}

// NextHop returns the primary next hop toward destination, or (0, false) if
// no route is known.
func (t *Table) NextHop(destination uint32) (uint32, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[destination]
	if !ok {
		return 0, false
	}
	return e.BestNextHop()
}

// MarkError records a failure on the primary route toward destination. If
// no entry exists for destination, logs and returns.
func (t *Table) MarkError(destination uint32, now int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[destination]
	if !ok {
		t.log.Debug("mark_error on unknown destination", "destination", destination)
		return
	}
	e.RecordError(now)
}

// Count returns the number of destinations currently tracked.
func (t *Table) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// At returns the destination and route count at insertion-order index i,
// for console/diagnostic enumeration (spec's route_count/route_at).
func (t *Table) At(i int) (destination uint32, routeCount int, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if i < 0 || i >= len(t.order) {
		return 0, 0, false
	}
	dest := t.order[i]
	return dest, t.entries[dest].SampleCount(), true
}
