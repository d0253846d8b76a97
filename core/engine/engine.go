// Package engine implements the transfer engine (C5): the receive-side
// packet-processing decision tree and the transmit-side state machine that
// drives route discovery, payload transmission, retry, and ack-wait on
// behalf of a local transmit request.
//
// This corresponds to the firmware's BmNetworkEngine (process_packet,
// run_engine, initiate_packet_transfer).
package engine

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/go-rbmesh/rbmesh/core/packet"
	"github.com/go-rbmesh/rbmesh/core/queue"
	"github.com/go-rbmesh/rbmesh/core/routetable"
)

const (
	// AckTimeoutMillis is how long the engine waits for a discovery
	// response or a data ack before declaring a timeout.
	AckTimeoutMillis = 10_000

	// MaxDataRetries bounds resends of a data payload awaiting an ack: after
	// an ack timeout the engine retries only while tx_count < MaxDataRetries.
	// TxCount grows with each completed radio TX and with each retry, so a
	// payload gets one resend before ErrorNoAck.
	MaxDataRetries = 2

	// DefaultInboundCapacity bounds the inbound delivery queue.
	DefaultInboundCapacity = 32
)

// ErrBusy is returned by InitiateTransfer when the engine is not Idle.
var ErrBusy = errors.New("engine busy: a transfer is already in progress")

// ErrPayloadTooLarge is returned by InitiateTransfer for an oversized payload.
var ErrPayloadTooLarge = errors.New("payload exceeds maximum frame size")

// Config configures an Engine.
type Config struct {
	// LocalID is this node's identifier.
	LocalID packet.NodeID

	// Table is the routing table the engine learns from and consults.
	Table *routetable.Table

	// Outbound is the outbound packet queue the engine drives.
	Outbound *queue.Queue

	// InboundCapacity bounds the inbound application delivery queue.
	// Default: DefaultInboundCapacity.
	InboundCapacity int

	// Logger falls back to slog.Default() if nil.
	Logger *slog.Logger
}

// Engine implements the transfer engine.
type Engine struct {
	cfg Config
	log *slog.Logger

	table    *routetable.Table
	outbound *queue.Queue

	mu          sync.Mutex
	state       State
	workingID   uint64
	hasWorking  bool
	inbound     []*packet.Packet
	inboundCap  int
}

// New creates an Engine with the given configuration. Table and Outbound
// must be non-nil.
func New(cfg Config) *Engine {
	if cfg.InboundCapacity <= 0 {
		cfg.InboundCapacity = DefaultInboundCapacity
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:        cfg,
		log:        logger.WithGroup("engine"),
		table:      cfg.Table,
		outbound:   cfg.Outbound,
		inboundCap: cfg.InboundCapacity,
	}
}

// LocalID returns this node's identifier.
func (e *Engine) LocalID() packet.NodeID {
	return e.cfg.LocalID
}

// State returns the current transmit-side state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// RouteCount returns the number of destinations with a known route.
func (e *Engine) RouteCount() int {
	return e.table.Count()
}

// RouteAt enumerates known destinations in insertion order, for console
// diagnostics (AT+RTABLE).
func (e *Engine) RouteAt(i int) (destination packet.NodeID, routeCount int, ok bool) {
	dest, count, ok := e.table.At(i)
	return packet.NodeID(dest), count, ok
}

// InboundCount returns the number of undelivered application payloads.
func (e *Engine) InboundCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.inbound)
}

// PopInbound removes and returns the oldest undelivered application
// payload, or (nil, false) if none is queued.
func (e *Engine) PopInbound() (*packet.Packet, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.inbound) == 0 {
		return nil, false
	}
	p := e.inbound[0]
	e.inbound = e.inbound[1:]
	return p, true
}

func (e *Engine) pushInbound(p *packet.Packet) {
	if len(e.inbound) >= e.inboundCap {
		e.log.Warn("inbound queue full, dropping payload", "originator", p.Originator)
		return
	}
	e.inbound = append(e.inbound, p)
}

// -----------------------------------------------------------------------
// Receive-side decision tree
// -----------------------------------------------------------------------

// ProcessPacket decodes a radio frame and runs it through the receive-side
// decision tree (decode -> self-echo guard -> learn route -> dispatch or
// relay). It returns (nil, false) with no state mutation if the frame was
// undecodable or echoed back our own originator id. Otherwise the route is
// learned and it returns the decoded packet and true; this includes a packet
// that arrived TTL-dead on a relay path, which is learned from but not relayed.
func (e *Engine) ProcessPacket(frame []byte, now int64, rssi int32) (*packet.Packet, bool) {
	p, ok := packet.Decode(frame)
	if !ok {
		return nil, false
	}

	// Self-echo guard: never process our own transmissions reflected back.
	if p.Originator == e.cfg.LocalID {
		return nil, false
	}

	// Learn route unconditionally: a passively observed relay is evidence
	// of reachability, whether or not this packet is ultimately useful.
	e.table.Update(uint32(p.Originator), uint32(p.Source), p.Info.HopCount, now, rssi)

	e.mu.Lock()
	defer e.mu.Unlock()

	if p.Destination == e.cfg.LocalID {
		e.dispatchLocal(p, now)
		return p, true
	}

	// Relaying: TTL is checked here, not before local dispatch, so a
	// packet that lands exactly on its last legal hop can still be
	// delivered to us even though hop_count == ttl.
	if p.Info.IsDead() {
		e.log.Debug("dropping dead packet on relay path", "originator", p.Originator, "ttl", p.Info.TTL, "hop_count", p.Info.HopCount)
		return p, true
	}

	switch p.Type() {
	case packet.TypeRouteDiscoveryRequest, packet.TypeBcastNeighborTable:
		e.relayBroadcast(p)
	case packet.TypeRouteDiscoveryResponse, packet.TypeDataPayload, packet.TypeDataPayloadAck:
		e.relayRouted(p)
	default:
		// Unknown/reserved types are not relayed.
	}

	return p, true
}

// dispatchLocal handles a packet addressed to this node. Caller holds e.mu.
func (e *Engine) dispatchLocal(p *packet.Packet, now int64) {
	switch p.Type() {
	case packet.TypeRouteDiscoveryRequest:
		resp := e.buildReply(packet.TypeRouteDiscoveryResponse, p)
		e.enqueueReadyLocked(resp)

	case packet.TypeRouteDiscoveryResponse:
		if e.state == PerformingNetworkDiscovery {
			e.state = RouteFound
		} else {
			e.log.Debug("unexpected route discovery response", "originator", p.Originator)
		}

	case packet.TypeDataPayload:
		e.pushInbound(p)
		if p.Info.RequiredAck {
			ack := e.buildReply(packet.TypeDataPayloadAck, p)
			e.enqueueReadyLocked(ack)
		}

	case packet.TypeDataPayloadAck:
		if e.state == WaitingForAck {
			e.state = AckReceived
		} else {
			e.log.Debug("unexpected data payload ack", "originator", p.Originator)
		}

	case packet.TypeRouteDiscoveryError:
		e.log.Debug("received route discovery error", "originator", p.Originator)

	case packet.TypeBcastNeighborTable:
		// Should never be unicast to us; ignore.
	}
}

// buildReply constructs a unicast reply addressed back to src's originator,
// through the neighbor it arrived from, copying ttl and required_ack.
func (e *Engine) buildReply(t packet.PacketType, src *packet.Packet) *packet.Packet {
	reply := packet.NewPacket(t)
	reply.Originator = e.cfg.LocalID
	reply.Destination = src.Originator
	reply.NextHop = src.Source
	reply.Source = e.cfg.LocalID
	reply.Info = packet.HeaderInfo{TTL: src.Info.TTL, RequiredAck: src.Info.RequiredAck}
	return reply
}

// enqueueReadyLocked pushes p to outbound already marked ready to transmit.
func (e *Engine) enqueueReadyLocked(p *packet.Packet) {
	p.Meta.TxState = packet.TxOk
	if _, err := e.outbound.Enqueue(p); err != nil {
		e.log.Warn("outbound queue full, dropping reply", "type", p.Type(), "destination", p.Destination)
	}
}

// relayBroadcast re-broadcasts a flooded packet after incrementing hop
// count. Caller holds e.mu.
func (e *Engine) relayBroadcast(p *packet.Packet) {
	p.Source = e.cfg.LocalID
	p.Info = p.Info.IncrementHopCount()
	e.enqueueReadyLocked(p)
}

// relayRouted forwards a unicast packet toward destination via the known
// next hop, if any. Caller holds e.mu.
func (e *Engine) relayRouted(p *packet.Packet) {
	hop, ok := e.table.NextHop(uint32(p.Destination))
	if !ok {
		e.log.Debug("no route to relay toward, dropping", "destination", p.Destination)
		return
	}
	p.Source = e.cfg.LocalID
	p.Info = p.Info.IncrementHopCount()
	p.NextHop = packet.NodeID(hop)
	e.enqueueReadyLocked(p)
}

// -----------------------------------------------------------------------
// Transmit-side state machine
// -----------------------------------------------------------------------

// InitiateTransfer begins a local transmit request: sends discovery first
// if no route to destination is known, otherwise sends the payload
// directly. Rejected with ErrBusy if a transfer is already in progress.
func (e *Engine) InitiateTransfer(destination packet.NodeID, requireAck bool, ttl uint8, payload []byte) error {
	if len(payload) > packet.MaxPayloadSize {
		return ErrPayloadTooLarge
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != Idle {
		e.log.Debug("rejecting initiate_transfer: engine busy", "state", e.state)
		return ErrBusy
	}

	data := packet.NewPacket(packet.TypeDataPayload)
	data.Originator = e.cfg.LocalID
	data.Destination = destination
	data.Source = e.cfg.LocalID
	data.Info = packet.HeaderInfo{TTL: ttl, RequiredAck: requireAck}
	data.Payload = payload
	data.Meta.WaitForReply = true
	dataID, err := e.outbound.Enqueue(data)
	if err != nil {
		e.log.Warn("outbound queue full, cannot initiate transfer", "destination", destination)
		return err
	}

	if _, ok := e.table.NextHop(uint32(destination)); !ok {
		disc := packet.NewPacket(packet.TypeRouteDiscoveryRequest)
		disc.Originator = e.cfg.LocalID
		disc.Destination = destination
		disc.Source = e.cfg.LocalID
		disc.Info = packet.HeaderInfo{TTL: ttl}
		disc.Meta.WaitForReply = true
		disc.Meta.TxState = packet.TxOk
		discID, err := e.outbound.Enqueue(disc)
		if err != nil {
			e.log.Warn("outbound queue full, cannot start discovery", "destination", destination)
			return err
		}
		e.workingID = discID
		e.hasWorking = true
		e.state = PerformingNetworkDiscovery
	} else {
		e.workingID = dataID
		e.hasWorking = true
		e.state = SendingPayload
	}

	return nil
}

// Tick advances the transmit-side state machine by one step and returns the
// state the engine was in before this call, so callers can render
// user-visible transitions on the edge.
func (e *Engine) Tick(now int64) State {
	e.mu.Lock()
	defer e.mu.Unlock()

	previous := e.state

	switch e.state {
	case PerformingNetworkDiscovery:
		if p, ok := e.workingPacketLocked(); ok {
			if p.Meta.TxCompleteSet && now-p.Meta.TxCompleteTimestamp > AckTimeoutMillis {
				e.state = ErrorNoRoute
			}
		}

	case RouteFound:
		if e.hasWorking {
			e.outbound.DropByID(e.workingID)
		}
		e.hasWorking = false
		if p, id, ok := e.outbound.FindFirst(isPendingDataPayload); ok {
			e.workingID = id
			e.hasWorking = true
			_ = p
			e.state = SendingPayload
		} else {
			e.state = Complete
		}

	case SendingPayload:
		p, ok := e.workingPacketLocked()
		if !ok {
			e.state = Complete
			break
		}
		hop, found := e.table.NextHop(uint32(p.Destination))
		if !found {
			e.state = ErrorNoRoute
			break
		}
		p.NextHop = packet.NodeID(hop)
		p.Meta.WaitForReply = true
		p.Meta.TxState = packet.TxOk
		// Clear any TxCompleteSet/TxCompleteTimestamp left by a prior send
		// (the RetryingPayload path lands here too), so WaitingForAck only
		// arms its timeout off this send's own completion, not a stale one.
		p.Meta.TxCompleteSet = false
		if p.Info.RequiredAck {
			e.state = WaitingForAck
		} else {
			e.state = Complete
		}

	case RetryingPayload:
		if p, ok := e.workingPacketLocked(); ok {
			p.Meta.TxCount++
		}
		e.state = SendingPayload

	case WaitingForAck:
		if p, ok := e.workingPacketLocked(); ok {
			if p.Meta.TxCompleteSet && now-p.Meta.TxCompleteTimestamp > AckTimeoutMillis {
				e.table.MarkError(uint32(p.Destination), now)
				if p.Meta.TxCount < MaxDataRetries {
					e.state = RetryingPayload
				} else {
					e.state = ErrorNoAck
				}
			}
		}

	case AckReceived:
		e.state = Complete

	case ErrorNoRoute:
		// The working packet here may be a discovery request (timed out
		// waiting for a response), in which case the DataPayload queued
		// alongside it by InitiateTransfer was never adopted as the
		// working packet and would otherwise be orphaned in outbound,
		// where it could be mistaken for a later transfer's pending
		// payload by RouteFound's FindFirst(isPendingDataPayload).
		if _, id, ok := e.outbound.FindFirst(isPendingDataPayload); ok {
			e.outbound.DropByID(id)
		}
		e.state = Complete

	case ErrorNoAck:
		e.state = Complete

	case Complete:
		if p, ok := e.workingPacketLocked(); ok {
			if p.Meta.TxState != packet.TxOk {
				e.outbound.DropByID(e.workingID)
				e.hasWorking = false
				e.state = Idle
			}
		} else {
			e.hasWorking = false
			e.state = Idle
		}

	case Idle:
		// no-op
	}

	return previous
}

// workingPacketLocked resolves the currently tracked working packet.
// Caller holds e.mu.
func (e *Engine) workingPacketLocked() (*packet.Packet, bool) {
	if !e.hasWorking {
		return nil, false
	}
	return e.outbound.FindByID(e.workingID)
}

// WorkingPacket returns the transmit-side state machine's currently tracked
// packet, if any. Exported for callers (e.g. telemetry) that want to report
// on a transfer's destination/tx count around a Tick-returned transition.
func (e *Engine) WorkingPacket() (*packet.Packet, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.workingPacketLocked()
}

// isPendingDataPayload matches the DataPayload queued by InitiateTransfer
// that has not yet been sent: never transmitted and not currently marked
// ready.
func isPendingDataPayload(p *packet.Packet) bool {
	return p.Type() == packet.TypeDataPayload && p.Meta.TxCount == 0 && p.Meta.TxState != packet.TxOk
}
