// Package node wires the core (routing table, outbound queue, engine), a
// radio.Radio, the console, and the telemetry publisher into the
// foreground loop spec.md §5 describes: drain rx_queue into
// Engine.ProcessPacket, run Engine.Tick, drain the outbound queue to the
// radio.
//
// Grounded on device/router/router.go's Start/drainLoop shape: a
// Config/New constructor, a cancelable background goroutine started by
// Start(ctx) and joined by Stop() via a done channel, ticking on an
// interval rather than blocking on a single channel read so the three
// concerns (rx drain, tick, tx drain) all get serviced every cycle.
package node

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rbmesh/rbmesh/console"
	"github.com/go-rbmesh/rbmesh/core/clock"
	"github.com/go-rbmesh/rbmesh/core/engine"
	"github.com/go-rbmesh/rbmesh/core/packet"
	"github.com/go-rbmesh/rbmesh/core/queue"
	"github.com/go-rbmesh/rbmesh/core/routetable"
	"github.com/go-rbmesh/rbmesh/radio"
	"github.com/go-rbmesh/rbmesh/telemetry/mqtt"
)

// DefaultTickInterval is how often the foreground loop polls rx_queue,
// runs Engine.Tick, and checks for a transmittable outbound packet.
const DefaultTickInterval = 10 * time.Millisecond

// TelemetryPublisher is the subset of telemetry/mqtt.Publisher the node
// depends on, allowing tests to substitute a no-op or recording stub.
type TelemetryPublisher interface {
	PublishRouteUpdate(ev mqtt.RouteUpdateEvent) error
	PublishTransfer(ev mqtt.TransferEvent) error
	PublishInbound(ev mqtt.InboundEvent) error
}

// StatusSink receives unsolicited console status lines on engine state
// transitions (e.g. the console's Write, or a test recorder).
type StatusSink interface {
	Write(data []byte) error
}

// Config configures a Node.
type Config struct {
	LocalID packet.NodeID
	Radio   radio.Radio

	RoutingTableCapacity int
	OutboundCapacity     int
	InboundCapacity      int

	TickInterval time.Duration

	Console   *console.Console
	Status    StatusSink
	Telemetry TelemetryPublisher

	Logger *slog.Logger
}

// Node is the foreground orchestrator.
type Node struct {
	cfg   Config
	log   *slog.Logger
	clock *clock.Clock

	table    *routetable.Table
	outbound *queue.Queue
	eng      *engine.Engine
	rad      radio.Radio

	console   *console.Console
	status    StatusSink
	telemetry TelemetryPublisher

	cancel context.CancelFunc
	done   chan struct{}
	mu     sync.Mutex
}

// New creates a Node wiring a fresh routing table, outbound queue, and
// engine around cfg.Radio.
func New(cfg Config) *Node {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.WithGroup("node")

	table := routetable.New(routetable.Config{Capacity: cfg.RoutingTableCapacity, Logger: logger})
	outbound := queue.New(cfg.OutboundCapacity)
	eng := engine.New(engine.Config{
		LocalID:         cfg.LocalID,
		Table:           table,
		Outbound:        outbound,
		InboundCapacity: cfg.InboundCapacity,
		Logger:          logger,
	})

	return &Node{
		cfg:       cfg,
		log:       log,
		clock:     clock.New(),
		table:     table,
		outbound:  outbound,
		eng:       eng,
		rad:       cfg.Radio,
		console:   cfg.Console,
		status:    cfg.Status,
		telemetry: cfg.Telemetry,
	}
}

// Engine returns the underlying transfer engine, for callers (e.g. the
// console) that need direct access.
func (n *Node) Engine() *engine.Engine {
	return n.eng
}

// SetConsole attaches a console built from this node's Engine (via
// n.Engine()), so the foreground loop can report observed RSSI to it.
// Must be called before Start.
func (n *Node) SetConsole(c *console.Console) {
	n.console = c
}

// SetStatus attaches the sink unsolicited engine-state-transition status
// lines are written to. Must be called before Start.
func (n *Node) SetStatus(s StatusSink) {
	n.status = s
}

// SetTelemetry attaches the telemetry publisher used to report route
// updates, transfer outcomes, and inbound deliveries. Must be called
// before Start.
func (n *Node) SetTelemetry(t TelemetryPublisher) {
	n.telemetry = t
}

// Start arms the radio for receive and begins the foreground loop.
func (n *Node) Start(ctx context.Context) error {
	if err := n.rad.ArmRx(); err != nil {
		return err
	}

	interval := n.cfg.TickInterval
	if interval <= 0 {
		interval = DefaultTickInterval
	}

	ctx, n.cancel = context.WithCancel(ctx)
	n.done = make(chan struct{})
	go n.loop(ctx, interval)
	return nil
}

// Stop cancels the foreground loop and waits for it to exit.
func (n *Node) Stop() {
	n.mu.Lock()
	cancel := n.cancel
	done := n.done
	n.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// loop is the single foreground task: drain rx_queue, tick the engine,
// drain outbound to the radio. All three run every tick, matching
// spec.md §5's "one task drains rx_queue ... the same task runs tick,
// scans outbound ... and hands it to the radio."
func (n *Node) loop(ctx context.Context, interval time.Duration) {
	defer close(n.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.drainRx()
			n.tick()
			n.drainTx()
		}
	}
}

func (n *Node) drainRx() {
	for {
		select {
		case frame, ok := <-n.rad.RxQueue():
			if !ok {
				return
			}
			now := n.clock.NowMillis()
			p, processed := n.eng.ProcessPacket(frame.Bytes, now, int32(frame.RSSI))
			if !processed {
				continue
			}
			if n.console != nil {
				n.console.SetRSSI(int32(frame.RSSI))
			}
			n.reportRouteUpdate(p, frame.RSSI)
			n.reportInboundDelivery(p)
		default:
			return
		}
	}
}

func (n *Node) reportRouteUpdate(p *packet.Packet, rssi int16) {
	if n.telemetry == nil {
		return
	}
	nextHop, ok := n.table.NextHop(uint32(p.Originator))
	if !ok {
		return
	}
	ev := mqtt.RouteUpdateEvent{
		Destination: uint32(p.Originator),
		NextHop:     nextHop,
		Distance:    p.Info.HopCount,
		RSSI:        int32(rssi),
	}
	if err := n.telemetry.PublishRouteUpdate(ev); err != nil {
		n.log.Debug("failed to publish route update", "error", err)
	}
}

func (n *Node) reportInboundDelivery(p *packet.Packet) {
	if n.telemetry == nil {
		return
	}
	if p.Destination != n.cfg.LocalID || p.Type() != packet.TypeDataPayload {
		return
	}
	ev := mqtt.InboundEvent{Originator: uint32(p.Originator), PayloadSize: len(p.Payload)}
	if err := n.telemetry.PublishInbound(ev); err != nil {
		n.log.Debug("failed to publish inbound event", "error", err)
	}
}

func (n *Node) tick() {
	previous := n.eng.Tick(n.clock.NowMillis())
	current := n.eng.State()

	n.reportTransferOutcome(current)

	if n.status == nil {
		return
	}
	if line, ok := console.StatusLineForTransition(previous, current); ok {
		if err := n.status.Write([]byte("\r\n" + line)); err != nil {
			n.log.Debug("failed to write unsolicited status line", "error", err)
		}
	}
}

func (n *Node) reportTransferOutcome(current engine.State) {
	if n.telemetry == nil {
		return
	}
	switch current {
	case engine.AckReceived, engine.ErrorNoRoute, engine.ErrorNoAck:
	default:
		return
	}
	p, ok := n.eng.WorkingPacket()
	if !ok {
		return
	}
	ev := mqtt.TransferEvent{
		Destination: uint32(p.Destination),
		FinalState:  current.String(),
		TxCount:     p.Meta.TxCount,
	}
	if err := n.telemetry.PublishTransfer(ev); err != nil {
		n.log.Debug("failed to publish transfer event", "error", err)
	}
}

func (n *Node) drainTx() {
	if st := n.rad.CurrentState(); st != radio.StateIdle && st != radio.StateFailure {
		return
	}
	p, id, ok := n.outbound.PeekNextTransmittable()
	if !ok {
		return
	}

	frame := packet.Encode(p)
	if err := n.rad.Tx(frame); err != nil {
		n.log.Warn("radio tx failed", "error", err, "id", id)
	}
	n.outbound.MarkTxDone(n.clock.NowMillis())
}
