package node

import (
	"testing"

	"github.com/go-rbmesh/rbmesh/core/engine"
	"github.com/go-rbmesh/rbmesh/radio/sim"
)

// step runs one foreground-loop cycle without the ticker goroutine, for a
// deterministic test driver.
func (n *Node) step() {
	n.drainRx()
	n.tick()
	n.drainTx()
}

func TestDirectTransferWithAckAcrossTwoNodes(t *testing.T) {
	medium := sim.NewMedium()
	radioA := sim.New(sim.Config{Medium: medium, RSSI: -40})
	radioB := sim.New(sim.Config{Medium: medium, RSSI: -45})

	nodeA := New(Config{LocalID: 1, Radio: radioA})
	nodeB := New(Config{LocalID: 2, Radio: radioB})

	if err := nodeA.eng.InitiateTransfer(2, true, 8, []byte("hello")); err != nil {
		t.Fatalf("InitiateTransfer: %v", err)
	}
	if nodeA.eng.State() != engine.PerformingNetworkDiscovery {
		t.Fatalf("A state = %v, want PerformingNetworkDiscovery", nodeA.eng.State())
	}

	delivered := false
	for i := 0; i < 50 && !delivered; i++ {
		nodeA.step()
		nodeB.step()
		if nodeB.eng.InboundCount() > 0 {
			delivered = true
		}
	}
	if !delivered {
		t.Fatal("payload never reached node B's inbound queue")
	}

	p, ok := nodeB.eng.PopInbound()
	if !ok {
		t.Fatal("PopInbound: expected a payload")
	}
	if string(p.Payload) != "hello" {
		t.Fatalf("payload = %q, want %q", p.Payload, "hello")
	}
	if uint32(p.Originator) != 1 {
		t.Fatalf("originator = %d, want 1", p.Originator)
	}

	// Drive further ticks so the ack makes its way back and A returns to Idle.
	idleReached := false
	for i := 0; i < 50 && !idleReached; i++ {
		nodeA.step()
		nodeB.step()
		if nodeA.eng.State() == engine.Idle {
			idleReached = true
		}
	}
	if !idleReached {
		t.Fatalf("A never returned to Idle, stuck at %v", nodeA.eng.State())
	}
}

func TestDirectTransferWithoutAckDoesNotWaitForReply(t *testing.T) {
	medium := sim.NewMedium()
	radioA := sim.New(sim.Config{Medium: medium, RSSI: -40})
	radioB := sim.New(sim.Config{Medium: medium, RSSI: -45})

	nodeA := New(Config{LocalID: 10, Radio: radioA})
	nodeB := New(Config{LocalID: 20, Radio: radioB})

	if err := nodeA.eng.InitiateTransfer(20, false, 8, []byte("no-ack")); err != nil {
		t.Fatalf("InitiateTransfer: %v", err)
	}

	delivered := false
	for i := 0; i < 50 && !delivered; i++ {
		nodeA.step()
		nodeB.step()
		if nodeB.eng.InboundCount() > 0 {
			delivered = true
		}
	}
	if !delivered {
		t.Fatal("payload never reached node B")
	}

	idleReached := false
	for i := 0; i < 50 && !idleReached; i++ {
		nodeA.step()
		if nodeA.eng.State() == engine.Idle {
			idleReached = true
		}
	}
	if !idleReached {
		t.Fatalf("A never returned to Idle, stuck at %v", nodeA.eng.State())
	}
}

func TestStartStopLifecycle(t *testing.T) {
	medium := sim.NewMedium()
	radioA := sim.New(sim.Config{Medium: medium, RSSI: -40})
	nodeA := New(Config{LocalID: 1, Radio: radioA})

	if err := nodeA.Start(t.Context()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	nodeA.Stop()
}
