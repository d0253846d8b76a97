package mqtt

import "testing"

func TestPublishWithoutConnectionIsANoOp(t *testing.T) {
	p := New(Config{Broker: "tcp://127.0.0.1:1883"})

	if err := p.PublishRouteUpdate(RouteUpdateEvent{Destination: 1, NextHop: 2, Distance: 1, RSSI: -40}); err != nil {
		t.Fatalf("PublishRouteUpdate: %v", err)
	}
	if err := p.PublishTransfer(TransferEvent{Destination: 1, FinalState: "Complete", TxCount: 1}); err != nil {
		t.Fatalf("PublishTransfer: %v", err)
	}
	if err := p.PublishInbound(InboundEvent{Originator: 1, PayloadSize: 4}); err != nil {
		t.Fatalf("PublishInbound: %v", err)
	}
}

func TestIsConnectedFalseBeforeStart(t *testing.T) {
	p := New(Config{Broker: "tcp://127.0.0.1:1883"})
	if p.IsConnected() {
		t.Fatal("expected not connected before Start")
	}
}

func TestStartRequiresBroker(t *testing.T) {
	p := New(Config{})
	if err := p.Start(); err == nil {
		t.Fatal("expected error for missing broker URL")
	}
}
