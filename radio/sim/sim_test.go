package sim

import (
	"testing"
	"time"

	"github.com/go-rbmesh/rbmesh/radio"
)

func TestTxDeliversToOtherMembersNotSelf(t *testing.T) {
	medium := NewMedium()
	a := New(Config{Medium: medium, RSSI: -40})
	b := New(Config{Medium: medium, RSSI: -60})

	if err := a.Tx([]byte("hello")); err != nil {
		t.Fatalf("Tx: %v", err)
	}

	select {
	case frame := <-b.RxQueue():
		if string(frame.Bytes) != "hello" {
			t.Fatalf("frame.Bytes = %q", frame.Bytes)
		}
		if frame.RSSI != -60 {
			t.Fatalf("RSSI = %d, want -60 (receiver's configured value)", frame.RSSI)
		}
	case <-time.After(time.Second):
		t.Fatal("expected b to receive the frame")
	}

	select {
	case <-a.RxQueue():
		t.Fatal("sender should not receive its own transmission")
	default:
	}
}

func TestCurrentStateReturnsToIdleAfterTx(t *testing.T) {
	medium := NewMedium()
	a := New(Config{Medium: medium})

	a.Tx([]byte("x"))
	if got := a.CurrentState(); got != radio.StateIdle {
		t.Fatalf("CurrentState() = %v, want Idle", got)
	}
}

func TestRxQueueOverflowDropsWithoutBlocking(t *testing.T) {
	medium := NewMedium()
	a := New(Config{Medium: medium, RxQueueCapacity: 1})
	b := New(Config{Medium: medium})

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			b.Tx([]byte{byte(i)})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Tx should never block even when the receiver's queue is full")
	}

	if len(a.RxQueue()) > 1 {
		t.Fatalf("rx queue exceeded its configured capacity")
	}
}
