// Package sim implements an in-memory radio.Radio for tests and demos: a
// shared medium that a set of Radio instances transmit into and receive
// from, with no real RF involved.
//
// This promotes the teacher's mockTransport test double (a recording stub
// used inline in router_test.go) into a standalone, reusable package: a
// Medium of loosely-coupled Radios that actually deliver frames to one
// another, rather than just recording what was sent.
package sim

import (
	"sync"

	"github.com/go-rbmesh/rbmesh/radio"
)

// Medium is a shared broadcast channel a set of Radios transmit into.
// Every Radio attached to the same Medium receives every other attached
// Radio's transmissions (but never its own), each at the fixed RSSI
// configured on the receiving Radio.
type Medium struct {
	mu      sync.Mutex
	members []*Radio
}

// NewMedium creates an empty simulated medium.
func NewMedium() *Medium {
	return &Medium{}
}

func (m *Medium) attach(r *Radio) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.members = append(m.members, r)
}

func (m *Medium) broadcast(from *Radio, frame []byte) {
	m.mu.Lock()
	members := append([]*Radio(nil), m.members...)
	m.mu.Unlock()

	cp := append([]byte(nil), frame...)
	for _, r := range members {
		if r == from {
			continue
		}
		r.deliver(cp)
	}
}

// Radio is a simulated radio.Radio attached to a Medium.
type Radio struct {
	medium *Medium
	rssi   int16

	mu    sync.Mutex
	state radio.State

	rx chan radio.RxFrame
}

// Config configures a simulated Radio.
type Config struct {
	// Medium is the shared channel this radio transmits into and receives
	// from. Required.
	Medium *Medium
	// RSSI is the fixed signal strength reported for every frame this
	// radio receives.
	RSSI int16
	// RxQueueCapacity bounds the receive queue. Default: 16.
	RxQueueCapacity int
}

// New creates a Radio attached to cfg.Medium.
func New(cfg Config) *Radio {
	cap := cfg.RxQueueCapacity
	if cap <= 0 {
		cap = 16
	}
	r := &Radio{
		medium: cfg.Medium,
		rssi:   cfg.RSSI,
		state:  radio.StateIdle,
		rx:     make(chan radio.RxFrame, cap),
	}
	cfg.Medium.attach(r)
	return r
}

// Tx broadcasts frame to every other Radio on the medium.
func (r *Radio) Tx(frame []byte) error {
	r.mu.Lock()
	r.state = radio.StateTransmitting
	r.mu.Unlock()

	r.medium.broadcast(r, frame)

	r.mu.Lock()
	r.state = radio.StateIdle
	r.mu.Unlock()
	return nil
}

// ArmRx places the radio in continuous receive. The simulated medium always
// delivers to attached radios, so this only resets the state to Idle when
// the radio is not transmitting.
func (r *Radio) ArmRx() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != radio.StateTransmitting {
		r.state = radio.StateIdle
	}
	return nil
}

// CurrentState reports the radio's current operating state.
func (r *Radio) CurrentState() radio.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// RxQueue returns the channel received frames arrive on.
func (r *Radio) RxQueue() <-chan radio.RxFrame {
	return r.rx
}

func (r *Radio) deliver(frame []byte) {
	select {
	case r.rx <- radio.RxFrame{Bytes: frame, RSSI: r.rssi}:
	default:
		// rx_queue full: drop, matching spec.md's ISR overflow policy.
	}
}
