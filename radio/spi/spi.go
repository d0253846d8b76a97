// Package spi implements radio.Radio on top of a real sub-GHz transceiver
// reached over Linux SPI + GPIO, for board bring-up. The periph.io wiring
// (host.Init, spireg.Open, gpioreg.ByName, spi.Mode0 connection) is
// generalized from michcald-nrf24's nrf24.New/adapter-periph.go, which
// wires an nRF24L01 the same way; this package speaks a simpler two-wire
// control interface (CE + IRQ) suited to a half-duplex LoRa-class
// transceiver rather than the nRF24's Enhanced ShockBurst pipes.
package spi

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"

	"github.com/go-rbmesh/rbmesh/radio"
)

// Config configures the SPI/GPIO-backed radio.
type Config struct {
	// SpiBusPath is the SPI device path. Default: "/dev/spidev0.0".
	SpiBusPath string
	// SpiClockHz is the SPI clock frequency. Default: 1,000,000 (1 MHz).
	SpiClockHz int
	// CEPin is the BCM GPIO number for the chip-enable line. Default: 25.
	CEPin int
	// IRQPin is the BCM GPIO number for the packet-ready interrupt line.
	// If zero, no interrupt line is watched and no frames are read from the
	// transceiver, so RxQueue stays empty.
	IRQPin int
	// RxQueueCapacity bounds the receive queue. Default: 16.
	RxQueueCapacity int
	// Logger falls back to slog.Default() if nil.
	Logger *slog.Logger
}

// Radio drives a real transceiver over SPI, implementing radio.Radio.
type Radio struct {
	conn spi.Conn
	ce   gpio.PinIO
	irq  gpio.PinIO
	log  *slog.Logger

	closer interface{ Close() error }

	mu    sync.Mutex
	state radio.State

	rx chan radio.RxFrame
}

// New opens the SPI bus and GPIO lines and returns a ready-to-arm Radio.
func New(cfg Config) (*Radio, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("spi radio: init periph.io host: %w", err)
	}

	if cfg.SpiBusPath == "" {
		cfg.SpiBusPath = "/dev/spidev0.0"
	}
	port, err := spireg.Open(cfg.SpiBusPath)
	if err != nil {
		return nil, fmt.Errorf("spi radio: open spi port %s: %w", cfg.SpiBusPath, err)
	}

	if cfg.SpiClockHz == 0 {
		cfg.SpiClockHz = 1_000_000
	}
	conn, err := port.Connect(physic.Frequency(cfg.SpiClockHz)*physic.Hertz, spi.Mode0, 8)
	if err != nil {
		port.Close()
		return nil, fmt.Errorf("spi radio: connect spi: %w", err)
	}

	if cfg.CEPin == 0 {
		cfg.CEPin = 25
	}
	ce := gpioreg.ByName(fmt.Sprintf("GPIO%d", cfg.CEPin))
	if ce == nil {
		port.Close()
		return nil, fmt.Errorf("spi radio: chip-enable pin GPIO%d not found", cfg.CEPin)
	}
	if err := ce.Out(gpio.Low); err != nil {
		port.Close()
		return nil, fmt.Errorf("spi radio: init chip-enable pin: %w", err)
	}

	var irq gpio.PinIO
	if cfg.IRQPin != 0 {
		irq = gpioreg.ByName(fmt.Sprintf("GPIO%d", cfg.IRQPin))
		if irq == nil {
			port.Close()
			return nil, fmt.Errorf("spi radio: irq pin GPIO%d not found", cfg.IRQPin)
		}
		if err := irq.In(gpio.PullUp, gpio.FallingEdge); err != nil {
			port.Close()
			return nil, fmt.Errorf("spi radio: init irq pin: %w", err)
		}
	}

	rxCap := cfg.RxQueueCapacity
	if rxCap <= 0 {
		rxCap = 16
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := &Radio{
		conn:   conn,
		ce:     ce,
		irq:    irq,
		log:    logger.WithGroup("radio.spi"),
		closer: port,
		state:  radio.StateIdle,
		rx:     make(chan radio.RxFrame, rxCap),
	}

	if irq != nil {
		go r.watchIRQ()
	}
	return r, nil
}

// Close releases the underlying SPI port.
func (r *Radio) Close() error {
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}

// Tx hands a frame to the transceiver over SPI, toggling the chip-enable
// line to trigger the actual transmission.
func (r *Radio) Tx(frame []byte) error {
	if len(frame) > radio.MaxFrameSize {
		return fmt.Errorf("spi radio: frame of %d bytes exceeds MaxFrameSize", len(frame))
	}

	r.mu.Lock()
	r.state = radio.StateTransmitting
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := r.spiWriteFrame(ctx, frame)

	r.mu.Lock()
	if err != nil {
		r.state = radio.StateFailure
	} else {
		r.state = radio.StateIdle
	}
	r.mu.Unlock()

	return err
}

// spiWriteFrame asserts CE, writes the frame over SPI, then releases CE. The
// transceiver's register map is hardware-specific and intentionally left
// as a single seam so a concrete sub-GHz part can be dropped in without
// touching the radio.Radio contract above it.
func (r *Radio) spiWriteFrame(ctx context.Context, frame []byte) error {
	if err := r.ce.Out(gpio.High); err != nil {
		return fmt.Errorf("spi radio: assert ce: %w", err)
	}
	defer r.ce.Out(gpio.Low)

	resp := make([]byte, len(frame))
	if err := r.conn.Tx(frame, resp); err != nil {
		return fmt.Errorf("spi radio: spi transfer: %w", err)
	}
	return nil
}

// ArmRx puts the transceiver in continuous receive by raising CE and
// leaving it asserted.
func (r *Radio) ArmRx() error {
	if err := r.ce.Out(gpio.High); err != nil {
		return fmt.Errorf("spi radio: assert ce for rx: %w", err)
	}
	r.mu.Lock()
	r.state = radio.StateIdle
	r.mu.Unlock()
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

// watchIRQ blocks on falling-edge interrupts from the packet-ready line
// and pulls a frame off the SPI bus for each one, mirroring
// michcald-nrf24's realPin.Watch edge-polling loop.
func (r *Radio) watchIRQ() {
	for {
		if !r.irq.WaitForEdge(-1) {
			continue
		}
		frame, rssi, err := r.spiReadFrame()
		if err != nil {
			r.log.Warn("spi read failed after irq", "error", err)
			continue
		}
		select {
		case r.rx <- radio.RxFrame{Bytes: frame, RSSI: rssi}:
		default:
			r.log.Warn("rx queue full, dropping frame")
		}
	}
}

// spiReadFrame drains the transceiver's receive FIFO. Like spiWriteFrame,
// the actual register sequence is hardware-specific; this is the seam a
// concrete sub-GHz driver implements.
func (r *Radio) spiReadFrame() ([]byte, int16, error) {
	header := make([]byte, 2)
	resp := make([]byte, 2)
	if err := r.conn.Tx(header, resp); err != nil {
		return nil, 0, fmt.Errorf("spi radio: read fifo header: %w", err)
	}
	length := int(resp[0])
	if length == 0 || length > radio.MaxFrameSize {
		return nil, 0, fmt.Errorf("spi radio: invalid frame length %d", length)
	}

	payload := make([]byte, length)
	payloadResp := make([]byte, length)
	if err := r.conn.Tx(payload, payloadResp); err != nil {
		return nil, 0, fmt.Errorf("spi radio: read fifo payload: %w", err)
	}
	rssi := int16(resp[1]) - 164 // raw register value to dBm, part-specific offset
	return payloadResp, rssi, nil
}
