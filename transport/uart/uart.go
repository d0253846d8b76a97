// Package uart implements a UART transport used two ways: carrying the
// console's line-oriented AT protocol, and, in radio-link mode, carrying
// framed radio.Radio bytes to/from a UART-attached LoRa modem board
// instead of a locally SPI-attached one.
//
// Grounded on the teacher's transport/serial.Transport: same Config shape,
// Start(ctx)/Stop() lifecycle with a cancelable read loop and done channel,
// and an assembly-buffer read loop for framed data (radio-link mode).
package uart

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"go.bug.st/serial"

	"github.com/go-rbmesh/rbmesh/radio"
)

// DefaultBaudRate is the default baud rate for both console and radio-link
// modes.
const DefaultBaudRate = 115200

const readBufSize = 1024

// Mode selects how bytes on the wire are interpreted.
type Mode int

const (
	// ModeConsole treats the link as a line-oriented AT command console,
	// lines terminated by '\r'.
	ModeConsole Mode = iota
	// ModeRadioLink treats the link as framed raw radio frames to/from an
	// external UART-attached modem.
	ModeRadioLink
)

// Config configures a UART transport.
type Config struct {
	// Port is the serial device path (e.g. "/dev/ttyUSB0" or "COM3").
	Port string
	// BaudRate defaults to DefaultBaudRate.
	BaudRate int
	// Mode selects console or radio-link framing.
	Mode Mode
	// Logger falls back to slog.Default() if nil.
	Logger *slog.Logger
}

// LineHandler is called with each complete console line (ModeConsole),
// stripped of its terminator.
type LineHandler func(line string)

// Transport is a UART-backed link in either console or radio-link mode.
type Transport struct {
	cfg Config
	log *slog.Logger

	mu        sync.RWMutex
	port      serial.Port
	connected bool
	cancel    context.CancelFunc
	done      chan struct{}

	lineHandler LineHandler
	rx          chan radio.RxFrame
}

// New creates a Transport with the given configuration.
func New(cfg Config) *Transport {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = DefaultBaudRate
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{
		cfg: cfg,
		log: logger.WithGroup("transport.uart"),
		rx:  make(chan radio.RxFrame, 16),
	}
}

// SetLineHandler registers the callback invoked for each console line
// received in ModeConsole. Ignored in ModeRadioLink.
func (t *Transport) SetLineHandler(fn LineHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lineHandler = fn
}

// RxQueue returns the channel radio-link frames arrive on. Only populated
// in ModeRadioLink.
func (t *Transport) RxQueue() <-chan radio.RxFrame {
	return t.rx
}

// Start opens the serial port and begins reading.
func (t *Transport) Start(ctx context.Context) error {
	if t.cfg.Port == "" {
		return errors.New("transport/uart: port is required")
	}

	mode := &serial.Mode{BaudRate: t.cfg.BaudRate}
	port, err := serial.Open(t.cfg.Port, mode)
	if err != nil {
		return fmt.Errorf("transport/uart: opening serial port: %w", err)
	}

	t.mu.Lock()
	t.port = port
	t.connected = true
	t.done = make(chan struct{})
	t.mu.Unlock()

	readCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel

	switch t.cfg.Mode {
	case ModeRadioLink:
		go t.radioLinkReadLoop(readCtx)
	default:
		go t.consoleReadLoop(readCtx)
	}

	t.log.Info("uart transport connected", "port", t.cfg.Port, "baud", t.cfg.BaudRate, "mode", t.cfg.Mode)
	return nil
}

// Stop closes the port and waits for the read loop to exit.
func (t *Transport) Stop() error {
	if t.cancel != nil {
		t.cancel()
	}

	t.mu.Lock()
	t.connected = false
	port := t.port
	t.port = nil
	done := t.done
	t.mu.Unlock()

	var err error
	if port != nil {
		err = port.Close()
	}
	if done != nil {
		<-done
	}
	return err
}

// IsConnected reports whether the port is open.
func (t *Transport) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connected
}

// Write sends raw bytes as-is, with no added framing. Used by the console
// to emit its already-framed "\r\n...\r\nOK\r\n>" responses.
func (t *Transport) Write(data []byte) error {
	t.mu.RLock()
	port := t.port
	connected := t.connected
	t.mu.RUnlock()

	if !connected || port == nil {
		return errors.New("transport/uart: not connected")
	}
	_, err := port.Write(data)
	return err
}

// WriteLine writes s followed by "\r\n" to the port. ModeConsole use.
func (t *Transport) WriteLine(s string) error {
	t.mu.RLock()
	port := t.port
	connected := t.connected
	t.mu.RUnlock()

	if !connected || port == nil {
		return errors.New("transport/uart: not connected")
	}
	_, err := port.Write([]byte(s + "\r\n"))
	return err
}

// Tx sends a raw radio frame over the link, framed per frame.go. ModeRadioLink use.
func (t *Transport) Tx(payload []byte) error {
	t.mu.RLock()
	port := t.port
	connected := t.connected
	t.mu.RUnlock()

	if !connected || port == nil {
		return errors.New("transport/uart: not connected")
	}
	frame, err := encodeRadioFrame(payload)
	if err != nil {
		return err
	}
	_, err = port.Write(frame)
	return err
}

func (t *Transport) consoleReadLoop(ctx context.Context) {
	defer close(t.done)

	reader := bufio.NewReader(t.port)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := reader.ReadString('\r')
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				t.handleDisconnect(err)
				return
			}
			t.log.Error("uart console read error", "error", err)
			t.handleDisconnect(err)
			return
		}

		t.mu.RLock()
		handler := t.lineHandler
		t.mu.RUnlock()
		if handler != nil {
			handler(trimCR(line))
		}
	}
}

func (t *Transport) radioLinkReadLoop(ctx context.Context) {
	defer close(t.done)

	buf := make([]byte, readBufSize)
	var assembly []byte

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, err := t.port.Read(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				t.handleDisconnect(err)
				return
			}
			t.log.Error("uart radio-link read error", "error", err)
			t.handleDisconnect(err)
			return
		}
		if n == 0 {
			continue
		}

		assembly = append(assembly, buf[:n]...)
		assembly = t.processRadioFrames(assembly)
	}
}

func (t *Transport) processRadioFrames(data []byte) []byte {
	for len(data) >= minFrameSize {
		payload, remaining, err := decodeRadioFrame(data)
		if err != nil {
			if errors.Is(err, errIncompleteFrame) {
				return data
			}
			if idx := findMagic(data[1:]); idx >= 0 {
				data = data[1+idx:]
				continue
			}
			return nil
		}
		data = remaining

		select {
		case t.rx <- radio.RxFrame{Bytes: payload, RSSI: 0}:
		default:
			t.log.Warn("uart radio-link rx queue full, dropping frame")
		}
	}
	return data
}

func (t *Transport) handleDisconnect(err error) {
	t.mu.Lock()
	t.connected = false
	t.mu.Unlock()
	t.log.Warn("uart transport disconnected", "error", err)
}

func trimCR(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\r' || s[len(s)-1] == '\n') {
		s = s[:len(s)-1]
	}
	return s
}
