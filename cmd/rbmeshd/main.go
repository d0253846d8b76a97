// Command rbmeshd runs a single mesh node: the foreground loop wiring the
// routing engine to a radio backend, an AT console over UART, and an
// optional MQTT telemetry publisher.
//
// Grounded on michcald-nrf24's examples/simple/receiver/main.go for the
// signal.Notify-driven context cancellation shape, and on
// tve-devices/cmd/mqttradio/main.go for the overall "flag-configured
// daemon that wires a radio driver and an MQTT bridge" structure
// (reference-only repo, ideas only, no code copied).
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-rbmesh/rbmesh/console"
	"github.com/go-rbmesh/rbmesh/core/packet"
	"github.com/go-rbmesh/rbmesh/identity"
	"github.com/go-rbmesh/rbmesh/node"
	"github.com/go-rbmesh/rbmesh/radio"
	"github.com/go-rbmesh/rbmesh/radio/sim"
	"github.com/go-rbmesh/rbmesh/radio/spi"
	"github.com/go-rbmesh/rbmesh/telemetry/mqtt"
	"github.com/go-rbmesh/rbmesh/transport/uart"
)

func main() {
	hardwareID := flag.String("hardware-id", "", "hardware identifier to derive this node's NodeID from (required unless -node-id is set)")
	nodeIDFlag := flag.Uint64("node-id", 0, "explicit NodeID, overrides -hardware-id")

	radioBackend := flag.String("radio", "sim", "radio backend: sim, spi, or uart")
	spiBus := flag.String("spi-bus", "/dev/spidev0.0", "SPI bus path (radio=spi)")
	spiClockHz := flag.Int("spi-clock-hz", 8_000_000, "SPI clock rate in Hz (radio=spi)")
	cePin := flag.Int("ce-pin", 25, "CE GPIO pin number (radio=spi)")
	irqPin := flag.Int("irq-pin", 24, "IRQ GPIO pin number, 0 disables interrupt-driven rx (radio=spi)")
	radioUARTPort := flag.String("radio-uart-port", "", "serial port for a UART-attached radio modem (radio=uart)")

	consolePort := flag.String("console-port", "", "serial port for the AT console; console disabled if empty")

	mqttBroker := flag.String("mqtt-broker", "", "MQTT broker URL for telemetry; telemetry disabled if empty")
	mqttUsername := flag.String("mqtt-username", "", "MQTT username")
	mqttPassword := flag.String("mqtt-password", "", "MQTT password")

	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	localID, err := resolveNodeID(*hardwareID, *nodeIDFlag)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger.Info("starting rbmeshd", "node_id", uint32(localID), "radio_backend", *radioBackend)

	rad, closeRadio, err := buildRadio(*radioBackend, radioConfig{
		uartPort:   *radioUARTPort,
		spiBus:     *spiBus,
		spiClockHz: *spiClockHz,
		cePin:      *cePin,
		irqPin:     *irqPin,
		logger:     logger,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if closeRadio != nil {
		defer closeRadio()
	}

	n := node.New(node.Config{
		LocalID: localID,
		Radio:   rad,
		Logger:  logger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		logger.Info("received interrupt, shutting down")
		cancel()
	}()

	var consoleTransport *uart.Transport
	if *consolePort != "" {
		consoleTransport = uart.New(uart.Config{Port: *consolePort, Mode: uart.ModeConsole, Logger: logger})
		cons := console.New(console.Config{Engine: n.Engine(), Radio: rad, Logger: logger})
		consoleTransport.SetLineHandler(func(line string) {
			if err := consoleTransport.Write([]byte(cons.HandleLine(line))); err != nil {
				logger.Warn("console write failed", "error", err)
			}
		})
		if err := consoleTransport.Start(ctx); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		defer consoleTransport.Stop()
		n.SetConsole(cons)
		n.SetStatus(consoleTransport)
	}

	if *mqttBroker != "" {
		publisher := mqtt.New(mqtt.Config{
			Broker:   *mqttBroker,
			Username: *mqttUsername,
			Password: *mqttPassword,
			Logger:   logger,
		})
		if err := publisher.Start(); err != nil {
			logger.Warn("failed to connect to MQTT broker, telemetry disabled", "error", err)
		} else {
			defer publisher.Stop()
			n.SetTelemetry(publisher)
		}
	}

	if err := n.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	<-ctx.Done()
	n.Stop()
}

func resolveNodeID(hardwareID string, explicit uint64) (packet.NodeID, error) {
	if explicit != 0 {
		return packet.NodeID(explicit), nil
	}
	if hardwareID == "" {
		return 0, fmt.Errorf("rbmeshd: one of -hardware-id or -node-id is required")
	}
	id, err := identity.DeriveNodeID([]byte(hardwareID))
	if err != nil {
		return 0, fmt.Errorf("rbmeshd: deriving node id: %w", err)
	}
	return id, nil
}

type radioConfig struct {
	uartPort   string
	spiBus     string
	spiClockHz int
	cePin      int
	irqPin     int
	logger     *slog.Logger
}

// buildRadio constructs the configured radio backend. The returned close
// function (nil if not applicable) releases backend-specific resources.
func buildRadio(backend string, cfg radioConfig) (radio.Radio, func(), error) {
	switch backend {
	case "sim":
		medium := sim.NewMedium()
		return sim.New(sim.Config{Medium: medium}), nil, nil

	case "spi":
		r, err := spi.New(spi.Config{
			SpiBusPath: cfg.spiBus,
			SpiClockHz: cfg.spiClockHz,
			CEPin:      cfg.cePin,
			IRQPin:     cfg.irqPin,
			Logger:     cfg.logger,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("rbmeshd: opening SPI radio: %w", err)
		}
		return r, func() {
			if err := r.Close(); err != nil {
				cfg.logger.Warn("error closing SPI radio", "error", err)
			}
		}, nil

	case "uart":
		if cfg.uartPort == "" {
			return nil, nil, fmt.Errorf("rbmeshd: -radio-uart-port is required for radio=uart")
		}
		t := uart.New(uart.Config{Port: cfg.uartPort, Mode: uart.ModeRadioLink, Logger: cfg.logger})
		ctx, cancel := context.WithCancel(context.Background())
		if err := t.Start(ctx); err != nil {
			cancel()
			return nil, nil, fmt.Errorf("rbmeshd: opening UART radio link: %w", err)
		}
		return &uartRadio{t: t}, func() { t.Stop(); cancel() }, nil

	default:
		return nil, nil, fmt.Errorf("rbmeshd: unknown radio backend %q (want sim, spi, or uart)", backend)
	}
}

// uartRadio adapts a transport/uart.Transport in radio-link mode to the
// radio.Radio contract: the link itself has no arm/idle/transmitting phases
// of its own, so CurrentState reports StateIdle while the link is connected
// and StateFailure when it is not.
type uartRadio struct {
	t *uart.Transport
}

func (u *uartRadio) Tx(frame []byte) error {
	return u.t.Tx(frame)
}

func (u *uartRadio) ArmRx() error {
	return nil
}

func (u *uartRadio) CurrentState() radio.State {
	if !u.t.IsConnected() {
		return radio.StateFailure
	}
	return radio.StateIdle
}

func (u *uartRadio) RxQueue() <-chan radio.RxFrame {
	return u.t.RxQueue()
}

