// Package mqtt publishes telemetry events — route updates, transfer
// completions, inbound payload deliveries — to an MQTT broker for off-node
// monitoring. This is a publish-only monitoring surface, not a routing
// path: it does not reintroduce congestion control, encryption, or
// persistence into the core.
//
// Grounded on transport/mqtt/mqtt.go's connection lifecycle (paho client
// option set, auto-reconnect, state callbacks) narrowed from a two-way
// packet transport to a one-way JSON event publisher.
package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// DefaultTopicPrefix is the default MQTT topic prefix for telemetry events.
const DefaultTopicPrefix = "rbmesh/telemetry"

// Config configures the telemetry publisher.
type Config struct {
	// Broker is the MQTT broker URL (e.g. "tcp://broker.example.com:1883").
	Broker string
	// Username/Password for MQTT authentication. Optional.
	Username string
	Password string
	// UseTLS enables TLS for the MQTT connection.
	UseTLS bool
	// ClientID is the MQTT client identifier. A random one is generated if
	// empty.
	ClientID string
	// TopicPrefix is the MQTT topic prefix events are published under, as
	// "{TopicPrefix}/{event kind}". Default: DefaultTopicPrefix.
	TopicPrefix string
	// Logger falls back to slog.Default() if nil.
	Logger *slog.Logger
}

// Publisher connects to an MQTT broker and publishes telemetry events.
type Publisher struct {
	cfg    Config
	client paho.Client
	log    *slog.Logger

	mu        sync.RWMutex
	connected bool
}

// New creates a Publisher with the given configuration.
func New(cfg Config) *Publisher {
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = DefaultTopicPrefix
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		cfg: cfg,
		log: logger.WithGroup("telemetry.mqtt"),
	}
}

// Start connects to the broker. Safe to call once before publishing.
func (p *Publisher) Start() error {
	if p.cfg.Broker == "" {
		return errors.New("telemetry/mqtt: broker URL is required")
	}

	clientID := p.cfg.ClientID
	if clientID == "" {
		clientID = "rbmesh-telemetry-" + randomString(16)
	}

	opts := paho.NewClientOptions().
		AddBroker(p.cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetMaxReconnectInterval(2 * time.Minute).
		SetKeepAlive(60 * time.Second).
		SetPingTimeout(10 * time.Second).
		SetCleanSession(true).
		SetOrderMatters(false).
		SetOnConnectHandler(p.onConnected).
		SetConnectionLostHandler(p.onConnectionLost)

	if p.cfg.Username != "" {
		opts.SetUsername(p.cfg.Username)
	}
	if p.cfg.Password != "" {
		opts.SetPassword(p.cfg.Password)
	}
	if p.cfg.UseTLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	p.client = paho.NewClient(opts)

	token := p.client.Connect()
	if !token.WaitTimeout(30 * time.Second) {
		return errors.New("telemetry/mqtt: connection timeout")
	}
	return token.Error()
}

// Stop disconnects from the broker.
func (p *Publisher) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil {
		p.client.Disconnect(1000)
		p.connected = false
	}
	return nil
}

// IsConnected reports whether the publisher is currently connected.
func (p *Publisher) IsConnected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.connected && p.client != nil && p.client.IsConnected()
}

// RouteUpdateEvent reports a newly learned or updated route.
type RouteUpdateEvent struct {
	Destination uint32 `json:"destination"`
	NextHop     uint32 `json:"next_hop"`
	Distance    uint8  `json:"distance"`
	RSSI        int32  `json:"rssi"`
}

// TransferEvent reports a transmit-side state-machine outcome.
type TransferEvent struct {
	Destination uint32 `json:"destination"`
	FinalState  string `json:"final_state"`
	TxCount     uint8  `json:"tx_count"`
}

// InboundEvent reports a delivered application payload.
type InboundEvent struct {
	Originator  uint32 `json:"originator"`
	PayloadSize int    `json:"payload_size"`
}

// PublishRouteUpdate publishes a RouteUpdateEvent.
func (p *Publisher) PublishRouteUpdate(ev RouteUpdateEvent) error {
	return p.publish("route", ev)
}

// PublishTransfer publishes a TransferEvent.
func (p *Publisher) PublishTransfer(ev TransferEvent) error {
	return p.publish("transfer", ev)
}

// PublishInbound publishes an InboundEvent.
func (p *Publisher) PublishInbound(ev InboundEvent) error {
	return p.publish("inbound", ev)
}

func (p *Publisher) publish(kind string, ev any) error {
	if !p.IsConnected() {
		p.log.Debug("dropping telemetry event: not connected", "kind", kind)
		return nil
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("telemetry/mqtt: marshal %s event: %w", kind, err)
	}

	topic := p.cfg.TopicPrefix + "/" + kind
	token := p.client.Publish(topic, 0, false, body)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("telemetry/mqtt: timeout publishing %s event", kind)
	}
	return token.Error()
}

func (p *Publisher) onConnected(_ paho.Client) {
	p.mu.Lock()
	p.connected = true
	p.mu.Unlock()
	p.log.Info("connected to MQTT broker", "broker", p.cfg.Broker)
}

func (p *Publisher) onConnectionLost(_ paho.Client, err error) {
	p.mu.Lock()
	p.connected = false
	p.mu.Unlock()
	p.log.Warn("MQTT connection lost", "error", err)
}

func randomString(n int) string {
	const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	b := make([]byte, n)
	for i := range b {
		b[i] = alphabet[rand.IntN(len(alphabet))]
	}
	return string(b)
}
