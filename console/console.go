// Package console implements the AT command line console: a small set of
// commands for inspecting and driving the engine from a terminal attached
// over transport/uart in console mode.
//
// Grounded on original_source/src/bm_at_cmd_handler/at_cmd_handler.rs for
// the command table shape (name, whether it takes a "=" argument form, a
// response prefix, a help string) and its AT/AT+CMD?/AT+CMD=arg dispatch
// rules; reworked into a Go table-driven dispatcher in the style the
// teacher uses for its own command-ish dispatch tables (device/room/cli.go).
package console

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/go-rbmesh/rbmesh/core/engine"
	"github.com/go-rbmesh/rbmesh/core/packet"
	"github.com/go-rbmesh/rbmesh/radio"
)

// FirmwareVersion is reported by AT+GMR.
const FirmwareVersion = "rbmeshd 1.0.0"

// Engine is the subset of *engine.Engine the console depends on.
type Engine interface {
	LocalID() packet.NodeID
	State() engine.State
	InboundCount() int
	PopInbound() (*packet.Packet, bool)
	InitiateTransfer(destination packet.NodeID, requireAck bool, ttl uint8, payload []byte) error
	RouteCount() int
	RouteAt(i int) (destination packet.NodeID, routeCount int, ok bool)
}

// RadioStatus is the subset of radio.Radio the console reports on.
type RadioStatus interface {
	CurrentState() radio.State
}

// Console parses and dispatches AT commands.
type Console struct {
	eng   Engine
	rad   RadioStatus
	log   *slog.Logger
	rssi  int32
	table []command

	lastDestination packet.NodeID
	haveDestination bool
}

// Config configures a Console.
type Config struct {
	Engine Engine
	Radio  RadioStatus
	Logger *slog.Logger
}

type command struct {
	// name is the portion after "AT", e.g. "+CSQ", "" for bare AT.
	name string
	// allowsArgs means name accepted as "<name>=<args>".
	allowsArgs bool
	help       string
	run        func(c *Console, args string) (string, error)
}

// New creates a Console bound to the given engine and radio.
func New(cfg Config) *Console {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &Console{
		eng: cfg.Engine,
		rad: cfg.Radio,
		log: logger.WithGroup("console"),
	}
	c.table = []command{
		{name: "", help: "", run: (*Console).cmdAT},
		{name: "+CSQ", help: "Command to get instantaneous RSSI.", run: (*Console).cmdCSQ},
		{name: "+GMR", help: "Report firmware version.", run: (*Console).cmdGMR},
		{name: "+ID", help: "Report this node's NodeId.", run: (*Console).cmdID},
		{name: "+MCNT", help: "Report the number of undelivered inbound payloads.", run: (*Console).cmdMCNT},
		{name: "+MRECV", help: "Pop and print the oldest undelivered inbound payload.", run: (*Console).cmdMRECV},
		{name: "+MSEND", allowsArgs: true, help: "Format: <dest id>,<ack required true|false>,<ttl>,<payload>", run: (*Console).cmdMSEND},
		{name: "+TMSG", help: "Send a canned test payload to the last addressed destination.", run: (*Console).cmdTMSG},
		{name: "+RTABLE", help: "Dump the routing table.", run: (*Console).cmdRTABLE},
		{name: "+ST", help: "Report radio and engine status.", run: (*Console).cmdST},
	}
	return c
}

// HandleLine parses and executes one command line (without its '\r'
// terminator) and returns the full response bytes ready to write back,
// including framing.
func (c *Console) HandleLine(line string) string {
	line = strings.TrimSpace(line)
	if line == "" {
		return "\r\n>"
	}
	if line == "AT?" {
		return c.frameOK(c.helpAll())
	}
	if !strings.HasPrefix(line, "AT") {
		return "\r\n>"
	}

	rest := line[2:]

	if strings.HasSuffix(rest, "?") && rest != "?" {
		name := rest[:len(rest)-1]
		cmd, ok := c.lookup(name)
		if !ok {
			return c.frameError()
		}
		return c.frameHelp(cmd.help)
	}

	if idx := strings.IndexByte(rest, '='); idx >= 0 {
		name, args := rest[:idx], rest[idx+1:]
		cmd, ok := c.lookup(name)
		if !ok || !cmd.allowsArgs {
			return c.frameError()
		}
		out, err := cmd.run(c, args)
		if err != nil {
			c.log.Debug("command error", "command", name, "error", err)
			return c.frameError()
		}
		return c.frameOK(out)
	}

	cmd, ok := c.lookup(rest)
	if !ok {
		return c.frameError()
	}
	out, err := cmd.run(c, "")
	if err != nil {
		c.log.Debug("command error", "command", rest, "error", err)
		return c.frameError()
	}
	return c.frameOK(out)
}

func (c *Console) lookup(name string) (command, bool) {
	for _, cmd := range c.table {
		if cmd.name == name {
			return cmd, true
		}
	}
	return command{}, false
}

func (c *Console) frameOK(body string) string {
	if body == "" {
		return "\r\nOK\r\n>"
	}
	return "\r\n" + body + "\r\nOK\r\n>"
}

func (c *Console) frameError() string {
	return "\r\nCmd Error\r\n>"
}

func (c *Console) frameHelp(help string) string {
	return "\r\n" + help + "\r\n>"
}

func (c *Console) helpAll() string {
	var b strings.Builder
	b.WriteString("Available Commands:")
	for _, cmd := range c.table {
		b.WriteString("\r\nAT")
		b.WriteString(cmd.name)
	}
	return b.String()
}

// SetRSSI records the radio's last-observed RSSI for AT+CSQ.
func (c *Console) SetRSSI(rssi int32) {
	c.rssi = rssi
}

func (c *Console) cmdAT(_ string) (string, error) {
	return "", nil
}

func (c *Console) cmdCSQ(_ string) (string, error) {
	return fmt.Sprintf("+CSQ:%d", c.rssi), nil
}

func (c *Console) cmdGMR(_ string) (string, error) {
	return "Version:" + FirmwareVersion, nil
}

func (c *Console) cmdID(_ string) (string, error) {
	return fmt.Sprintf("+ID:%d", uint32(c.eng.LocalID())), nil
}

func (c *Console) cmdMCNT(_ string) (string, error) {
	return fmt.Sprintf("+MCNT:%d", c.eng.InboundCount()), nil
}

func (c *Console) cmdMRECV(_ string) (string, error) {
	p, ok := c.eng.PopInbound()
	if !ok {
		return "+MRECV:none", nil
	}
	return fmt.Sprintf("+MRECV:%d,%s", uint32(p.Originator), string(p.Payload)), nil
}

// cmdMSEND parses "<dest>,<ack:true|false>,<ttl>,<payload>" and starts a
// transfer. The ack field also accepts 0/1 for backward compatibility.
func (c *Console) cmdMSEND(args string) (string, error) {
	parts := strings.SplitN(args, ",", 4)
	if len(parts) != 4 {
		return "", fmt.Errorf("console: MSEND expects 4 comma-separated fields, got %d", len(parts))
	}

	dest, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return "", fmt.Errorf("console: invalid destination: %w", err)
	}
	requireAck, err := strconv.ParseBool(parts[1])
	if err != nil {
		return "", fmt.Errorf("console: invalid ack flag: %w", err)
	}
	ttl, err := strconv.ParseUint(parts[2], 10, 8)
	if err != nil {
		return "", fmt.Errorf("console: invalid ttl: %w", err)
	}

	destID := packet.NodeID(dest)
	if err := c.eng.InitiateTransfer(destID, requireAck, uint8(ttl), []byte(parts[3])); err != nil {
		return "", err
	}
	c.lastDestination = destID
	c.haveDestination = true
	return "+MSEND:queued", nil
}

func (c *Console) cmdTMSG(_ string) (string, error) {
	if !c.haveDestination {
		return "", fmt.Errorf("console: no prior destination, use AT+MSEND first")
	}
	if err := c.eng.InitiateTransfer(c.lastDestination, false, packet.MaxTTL, []byte("Hello World")); err != nil {
		return "", err
	}
	return "+TMSG:queued", nil
}

func (c *Console) cmdRTABLE(_ string) (string, error) {
	var b strings.Builder
	n := c.eng.RouteCount()
	for i := 0; i < n; i++ {
		dest, count, ok := c.eng.RouteAt(i)
		if !ok {
			break
		}
		if i > 0 {
			b.WriteString("\r\n")
		}
		fmt.Fprintf(&b, "%d routes=%d", uint32(dest), count)
	}
	return b.String(), nil
}

func (c *Console) cmdST(_ string) (string, error) {
	var radioState radio.State
	if c.rad != nil {
		radioState = c.rad.CurrentState()
	}
	return fmt.Sprintf("+ST:radio=%s,engine=%s", radioState, c.eng.State()), nil
}

// StatusLineForTransition renders an unsolicited status line for an engine
// state transition, or ("", false) if the transition has no dedicated
// line. Callers emit this after Engine.Tick returns the previous state,
// comparing it against the engine's now-current state.
func StatusLineForTransition(previous, current engine.State) (string, bool) {
	if previous == current {
		return "", false
	}
	switch current {
	case engine.PerformingNetworkDiscovery:
		return "+Searching for route", true
	case engine.RouteFound:
		return "+Found route", true
	case engine.SendingPayload:
		return "+Sending payload", true
	case engine.RetryingPayload:
		return "+Retrying payload", true
	case engine.WaitingForAck:
		return "+Waiting for ack", true
	case engine.AckReceived:
		return "+Ack received", true
	case engine.ErrorNoRoute:
		return "+Error: no route", true
	case engine.ErrorNoAck:
		return "+Error: no ack", true
	case engine.Complete:
		return "+Transfer complete", true
	default:
		return "", false
	}
}
