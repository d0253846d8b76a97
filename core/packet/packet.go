// Package packet implements the on-air wire format for rbmesh: a fixed
// 18-byte header followed by an optional payload of up to 200 bytes.
//
// Multi-byte NodeId fields are serialised little-endian. The firmware this
// core was ported from emits native-byte-order integers, which is not
// wire-portable across heterogeneous endianness; this port fixes
// little-endian explicitly rather than carry that ambiguity forward.
package packet

import (
	"encoding/binary"
)

const (
	// HeaderSize is the fixed size, in bytes, of every packet's header.
	HeaderSize = 18

	// MaxPayloadSize is the largest payload a single radio frame may carry.
	MaxPayloadSize = 200

	// NodeIDNone is the distinguished "no node" identifier.
	NodeIDNone NodeID = 0

	// MaxTTL is the largest representable ttl / hop_count (3-bit fields).
	MaxTTL = 7
)

// NodeID identifies a mesh participant. The zero value is NodeIDNone.
type NodeID uint32

// IsNone reports whether id is the distinguished NodeIDNone value.
func (id NodeID) IsNone() bool {
	return id == NodeIDNone
}

// PacketType tags the payload carried by a Packet.
type PacketType uint8

const (
	// TypeBcastNeighborTable is reserved: broadcast, must always be relayed,
	// never terminates at an application. Also the decode fallback for any
	// unrecognised type byte.
	TypeBcastNeighborTable PacketType = 0
	// TypeRouteDiscoveryRequest is a flooded search for a destination.
	TypeRouteDiscoveryRequest PacketType = 10
	// TypeRouteDiscoveryResponse is a unicast reply along the requester's
	// reverse path.
	TypeRouteDiscoveryResponse PacketType = 11
	// TypeRouteDiscoveryError is reserved.
	TypeRouteDiscoveryError PacketType = 12
	// TypeDataPayload carries application bytes.
	TypeDataPayload PacketType = 20
	// TypeDataPayloadAck is an end-to-end ack for a TypeDataPayload.
	TypeDataPayloadAck PacketType = 21
)

// String returns a human-readable name for the packet type.
func (t PacketType) String() string {
	switch t {
	case TypeBcastNeighborTable:
		return "BCAST_NEIGHBOR_TABLE"
	case TypeRouteDiscoveryRequest:
		return "ROUTE_DISCOVERY_REQUEST"
	case TypeRouteDiscoveryResponse:
		return "ROUTE_DISCOVERY_RESPONSE"
	case TypeRouteDiscoveryError:
		return "ROUTE_DISCOVERY_ERROR"
	case TypeDataPayload:
		return "DATA_PAYLOAD"
	case TypeDataPayloadAck:
		return "DATA_PAYLOAD_ACK"
	default:
		return "UNKNOWN"
	}
}

// normalizeType maps an on-wire type byte to a known PacketType, falling
// back to TypeBcastNeighborTable for any unrecognised value. This is the
// interpretation used for routing decisions; the raw byte that produced it
// is preserved separately so encode(decode(x)) reproduces unknown type
// bytes verbatim instead of canonicalising them to 0.
func normalizeType(b uint8) PacketType {
	switch PacketType(b) {
	case TypeRouteDiscoveryRequest, TypeRouteDiscoveryResponse, TypeRouteDiscoveryError,
		TypeDataPayload, TypeDataPayloadAck:
		return PacketType(b)
	default:
		return TypeBcastNeighborTable
	}
}

// HeaderInfo is the packed flags/ttl/hop_count byte at header offset 17.
type HeaderInfo struct {
	TTL          uint8 // bits 0..2
	HopCount     uint8 // bits 3..5
	RequiredAck  bool  // bit 6
	Encrypted    bool  // bit 7, reserved, always false in this core
}

// IsDead reports whether the packet has exhausted its relay budget.
func (h HeaderInfo) IsDead() bool {
	return h.HopCount >= h.TTL
}

// IncrementHopCount returns a copy of h with HopCount incremented, clamped
// at MaxTTL so it never wraps past the 3-bit field width.
func (h HeaderInfo) IncrementHopCount() HeaderInfo {
	if h.HopCount < MaxTTL {
		h.HopCount++
	}
	return h
}

func (h HeaderInfo) encode() uint8 {
	var b uint8
	b |= h.TTL & 0x07
	b |= (h.HopCount & 0x07) << 3
	if h.RequiredAck {
		b |= 1 << 6
	}
	if h.Encrypted {
		b |= 1 << 7
	}
	return b
}

func decodeHeaderInfo(b uint8) HeaderInfo {
	return HeaderInfo{
		TTL:         b & 0x07,
		HopCount:    (b >> 3) & 0x07,
		RequiredAck: b&(1<<6) != 0,
		Encrypted:   b&(1<<7) != 0,
	}
}

// TxState describes where an outbound Packet stands in the radio handoff.
type TxState uint8

const (
	// TxWaiting means the packet is not yet ready to be handed to the radio.
	TxWaiting TxState = iota
	// TxOk means the packet may be handed to the radio now.
	TxOk
	// TxComplete means the radio finished transmitting, but a reply is
	// still expected (see Meta.WaitForReply).
	TxComplete
)

// Meta holds the outbound-only bookkeeping that never goes over the air.
type Meta struct {
	TxState             TxState
	TxCompleteTimestamp int64 // millis; valid only when TxCompleteSet
	TxCompleteSet       bool
	TxCount             uint8
	WaitForReply        bool
}

// Packet is a decoded rbmesh packet plus its outbound metadata.
type Packet struct {
	// TypeByte is the raw type byte as it appeared (or will appear) on the
	// wire. Use Type() for the normalized value used in routing decisions.
	TypeByte    uint8
	Destination NodeID
	Source      NodeID
	NextHop     NodeID
	Originator  NodeID
	Info        HeaderInfo
	Payload     []byte

	Meta Meta
}

// Type returns the normalized PacketType for routing decisions. Unknown
// wire bytes normalize to TypeBcastNeighborTable; see normalizeType.
func (p *Packet) Type() PacketType {
	return normalizeType(p.TypeByte)
}

// NewPacket constructs a Packet of the given type with zeroed addressing,
// ready for the caller to fill in.
func NewPacket(t PacketType) *Packet {
	return &Packet{TypeByte: uint8(t)}
}

// Clone returns a deep copy of p, including a fresh Payload slice.
func (p *Packet) Clone() *Packet {
	clone := *p
	if len(p.Payload) > 0 {
		clone.Payload = make([]byte, len(p.Payload))
		copy(clone.Payload, p.Payload)
	} else {
		clone.Payload = nil
	}
	return &clone
}

// Decode parses an on-air frame into a Packet. It requires at least
// HeaderSize bytes; frames shorter than that decode to (nil, false).
// Metadata is zero-initialised (TxWaiting, no timestamp, count 0, no wait).
func Decode(frame []byte) (*Packet, bool) {
	if len(frame) < HeaderSize {
		return nil, false
	}

	p := &Packet{
		TypeByte:    frame[0],
		Destination: NodeID(binary.LittleEndian.Uint32(frame[1:5])),
		Source:      NodeID(binary.LittleEndian.Uint32(frame[5:9])),
		NextHop:     NodeID(binary.LittleEndian.Uint32(frame[9:13])),
		Originator:  NodeID(binary.LittleEndian.Uint32(frame[13:17])),
		Info:        decodeHeaderInfo(frame[17]),
	}

	if len(frame) > HeaderSize {
		payload := frame[HeaderSize:]
		p.Payload = make([]byte, len(payload))
		copy(p.Payload, payload)
	}

	return p, true
}

// Encode serialises p to its on-air representation: HeaderSize header bytes
// followed by the payload, if any. NodeIDNone fields serialise as all-zero.
func Encode(p *Packet) []byte {
	out := make([]byte, HeaderSize+len(p.Payload))
	out[0] = p.TypeByte
	binary.LittleEndian.PutUint32(out[1:5], uint32(p.Destination))
	binary.LittleEndian.PutUint32(out[5:9], uint32(p.Source))
	binary.LittleEndian.PutUint32(out[9:13], uint32(p.NextHop))
	binary.LittleEndian.PutUint32(out[13:17], uint32(p.Originator))
	out[17] = p.Info.encode()
	copy(out[HeaderSize:], p.Payload)
	return out
}
