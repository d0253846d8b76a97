// Package identity derives a node's stable 32-bit NodeId from a hardware
// unique identifier at startup. This is a one-way, non-secret derivation —
// not a credential and not involved in peer authentication or encryption,
// both of which are out of scope for this core (see core/packet's
// Encrypted flag, which is always false here).
//
// This plays the same "stable identity derived once at boot" role as the
// teacher's MeshCoreID, narrowed from a 32-byte Ed25519 public key to this
// core's 32-bit NodeId address space.
package identity

import (
	"encoding/hex"
	"errors"

	"golang.org/x/crypto/blake2b"

	"github.com/go-rbmesh/rbmesh/core/packet"
)

// ErrEmptyHardwareID is returned by DeriveNodeID when given no input bytes.
var ErrEmptyHardwareID = errors.New("identity: hardware id must not be empty")

// DeriveNodeID hashes hardwareID with BLAKE2b-256 and truncates the digest's
// first four bytes, big-endian, into a NodeId. The derivation is
// deterministic: the same hardware id always yields the same NodeId, which
// is what lets a device's identity survive reflashes and reboots without
// persisting anything.
//
// If the derived id happens to land on packet.NodeIDNone (the reserved "no
// node" sentinel), the digest is rehashed once and the first four bytes of
// that rehash are returned without a further check. A zero first id happens
// for roughly one hardware id in 2^32 and is cheap to special-case.
func DeriveNodeID(hardwareID []byte) (packet.NodeID, error) {
	if len(hardwareID) == 0 {
		return packet.NodeIDNone, ErrEmptyHardwareID
	}

	sum := blake2b.Sum256(hardwareID)
	id := beUint32(sum[:4])
	if id != uint32(packet.NodeIDNone) {
		return packet.NodeID(id), nil
	}

	rehash := blake2b.Sum256(sum[:])
	return packet.NodeID(beUint32(rehash[:4])), nil
}

func beUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

// HexEncode renders a hardware id as hex, for diagnostics. Console commands
// (AT+ID) report the derived NodeId instead of the raw hardware id.
func HexEncode(hardwareID []byte) string {
	return hex.EncodeToString(hardwareID)
}
