package uart

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Radio-link framing: [magic(2 BE)][length(2 BE)][payload(length)][fletcher16 checksum(2 BE)].
// Generalized from the teacher's core/codec RS232 bridge framing (same
// magic/length/checksum shape), reused here to carry raw radio frame
// bytes across a UART link to an external LoRa modem instead of
// MeshCore's own wire packets.
const (
	frameMagic        uint16 = 0xC03E
	frameHeaderSize           = 4
	frameChecksumSize         = 2
	minFrameSize              = frameHeaderSize + frameChecksumSize
	maxFramePayload           = 256
)

var (
	errFrameTooShort    = errors.New("uart: frame too short")
	errInvalidMagic     = errors.New("uart: invalid frame magic")
	errPayloadTooLarge  = errors.New("uart: payload exceeds maximum frame size")
	errChecksumMismatch = errors.New("uart: checksum mismatch")
	errIncompleteFrame  = errors.New("uart: incomplete frame")
)

func fletcher16(data []byte) uint16 {
	var sum1, sum2 uint16
	for _, b := range data {
		sum1 = (sum1 + uint16(b)) % 255
		sum2 = (sum2 + sum1) % 255
	}
	return sum2<<8 | sum1
}

// encodeRadioFrame wraps payload in the magic/length/checksum envelope.
func encodeRadioFrame(payload []byte) ([]byte, error) {
	if len(payload) > maxFramePayload {
		return nil, errPayloadTooLarge
	}
	out := make([]byte, frameHeaderSize+len(payload)+frameChecksumSize)
	binary.BigEndian.PutUint16(out[0:2], frameMagic)
	binary.BigEndian.PutUint16(out[2:4], uint16(len(payload)))
	copy(out[frameHeaderSize:], payload)
	sum := fletcher16(payload)
	binary.BigEndian.PutUint16(out[frameHeaderSize+len(payload):], sum)
	return out, nil
}

// decodeRadioFrame extracts one frame's payload from the head of data, if
// one is complete. Returns the payload, the bytes remaining after it, and
// an error. errIncompleteFrame means: wait for more bytes, not a fatal
// framing error.
func decodeRadioFrame(data []byte) (payload []byte, remaining []byte, err error) {
	if len(data) < minFrameSize {
		return nil, data, errFrameTooShort
	}
	if binary.BigEndian.Uint16(data[0:2]) != frameMagic {
		return nil, data, errInvalidMagic
	}
	length := int(binary.BigEndian.Uint16(data[2:4]))
	if length > maxFramePayload {
		return nil, data, errPayloadTooLarge
	}
	total := frameHeaderSize + length + frameChecksumSize
	if len(data) < total {
		return nil, data, errIncompleteFrame
	}

	body := data[frameHeaderSize : frameHeaderSize+length]
	wantSum := binary.BigEndian.Uint16(data[frameHeaderSize+length : total])
	if gotSum := fletcher16(body); gotSum != wantSum {
		return nil, data, fmt.Errorf("%w: want %04x got %04x", errChecksumMismatch, wantSum, gotSum)
	}

	out := make([]byte, length)
	copy(out, body)
	return out, data[total:], nil
}

// findMagic returns the index of the next magic-number candidate in data,
// or -1 if none. Used for resynchronizing after a bad frame.
func findMagic(data []byte) int {
	for i := 0; i+1 < len(data); i++ {
		if binary.BigEndian.Uint16(data[i:i+2]) == frameMagic {
			return i
		}
	}
	return -1
}
