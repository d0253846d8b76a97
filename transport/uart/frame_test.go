package uart

import (
	"bytes"
	"errors"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	payload := []byte("hello radio")
	frame, err := encodeRadioFrame(payload)
	if err != nil {
		t.Fatalf("encodeRadioFrame: %v", err)
	}

	got, remaining, err := decodeRadioFrame(frame)
	if err != nil {
		t.Fatalf("decodeRadioFrame: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("payload = %q, want %q", got, payload)
	}
	if len(remaining) != 0 {
		t.Fatalf("remaining = %d bytes, want 0", len(remaining))
	}
}

func TestDecodeIncompleteFrameWaits(t *testing.T) {
	payload := []byte("hello radio")
	frame, _ := encodeRadioFrame(payload)
	_, _, err := decodeRadioFrame(frame[:len(frame)-2])
	if !errors.Is(err, errIncompleteFrame) {
		t.Fatalf("err = %v, want errIncompleteFrame", err)
	}
}

func TestDecodeChecksumMismatch(t *testing.T) {
	frame, _ := encodeRadioFrame([]byte("x"))
	frame[len(frame)-1] ^= 0xFF
	_, _, err := decodeRadioFrame(frame)
	if !errors.Is(err, errChecksumMismatch) {
		t.Fatalf("err = %v, want errChecksumMismatch", err)
	}
}

func TestDecodeRejectsOversizedLength(t *testing.T) {
	frame, _ := encodeRadioFrame([]byte("x"))
	frame[2] = 0xFF
	frame[3] = 0xFF
	_, _, err := decodeRadioFrame(frame)
	if !errors.Is(err, errPayloadTooLarge) {
		t.Fatalf("err = %v, want errPayloadTooLarge", err)
	}
}

func TestFindMagicLocatesResyncPoint(t *testing.T) {
	frame, _ := encodeRadioFrame([]byte("ok"))
	noisy := append([]byte{0x00, 0x01, 0x02}, frame...)
	idx := findMagic(noisy)
	if idx != 3 {
		t.Fatalf("findMagic = %d, want 3", idx)
	}
}

func TestProcessRadioFramesResyncsAfterGarbage(t *testing.T) {
	tp := New(Config{Mode: ModeRadioLink})
	good, _ := encodeRadioFrame([]byte("payload"))
	noisy := append([]byte{0xAA, 0xBB}, good...)

	remaining := tp.processRadioFrames(noisy)
	if len(remaining) != 0 {
		t.Fatalf("remaining = %d bytes, want 0 after resync+decode", len(remaining))
	}

	select {
	case f := <-tp.RxQueue():
		if string(f.Bytes) != "payload" {
			t.Fatalf("frame = %q", f.Bytes)
		}
	default:
		t.Fatal("expected a frame delivered to rx queue")
	}
}
