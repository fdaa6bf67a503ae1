package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	StartMarker byte = 0x7E

	// HeaderLen is marker + length + type tag.
	HeaderLen = 4
	// Overhead is every byte of a frame that is not payload.
	Overhead = HeaderLen + 1

	MaxPayloadSize = 512
	MaxFrameSize   = MaxPayloadSize + Overhead
)

var (
	ErrFrameTooLarge    = errors.New("frame: payload too large")
	ErrTruncated        = errors.New("frame: truncated frame")
	ErrInvalidLength    = errors.New("frame: declared length does not match buffer")
	ErrChecksumMismatch = errors.New("frame: checksum mismatch")
	ErrUnknownType      = errors.New("frame: unknown type tag")
	ErrNoStartMarker    = errors.New("frame: missing start marker")
)

// Atom is one tagged message unit. Its length is always derived from Payload.
type Atom struct {
	Type    Type
	Payload []byte
}

func (a Atom) Len() int {
	return len(a.Payload)
}

func (a Atom) String() string {
	return fmt.Sprintf("%s(%d)", a.Type, len(a.Payload))
}

// Encode returns the wire frame for a.
func Encode(a Atom) ([]byte, error) {
	if len(a.Payload) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, len(a.Payload), MaxPayloadSize)
	}
	buf := make([]byte, len(a.Payload)+Overhead)
	buf[0] = StartMarker
	binary.BigEndian.PutUint16(buf[1:3], uint16(len(a.Payload)))
	buf[3] = byte(a.Type)
	copy(buf[HeaderLen:], a.Payload)
	buf[len(buf)-1] = Checksum(buf[1 : len(buf)-1])
	return buf, nil
}

// Decode parses exactly one already-delimited frame. A frame with an
// unrecognized tag is returned alongside ErrUnknownType.
func Decode(b []byte) (Atom, error) {
	if len(b) < Overhead {
		return Atom{}, ErrTruncated
	}
	if b[0] != StartMarker {
		return Atom{}, ErrNoStartMarker
	}
	n := int(binary.BigEndian.Uint16(b[1:3]))
	if n > MaxPayloadSize {
		return Atom{}, fmt.Errorf("%w: declared %d", ErrFrameTooLarge, n)
	}
	switch total := n + Overhead; {
	case len(b) < total:
		return Atom{}, ErrTruncated
	case len(b) > total:
		return Atom{}, ErrInvalidLength
	}
	want := b[len(b)-1]
	if got := Checksum(b[1 : len(b)-1]); got != want {
		return Atom{}, fmt.Errorf("%w: got=%#02x want=%#02x", ErrChecksumMismatch, got, want)
	}
	payload := make([]byte, n)
	copy(payload, b[HeaderLen:HeaderLen+n])
	a := Atom{Type: Type(b[3]), Payload: payload}
	if !a.Type.Known() {
		return a, fmt.Errorf("%w: %#02x", ErrUnknownType, b[3])
	}
	return a, nil
}

// Checksum is 0xFF minus the low byte of the sum of b.
func Checksum(b []byte) byte {
	var sum byte
	for _, c := range b {
		sum += c
	}
	return 0xFF - sum
}
