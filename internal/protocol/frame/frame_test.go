package frame

import (
	"bytes"
	"errors"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []Atom{
		{Type: TypeInfo, Payload: []byte{}},
		{Type: TypeSend.Response(), Payload: []byte{0x01, 0x02, 0x7E, 0xFF}},
		{Type: TypeChannelOpen, Payload: bytes.Repeat([]byte{0xA5}, MaxPayloadSize)},
	}
	for _, in := range cases {
		b, err := Encode(in)
		if err != nil {
			t.Fatalf("encode %s: %v", in, err)
		}
		if len(b) != in.Len()+Overhead {
			t.Fatalf("unexpected frame len=%d payload=%d", len(b), in.Len())
		}
		out, err := Decode(b)
		if err != nil {
			t.Fatalf("decode %s: %v", in, err)
		}
		if out.Type != in.Type || !bytes.Equal(out.Payload, in.Payload) {
			t.Fatalf("round-trip mismatch: got=%s want=%s", out, in)
		}
	}
}

func TestEncodeRejectsOversizedPayload(t *testing.T) {
	_, err := Encode(Atom{Type: TypeSend, Payload: make([]byte, MaxPayloadSize+1)})
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
}

func TestDecodeDetectsEverySingleBitFlip(t *testing.T) {
	b, err := Encode(Atom{Type: TypeSend, Payload: []byte("hello atom")})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	// tag, payload and checksum bytes
	for i := 3; i < len(b); i++ {
		for bit := 0; bit < 8; bit++ {
			c := append([]byte(nil), b...)
			c[i] ^= 1 << bit
			if _, err := Decode(c); err == nil {
				t.Fatalf("bit flip at byte=%d bit=%d decoded silently", i, bit)
			}
		}
	}
}

func TestDecodeTruncated(t *testing.T) {
	b, _ := Encode(Atom{Type: TypeReceive, Payload: []byte{1, 2, 3}})
	_, err := Decode(b[:len(b)-2])
	if !errors.Is(err, ErrTruncated) {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
}

func TestDecodeTrailingBytes(t *testing.T) {
	b, _ := Encode(Atom{Type: TypeReceive, Payload: []byte{1}})
	_, err := Decode(append(b, 0x00))
	if !errors.Is(err, ErrInvalidLength) {
		t.Fatalf("expected ErrInvalidLength, got %v", err)
	}
}

func TestDecodeUnknownTypeReturnsAtom(t *testing.T) {
	b, _ := Encode(Atom{Type: Type(0x42), Payload: []byte{9}})
	a, err := Decode(b)
	if !errors.Is(err, ErrUnknownType) {
		t.Fatalf("expected ErrUnknownType, got %v", err)
	}
	if a.Type != 0x42 || !bytes.Equal(a.Payload, []byte{9}) {
		t.Fatalf("unexpected atom: %s", a)
	}
}

func TestDecodeMissingMarker(t *testing.T) {
	b, _ := Encode(Atom{Type: TypeInfo})
	b[0] = 0x00
	if _, err := Decode(b); !errors.Is(err, ErrNoStartMarker) {
		t.Fatalf("expected ErrNoStartMarker, got %v", err)
	}
}

func TestTypeResponseMapping(t *testing.T) {
	if TypeWake.Response() != 0x85 || !TypeWake.Response().IsResponse() {
		t.Fatalf("unexpected wake response tag %#02x", uint8(TypeWake.Response()))
	}
	if TypeSend.Response().Request() != TypeSend {
		t.Fatalf("request mapping mismatch")
	}
	if got := TypeChannelOpen.Response().String(); got != "channel.open.result" {
		t.Fatalf("unexpected name %q", got)
	}
	if Type(0x7A).Known() {
		t.Fatalf("0x7a should be unknown")
	}
}
