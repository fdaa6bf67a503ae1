package frame

import (
	"bytes"
	"encoding/binary"
)

// Scanner finds frame boundaries in a byte stream fed in arbitrary chunks.
// It does not validate checksums; Decode does that on each yielded buffer.
type Scanner struct {
	buf     []byte
	dropped int
}

func (s *Scanner) Feed(p []byte) {
	s.buf = append(s.buf, p...)
}

// Next returns the next complete frame, or false if more bytes are needed.
func (s *Scanner) Next() ([]byte, bool) {
	for {
		i := bytes.IndexByte(s.buf, StartMarker)
		if i < 0 {
			s.dropped += len(s.buf)
			s.buf = s.buf[:0]
			return nil, false
		}
		if i > 0 {
			s.dropped += i
			s.buf = s.buf[i:]
		}
		if len(s.buf) < 3 {
			return nil, false
		}
		n := int(binary.BigEndian.Uint16(s.buf[1:3]))
		if n > MaxPayloadSize {
			// Not a real header; resync on the next marker.
			s.dropped++
			s.buf = s.buf[1:]
			continue
		}
		total := n + Overhead
		if len(s.buf) < total {
			return nil, false
		}
		out := make([]byte, total)
		copy(out, s.buf[:total])
		s.buf = s.buf[total:]
		return out, true
	}
}

// Reject puts back a buffer yielded by Next that failed to decode, minus
// its leading marker, so the next scan resyncs one byte past it.
func (s *Scanner) Reject(frame []byte) {
	if len(frame) == 0 {
		return
	}
	s.dropped++
	s.buf = append(append([]byte(nil), frame[1:]...), s.buf...)
}

// Pending reports whether a partial frame has been started.
func (s *Scanner) Pending() bool {
	return len(s.buf) > 0
}

// Dropped returns how many noise bytes were skipped since the last Reset.
func (s *Scanner) Dropped() int {
	return s.dropped
}

func (s *Scanner) Reset() {
	s.buf = s.buf[:0]
	s.dropped = 0
}
