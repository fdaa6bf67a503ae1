// Package atomstub provides a fake clock and a scripted serial peer for
// driving the engine without hardware or real delays.
package atomstub

import (
	"sync"
	"time"

	"github.com/danmuck/atomlink/internal/protocol/frame"
	"github.com/danmuck/atomlink/internal/protocol/schema"
	"github.com/danmuck/atomlink/internal/protocol/tlv"
)

// Clock is a manually advanced clock. Sleep advances it immediately.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock() *Clock {
	return &Clock{now: time.Unix(1700000000, 0)}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Sleep(d time.Duration) {
	c.Advance(d)
}

func (c *Clock) Advance(d time.Duration) {
	if d <= 0 {
		return
	}
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Handler answers one decoded request with raw bytes; nil means silence.
type Handler func(req frame.Atom) []byte

// Peer is a session.Transport backed by a Handler. Reads with nothing
// queued advance the clock by the full timeout and return no data.
type Peer struct {
	mu       sync.Mutex
	clock    *Clock
	handler  Handler
	scan     frame.Scanner
	out      []byte
	requests []frame.Atom
	writes   int

	WriteErr error
	ReadErr  error
}

func NewPeer(clock *Clock, h Handler) *Peer {
	return &Peer{clock: clock, handler: h}
}

func (p *Peer) Write(b []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.WriteErr != nil {
		return p.WriteErr
	}
	p.writes++
	p.scan.Feed(b)
	for {
		buf, ok := p.scan.Next()
		if !ok {
			return nil
		}
		a, err := frame.Decode(buf)
		if err != nil {
			continue
		}
		p.requests = append(p.requests, a)
		if p.handler != nil {
			p.out = append(p.out, p.handler(a)...)
		}
	}
}

func (p *Peer) Read(max int, timeout time.Duration) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ReadErr != nil {
		return nil, p.ReadErr
	}
	if len(p.out) == 0 {
		p.clock.Advance(timeout)
		return []byte{}, nil
	}
	n := len(p.out)
	if max > 0 && n > max {
		n = max
	}
	chunk := make([]byte, n)
	copy(chunk, p.out[:n])
	p.out = p.out[n:]
	return chunk, nil
}

// Inject queues unsolicited bytes for the host.
func (p *Peer) Inject(b []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.out = append(p.out, b...)
}

func (p *Peer) Requests() []frame.Atom {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]frame.Atom, len(p.requests))
	copy(out, p.requests)
	return out
}

// Count returns how many requests of type t the peer has seen.
func (p *Peer) Count(t frame.Type) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, a := range p.requests {
		if a.Type == t {
			n++
		}
	}
	return n
}

func (p *Peer) Writes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writes
}

// MustEncode encodes a or panics.
func MustEncode(a frame.Atom) []byte {
	b, err := frame.Encode(a)
	if err != nil {
		panic(err)
	}
	return b
}

// Result encodes a response to request type t.
func Result(t frame.Type, st schema.Status, fields ...tlv.Field) []byte {
	a, err := schema.NewResult(t, st, fields...)
	if err != nil {
		panic(err)
	}
	return MustEncode(a)
}

// Corrupt returns b with the last (checksum) byte flipped.
func Corrupt(b []byte) []byte {
	out := append([]byte(nil), b...)
	out[len(out)-1] ^= 0x01
	return out
}
