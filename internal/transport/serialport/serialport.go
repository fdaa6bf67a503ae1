// Package serialport adapts a go.bug.st/serial port to the engine's
// byte Transport.
package serialport

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.bug.st/serial"
)

var (
	ErrUnsupportedBaud = errors.New("serialport: unsupported baud rate")
	ErrPortRequired    = errors.New("serialport: port name required")
	ErrClosed          = errors.New("serialport: port closed")
)

// Baud is a line rate the Atom firmware accepts.
type Baud int

const (
	B9600   Baud = 9600
	B14400  Baud = 14400
	B19200  Baud = 19200
	B38400  Baud = 38400
	B57600  Baud = 57600
	B115200 Baud = 115200

	DefaultBaud = B115200
)

// LineRate returns the rate the port is actually opened at. 14400 has no
// termios constant and is opened as 19200.
func (b Baud) LineRate() (int, error) {
	switch b {
	case B9600, B19200, B38400, B57600, B115200:
		return int(b), nil
	case B14400:
		return int(B19200), nil
	default:
		return 0, fmt.Errorf("%w: %d", ErrUnsupportedBaud, int(b))
	}
}

// Mode returns the 8N1 port mode for b.
func (b Baud) Mode() (*serial.Mode, error) {
	rate, err := b.LineRate()
	if err != nil {
		return nil, err
	}
	return &serial.Mode{
		BaudRate: rate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}, nil
}

// Port is a Transport over a serial line.
type Port struct {
	mu     sync.Mutex
	name   string
	port   serial.Port
	closed bool
	buf    []byte
}

// Open opens name at baud and discards anything already buffered.
func Open(name string, baud Baud) (*Port, error) {
	if name == "" {
		return nil, ErrPortRequired
	}
	mode, err := baud.Mode()
	if err != nil {
		return nil, err
	}
	sp, err := serial.Open(name, mode)
	if err != nil {
		return nil, fmt.Errorf("serialport: open %s: %w", name, err)
	}
	p, err := wrap(name, sp)
	if err != nil {
		_ = sp.Close()
		return nil, err
	}
	log.Info().Msgf("serialport.Open name=%s baud=%d rate=%d", name, int(baud), mode.BaudRate)
	return p, nil
}

// New wraps an already opened port.
func New(name string, sp serial.Port) (*Port, error) {
	return wrap(name, sp)
}

func wrap(name string, sp serial.Port) (*Port, error) {
	if err := sp.ResetInputBuffer(); err != nil {
		return nil, fmt.Errorf("serialport: reset input %s: %w", name, err)
	}
	return &Port{name: name, port: sp}, nil
}

func (p *Port) Name() string {
	return p.name
}

// Write writes all of b.
func (p *Port) Write(b []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	for len(b) > 0 {
		n, err := p.port.Write(b)
		if err != nil {
			return fmt.Errorf("serialport: write %s: %w", p.name, err)
		}
		if n == 0 {
			return fmt.Errorf("serialport: write %s: short write", p.name)
		}
		b = b[n:]
	}
	return nil
}

// Read returns up to max bytes, or an empty slice when timeout passes with
// nothing received.
func (p *Port) Read(max int, timeout time.Duration) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrClosed
	}
	if max <= 0 {
		max = 1
	}
	if cap(p.buf) < max {
		p.buf = make([]byte, max)
	}
	if err := p.port.SetReadTimeout(timeout); err != nil {
		return nil, fmt.Errorf("serialport: set timeout %s: %w", p.name, err)
	}
	n, err := p.port.Read(p.buf[:max])
	if err != nil {
		return nil, fmt.Errorf("serialport: read %s: %w", p.name, err)
	}
	out := make([]byte, n)
	copy(out, p.buf[:n])
	return out, nil
}

func (p *Port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	log.Debug().Msgf("serialport.Close name=%s", p.name)
	return p.port.Close()
}

// List returns the serial ports present on the host.
func List() ([]string, error) {
	return serial.GetPortsList()
}
