package protocol

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is the caller-facing failure taxonomy. Kinds are errors themselves so
// callers can branch with errors.Is(err, protocol.NoData).
type Kind uint8

const (
	KindNone Kind = iota
	NoData
	Communication
	NotConnected
	Dropped
	KeepAwake
	Channel
)

func (k Kind) String() string {
	switch k {
	case NoData:
		return "no_data"
	case Communication:
		return "communication"
	case NotConnected:
		return "not_connected"
	case Dropped:
		return "dropped"
	case KeepAwake:
		return "keep_awake"
	case Channel:
		return "channel"
	default:
		return "none"
	}
}

func (k Kind) Error() string {
	return "protocol: " + strings.ReplaceAll(k.String(), "_", " ")
}

// Failure is the raw reason a single attempt did not complete.
type Failure uint8

const (
	FailureNone Failure = iota
	FailureTimeout
	FailureChecksum
	FailureTruncated
	FailureUnknownType
	FailureUnexpected
	FailureTransport
	FailureEncode
	FailureWake
	FailureStatus
	FailureState
)

func (f Failure) String() string {
	switch f {
	case FailureTimeout:
		return "timeout"
	case FailureChecksum:
		return "checksum"
	case FailureTruncated:
		return "truncated"
	case FailureUnknownType:
		return "unknown_type"
	case FailureUnexpected:
		return "unexpected_response"
	case FailureTransport:
		return "transport"
	case FailureEncode:
		return "encode"
	case FailureWake:
		return "wake"
	case FailureStatus:
		return "peer_status"
	case FailureState:
		return "invalid_state"
	default:
		return "none"
	}
}

// Structural reports whether f means bytes arrived but were unusable.
func (f Failure) Structural() bool {
	switch f {
	case FailureChecksum, FailureTruncated, FailureUnknownType:
		return true
	default:
		return false
	}
}

var (
	ErrChannelState   = errors.New("protocol: channel not in required state")
	ErrChannelUnknown = errors.New("protocol: unknown channel")
	ErrNoChannelSlots = errors.New("protocol: no free channel ids")
	ErrClosed         = errors.New("protocol: session closed")
)

// Error is the classified outcome of a failed call.
type Error struct {
	Kind     Kind
	Op       string
	Attempts int
	Last     Failure
	Err      error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("protocol: ")
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	if e.Attempts > 0 || e.Last != FailureNone {
		fmt.Fprintf(&b, " (attempts=%d last=%s)", e.Attempts, e.Last)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the error's Kind.
func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.Kind
}

// KindOf returns the classified kind of err, or KindNone.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	var k Kind
	if errors.As(err, &k) {
		return k
	}
	return KindNone
}

// WithOp returns err relabeled with op when it is a classified error.
func WithOp(err error, op string) error {
	var pe *Error
	if !errors.As(err, &pe) {
		return err
	}
	cp := *pe
	cp.Op = op
	return &cp
}
