package protocol

import (
	"fmt"

	"github.com/danmuck/atomlink/internal/protocol/schema"
)

// Record is the attempt history of one transaction.
type Record struct {
	Attempts int
	Failures []Failure
	Err      error
}

func (r *Record) Add(f Failure, err error) {
	r.Failures = append(r.Failures, f)
	if err != nil {
		r.Err = err
	}
}

func (r Record) Last() Failure {
	if len(r.Failures) == 0 {
		return FailureNone
	}
	return r.Failures[len(r.Failures)-1]
}

func (r Record) count(match func(Failure) bool) int {
	n := 0
	for _, f := range r.Failures {
		if match(f) {
			n++
		}
	}
	return n
}

// Classify maps a failed attempt record onto the taxonomy. Terminal
// failures (transport, encode, wake, state) win over exhaustion rules;
// after exhaustion any out-of-sequence response means the peer lost
// framing, any damaged frame is a communication fault, and pure silence
// is NoData.
func Classify(op string, r Record) *Error {
	e := &Error{Op: op, Attempts: r.Attempts, Last: r.Last(), Err: r.Err}
	switch e.Last {
	case FailureTransport, FailureEncode:
		e.Kind = Communication
		return e
	case FailureWake:
		e.Kind = KeepAwake
		return e
	case FailureState:
		e.Kind = Channel
		return e
	}
	switch {
	case r.count(func(f Failure) bool { return f == FailureUnexpected }) > 0:
		e.Kind = Dropped
	case r.count(Failure.Structural) > 0:
		e.Kind = Communication
	default:
		e.Kind = NoData
	}
	return e
}

// FromStatus maps a peer failure status. It returns nil for success statuses.
func FromStatus(op string, st schema.Status) *Error {
	e := &Error{Op: op, Last: FailureStatus, Err: fmt.Errorf("peer status %s", st)}
	switch st {
	case schema.StatusOK, schema.StatusEmpty:
		return nil
	case schema.StatusNotConnected:
		e.Kind = NotConnected
	case schema.StatusDropped:
		e.Kind = Dropped
	case schema.StatusChannelRejected, schema.StatusChannelUnknown:
		e.Kind = Channel
	default:
		e.Kind = Communication
	}
	return e
}

// StateError reports an operation against a channel in the wrong state.
func StateError(op string, err error) *Error {
	return &Error{Kind: Channel, Op: op, Last: FailureState, Err: err}
}

// Closed reports an operation on a session that is not established.
func Closed(op string, err error) *Error {
	if err == nil {
		err = ErrClosed
	}
	return &Error{Kind: NotConnected, Op: op, Err: err}
}

// Malformed reports a well-framed response whose payload failed validation.
func Malformed(op string, err error) *Error {
	return &Error{Kind: Communication, Op: op, Err: err}
}
