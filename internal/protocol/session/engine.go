package session

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/atomlink/internal/protocol"
	"github.com/danmuck/atomlink/internal/protocol/frame"
	"github.com/danmuck/atomlink/internal/protocol/schema"
	"github.com/rs/zerolog/log"
)

var (
	ErrTimeout            = errors.New("session: response timeout")
	ErrUnexpectedResponse = errors.New("session: unexpected response type")
	ErrWakeUnacknowledged = errors.New("session: wake not acknowledged")
	ErrTransportRequired  = errors.New("session: transport required")
)

// Transport is the byte-level serial collaborator. Read returns an empty
// slice when timeout elapses without data.
type Transport interface {
	Write(p []byte) error
	Read(max int, timeout time.Duration) ([]byte, error)
}

// Observer receives engine outcomes for metrics.
type Observer interface {
	TransactionDone(t frame.Type, attempts int, elapsed time.Duration, err error)
	WakeDone(attempts int, err error)
	FrameRejected(f protocol.Failure)
}

type noopObserver struct{}

func (noopObserver) TransactionDone(frame.Type, int, time.Duration, error) {}
func (noopObserver) WakeDone(int, error)                                  {}
func (noopObserver) FrameRejected(protocol.Failure)                       {}

type Option func(*Engine)

func WithClock(c Clock) Option {
	return func(e *Engine) {
		if c != nil {
			e.clock = c
		}
	}
}

func WithObserver(o Observer) Option {
	return func(e *Engine) {
		if o != nil {
			e.obs = o
		}
	}
}

// Engine runs one request/response transaction at a time over a Transport.
// Transact holds the engine lock for the whole exchange, so concurrent
// callers queue and frames are never interleaved on the link.
type Engine struct {
	mu    sync.Mutex
	tr    Transport
	clock Clock
	obs   Observer
	cfg   Config
	scan  frame.Scanner
	wake  []byte

	state atomic.Int32
	phase atomic.Int32
}

func NewEngine(tr Transport, cfg Config, opts ...Option) (*Engine, error) {
	if tr == nil {
		return nil, ErrTransportRequired
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	wakeAtom, err := schema.WakeRequest()
	if err != nil {
		return nil, err
	}
	wake, err := frame.Encode(wakeAtom)
	if err != nil {
		return nil, err
	}
	e := &Engine{
		tr:    tr,
		clock: SystemClock(),
		obs:   noopObserver{},
		cfg:   cfg,
		wake:  wake,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func (e *Engine) Config() Config {
	return e.cfg
}

// Clock is the time source the engine waits on.
func (e *Engine) Clock() Clock {
	return e.clock
}

func (e *Engine) State() ConnectionState {
	return ConnectionState(e.state.Load())
}

func (e *Engine) Phase() Phase {
	return Phase(e.phase.Load())
}

func (e *Engine) setState(s ConnectionState) {
	if prev := ConnectionState(e.state.Swap(int32(s))); prev != s {
		log.Debug().Msgf("session.Engine state %s -> %s", prev, s)
	}
}

func (e *Engine) setPhase(p Phase) {
	e.phase.Store(int32(p))
}

// Transact sends req and returns the matching response atom. Failures are
// *protocol.Error values classified from the attempt record.
func (e *Engine) Transact(req frame.Atom, policy RetryPolicy) (frame.Atom, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer e.setPhase(PhaseIdle)

	start := e.clock.Now()
	resp, rec, err := e.run(req, policy)
	elapsed := e.clock.Now().Sub(start)
	e.obs.TransactionDone(req.Type, rec.Attempts, elapsed, err)
	if err != nil {
		e.setPhase(PhaseFailed)
		log.Warn().Msgf("session.Transact type=%s attempts=%d elapsed=%s err=%v", req.Type, rec.Attempts, elapsed, err)
		return frame.Atom{}, err
	}
	log.Debug().Msgf("session.Transact type=%s attempts=%d elapsed=%s ok", req.Type, rec.Attempts, elapsed)
	return resp, nil
}

func (e *Engine) run(req frame.Atom, policy RetryPolicy) (frame.Atom, protocol.Record, error) {
	var rec protocol.Record
	op := req.Type.String()
	if err := policy.Validate(); err != nil {
		return frame.Atom{}, rec, err
	}
	wire, err := frame.Encode(req)
	if err != nil {
		rec.Add(protocol.FailureEncode, err)
		return frame.Atom{}, rec, protocol.Classify(op, rec)
	}

	woke := false
	if e.State() == StateAsleep && e.cfg.Wake.Enabled {
		if err := e.handshake(&rec); err != nil {
			return frame.Atom{}, rec, protocol.Classify(op, rec)
		}
		woke = true
	}

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			e.setPhase(PhaseRetrying)
			e.clock.Sleep(NextBackoffDelay(policy.Backoff, attempt))
		}
		rec.Attempts = attempt
		e.setPhase(PhaseSending)
		e.scan.Reset()
		if err := e.tr.Write(wire); err != nil {
			rec.Add(protocol.FailureTransport, err)
			return frame.Atom{}, rec, protocol.Classify(op, rec)
		}

		e.setPhase(PhaseAwaitingResponse)
		resp, failure, err := e.await(req.Type.Response(), policy.AttemptTimeout)
		if failure == protocol.FailureNone {
			e.setPhase(PhaseCompleted)
			if req.Type == frame.TypeSleep {
				e.setState(StateAsleep)
			} else {
				e.setState(StateAwake)
			}
			return resp, rec, nil
		}
		rec.Add(failure, err)
		if failure == protocol.FailureTransport {
			return frame.Atom{}, rec, protocol.Classify(op, rec)
		}
		if failure != protocol.FailureTimeout {
			e.obs.FrameRejected(failure)
		}
		log.Debug().Msgf("session.Transact type=%s attempt=%d/%d failure=%s", req.Type, attempt, policy.MaxAttempts, failure)

		if attempt == 1 && attempt < policy.MaxAttempts && failure == protocol.FailureTimeout && e.cfg.Wake.Enabled && !woke {
			if err := e.handshake(&rec); err != nil {
				return frame.Atom{}, rec, protocol.Classify(op, rec)
			}
			woke = true
		}
	}

	if rec.Last() == protocol.FailureTimeout {
		e.setState(StateUnknown)
	}
	return frame.Atom{}, rec, protocol.Classify(op, rec)
}

// handshake rouses a peer that may be asleep. It records FailureWake when
// the peer never acknowledges within the wake budget.
func (e *Engine) handshake(rec *protocol.Record) error {
	e.setPhase(PhaseWakingUp)
	e.setState(StateAsleep)
	var last error
	for i := 1; i <= e.cfg.Wake.MaxAttempts; i++ {
		e.scan.Reset()
		if err := e.tr.Write(e.wake); err != nil {
			rec.Add(protocol.FailureTransport, err)
			e.obs.WakeDone(i, err)
			return err
		}
		resp, failure, err := e.await(frame.TypeWake.Response(), e.cfg.Wake.Timeout)
		switch failure {
		case protocol.FailureNone:
			r, perr := schema.ParseResult(resp)
			if perr == nil && r.Succeeded() {
				e.setState(StateAwake)
				e.obs.WakeDone(i, nil)
				log.Info().Msgf("session.Engine wake acknowledged attempt=%d", i)
				return nil
			}
			if perr == nil {
				perr = fmt.Errorf("peer status %s", r.Status)
			}
			last = perr
		case protocol.FailureTransport:
			rec.Add(failure, err)
			e.obs.WakeDone(i, err)
			return err
		default:
			last = err
		}
		log.Debug().Msgf("session.Engine wake attempt=%d/%d err=%v", i, e.cfg.Wake.MaxAttempts, last)
	}
	err := fmt.Errorf("%w after %d attempts: %v", ErrWakeUnacknowledged, e.cfg.Wake.MaxAttempts, last)
	rec.Add(protocol.FailureWake, err)
	e.obs.WakeDone(e.cfg.Wake.MaxAttempts, err)
	return err
}

// await reads until a complete frame arrives or the attempt deadline passes.
// A frame that fails its checksum may be a marker inside noise, so the
// scanner resyncs one byte past it and reading continues; that failure is
// reported only if nothing valid follows before the deadline. A frame with
// a good checksum ends the attempt: either it is the expected response or
// it is reported as the attempt's failure.
func (e *Engine) await(expect frame.Type, timeout time.Duration) (frame.Atom, protocol.Failure, error) {
	deadline := e.clock.Now().Add(timeout)
	rejected, rejectErr := protocol.FailureNone, error(nil)
	for {
		if buf, ok := e.scan.Next(); ok {
			a, err := frame.Decode(buf)
			switch {
			case errors.Is(err, frame.ErrUnknownType):
				return frame.Atom{}, protocol.FailureUnknownType, err
			case err != nil:
				e.scan.Reject(buf)
				rejected, rejectErr = protocol.FailureTruncated, err
				if errors.Is(err, frame.ErrChecksumMismatch) {
					rejected = protocol.FailureChecksum
				}
				continue
			case a.Type != expect:
				return frame.Atom{}, protocol.FailureUnexpected, fmt.Errorf("%w: got %s want %s", ErrUnexpectedResponse, a.Type, expect)
			default:
				return a, protocol.FailureNone, nil
			}
		}
		remaining := deadline.Sub(e.clock.Now())
		if remaining <= 0 {
			switch {
			case rejected != protocol.FailureNone:
				return frame.Atom{}, rejected, rejectErr
			case e.scan.Pending():
				return frame.Atom{}, protocol.FailureTruncated, frame.ErrTruncated
			}
			return frame.Atom{}, protocol.FailureTimeout, ErrTimeout
		}
		chunk, err := e.tr.Read(e.cfg.ReadChunk, remaining)
		if err != nil {
			return frame.Atom{}, protocol.FailureTransport, err
		}
		e.scan.Feed(chunk)
	}
}
