package channel

import (
	"errors"
	"fmt"
	"sync"

	"github.com/danmuck/atomlink/internal/protocol"
	"github.com/danmuck/atomlink/internal/protocol/frame"
	"github.com/danmuck/atomlink/internal/protocol/schema"
	"github.com/danmuck/atomlink/internal/protocol/session"
	"github.com/rs/zerolog/log"
)

const (
	DefaultMaxChannels = 8
	// MaxChannels is the largest id space a one-byte channel id allows.
	MaxChannels = 255
	// MaxReceive is the largest receive window that still fits one frame.
	MaxReceive = schema.MaxSendData
)

// Transactor runs one exclusive request/response exchange.
type Transactor interface {
	Transact(req frame.Atom, policy session.RetryPolicy) (frame.Atom, error)
}

// Observer receives channel outcomes for metrics.
type Observer interface {
	ChannelOp(op string, bytes int, err error)
	ChannelsOpen(n int)
}

type noopObserver struct{}

func (noopObserver) ChannelOp(string, int, error) {}
func (noopObserver) ChannelsOpen(int)             {}

type State int

const (
	StateClosed State = iota
	StateOpening
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateOpening:
		return "opening"
	case StateOpen:
		return "open"
	default:
		return "closed"
	}
}

// Handle names one open of a channel id. The generation makes a handle
// stale once its channel closes, even if the id is reused.
type Handle struct {
	id  uint8
	gen uint32
}

func (h Handle) ID() uint8 {
	return h.id
}

type Config struct {
	MaxChannels int
	Policy      session.RetryPolicy
}

type Option func(*Manager)

func WithObserver(o Observer) Option {
	return func(m *Manager) {
		if o != nil {
			m.obs = o
		}
	}
}

type slot struct {
	name  string
	state State
	gen   uint32
}

// Manager owns the channel table. It holds its lock across the engine
// call, so table lock then engine lock is the only acquisition order.
type Manager struct {
	mu     sync.Mutex
	tr     Transactor
	policy session.RetryPolicy
	obs    Observer
	slots  []slot
}

func NewManager(tr Transactor, cfg Config, opts ...Option) *Manager {
	n := cfg.MaxChannels
	if n <= 0 {
		n = DefaultMaxChannels
	}
	if n > MaxChannels {
		n = MaxChannels
	}
	policy := cfg.Policy
	if policy.MaxAttempts == 0 && policy.AttemptTimeout == 0 {
		policy = session.DefaultRetryPolicy()
	}
	m := &Manager{
		tr:     tr,
		policy: policy,
		obs:    noopObserver{},
		slots:  make([]slot, n),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Open claims the lowest free id and asks the peer to open it.
func (m *Manager) Open(name string) (Handle, error) {
	const op = "channel.open"
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := -1
	for i := range m.slots {
		if m.slots[i].state == StateClosed {
			idx = i
			break
		}
	}
	if idx < 0 {
		err := protocol.StateError(op, fmt.Errorf("%w: %d in use", protocol.ErrNoChannelSlots, len(m.slots)))
		m.obs.ChannelOp(op, 0, err)
		return Handle{}, err
	}
	id := uint8(idx + 1)
	s := &m.slots[idx]
	s.gen++
	s.name = name
	s.state = StateOpening

	_, err := m.exchange(op, func() (frame.Atom, error) { return schema.ChannelOpenRequest(id, name) })
	m.obs.ChannelOp(op, 0, err)
	if err != nil {
		m.release(idx)
		log.Warn().Msgf("channel.Open id=%d name=%q err=%v", id, name, err)
		return Handle{}, err
	}
	s.state = StateOpen
	m.obs.ChannelsOpen(m.countLocked())
	log.Debug().Msgf("channel.Open id=%d name=%q gen=%d", id, name, s.gen)
	return Handle{id: id, gen: s.gen}, nil
}

// Send writes data to an open channel. A dropped, failed or disconnected
// send closes the channel locally.
func (m *Manager) Send(h Handle, data []byte) error {
	const op = "channel.send"
	m.mu.Lock()
	defer m.mu.Unlock()

	idx, err := m.openSlot(op, h)
	if err != nil {
		m.obs.ChannelOp(op, 0, err)
		return err
	}
	if len(data) > schema.MaxSendData {
		err := &protocol.Error{
			Kind: protocol.Communication,
			Op:   op,
			Last: protocol.FailureEncode,
			Err:  fmt.Errorf("%w: %d bytes exceeds %d", frame.ErrFrameTooLarge, len(data), schema.MaxSendData),
		}
		m.obs.ChannelOp(op, 0, err)
		return err
	}
	_, err = m.exchange(op, func() (frame.Atom, error) { return schema.SendRequest(h.id, data) })
	m.obs.ChannelOp(op, len(data), err)
	if err != nil {
		m.failed(idx, err)
		return err
	}
	log.Debug().Msgf("channel.Send id=%d bytes=%d", h.id, len(data))
	return nil
}

// Receive polls an open channel for at most maxLen bytes. An empty result
// with a nil error means the peer had nothing queued.
func (m *Manager) Receive(h Handle, maxLen int) ([]byte, error) {
	const op = "channel.receive"
	m.mu.Lock()
	defer m.mu.Unlock()

	idx, err := m.openSlot(op, h)
	if err != nil {
		m.obs.ChannelOp(op, 0, err)
		return nil, err
	}
	if maxLen <= 0 || maxLen > MaxReceive {
		maxLen = MaxReceive
	}
	r, err := m.exchange(op, func() (frame.Atom, error) { return schema.ReceiveRequest(h.id, uint16(maxLen)) })
	if err != nil {
		m.obs.ChannelOp(op, 0, err)
		m.failed(idx, err)
		return nil, err
	}
	data, err := r.Data()
	if err == nil && len(data) > maxLen {
		err = fmt.Errorf("received %d bytes, asked for at most %d", len(data), maxLen)
	}
	if err != nil {
		err = protocol.Malformed(op, err)
		m.obs.ChannelOp(op, 0, err)
		m.failed(idx, err)
		return nil, err
	}
	m.obs.ChannelOp(op, len(data), nil)
	log.Debug().Msgf("channel.Receive id=%d bytes=%d status=%s", h.id, len(data), r.Status)
	return data, nil
}

// Close is idempotent. Local state is released before the close request is
// sent, so a failed request never leaves the id held.
func (m *Manager) Close(h Handle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeLocked(h)
}

func (m *Manager) closeLocked(h Handle) error {
	const op = "channel.close"
	idx, ok := m.index(h)
	if !ok {
		err := protocol.StateError(op, fmt.Errorf("%w: id %d", protocol.ErrChannelUnknown, h.id))
		m.obs.ChannelOp(op, 0, err)
		return err
	}
	s := &m.slots[idx]
	if s.gen != h.gen || s.state == StateClosed {
		return nil
	}
	m.release(idx)
	m.obs.ChannelsOpen(m.countLocked())

	r, err := m.exchange(op, func() (frame.Atom, error) { return schema.ChannelCloseRequest(h.id) })
	if r.Status == schema.StatusChannelUnknown {
		// already gone on the peer
		err = nil
	}
	m.obs.ChannelOp(op, 0, err)
	if err != nil {
		log.Warn().Msgf("channel.Close id=%d err=%v", h.id, err)
		return err
	}
	log.Debug().Msgf("channel.Close id=%d", h.id)
	return nil
}

// CloseAll closes every open channel and joins the failures.
func (m *Manager) CloseAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var errs []error
	for i := range m.slots {
		s := m.slots[i]
		if s.state != StateOpen {
			continue
		}
		if err := m.closeLocked(Handle{id: uint8(i + 1), gen: s.gen}); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// State returns the channel state seen through h; stale handles are Closed.
func (m *Manager) State(h Handle) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx, ok := m.index(h)
	if !ok || m.slots[idx].gen != h.gen {
		return StateClosed
	}
	return m.slots[idx].state
}

func (m *Manager) Name(h Handle) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx, ok := m.index(h)
	if !ok || m.slots[idx].gen != h.gen {
		return ""
	}
	return m.slots[idx].name
}

// Count returns how many channels are open.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.countLocked()
}

func (m *Manager) Capacity() int {
	return len(m.slots)
}

func (m *Manager) countLocked() int {
	n := 0
	for _, s := range m.slots {
		if s.state == StateOpen {
			n++
		}
	}
	return n
}

func (m *Manager) index(h Handle) (int, bool) {
	if h.id == 0 || int(h.id) > len(m.slots) {
		return 0, false
	}
	return int(h.id) - 1, true
}

func (m *Manager) openSlot(op string, h Handle) (int, error) {
	idx, ok := m.index(h)
	if !ok {
		return 0, protocol.StateError(op, fmt.Errorf("%w: id %d", protocol.ErrChannelUnknown, h.id))
	}
	s := m.slots[idx]
	state := s.state
	if s.gen != h.gen {
		state = StateClosed
	}
	if state != StateOpen {
		return 0, protocol.StateError(op, fmt.Errorf("%w: channel %d is %s", protocol.ErrChannelState, h.id, state))
	}
	return idx, nil
}

func (m *Manager) release(idx int) {
	m.slots[idx].state = StateClosed
	m.slots[idx].name = ""
}

// failed closes the channel locally when err means the peer side of the
// channel can no longer be trusted.
func (m *Manager) failed(idx int, err error) {
	switch protocol.KindOf(err) {
	case protocol.Dropped, protocol.Communication, protocol.NotConnected:
		m.release(idx)
		m.obs.ChannelsOpen(m.countLocked())
		log.Info().Msgf("channel.Manager closed id=%d after %v", idx+1, protocol.KindOf(err))
	}
}

// exchange builds a request, runs it and maps the response status.
func (m *Manager) exchange(op string, build func() (frame.Atom, error)) (schema.Result, error) {
	req, err := build()
	if err != nil {
		var rec protocol.Record
		rec.Add(protocol.FailureEncode, err)
		return schema.Result{}, protocol.Classify(op, rec)
	}
	resp, err := m.tr.Transact(req, m.policy)
	if err != nil {
		return schema.Result{}, protocol.WithOp(err, op)
	}
	r, err := schema.ParseResult(resp)
	if err != nil {
		return schema.Result{}, protocol.Malformed(op, err)
	}
	if perr := protocol.FromStatus(op, r.Status); perr != nil {
		return r, perr
	}
	return r, nil
}
