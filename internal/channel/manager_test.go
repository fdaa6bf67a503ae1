package channel

import (
	"errors"
	"testing"

	"github.com/danmuck/atomlink/internal/protocol"
	"github.com/danmuck/atomlink/internal/protocol/frame"
	"github.com/danmuck/atomlink/internal/protocol/schema"
	"github.com/danmuck/atomlink/internal/protocol/session"
	"github.com/danmuck/atomlink/internal/protocol/tlv"
	"github.com/danmuck/atomlink/internal/testutil/atomstub"
	"github.com/danmuck/atomlink/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

func newStack(t *testing.T, cfg Config, opts ...Option) (*atomstub.Device, *atomstub.Peer, *Manager) {
	t.Helper()
	testlog.Start(t)
	clock := atomstub.NewClock()
	dev, peer := atomstub.NewDevicePeer(clock)
	dev.SetConnected(true)
	eng, err := session.NewEngine(peer, session.DefaultConfig(), session.WithClock(clock))
	require.NoError(t, err)
	return dev, peer, NewManager(eng, cfg, opts...)
}

func TestChannelLifecycle(t *testing.T) {
	dev, _, m := newStack(t, Config{})

	h, err := m.Open("telemetry")
	require.NoError(t, err)
	require.Equal(t, uint8(1), h.ID())
	require.Equal(t, StateOpen, m.State(h))
	require.Equal(t, "telemetry", m.Name(h))
	require.Equal(t, 1, m.Count())
	require.Equal(t, []uint8{1}, dev.Channels())

	require.NoError(t, m.Send(h, []byte("hello")))
	require.Equal(t, [][]byte{[]byte("hello")}, dev.Sent(1))

	dev.Queue(1, []byte("world"))
	got, err := m.Receive(h, 0)
	require.NoError(t, err)
	require.Equal(t, []byte("world"), got)

	got, err = m.Receive(h, 0)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Empty(t, got)
	require.Equal(t, StateOpen, m.State(h))

	require.NoError(t, m.Close(h))
	require.Equal(t, StateClosed, m.State(h))
	require.Empty(t, dev.Channels())
	require.Zero(t, m.Count())
	require.NoError(t, m.Close(h))

	err = m.Send(h, []byte("late"))
	require.ErrorIs(t, err, protocol.Channel)
	require.ErrorIs(t, err, protocol.ErrChannelState)
	_, err = m.Receive(h, 0)
	require.ErrorIs(t, err, protocol.Channel)
}

func TestOpenReusesLowestIDAndStaleHandlesStayClosed(t *testing.T) {
	dev, _, m := newStack(t, Config{})

	a, err := m.Open("a")
	require.NoError(t, err)
	b, err := m.Open("b")
	require.NoError(t, err)
	c, err := m.Open("c")
	require.NoError(t, err)
	require.Equal(t, []uint8{1, 2, 3}, []uint8{a.ID(), b.ID(), c.ID()})

	require.NoError(t, m.Close(b))
	d, err := m.Open("d")
	require.NoError(t, err)
	require.Equal(t, uint8(2), d.ID())

	require.Equal(t, StateClosed, m.State(b))
	require.Equal(t, StateOpen, m.State(d))
	require.Empty(t, m.Name(b))
	require.ErrorIs(t, m.Send(b, []byte("x")), protocol.Channel)
	require.NoError(t, m.Close(b))
	require.Equal(t, StateOpen, m.State(d))
	require.Equal(t, []uint8{1, 2, 3}, dev.Channels())
}

func TestOpenFailsWhenSlotsExhausted(t *testing.T) {
	_, peer, m := newStack(t, Config{MaxChannels: 2})

	_, err := m.Open("a")
	require.NoError(t, err)
	_, err = m.Open("b")
	require.NoError(t, err)
	_, err = m.Open("c")
	require.ErrorIs(t, err, protocol.Channel)
	require.ErrorIs(t, err, protocol.ErrNoChannelSlots)
	require.Equal(t, 2, peer.Count(frame.TypeChannelOpen))
	require.Equal(t, 2, m.Capacity())
}

func TestRejectedOpenLeavesSlotClosed(t *testing.T) {
	dev, _, m := newStack(t, Config{})
	dev.RejectOpen = true

	h, err := m.Open("nope")
	require.ErrorIs(t, err, protocol.Channel)
	require.Equal(t, StateClosed, m.State(h))
	require.Zero(t, m.Count())

	dev.RejectOpen = false
	h, err = m.Open("yes")
	require.NoError(t, err)
	require.Equal(t, uint8(1), h.ID())
}

func TestOpenWithoutConnectionIsNotConnected(t *testing.T) {
	dev, _, m := newStack(t, Config{})
	dev.SetConnected(false)

	_, err := m.Open("a")
	require.ErrorIs(t, err, protocol.NotConnected)
	require.Zero(t, m.Count())
}

func TestDroppedSendClosesChannel(t *testing.T) {
	dev, _, m := newStack(t, Config{})
	h, err := m.Open("a")
	require.NoError(t, err)
	dev.DropSends = true

	err = m.Send(h, []byte("payload"))
	require.ErrorIs(t, err, protocol.Dropped)
	require.Equal(t, StateClosed, m.State(h))
}

func TestDisconnectClosesChannel(t *testing.T) {
	dev, _, m := newStack(t, Config{})
	h, err := m.Open("a")
	require.NoError(t, err)
	dev.SetConnected(false)

	err = m.Send(h, []byte("payload"))
	require.ErrorIs(t, err, protocol.NotConnected)
	require.Equal(t, StateClosed, m.State(h))
}

func TestReceiveSilenceIsNoDataAndKeepsChannel(t *testing.T) {
	dev, peer, m := newStack(t, Config{})
	h, err := m.Open("a")
	require.NoError(t, err)
	dev.SetSilent(frame.TypeReceive, 100)

	_, err = m.Receive(h, 16)
	require.ErrorIs(t, err, protocol.NoData)
	require.Equal(t, session.DefaultMaxAttempts, peer.Count(frame.TypeReceive))
	require.Equal(t, StateOpen, m.State(h))
}

func TestReceiveHonoursMaxLen(t *testing.T) {
	dev, _, m := newStack(t, Config{})
	h, err := m.Open("a")
	require.NoError(t, err)
	dev.Queue(1, []byte("0123456789"))

	got, err := m.Receive(h, 4)
	require.NoError(t, err)
	require.Equal(t, []byte("0123"), got)
}

func TestReceiveLongerThanMaxLenIsMalformed(t *testing.T) {
	testlog.Start(t)
	m := NewManager(scripted{fn: func(req frame.Atom) (frame.Atom, error) {
		if req.Type == frame.TypeReceive {
			return schema.NewResult(req.Type, schema.StatusOK, tlv.Bytes(schema.FieldData, []byte("0123456789")))
		}
		return result(t, req, schema.StatusOK), nil
	}}, Config{})

	h, err := m.Open("a")
	require.NoError(t, err)
	got, err := m.Receive(h, 4)
	require.Nil(t, got)
	require.ErrorIs(t, err, protocol.Communication)
	var pe *protocol.Error
	require.ErrorAs(t, err, &pe)
	require.Equal(t, "channel.receive", pe.Op)
	require.Equal(t, StateClosed, m.State(h))
}

func TestOversizeSendIsRejectedLocally(t *testing.T) {
	_, peer, m := newStack(t, Config{})
	h, err := m.Open("a")
	require.NoError(t, err)

	err = m.Send(h, make([]byte, schema.MaxSendData+1))
	require.ErrorIs(t, err, protocol.Communication)
	require.ErrorIs(t, err, frame.ErrFrameTooLarge)
	require.Zero(t, peer.Count(frame.TypeSend))
	require.Equal(t, StateOpen, m.State(h))

	require.NoError(t, m.Send(h, make([]byte, schema.MaxSendData)))
}

func TestCloseAll(t *testing.T) {
	dev, _, m := newStack(t, Config{})
	for _, name := range []string{"a", "b", "c"} {
		_, err := m.Open(name)
		require.NoError(t, err)
	}
	require.NoError(t, m.CloseAll())
	require.Zero(t, m.Count())
	require.Empty(t, dev.Channels())
}

func TestUnknownHandle(t *testing.T) {
	_, _, m := newStack(t, Config{})
	err := m.Close(Handle{})
	require.ErrorIs(t, err, protocol.Channel)
	require.ErrorIs(t, err, protocol.ErrChannelUnknown)
	require.Equal(t, StateClosed, m.State(Handle{id: 200}))
}

// scripted answers every request through fn.
type scripted struct {
	fn func(req frame.Atom) (frame.Atom, error)
}

func (s scripted) Transact(req frame.Atom, _ session.RetryPolicy) (frame.Atom, error) {
	return s.fn(req)
}

func result(t *testing.T, req frame.Atom, st schema.Status) frame.Atom {
	t.Helper()
	a, err := schema.NewResult(req.Type, st)
	require.NoError(t, err)
	return a
}

func TestCloseReleasesSlotEvenWhenRequestFails(t *testing.T) {
	testlog.Start(t)
	failClose := false
	m := NewManager(scripted{fn: func(req frame.Atom) (frame.Atom, error) {
		if req.Type == frame.TypeChannelClose && failClose {
			return frame.Atom{}, &protocol.Error{Kind: protocol.Communication, Last: protocol.FailureTransport, Err: errors.New("port closed")}
		}
		return result(t, req, schema.StatusOK), nil
	}}, Config{})

	h, err := m.Open("a")
	require.NoError(t, err)
	failClose = true
	err = m.Close(h)
	require.ErrorIs(t, err, protocol.Communication)
	var pe *protocol.Error
	require.ErrorAs(t, err, &pe)
	require.Equal(t, "channel.close", pe.Op)
	require.Equal(t, StateClosed, m.State(h))
	require.Zero(t, m.Count())
}

func TestClosePeerUnknownIsNotAnError(t *testing.T) {
	testlog.Start(t)
	m := NewManager(scripted{fn: func(req frame.Atom) (frame.Atom, error) {
		if req.Type == frame.TypeChannelClose {
			return result(t, req, schema.StatusChannelUnknown), nil
		}
		return result(t, req, schema.StatusOK), nil
	}}, Config{})

	h, err := m.Open("a")
	require.NoError(t, err)
	require.NoError(t, m.Close(h))
}

func TestMalformedResponseIsCommunication(t *testing.T) {
	testlog.Start(t)
	m := NewManager(scripted{fn: func(req frame.Atom) (frame.Atom, error) {
		return frame.Atom{Type: req.Type.Response(), Payload: []byte{0x01}}, nil
	}}, Config{})

	_, err := m.Open("a")
	require.ErrorIs(t, err, protocol.Communication)
	require.Zero(t, m.Count())
}

type countingObserver struct {
	ops  map[string]int
	errs int
	open int
}

func (o *countingObserver) ChannelOp(op string, _ int, err error) {
	o.ops[op]++
	if err != nil {
		o.errs++
	}
}

func (o *countingObserver) ChannelsOpen(n int) {
	o.open = n
}

func TestObserverSeesChannelOps(t *testing.T) {
	obs := &countingObserver{ops: map[string]int{}}
	_, _, m := newStack(t, Config{}, WithObserver(obs))

	h, err := m.Open("a")
	require.NoError(t, err)
	require.Equal(t, 1, obs.open)
	require.NoError(t, m.Send(h, []byte("x")))
	_, err = m.Receive(h, 0)
	require.NoError(t, err)
	require.NoError(t, m.Close(h))

	require.Equal(t, map[string]int{"channel.open": 1, "channel.send": 1, "channel.receive": 1, "channel.close": 1}, obs.ops)
	require.Zero(t, obs.errs)
	require.Zero(t, obs.open)
}
