package atomlink

import (
	"testing"
	"time"

	"github.com/danmuck/atomlink/internal/config"
	"github.com/danmuck/atomlink/internal/protocol/frame"
	"github.com/danmuck/atomlink/internal/testutil/atomstub"
	"github.com/danmuck/atomlink/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

type closeCounter struct {
	n int
}

func (c *closeCounter) Close() error {
	c.n++
	return nil
}

func newClient(t *testing.T, opts ...Option) (*atomstub.Device, *atomstub.Peer, *Client) {
	t.Helper()
	testlog.Start(t)
	clock := atomstub.NewClock()
	dev, peer := atomstub.NewDevicePeer(clock)
	c, err := New(peer, append([]Option{WithClock(clock)}, opts...)...)
	require.NoError(t, err)
	return dev, peer, c
}

func connected(t *testing.T, opts ...Option) (*atomstub.Device, *atomstub.Peer, *Client) {
	t.Helper()
	dev, peer, c := newClient(t, opts...)
	require.NoError(t, c.Connect(false, 0))
	return dev, peer, c
}

func TestInfo(t *testing.T) {
	dev, peer, c := newClient(t)
	info, err := c.Info()
	require.NoError(t, err)
	require.Equal(t, dev.Info, info)

	_, err = c.Info()
	require.NoError(t, err)
	require.Equal(t, 2, peer.Count(frame.TypeInfo))
}

func TestConnectPollsUntilConnected(t *testing.T) {
	dev, peer, c := newClient(t)
	dev.ConnectPolls = 3

	require.NoError(t, c.Connect(true, 0))
	require.Equal(t, 1, peer.Count(frame.TypeConnect))
	require.Equal(t, 4, peer.Count(frame.TypeConnected))

	ok, err := c.Connected()
	require.NoError(t, err)
	require.True(t, ok)
}

func TestConnectGivesUpAfterRetries(t *testing.T) {
	dev, peer, c := newClient(t)
	dev.ConnectPolls = 50

	err := c.Connect(false, 5)
	require.ErrorIs(t, err, NotConnected)
	require.ErrorIs(t, err, ErrNotConnected)
	require.Equal(t, 5, peer.Count(frame.TypeConnected))
}

func TestConnectPollsSpanPollBudget(t *testing.T) {
	testlog.Start(t)
	clock := atomstub.NewClock()
	dev, peer := atomstub.NewDevicePeer(clock)
	dev.ConnectPolls = 12
	c, err := New(peer, WithClock(clock))
	require.NoError(t, err)

	start := clock.Now()
	err = c.Connect(false, 0)
	elapsed := clock.Now().Sub(start)

	require.ErrorIs(t, err, NotConnected)
	require.Equal(t, PollRetries5s, peer.Count(frame.TypeConnected))
	require.Equal(t, time.Duration(PollBudget), elapsed)
}

func TestConnectWaitsBetweenPolls(t *testing.T) {
	testlog.Start(t)
	clock := atomstub.NewClock()
	dev, peer := atomstub.NewDevicePeer(clock)
	dev.ConnectPolls = 3
	c, err := New(peer, WithClock(clock))
	require.NoError(t, err)

	start := clock.Now()
	require.NoError(t, c.Connect(false, 0))
	require.Equal(t, 4, peer.Count(frame.TypeConnected))
	require.Equal(t, 3*time.Duration(PollWait), clock.Now().Sub(start))
}

func TestChannelsRequireConnect(t *testing.T) {
	_, peer, c := newClient(t)
	_, err := c.OpenChannel("telemetry")
	require.ErrorIs(t, err, NotConnected)
	require.Zero(t, peer.Count(frame.TypeChannelOpen))
}

func TestChannelLifecycleThroughClient(t *testing.T) {
	dev, _, c := connected(t)

	ch, err := c.OpenChannel("telemetry")
	require.NoError(t, err)
	require.Equal(t, uint8(1), ch.ID())
	require.Equal(t, "telemetry", ch.Name())
	require.Equal(t, ChannelOpen, ch.State())

	require.NoError(t, ch.Send([]byte("reading=42")))
	require.Equal(t, [][]byte{[]byte("reading=42")}, dev.Sent(1))

	dev.Queue(1, []byte("ack"))
	got, err := ch.Receive(0)
	require.NoError(t, err)
	require.Equal(t, []byte("ack"), got)

	got, err = ch.Receive(0)
	require.NoError(t, err)
	require.Empty(t, got)

	require.NoError(t, ch.Close())
	require.Equal(t, ChannelClosed, ch.State())
	require.NoError(t, ch.Close())

	err = ch.Send([]byte("late"))
	require.ErrorIs(t, err, ChannelFailure)
	require.ErrorIs(t, err, ErrChannelState)
}

func TestSleepThenCallWakes(t *testing.T) {
	dev, peer, c := newClient(t)

	require.NoError(t, c.Sleep())
	require.True(t, dev.Asleep())
	require.Equal(t, StateAsleep, c.State())

	_, err := c.Info()
	require.NoError(t, err)
	require.Equal(t, 1, peer.Count(frame.TypeWake))
	require.Equal(t, StateAwake, c.State())
}

func TestSilentModuleIsNoDataWithinBound(t *testing.T) {
	testlog.Start(t)
	clock := atomstub.NewClock()
	peer := atomstub.NewPeer(clock, nil)
	policy := RetryPolicy{MaxAttempts: 4, AttemptTimeout: 250 * time.Millisecond}
	c, err := New(peer, WithClock(clock), WithWake(false), WithRetryPolicy(policy))
	require.NoError(t, err)

	start := clock.Now()
	_, err = c.Info()
	require.ErrorIs(t, err, NoData)
	require.LessOrEqual(t, clock.Now().Sub(start), policy.WorstCase())
	require.Equal(t, 4, peer.Count(frame.TypeInfo))
}

func TestAsleepModuleThatNeverWakesIsKeepAwake(t *testing.T) {
	dev, _, c := newClient(t)
	dev.SetAsleep(true)
	dev.SetSilent(frame.TypeWake, 100)

	_, err := c.Info()
	require.ErrorIs(t, err, KeepAwake)
	require.Equal(t, KeepAwake, KindOf(err))
}

func TestDisconnectFailsChannelOps(t *testing.T) {
	dev, peer, c := connected(t)
	ch, err := c.OpenChannel("a")
	require.NoError(t, err)

	dev.SetConnected(false)
	require.ErrorIs(t, ch.Send([]byte("x")), NotConnected)
	require.Equal(t, ChannelClosed, ch.State())

	_, err = c.OpenChannel("b")
	require.ErrorIs(t, err, NotConnected)
	require.Equal(t, 1, peer.Count(frame.TypeChannelOpen))
}

func TestCloseReleasesEverything(t *testing.T) {
	closer := &closeCounter{}
	dev, _, c := connected(t, WithCloser(closer))
	a, err := c.OpenChannel("a")
	require.NoError(t, err)
	_, err = c.OpenChannel("b")
	require.NoError(t, err)
	require.Equal(t, []uint8{1, 2}, dev.Channels())

	require.NoError(t, c.Close())
	require.Empty(t, dev.Channels())
	require.Equal(t, 1, closer.n)
	require.Equal(t, ChannelClosed, a.State())
	require.NoError(t, a.Close())

	_, err = c.Info()
	require.ErrorIs(t, err, NotConnected)
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, a.Send([]byte("x")), NotConnected)

	require.NoError(t, c.Close())
	require.Equal(t, 1, closer.n)
}

func TestPollConstants(t *testing.T) {
	testlog.Start(t)
	require.Equal(t, 5*time.Second, time.Duration(PollBudget))
	require.Equal(t, 10, PollRetries5s)
	require.Equal(t, PollRetries5s, RetriesWithin(PollBudget, 500*time.Millisecond))
	require.Equal(t, 20, RetriesWithin(PollBudget, 250*time.Millisecond))
}

func TestDialRejectsInvalidConfig(t *testing.T) {
	testlog.Start(t)
	_, err := Dial(config.Config{})
	require.ErrorIs(t, err, config.ErrInvalid)
}
