package atomlink

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/danmuck/atomlink/internal/channel"
	"github.com/danmuck/atomlink/internal/config"
	"github.com/danmuck/atomlink/internal/protocol"
	"github.com/danmuck/atomlink/internal/protocol/frame"
	"github.com/danmuck/atomlink/internal/protocol/schema"
	"github.com/danmuck/atomlink/internal/protocol/session"
	"github.com/danmuck/atomlink/internal/transport/serialport"
	"github.com/rs/zerolog/log"
)

type (
	// Transport is the byte link to the module.
	Transport       = session.Transport
	Info            = schema.Info
	ConnectionState = session.ConnectionState
	RetryPolicy     = session.RetryPolicy
)

const (
	StateUnknown = session.StateUnknown
	StateAwake   = session.StateAwake
	StateAsleep  = session.StateAsleep
)

// Client drives one Atom. It is safe for concurrent use; calls are
// serialized on the link.
type Client struct {
	mu        sync.Mutex
	engine    *session.Engine
	channels  *channel.Manager
	policy    session.RetryPolicy
	closer    io.Closer
	connected bool
	closed    bool
}

func New(tr Transport, opts ...Option) (*Client, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	var engineOpts []session.Option
	if o.clock != nil {
		engineOpts = append(engineOpts, session.WithClock(o.clock))
	}
	if o.sessionObs != nil {
		engineOpts = append(engineOpts, session.WithObserver(o.sessionObs))
	}
	engine, err := session.NewEngine(tr, o.cfg, engineOpts...)
	if err != nil {
		return nil, err
	}
	var chanOpts []channel.Option
	if o.channelObs != nil {
		chanOpts = append(chanOpts, channel.WithObserver(o.channelObs))
	}
	policy := engine.Config().Retry
	return &Client{
		engine:   engine,
		channels: channel.NewManager(engine, channel.Config{MaxChannels: o.maxChannels, Policy: policy}, chanOpts...),
		policy:   policy,
		closer:   o.closer,
	}, nil
}

// Dial opens the serial port named in cfg and returns a client over it.
func Dial(cfg config.Config, opts ...Option) (*Client, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	port, err := serialport.Open(cfg.Serial.Port, cfg.Serial.Baud)
	if err != nil {
		return nil, err
	}
	base := []Option{
		WithConfig(cfg.Session()),
		WithMaxChannels(cfg.MaxChannels),
		WithMetrics(port.Name()),
		WithCloser(port),
	}
	c, err := New(port, append(base, opts...)...)
	if err != nil {
		_ = port.Close()
		return nil, err
	}
	return c, nil
}

// State is the last known power state of the module.
func (c *Client) State() ConnectionState {
	return c.engine.State()
}

// Info queries the module. The result is never cached.
func (c *Client) Info() (Info, error) {
	r, err := c.call("info", false, schema.InfoRequest)
	if err != nil {
		return Info{}, err
	}
	info, err := r.Info()
	if err != nil {
		return Info{}, protocol.Malformed("info", err)
	}
	return info, nil
}

// Connect joins the network and polls Connected up to retries times
// (PollRetries5s when retries <= 0), one poll per PollWait. quick asks the
// module to reuse a previous session.
func (c *Client) Connect(quick bool, retries int) error {
	const op = "connect"
	if retries <= 0 {
		retries = PollRetries5s
	}
	if _, err := c.call(op, false, func() (frame.Atom, error) { return schema.ConnectRequest(quick) }); err != nil {
		return err
	}
	clock := c.engine.Clock()
	for i := 1; i <= retries; i++ {
		start := clock.Now()
		ok, err := c.Connected()
		if err != nil {
			return protocol.WithOp(err, op)
		}
		if ok {
			log.Info().Msgf("atomlink.Connect quick=%t polls=%d", quick, i)
			return nil
		}
		clock.Sleep(PollWait - clock.Now().Sub(start))
	}
	return &protocol.Error{
		Kind:     protocol.NotConnected,
		Op:       op,
		Attempts: retries,
		Err:      fmt.Errorf("%w after %d polls", ErrNotConnected, retries),
	}
}

// Connected asks the module whether it is on the network.
func (c *Client) Connected() (bool, error) {
	r, err := c.call("connected", false, schema.ConnectedRequest)
	if err != nil {
		return false, err
	}
	ok, err := r.Connected()
	if err != nil {
		return false, protocol.Malformed("connected", err)
	}
	c.mu.Lock()
	c.connected = ok
	c.mu.Unlock()
	return ok, nil
}

// Sleep puts the module to sleep. The next call wakes it first.
func (c *Client) Sleep() error {
	_, err := c.call("sleep", false, schema.SleepRequest)
	return err
}

// OpenChannel opens a named channel. Connect must have succeeded.
func (c *Client) OpenChannel(name string) (*Channel, error) {
	const op = "channel.open"
	if err := c.ready(op, true); err != nil {
		return nil, err
	}
	h, err := c.channels.Open(name)
	if err != nil {
		c.observe(err)
		return nil, err
	}
	return &Channel{client: c, handle: h, name: name}, nil
}

// Close closes open channels and the underlying port. Later calls fail
// with NotConnected.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.connected = false
	c.mu.Unlock()

	var errs []error
	if err := c.channels.CloseAll(); err != nil {
		errs = append(errs, err)
	}
	if c.closer != nil {
		if err := c.closer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	log.Debug().Msgf("atomlink.Close errors=%d", len(errs))
	return errors.Join(errs...)
}

func (c *Client) ready(op string, needConnect bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return protocol.Closed(op, nil)
	}
	if needConnect && !c.connected {
		return protocol.Closed(op, ErrNotConnected)
	}
	return nil
}

// observe drops the connected flag when the module reports it left the
// network.
func (c *Client) observe(err error) {
	if protocol.KindOf(err) != protocol.NotConnected {
		return
	}
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
}

// call runs one request and maps the response status.
func (c *Client) call(op string, needConnect bool, build func() (frame.Atom, error)) (schema.Result, error) {
	if err := c.ready(op, needConnect); err != nil {
		return schema.Result{}, err
	}
	req, err := build()
	if err != nil {
		var rec protocol.Record
		rec.Add(protocol.FailureEncode, err)
		return schema.Result{}, protocol.Classify(op, rec)
	}
	resp, err := c.engine.Transact(req, c.policy)
	if err != nil {
		return schema.Result{}, protocol.WithOp(err, op)
	}
	r, err := schema.ParseResult(resp)
	if err != nil {
		return schema.Result{}, protocol.Malformed(op, err)
	}
	if perr := protocol.FromStatus(op, r.Status); perr != nil {
		c.observe(perr)
		return schema.Result{}, perr
	}
	return r, nil
}
