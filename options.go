package atomlink

import (
	"io"
	"time"

	"github.com/danmuck/atomlink/internal/channel"
	"github.com/danmuck/atomlink/internal/observability"
	"github.com/danmuck/atomlink/internal/protocol/session"
)

const (
	// PollBudget is the wall-clock budget PollRetries5s is sized for.
	PollBudget = session.PollBudget
	// PollRetries5s is the default number of connected polls in Connect.
	PollRetries5s = session.PollRetries5s
	// PollWait is the pause between connected polls in Connect.
	PollWait = session.PollWait
)

// RetriesWithin returns how many attempts of perAttempt fit in budget.
func RetriesWithin(budget, perAttempt time.Duration) int {
	return session.RetriesWithin(budget, perAttempt)
}

type Option func(*options)

type options struct {
	cfg         session.Config
	maxChannels int
	clock       session.Clock
	sessionObs  session.Observer
	channelObs  channel.Observer
	closer      io.Closer
}

func defaultOptions() options {
	return options{
		cfg:         session.DefaultConfig(),
		maxChannels: channel.DefaultMaxChannels,
	}
}

// WithConfig replaces the engine configuration.
func WithConfig(cfg session.Config) Option {
	return func(o *options) {
		o.cfg = cfg
	}
}

// WithRetryPolicy sets the per-call retry policy.
func WithRetryPolicy(p session.RetryPolicy) Option {
	return func(o *options) {
		o.cfg.Retry = p
	}
}

// WithWake enables or disables the keep-awake handshake.
func WithWake(enabled bool) Option {
	return func(o *options) {
		o.cfg.Wake.Enabled = enabled
	}
}

func WithMaxChannels(n int) Option {
	return func(o *options) {
		o.maxChannels = n
	}
}

func WithClock(c session.Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

// WithMetrics records prometheus metrics labelled with port.
func WithMetrics(port string) Option {
	return func(o *options) {
		m := observability.NewMetrics(port)
		o.sessionObs = m
		o.channelObs = m
	}
}

// WithCloser closes c when the client closes.
func WithCloser(c io.Closer) Option {
	return func(o *options) {
		o.closer = c
	}
}
