package session

import (
	"errors"
	"fmt"
	"time"
)

const (
	DefaultMaxAttempts    = 3
	DefaultAttemptTimeout = 500 * time.Millisecond

	DefaultWakeAttempts = 2
	DefaultWakeTimeout  = 250 * time.Millisecond

	DefaultReadChunk = 64

	// PollBudget is the wall-clock budget the poll retry constant is sized for.
	PollBudget = 5 * time.Second
	// PollRetries5s is how many default-timeout attempts fit in PollBudget.
	PollRetries5s = int(PollBudget / DefaultAttemptTimeout)
	// PollWait paces status polls so PollRetries5s of them span PollBudget.
	PollWait = PollBudget / time.Duration(PollRetries5s)
)

var ErrInvalidConfig = errors.New("session: invalid config")

// BackoffConfig defines the delay inserted between retry attempts.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
}

// RetryPolicy bounds one transaction.
type RetryPolicy struct {
	MaxAttempts    int
	AttemptTimeout time.Duration
	Backoff        BackoffConfig
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    DefaultMaxAttempts,
		AttemptTimeout: DefaultAttemptTimeout,
	}
}

// WorstCase is the longest the request phase of a transaction can take.
func (p RetryPolicy) WorstCase() time.Duration {
	total := time.Duration(p.MaxAttempts) * p.AttemptTimeout
	for attempt := 2; attempt <= p.MaxAttempts; attempt++ {
		total += NextBackoffDelay(p.Backoff, attempt)
	}
	return total
}

func (p RetryPolicy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("%w: max_attempts must be >= 1", ErrInvalidConfig)
	}
	if p.AttemptTimeout <= 0 {
		return fmt.Errorf("%w: attempt_timeout must be > 0", ErrInvalidConfig)
	}
	if p.Backoff.InitialDelay < 0 || p.Backoff.MaxDelay < 0 {
		return fmt.Errorf("%w: backoff delays must be >= 0", ErrInvalidConfig)
	}
	return nil
}

// WakeConfig controls the keep-awake handshake.
type WakeConfig struct {
	Enabled     bool
	MaxAttempts int
	Timeout     time.Duration
}

func (w WakeConfig) Budget() time.Duration {
	if !w.Enabled {
		return 0
	}
	return time.Duration(w.MaxAttempts) * w.Timeout
}

// Config defines engine defaults.
type Config struct {
	Retry     RetryPolicy
	Wake      WakeConfig
	ReadChunk int
}

// DefaultConfig returns defaults sized so PollRetries5s attempts fit the poll budget.
func DefaultConfig() Config {
	return Config{
		Retry: DefaultRetryPolicy(),
		Wake: WakeConfig{
			Enabled:     true,
			MaxAttempts: DefaultWakeAttempts,
			Timeout:     DefaultWakeTimeout,
		},
		ReadChunk: DefaultReadChunk,
	}
}

// WithDefaults fills zero values.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = d.Retry.MaxAttempts
	}
	if c.Retry.AttemptTimeout == 0 {
		c.Retry.AttemptTimeout = d.Retry.AttemptTimeout
	}
	if c.Wake.MaxAttempts == 0 {
		c.Wake.MaxAttempts = d.Wake.MaxAttempts
	}
	if c.Wake.Timeout == 0 {
		c.Wake.Timeout = d.Wake.Timeout
	}
	if c.ReadChunk <= 0 {
		c.ReadChunk = d.ReadChunk
	}
	return c
}

func (c Config) Validate() error {
	if err := c.Retry.Validate(); err != nil {
		return err
	}
	if c.Wake.Enabled && (c.Wake.MaxAttempts < 1 || c.Wake.Timeout <= 0) {
		return fmt.Errorf("%w: wake needs max_attempts >= 1 and timeout > 0", ErrInvalidConfig)
	}
	return nil
}

// WorstCase bounds one default-policy transaction including the wake handshake.
func (c Config) WorstCase() time.Duration {
	return c.Retry.WorstCase() + c.Wake.Budget()
}

// RetriesWithin returns how many attempts of perAttempt fit inside budget.
func RetriesWithin(budget, perAttempt time.Duration) int {
	if perAttempt <= 0 {
		return 0
	}
	return int(budget / perAttempt)
}
