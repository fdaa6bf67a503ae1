package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/atomlink/internal/channel"
	"github.com/danmuck/atomlink/internal/logging"
	"github.com/danmuck/atomlink/internal/protocol/session"
	"github.com/danmuck/atomlink/internal/transport/serialport"
	"github.com/rs/zerolog/log"
)

var ErrInvalid = errors.New("config: invalid")

// Config is the resolved atomctl configuration.
type Config struct {
	Serial      SerialConfig
	Retry       session.RetryPolicy
	Wake        session.WakeConfig
	MaxChannels int
	LogLevel    string
	MetricsAddr string
}

type SerialConfig struct {
	Port string
	Baud serialport.Baud
}

type fileConfig struct {
	Serial struct {
		Port string `toml:"port"`
		Baud int    `toml:"baud"`
	} `toml:"serial"`
	Retry struct {
		MaxAttempts       int     `toml:"max_attempts"`
		AttemptTimeout    string  `toml:"attempt_timeout"`
		BackoffInitial    string  `toml:"backoff_initial"`
		BackoffMultiplier float64 `toml:"backoff_multiplier"`
		BackoffMax        string  `toml:"backoff_max"`
	} `toml:"retry"`
	Wake struct {
		Enabled     bool   `toml:"enabled"`
		MaxAttempts int    `toml:"max_attempts"`
		Timeout     string `toml:"timeout"`
	} `toml:"wake"`
	Channels struct {
		Max int `toml:"max"`
	} `toml:"channels"`
	Log struct {
		Level string `toml:"level"`
	} `toml:"log"`
	Metrics struct {
		Addr string `toml:"addr"`
	} `toml:"metrics"`
}

func Default() Config {
	d := session.DefaultConfig()
	return Config{
		Serial:      SerialConfig{Baud: serialport.DefaultBaud},
		Retry:       d.Retry,
		Wake:        d.Wake,
		MaxChannels: channel.DefaultMaxChannels,
		LogLevel:    "info",
	}
}

// Load reads path, applies the keys it defines over Default and validates.
func Load(path string) (Config, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	return resolve(meta, raw)
}

// Parse is Load for in-memory TOML.
func Parse(data string) (Config, error) {
	var raw fileConfig
	meta, err := toml.Decode(data, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("config parse failed: %w", err)
	}
	return resolve(meta, raw)
}

func resolve(meta toml.MetaData, raw fileConfig) (Config, error) {
	cfg := Default()
	for _, key := range meta.Undecoded() {
		log.Warn().Msgf("config.Load unknown key=%s", key.String())
	}

	if meta.IsDefined("serial", "port") {
		cfg.Serial.Port = strings.TrimSpace(raw.Serial.Port)
	}
	if meta.IsDefined("serial", "baud") {
		cfg.Serial.Baud = serialport.Baud(raw.Serial.Baud)
	}

	if meta.IsDefined("retry", "max_attempts") {
		cfg.Retry.MaxAttempts = raw.Retry.MaxAttempts
	}
	if err := setDuration(meta, &cfg.Retry.AttemptTimeout, raw.Retry.AttemptTimeout, "retry", "attempt_timeout"); err != nil {
		return Config{}, err
	}
	if err := setDuration(meta, &cfg.Retry.Backoff.InitialDelay, raw.Retry.BackoffInitial, "retry", "backoff_initial"); err != nil {
		return Config{}, err
	}
	if meta.IsDefined("retry", "backoff_multiplier") {
		cfg.Retry.Backoff.Multiplier = raw.Retry.BackoffMultiplier
	}
	if err := setDuration(meta, &cfg.Retry.Backoff.MaxDelay, raw.Retry.BackoffMax, "retry", "backoff_max"); err != nil {
		return Config{}, err
	}

	if meta.IsDefined("wake", "enabled") {
		cfg.Wake.Enabled = raw.Wake.Enabled
	}
	if meta.IsDefined("wake", "max_attempts") {
		cfg.Wake.MaxAttempts = raw.Wake.MaxAttempts
	}
	if err := setDuration(meta, &cfg.Wake.Timeout, raw.Wake.Timeout, "wake", "timeout"); err != nil {
		return Config{}, err
	}

	if meta.IsDefined("channels", "max") {
		cfg.MaxChannels = raw.Channels.Max
	}
	if meta.IsDefined("log", "level") {
		cfg.LogLevel = strings.TrimSpace(raw.Log.Level)
	}
	if meta.IsDefined("metrics", "addr") {
		cfg.MetricsAddr = strings.TrimSpace(raw.Metrics.Addr)
	}

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDuration(meta toml.MetaData, dst *time.Duration, raw string, key ...string) error {
	if !meta.IsDefined(key...) {
		return nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("parse %s: %w", strings.Join(key, "."), err)
	}
	*dst = d
	return nil
}

func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.Serial.Port) == "" {
		return fmt.Errorf("%w: serial.port is required", ErrInvalid)
	}
	if _, err := cfg.Serial.Baud.LineRate(); err != nil {
		return fmt.Errorf("%w: serial.baud: %v", ErrInvalid, err)
	}
	if err := cfg.Session().Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if cfg.MaxChannels < 1 || cfg.MaxChannels > channel.MaxChannels {
		return fmt.Errorf("%w: channels.max must be 1..%d", ErrInvalid, channel.MaxChannels)
	}
	if cfg.LogLevel != "" {
		if _, ok := logging.ParseLevel(cfg.LogLevel); !ok {
			return fmt.Errorf("%w: unknown log.level %q", ErrInvalid, cfg.LogLevel)
		}
	}
	return nil
}

// Session returns the engine configuration.
func (c Config) Session() session.Config {
	return session.Config{
		Retry:     c.Retry,
		Wake:      c.Wake,
		ReadChunk: session.DefaultReadChunk,
	}
}
