package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/mcdev12/tracksync/go/internal/tracker/normalize"
)

// ReconnectStrategy selects how the engine recovers from connection loss
type ReconnectStrategy string

const (
	// StrategyBackoff retries up to MaxRetries times with exponential delays
	StrategyBackoff ReconnectStrategy = "backoff"
	// StrategySingleAttempt makes one reconnect attempt bounded by Timeout, and
	// only when a session had already produced data
	StrategySingleAttempt ReconnectStrategy = "single"
)

// ParseReconnectStrategy validates a configured strategy name
func ParseReconnectStrategy(s string) (ReconnectStrategy, error) {
	switch ReconnectStrategy(strings.ToLower(strings.TrimSpace(s))) {
	case "", StrategyBackoff:
		return StrategyBackoff, nil
	case StrategySingleAttempt:
		return StrategySingleAttempt, nil
	default:
		return "", fmt.Errorf("unknown reconnect strategy %q", s)
	}
}

// MaxRetryLimit bounds MaxRetries so that the backoff delay cannot overflow
const MaxRetryLimit = 16

// ReconnectConfig holds the reconnection policy constants
type ReconnectConfig struct {
	Strategy   ReconnectStrategy
	MaxRetries int
	BaseDelay  time.Duration
	Timeout    time.Duration
}

// DefaultReconnectConfig returns 5 retries at 3s, 6s, 12s, 24s, 48s
func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{
		Strategy:   StrategyBackoff,
		MaxRetries: 5,
		BaseDelay:  3 * time.Second,
		Timeout:    10 * time.Second,
	}
}

// Delay returns the backoff delay before the given attempt (1-based):
// BaseDelay * 2^(attempt-1). Attempts past MaxRetryLimit use the delay of the
// last allowed attempt.
func (c ReconnectConfig) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > MaxRetryLimit {
		attempt = MaxRetryLimit
	}
	return c.BaseDelay << uint(attempt-1)
}

// Config holds engine configuration
type Config struct {
	Reconnect ReconnectConfig
	Normalize normalize.Config

	InboxSize        int
	SubscriberBuffer int
}

// DefaultConfig returns default engine configuration
func DefaultConfig() Config {
	return Config{
		Reconnect:        DefaultReconnectConfig(),
		Normalize:        normalize.DefaultConfig(),
		InboxSize:        256,
		SubscriberBuffer: 16,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Reconnect.Strategy == "" {
		c.Reconnect.Strategy = def.Reconnect.Strategy
	}
	if c.Reconnect.MaxRetries < 0 {
		c.Reconnect.MaxRetries = 0
	}
	if c.Reconnect.BaseDelay <= 0 {
		c.Reconnect.BaseDelay = def.Reconnect.BaseDelay
	}
	if c.Reconnect.Timeout <= 0 {
		c.Reconnect.Timeout = def.Reconnect.Timeout
	}
	if c.InboxSize <= 0 {
		c.InboxSize = def.InboxSize
	}
	if c.SubscriberBuffer <= 0 {
		c.SubscriberBuffer = def.SubscriberBuffer
	}
	return c
}
