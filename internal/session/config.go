package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/voxconsole/internal/capture"
	"github.com/MrWong99/voxconsole/pkg/audio"
)

// Default heartbeat and reconnection parameters.
const (
	DefaultHeartbeatInterval = 5 * time.Second
	DefaultHeartbeatTimeout  = 15 * time.Second

	DefaultReconnectBase        = 500 * time.Millisecond
	DefaultReconnectMax         = 8 * time.Second
	DefaultReconnectMultiplier  = 2.0
	DefaultReconnectMaxAttempts = 5
)

// Config is the per-session tuning of a [Manager]. A changed Config applies to
// the next session; the running one keeps the values it started with.
type Config struct {
	// HeartbeatInterval is the ping period while the connection is live.
	HeartbeatInterval time.Duration

	// HeartbeatTimeout is the longest silence tolerated from the backend
	// before the connection is considered lost. Must exceed
	// HeartbeatInterval.
	HeartbeatTimeout time.Duration

	// Reconnect bounds the recovery attempts after a lost connection.
	Reconnect Backoff

	// Capture configures the audio pipeline built for each session.
	Capture capture.Config

	// Client identifies this build in the handshake.
	Client string
}

// Backoff is a bounded exponential backoff policy.
type Backoff struct {
	// Base is the delay after the first failed attempt.
	Base time.Duration

	// Max caps the delay between attempts.
	Max time.Duration

	// Multiplier grows the delay after every further failure.
	Multiplier float64

	// MaxAttempts is the number of dials before giving up.
	MaxAttempts int
}

// DefaultConfig returns the built-in tuning.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: DefaultHeartbeatInterval,
		HeartbeatTimeout:  DefaultHeartbeatTimeout,
		Reconnect: Backoff{
			Base:        DefaultReconnectBase,
			Max:         DefaultReconnectMax,
			Multiplier:  DefaultReconnectMultiplier,
			MaxAttempts: DefaultReconnectMaxAttempts,
		},
		Client: "voxconsole",
	}
}

// withDefaults fills zero fields from [DefaultConfig].
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = d.HeartbeatTimeout
	}
	if c.Reconnect.Base <= 0 {
		c.Reconnect.Base = d.Reconnect.Base
	}
	if c.Reconnect.Max <= 0 {
		c.Reconnect.Max = d.Reconnect.Max
	}
	if c.Reconnect.Multiplier < 1 {
		c.Reconnect.Multiplier = d.Reconnect.Multiplier
	}
	if c.Reconnect.MaxAttempts <= 0 {
		c.Reconnect.MaxAttempts = d.Reconnect.MaxAttempts
	}
	if c.Client == "" {
		c.Client = d.Client
	}
	if c.Capture.Format == (audio.Format{}) {
		c.Capture.Format = audio.DefaultFormat()
	}
	return c
}

// Validate checks the tuning after defaults are applied.
func (c Config) Validate() error {
	c = c.withDefaults()
	var errs []error
	if c.HeartbeatTimeout <= c.HeartbeatInterval {
		errs = append(errs, fmt.Errorf("session: heartbeat timeout %s must exceed interval %s",
			c.HeartbeatTimeout, c.HeartbeatInterval))
	}
	if c.Reconnect.Max < c.Reconnect.Base {
		errs = append(errs, fmt.Errorf("session: reconnect max delay %s is below base %s",
			c.Reconnect.Max, c.Reconnect.Base))
	}
	if c.Capture.Transmit != "" && !c.Capture.Transmit.IsValid() {
		errs = append(errs, fmt.Errorf("session: unknown transmit policy %q", c.Capture.Transmit))
	}
	return errors.Join(errs...)
}

// Delay returns the wait after the given failed attempt (1-based):
// Base * Multiplier^(attempt-1), capped at Max.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(b.Base)
	for range attempt - 1 {
		d *= b.Multiplier
		if d >= float64(b.Max) {
			return b.Max
		}
	}
	if d > float64(b.Max) {
		return b.Max
	}
	return time.Duration(d)
}
