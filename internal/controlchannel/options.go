package controlchannel

import (
	"fmt"
	"time"
)

// Options configure the dispatcher connection.
type Options struct {
	URL                  string
	Reconnection         bool
	ReconnectionAttempts int
	ReconnectionDelay    time.Duration
	ReconnectionDelayMax time.Duration
	// RetryDelay is the fixed wait between reconnect attempts, clamped into
	// [ReconnectionDelay, ReconnectionDelayMax].
	RetryDelay     time.Duration
	ConnectTimeout time.Duration
	// ExitDelay lets the command response flush before the process exits.
	ExitDelay      time.Duration
	CommandTimeout time.Duration
}

// DefaultOptions returns the stock connection settings.
func DefaultOptions(url string) Options {
	return Options{
		URL:                  url,
		Reconnection:         true,
		ReconnectionAttempts: 5,
		ReconnectionDelay:    time.Second,
		ReconnectionDelayMax: 5 * time.Second,
		RetryDelay:           5 * time.Second,
		ConnectTimeout:       10 * time.Second,
		ExitDelay:            time.Second,
		CommandTimeout:       15 * time.Second,
	}
}

// Validate rejects options the channel cannot run with.
func (o Options) Validate() error {
	if o.URL == "" {
		return fmt.Errorf("control channel url is required")
	}
	if o.ReconnectionAttempts < 0 {
		return fmt.Errorf("reconnection attempts cannot be negative")
	}
	if o.ReconnectionDelayMax > 0 && o.ReconnectionDelay > o.ReconnectionDelayMax {
		return fmt.Errorf("reconnection delay %s exceeds maximum %s", o.ReconnectionDelay, o.ReconnectionDelayMax)
	}
	if o.ConnectTimeout <= 0 {
		return fmt.Errorf("connect timeout must be positive")
	}
	return nil
}

// Backoff returns the fixed wait before each reconnect attempt.
func (o Options) Backoff() time.Duration {
	d := o.RetryDelay
	if d < o.ReconnectionDelay {
		d = o.ReconnectionDelay
	}
	if o.ReconnectionDelayMax > 0 && d > o.ReconnectionDelayMax {
		d = o.ReconnectionDelayMax
	}
	return d
}
