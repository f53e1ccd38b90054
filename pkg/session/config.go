package session

import (
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

const (
	DefaultExpiryThreshold = 120 * time.Second
	DefaultMonitorInterval = 60 * time.Second
	DefaultRefreshTimeout  = 30 * time.Second
	DefaultRefreshBurst    = 5

	// MaxRetryPerCall is the number of times an authenticated call is re-issued
	// after a 401. It is not tunable.
	MaxRetryPerCall = 1
)

// DefaultRefreshRate allows one new refresh flight per second on average.
var DefaultRefreshRate = rate.Every(time.Second)

// Config tunes the session lifecycle. Zero values fall back to the defaults.
type Config struct {
	ExpiryThreshold time.Duration // Proactive refresh window before expiry
	MonitorInterval time.Duration // Expiry monitor tick frequency
	RefreshTimeout  time.Duration // Upper bound of a single bridge refresh call
	ExpirySkew      time.Duration // Clock skew tolerated when checking expiry
	RefreshRate     rate.Limit    // Sustained rate of refresh flights
	RefreshBurst    int           // Refresh flights allowed in a burst
	MaxRetryPerCall int           // Must be 0 (default) or 1
}

func (c Config) withDefaults() Config {
	if c.ExpiryThreshold <= 0 {
		c.ExpiryThreshold = DefaultExpiryThreshold
	}
	if c.MonitorInterval <= 0 {
		c.MonitorInterval = DefaultMonitorInterval
	}
	if c.RefreshTimeout <= 0 {
		c.RefreshTimeout = DefaultRefreshTimeout
	}
	if c.RefreshRate == 0 {
		c.RefreshRate = DefaultRefreshRate
	}
	if c.RefreshBurst <= 0 {
		c.RefreshBurst = DefaultRefreshBurst
	}
	if c.MaxRetryPerCall == 0 {
		c.MaxRetryPerCall = MaxRetryPerCall
	}

	return c
}

// Validate rejects settings the lifecycle cannot honour.
func (c Config) Validate() error {
	if c.MaxRetryPerCall != 0 && c.MaxRetryPerCall != MaxRetryPerCall {
		return fmt.Errorf("maxRetryPerCall must be %d, got %d", MaxRetryPerCall, c.MaxRetryPerCall)
	}
	if c.ExpiryThreshold < 0 || c.MonitorInterval < 0 || c.RefreshTimeout < 0 || c.ExpirySkew < 0 {
		return fmt.Errorf("durations must not be negative")
	}
	if c.RefreshRate < 0 {
		return fmt.Errorf("refresh rate must not be negative")
	}

	return nil
}
