package relay

import (
	"time"

	"github.com/bft-labs/walletbridge/pkg/lifecycle"
)

// Default settings.
const (
	DefaultQueueCapacity  = 100
	DefaultMessageTimeout = 30 * time.Second
	DefaultSeenCapacity   = 100
	DefaultProbeInterval  = 30 * time.Second
	DefaultProbeTimeout   = 3 * time.Second
	DefaultHealthInterval = 60 * time.Second
	DefaultSuspendTTL     = 5 * time.Minute
)

// Config holds relay settings.
type Config struct {
	// PageOrigin is the origin of the page this relay serves. Empty means
	// the origin each page link was opened with.
	PageOrigin string

	// AllowNullOrigin accepts frames from sandboxed or opaque pages.
	AllowNullOrigin bool

	// QueueCapacity bounds the requests held while the router is
	// unreachable. The oldest entry is evicted when full.
	QueueCapacity int

	// MessageTimeout is the age after which a queued request is discarded
	// instead of flushed.
	MessageTimeout time.Duration

	SeenCapacity int

	Reconnect lifecycle.BackoffConfig

	ProbeInterval time.Duration
	ProbeTimeout  time.Duration

	// HealthInterval is how often an exhausted reconnection cycle is
	// restarted.
	HealthInterval time.Duration

	// SuspendTTL bounds how long a suspend snapshot stays usable.
	SuspendTTL time.Duration
}

// DefaultConfig returns the standard relay configuration.
func DefaultConfig() Config {
	return Config{
		QueueCapacity:  DefaultQueueCapacity,
		MessageTimeout: DefaultMessageTimeout,
		SeenCapacity:   DefaultSeenCapacity,
		Reconnect:      lifecycle.ReconnectBackoff(),
		ProbeInterval:  DefaultProbeInterval,
		ProbeTimeout:   DefaultProbeTimeout,
		HealthInterval: DefaultHealthInterval,
		SuspendTTL:     DefaultSuspendTTL,
	}
}

// SetDefaults fills zero values.
func (c *Config) SetDefaults() {
	d := DefaultConfig()
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = d.QueueCapacity
	}
	if c.MessageTimeout <= 0 {
		c.MessageTimeout = d.MessageTimeout
	}
	if c.SeenCapacity <= 0 {
		c.SeenCapacity = d.SeenCapacity
	}
	if c.Reconnect.Initial <= 0 {
		c.Reconnect = d.Reconnect
	}
	if c.ProbeInterval <= 0 {
		c.ProbeInterval = d.ProbeInterval
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = d.ProbeTimeout
	}
	if c.HealthInterval <= 0 {
		c.HealthInterval = d.HealthInterval
	}
	if c.SuspendTTL <= 0 {
		c.SuspendTTL = d.SuspendTTL
	}
}
