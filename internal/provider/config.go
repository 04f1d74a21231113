package provider

import (
	"time"

	"github.com/bft-labs/walletbridge/pkg/lifecycle"
)

// Default timings.
const (
	DefaultRequestTimeout = 30 * time.Second
	DefaultProbeInterval  = 30 * time.Second
	DefaultProbeTimeout   = 3 * time.Second
	DefaultSeenCapacity   = 100
)

// Info is the EIP-6963 description of the provider announced to pages.
type Info struct {
	UUID string `json:"uuid"`
	Name string `json:"name"`
	Icon string `json:"icon"`
	RDNS string `json:"rdns"`
}

// Config holds provider settings.
type Config struct {
	// Origin is the page origin. Inbound frames stamped with any other
	// origin are dropped. Empty means the origin the link was opened with.
	Origin string

	RequestTimeout time.Duration
	ProbeInterval  time.Duration
	ProbeTimeout   time.Duration

	// InitialConnect shapes the attempts made by Start and by the
	// liveness watchdog.
	InitialConnect lifecycle.BackoffConfig

	// Reconnect shapes the attempts made after an established link drops.
	Reconnect lifecycle.BackoffConfig

	SeenCapacity int

	Info Info
}

// DefaultConfig returns the standard provider configuration.
func DefaultConfig() Config {
	return Config{
		RequestTimeout: DefaultRequestTimeout,
		ProbeInterval:  DefaultProbeInterval,
		ProbeTimeout:   DefaultProbeTimeout,
		InitialConnect: lifecycle.InitialConnectBackoff(),
		Reconnect:      lifecycle.ReconnectBackoff(),
		SeenCapacity:   DefaultSeenCapacity,
		Info: Info{
			Name: "Wallet Bridge",
			RDNS: "io.walletbridge",
		},
	}
}

// SetDefaults fills zero values.
func (c *Config) SetDefaults() {
	d := DefaultConfig()
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = d.RequestTimeout
	}
	if c.ProbeInterval <= 0 {
		c.ProbeInterval = d.ProbeInterval
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = d.ProbeTimeout
	}
	if c.InitialConnect.Initial <= 0 {
		c.InitialConnect = d.InitialConnect
	}
	if c.Reconnect.Initial <= 0 {
		c.Reconnect = d.Reconnect
	}
	if c.SeenCapacity <= 0 {
		c.SeenCapacity = d.SeenCapacity
	}
	if c.Info.Name == "" {
		c.Info.Name = d.Info.Name
	}
	if c.Info.RDNS == "" {
		c.Info.RDNS = d.Info.RDNS
	}
}
