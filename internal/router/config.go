package router

import "time"

// Default settings.
const (
	DefaultGraceWindow   = time.Second
	DefaultSweepInterval = 20 * time.Second
	DefaultApprovalTTL   = 45 * time.Second
	DefaultSeenCapacity  = 1024
	DefaultCallTimeout   = 30 * time.Second
)

// Config holds router settings.
type Config struct {
	// GraceWindow delays the removal of a disconnected port that still
	// has requests in flight.
	GraceWindow time.Duration

	// SweepInterval is how often stale approvals are looked for.
	SweepInterval time.Duration

	// ApprovalTTL is the age after which an unanswered approval expires.
	ApprovalTTL time.Duration

	// SeenCapacity bounds the set of request ids used for deduplication.
	SeenCapacity int

	// CallTimeout bounds each read-only call to the network.
	CallTimeout time.Duration
}

// DefaultConfig returns the standard router configuration.
func DefaultConfig() Config {
	return Config{
		GraceWindow:   DefaultGraceWindow,
		SweepInterval: DefaultSweepInterval,
		ApprovalTTL:   DefaultApprovalTTL,
		SeenCapacity:  DefaultSeenCapacity,
		CallTimeout:   DefaultCallTimeout,
	}
}

// SetDefaults fills zero values.
func (c *Config) SetDefaults() {
	d := DefaultConfig()
	if c.GraceWindow <= 0 {
		c.GraceWindow = d.GraceWindow
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = d.SweepInterval
	}
	if c.ApprovalTTL <= 0 {
		c.ApprovalTTL = d.ApprovalTTL
	}
	if c.SeenCapacity <= 0 {
		c.SeenCapacity = d.SeenCapacity
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = d.CallTimeout
	}
}
