package relay

import (
	"github.com/bft-labs/walletbridge/pkg/clock"
	"github.com/bft-labs/walletbridge/pkg/log"
	"github.com/bft-labs/walletbridge/pkg/state"
)

// Option configures a Relay.
type Option func(*Relay)

// WithLogger sets the logger.
func WithLogger(l log.Logger) Option {
	return func(r *Relay) {
		r.logger = l
	}
}

// WithClock sets the clock used for probes, backoff and queue ageing.
func WithClock(c clock.Clock) Option {
	return func(r *Relay) {
		r.clk = c
	}
}

// WithStore sets where suspend snapshots are kept. Defaults to memory.
func WithStore(s state.Repository) Option {
	return func(r *Relay) {
		r.store = s
	}
}
