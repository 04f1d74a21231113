package provider

import (
	"github.com/bft-labs/walletbridge/pkg/clock"
	"github.com/bft-labs/walletbridge/pkg/ids"
	"github.com/bft-labs/walletbridge/pkg/log"
)

// Option configures a Provider.
type Option func(*Provider)

// WithLogger sets the logger.
func WithLogger(l log.Logger) Option {
	return func(p *Provider) {
		p.logger = l
	}
}

// WithClock sets the clock used for timeouts, probes and backoff.
func WithClock(c clock.Clock) Option {
	return func(p *Provider) {
		p.clk = c
	}
}

// WithIDGenerator sets the correlation id source.
func WithIDGenerator(g *ids.Generator) Option {
	return func(p *Provider) {
		p.ids = g
	}
}
