package router

import (
	"github.com/bft-labs/walletbridge/pkg/clock"
	"github.com/bft-labs/walletbridge/pkg/log"
	"github.com/bft-labs/walletbridge/pkg/origin"
)

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the logger.
func WithLogger(l log.Logger) Option {
	return func(r *Router) {
		r.logger = l
	}
}

// WithClock sets the clock used for the grace window and the sweep.
func WithClock(c clock.Clock) Option {
	return func(r *Router) {
		r.clk = c
	}
}

// WithMetrics records router activity in m.
func WithMetrics(m *Metrics) Option {
	return func(r *Router) {
		r.metrics = m
	}
}

// WithGuard adds a check run before every supported request is dispatched.
func WithGuard(g Guard) Option {
	return func(r *Router) {
		r.guards = append(r.guards, g)
	}
}

// WithValidator refuses channels whose origin v does not allow.
func WithValidator(v *origin.Validator) Option {
	return func(r *Router) {
		r.validator = v
	}
}
