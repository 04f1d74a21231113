package ratelimit

import "github.com/bft-labs/walletbridge/pkg/bridge"

// WithRateLimit returns a bridge Option that limits each site to
// cfg.Rate requests per second.
//
// Usage:
//
//	b, err := bridge.New(cfg,
//	    ratelimit.WithRateLimit(ratelimit.Config{
//	        Rate:  5,
//	        Burst: 10,
//	    }),
//	)
func WithRateLimit(cfg Config) bridge.Option {
	return bridge.WithPlugin(New(cfg))
}

// WithDefaultRateLimit returns a bridge Option that enables rate limiting
// with default settings (10 requests per second, burst 11).
func WithDefaultRateLimit() bridge.Option {
	return WithRateLimit(DefaultConfig())
}
