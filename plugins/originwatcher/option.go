package originwatcher

import "github.com/bft-labs/walletbridge/pkg/bridge"

// WithOriginWatcher returns a bridge Option that loads the origin
// allow-list from cfg.Path and reloads it whenever the file changes.
//
// Usage:
//
//	b, err := bridge.New(cfg,
//	    originwatcher.WithOriginWatcher(originwatcher.Config{
//	        Path: "/etc/walletbridge/origins.toml",
//	    }),
//	)
func WithOriginWatcher(cfg Config) bridge.Option {
	return bridge.WithPlugin(New(cfg))
}

// WithOriginsFile returns a bridge Option that watches path with default
// settings.
func WithOriginsFile(path string) bridge.Option {
	cfg := DefaultConfig()
	cfg.Path = path
	return WithOriginWatcher(cfg)
}
