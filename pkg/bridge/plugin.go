package bridge

import (
	"context"

	"github.com/bft-labs/walletbridge/pkg/clock"
	"github.com/bft-labs/walletbridge/pkg/origin"
)

// Plugin extends a bridge with optional behavior. Plugins are initialized
// by Start before the endpoint accepts connections and shut down by Stop
// after it has closed.
type Plugin interface {
	// Name identifies the plugin in logs.
	Name() string

	// Initialize prepares the plugin for one run. ctx is cancelled when
	// the run ends.
	Initialize(ctx context.Context, cfg PluginConfig) error

	// Shutdown releases everything Initialize acquired.
	Shutdown(ctx context.Context) error
}

// PluginConfig is what a plugin receives from the bridge it extends.
type PluginConfig struct {
	Logger Logger

	// Validator is the live origin allow-list. Plugins may replace its
	// entries while the bridge runs.
	Validator *origin.Validator

	Clock clock.Clock

	ChainID string
	DataDir string
}
