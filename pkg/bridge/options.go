package bridge

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/bft-labs/walletbridge/internal/ports"
	"github.com/bft-labs/walletbridge/internal/router"
	"github.com/bft-labs/walletbridge/pkg/clock"
	"github.com/bft-labs/walletbridge/pkg/log"
)

// Re-exported collaborator interfaces so embedders can substitute their
// own wallet, node, or permission storage.
type (
	// Logger is the structured logging interface from pkg/log.
	Logger = log.Logger

	// Network answers read-only JSON-RPC methods.
	Network = ports.NetworkData

	// Wallet reports the active chain. Implementations that also satisfy
	// ChainSwitcher make wallet_switchEthereumChain available.
	Wallet = ports.WalletState

	// ChainSwitcher changes the active chain.
	ChainSwitcher = ports.ChainSwitcher

	// Permissions stores per-site account grants.
	Permissions = ports.PermissionStore

	// Guard vetoes requests before dispatch.
	Guard = router.Guard

	// GuardFunc adapts a function to Guard.
	GuardFunc = router.GuardFunc

	// GuardRequest describes a request about to be dispatched.
	GuardRequest = router.GuardRequest
)

// Option configures optional behavior of a Bridge.
type Option func(*options)

type options struct {
	logger       log.Logger
	eventHandler EventHandler
	plugins      []Plugin
	guards       []Guard
	registry     *prometheus.Registry
	clock        clock.Clock

	network     Network
	wallet      Wallet
	permissions Permissions
}

func defaultOptions() options {
	return options{
		logger: log.NewNoopLogger(),
	}
}

// WithLogger sets a custom logger for structured logging.
// If not provided, a no-op logger is used (no output).
func WithLogger(logger Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithEventHandler sets a handler for bridge events.
func WithEventHandler(handler EventHandler) Option {
	return func(o *options) {
		o.eventHandler = handler
	}
}

// WithPlugin registers a plugin to be initialized when the bridge starts.
// Plugins are initialized in registration order and shutdown in reverse
// order. A plugin that also implements Guard checks every request.
func WithPlugin(plugin Plugin) Option {
	return func(o *options) {
		o.plugins = append(o.plugins, plugin)
	}
}

// WithGuard adds a request guard.
func WithGuard(g Guard) Option {
	return func(o *options) {
		o.guards = append(o.guards, g)
	}
}

// WithRegistry collects router metrics into reg, which is also what the
// /metrics endpoint serves. Defaults to a private registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *options) {
		o.registry = reg
	}
}

// WithClock drives approval expiry and port removal from c.
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

// WithNetwork replaces the node client built from Config.RPCURL.
func WithNetwork(n Network) Option {
	return func(o *options) {
		o.network = n
	}
}

// WithWallet replaces the static wallet built from Config.ChainID.
func WithWallet(w Wallet) Option {
	return func(o *options) {
		o.wallet = w
	}
}

// WithPermissions replaces the store built from Config.DataDir. The bridge
// does not close a store it did not open.
func WithPermissions(p Permissions) Option {
	return func(o *options) {
		o.permissions = p
	}
}
