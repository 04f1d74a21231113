package bridge

import (
	"fmt"
	"strings"

	"github.com/bft-labs/walletbridge/internal/domain"
	"github.com/bft-labs/walletbridge/internal/router"
	"github.com/bft-labs/walletbridge/pkg/origin"
	"github.com/bft-labs/walletbridge/pkg/protocol"
)

// Default endpoint layout.
const (
	DefaultListenAddr    = "127.0.0.1:7545"
	DefaultRelayPath     = "/v1/relay"
	DefaultApprovalsPath = "/v1/approvals"
	DefaultChainID       = "0x1"
)

// Config holds the settings of an embedded bridge daemon.
type Config struct {
	// ListenAddr is the TCP address served. Use port 0 to pick a free port
	// and read it back with Bridge.Addr.
	ListenAddr string

	// RelayPath is where relays open their websocket channel.
	RelayPath string

	// ApprovalsPath is where the approval API is mounted.
	ApprovalsPath string

	// LocalOrigin is stamped on frames the router sends. Defaults to the
	// http origin of ListenAddr.
	LocalOrigin string

	// AllowedOrigins lists the page origins relays may connect for. "*"
	// allows every origin.
	AllowedOrigins []string

	// AllowNullOrigin admits sandboxed and opaque pages.
	AllowNullOrigin bool

	// DataDir holds the permission database. Empty keeps permissions in
	// memory for the lifetime of each run.
	DataDir string

	// RPCURL is the node serving read-only methods. Empty means read-only
	// methods other than chain identity fail with ChainDisconnected.
	RPCURL string

	// ChainID is the active chain in 0x-prefixed hex.
	ChainID string

	// Chains lists the chains wallet_switchEthereumChain may select.
	// ChainID is always included.
	Chains []string

	// ApprovalToken protects the approval API with a bearer token.
	ApprovalToken string

	Router router.Config
}

// SetDefaults fills zero values.
func (c *Config) SetDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = DefaultListenAddr
	}
	if c.RelayPath == "" {
		c.RelayPath = DefaultRelayPath
	}
	if c.ApprovalsPath == "" {
		c.ApprovalsPath = DefaultApprovalsPath
	}
	if c.ChainID == "" {
		c.ChainID = DefaultChainID
	}
	c.RPCURL = strings.TrimRight(strings.TrimSpace(c.RPCURL), "/")
	c.Router.SetDefaults()
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if !strings.HasPrefix(c.RelayPath, "/") {
		return fmt.Errorf("%w: relay path must start with /", domain.ErrInvalidConfig)
	}
	if !strings.HasPrefix(c.ApprovalsPath, "/") {
		return fmt.Errorf("%w: approvals path must start with /", domain.ErrInvalidConfig)
	}
	if c.RelayPath == c.ApprovalsPath {
		return fmt.Errorf("%w: relay and approvals paths must differ", domain.ErrInvalidConfig)
	}
	if _, err := protocol.NetworkVersion(c.ChainID); err != nil {
		return fmt.Errorf("%w: chain id: %v", domain.ErrInvalidConfig, err)
	}
	for _, id := range c.Chains {
		if _, err := protocol.NetworkVersion(id); err != nil {
			return fmt.Errorf("%w: supported chain %q: %v", domain.ErrInvalidConfig, id, err)
		}
	}
	if err := origin.NewValidator(nil).Replace(c.AllowedOrigins); err != nil {
		return fmt.Errorf("%w: allowed origins: %v", domain.ErrInvalidConfig, err)
	}
	if c.LocalOrigin != "" {
		if _, err := origin.Normalize(c.LocalOrigin); err != nil {
			return fmt.Errorf("%w: local origin: %v", domain.ErrInvalidConfig, err)
		}
	}
	return nil
}
