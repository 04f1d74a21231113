package ports

import (
	"context"
	"encoding/json"
)

// NetworkData answers read-only chain queries such as eth_blockNumber or
// eth_call. A *protocol.RPCError from the node is returned unchanged;
// any other error means the node could not be reached.
type NetworkData interface {
	Call(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error)
}

// WalletState reports the wallet's active chain.
type WalletState interface {
	ChainID(ctx context.Context) (string, error)
}

// ChainSwitcher is implemented by wallet states that follow an approved
// wallet_switchEthereumChain.
type ChainSwitcher interface {
	SwitchChain(ctx context.Context, chainID string) error
}
