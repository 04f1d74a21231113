// Package chain answers read-only chain queries and tracks the wallet's
// active network.
package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/rpc"

	"github.com/bft-labs/walletbridge/internal/ports"
	"github.com/bft-labs/walletbridge/pkg/log"
	"github.com/bft-labs/walletbridge/pkg/protocol"
)

var (
	_ ports.NetworkData = (*RPCNetwork)(nil)
	_ ports.WalletState = (*RPCNetwork)(nil)
)

// RPCNetwork forwards read-only calls to an Ethereum JSON-RPC node.
type RPCNetwork struct {
	client *rpc.Client
	logger log.Logger

	mu      sync.Mutex
	chainID string
}

// DialRPC connects to the node at url (http, ws or ipc).
func DialRPC(ctx context.Context, url string, logger log.Logger) (*RPCNetwork, error) {
	trimmed := strings.TrimSpace(url)
	if trimmed == "" {
		return nil, fmt.Errorf("chain: rpc url required")
	}
	client, err := rpc.DialContext(ctx, trimmed)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", trimmed, err)
	}
	return NewRPCNetwork(client, logger), nil
}

// NewRPCNetwork wraps an existing client.
func NewRPCNetwork(client *rpc.Client, logger log.Logger) *RPCNetwork {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	return &RPCNetwork{client: client, logger: logger}
}

// Call invokes method with the positional params and returns the raw
// result. Errors reported by the node keep their code and data.
func (n *RPCNetwork) Call(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error) {
	args, err := protocol.ParamsArray(params)
	if err != nil {
		return nil, protocol.InvalidParams(err.Error())
	}
	argv := make([]any, len(args))
	for i, a := range args {
		argv[i] = a
	}

	var result json.RawMessage
	if err := n.client.CallContext(ctx, &result, method, argv...); err != nil {
		return nil, mapError(err)
	}
	if len(result) == 0 {
		result = json.RawMessage("null")
	}
	return result, nil
}

// ChainID asks the node for its chain id once and remembers it.
func (n *RPCNetwork) ChainID(ctx context.Context) (string, error) {
	n.mu.Lock()
	cached := n.chainID
	n.mu.Unlock()
	if cached != "" {
		return cached, nil
	}

	var chainID string
	if err := n.client.CallContext(ctx, &chainID, protocol.MethodChainID); err != nil {
		return "", mapError(err)
	}
	n.mu.Lock()
	n.chainID = chainID
	n.mu.Unlock()
	n.logger.Info("node chain id", log.String("chain_id", chainID))
	return chainID, nil
}

// Close disconnects from the node.
func (n *RPCNetwork) Close() {
	n.client.Close()
}

// mapError keeps JSON-RPC errors from the node intact and leaves transport
// failures as plain errors.
func mapError(err error) error {
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		var data any
		var dataErr rpc.DataError
		if errors.As(err, &dataErr) {
			data = dataErr.ErrorData()
		}
		return protocol.NewError(rpcErr.ErrorCode(), rpcErr.Error(), data)
	}
	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		return protocol.ChainDisconnected(fmt.Sprintf("node answered %s", httpErr.Status))
	}
	return err
}
