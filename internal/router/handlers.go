package router

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/bft-labs/walletbridge/internal/domain"
	"github.com/bft-labs/walletbridge/internal/ports"
	"github.com/bft-labs/walletbridge/pkg/log"
	"github.com/bft-labs/walletbridge/pkg/protocol"
)

// Methods that act on accounts the site must already be connected to.
var needsConnection = map[string]struct{}{
	protocol.MethodSendTransaction: {},
	protocol.MethodSignTransaction: {},
	protocol.MethodSign:            {},
	protocol.MethodPersonalSign:    {},
	protocol.MethodSignTypedData:   {},
	protocol.MethodSignTypedDataV3: {},
	protocol.MethodSignTypedDataV4: {},
}

func (a *approval) prompt() domain.ApprovalPrompt {
	return domain.ApprovalPrompt{
		RequestID:   a.record.ID,
		Method:      a.record.Method,
		Params:      a.record.Params,
		Origin:      a.record.Origin,
		Domain:      a.record.Domain,
		Site:        a.record.Site,
		Description: a.record.Description,
		CreatedAt:   a.record.CreatedAt,
	}
}

// readOnly answers methods that need no consent.
func (r *Router) readOnly(rec PortRecord, req *protocol.Request, params []json.RawMessage) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(r.ctx, r.cfg.CallTimeout)
	defer cancel()

	switch req.Method {
	case protocol.MethodChainID:
		chainID, err := r.chainID(ctx)
		if err != nil {
			return nil, err
		}
		return protocol.MustMarshal(chainID), nil

	case protocol.MethodNetVersion:
		chainID, err := r.chainID(ctx)
		if err != nil {
			return nil, err
		}
		version, err := protocol.NetworkVersion(chainID)
		if err != nil {
			return nil, protocol.Internal(err.Error())
		}
		return protocol.MustMarshal(version), nil

	case protocol.MethodAccounts:
		conn, err := r.connection(ctx, rec.Domain)
		if err != nil {
			return nil, err
		}
		return protocol.MustMarshal(conn.Accounts()), nil

	case protocol.MethodGetPermissions:
		conn, err := r.connection(ctx, rec.Domain)
		if err != nil {
			return nil, err
		}
		return protocol.MustMarshal(conn.Permissions()), nil
	}

	if r.deps.Network == nil {
		return nil, protocol.ChainDisconnected("No network data provider is configured.")
	}
	raw := req.Params
	if len(params) == 0 {
		raw = json.RawMessage("[]")
	}
	result, err := r.deps.Network.Call(ctx, req.Method, raw)
	if err != nil {
		var rpcErr *protocol.RPCError
		if errors.As(err, &rpcErr) {
			return nil, rpcErr
		}
		r.logger.Warn("network call failed", log.Method(req.Method), log.Err(err))
		return nil, protocol.ChainDisconnected(err.Error())
	}
	return result, nil
}

func (r *Router) chainID(ctx context.Context) (string, error) {
	if r.deps.Wallet == nil {
		return "", protocol.ChainDisconnected("No wallet state is configured.")
	}
	chainID, err := r.deps.Wallet.ChainID(ctx)
	if err != nil {
		return "", protocol.Internal(err.Error())
	}
	return chainID, nil
}

// connection looks up site, treating opaque origins and a missing store
// as never connected.
func (r *Router) connection(ctx context.Context, site string) (domain.Connection, error) {
	if site == "" || r.deps.Permissions == nil {
		return domain.Connection{Domain: site}, nil
	}
	conn, err := r.deps.Permissions.Get(ctx, site)
	if err != nil {
		return domain.Connection{}, protocol.Internal(err.Error())
	}
	return conn, nil
}

// validateApproval decides whether req can reach the user. direct means
// the result is already known and no prompt is needed.
func (r *Router) validateApproval(rec PortRecord, req *protocol.Request, params []json.RawMessage) (result json.RawMessage, direct bool, err error) {
	if rec.Domain == "" {
		return nil, false, protocol.Unauthorized("Sandboxed pages cannot access the wallet.")
	}
	if r.deps.Approvals == nil {
		return nil, false, protocol.Internal("No approval surface is configured.")
	}

	switch req.Method {
	case protocol.MethodRequestAccounts:
		conn, err := r.connection(r.ctx, rec.Domain)
		if err != nil {
			return nil, false, err
		}
		if conn.Connected && len(conn.Addresses) > 0 {
			return protocol.MustMarshal(conn.Accounts()), true, nil
		}
	case protocol.MethodRequestPermissions, protocol.MethodRevokePermissions:
		if r.deps.Permissions == nil {
			return nil, false, protocol.Internal("No permission store is configured.")
		}
	case protocol.MethodSwitchChain:
		if _, err := targetChain(params); err != nil {
			return nil, false, err
		}
	}

	if _, ok := needsConnection[req.Method]; ok {
		conn, err := r.connection(r.ctx, rec.Domain)
		if err != nil {
			return nil, false, err
		}
		if !conn.Connected {
			return nil, false, protocol.Unauthorized("Call eth_requestAccounts first.")
		}
	}
	return nil, false, nil
}

// applyApproved performs the side effects of an approved request and
// returns the result sent to the page.
func (r *Router) applyApproved(rec ApprovalRecord, req *protocol.Request, result json.RawMessage) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(r.ctx, r.cfg.CallTimeout)
	defer cancel()

	switch req.Method {
	case protocol.MethodRequestAccounts, protocol.MethodRequestPermissions:
		if r.deps.Permissions == nil {
			return result, nil
		}
		var addresses []string
		if err := json.Unmarshal(result, &addresses); err != nil || len(addresses) == 0 {
			return nil, protocol.Internal("The approval did not name any accounts.")
		}
		conn, err := r.deps.Permissions.Grant(ctx, rec.Domain, addresses)
		if err != nil {
			if errors.Is(err, domain.ErrInvalidAddress) {
				return nil, protocol.InvalidParams(err.Error())
			}
			return nil, protocol.Internal(err.Error())
		}
		r.logger.Info("site connected", log.String("domain", rec.Domain), log.Int("accounts", len(conn.Addresses)))
		r.BroadcastToDomain(rec.Domain, protocol.EventAccountsChanged, conn.Accounts())
		if req.Method == protocol.MethodRequestPermissions {
			return protocol.MustMarshal(conn.Permissions()), nil
		}
		return protocol.MustMarshal(conn.Accounts()), nil

	case protocol.MethodRevokePermissions:
		if err := r.deps.Permissions.Revoke(ctx, rec.Domain); err != nil {
			return nil, protocol.Internal(err.Error())
		}
		r.logger.Info("site disconnected", log.String("domain", rec.Domain))
		r.BroadcastToDomain(rec.Domain, protocol.EventAccountsChanged, []string{})
		return json.RawMessage("null"), nil

	case protocol.MethodSwitchChain:
		params, _ := protocol.ParamsArray(req.Params)
		chainID, err := targetChain(params)
		if err != nil {
			return nil, err
		}
		if s, ok := r.deps.Wallet.(ports.ChainSwitcher); ok {
			if err := s.SwitchChain(ctx, chainID); err != nil {
				return nil, protocol.ChainDisconnected(err.Error())
			}
		}
		r.Broadcast(protocol.EventChainChanged, chainID)
		return json.RawMessage("null"), nil
	}
	return result, nil
}

// targetChain extracts the chain id of a wallet_switchEthereumChain call.
func targetChain(params []json.RawMessage) (string, error) {
	if len(params) == 0 {
		return "", protocol.InvalidParams("expected [{chainId}]")
	}
	var p struct {
		ChainID string `json:"chainId"`
	}
	if err := json.Unmarshal(params[0], &p); err != nil || p.ChainID == "" {
		return "", protocol.InvalidParams("expected [{chainId}]")
	}
	if _, err := protocol.NetworkVersion(p.ChainID); err != nil {
		return "", protocol.InvalidParams(err.Error())
	}
	return p.ChainID, nil
}
