package provider

import (
	"encoding/json"

	"github.com/bft-labs/walletbridge/pkg/log"
	"github.com/bft-labs/walletbridge/pkg/protocol"
)

// walletState is the provider's cached view of the wallet. It is only
// served while the provider is connected.
type walletState struct {
	chainID    string
	netVersion string
	accounts   []string
}

// fromCache answers cacheable methods without a round trip.
func (p *Provider) fromCache(method string) (json.RawMessage, bool) {
	if !protocol.Cacheable(method) || !p.IsConnected() {
		return nil, false
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	switch method {
	case protocol.MethodChainID:
		if p.state.chainID != "" {
			return protocol.MustMarshal(p.state.chainID), true
		}
	case protocol.MethodNetVersion:
		if p.state.netVersion != "" {
			return protocol.MustMarshal(p.state.netVersion), true
		}
	case protocol.MethodAccounts:
		if len(p.state.accounts) > 0 {
			return protocol.MustMarshal(p.state.accounts), true
		}
	}
	return nil, false
}

// updateCache records the results of state-bearing methods.
func (p *Provider) updateCache(method string, result json.RawMessage) {
	switch method {
	case protocol.MethodChainID:
		var chainID string
		if err := json.Unmarshal(result, &chainID); err == nil {
			p.setChain(chainID)
		}
	case protocol.MethodNetVersion:
		var v string
		if err := json.Unmarshal(result, &v); err == nil {
			p.mu.Lock()
			p.state.netVersion = v
			p.mu.Unlock()
		}
	case protocol.MethodAccounts, protocol.MethodRequestAccounts:
		var accounts []string
		if err := json.Unmarshal(result, &accounts); err == nil {
			p.setAccounts(accounts)
		}
	}
}

func (p *Provider) setChain(chainID string) {
	version, err := protocol.NetworkVersion(chainID)
	if err != nil {
		p.logger.Warn("ignoring malformed chain id", log.String("chain_id", chainID), log.Err(err))
		return
	}
	p.mu.Lock()
	p.state.chainID = chainID
	p.state.netVersion = version
	p.mu.Unlock()
}

func (p *Provider) setAccounts(accounts []string) {
	p.mu.Lock()
	p.state.accounts = append([]string(nil), accounts...)
	p.mu.Unlock()
}

// ChainID returns the cached chain id, or "" when unknown.
func (p *Provider) ChainID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.chainID
}

// Accounts returns a copy of the cached accounts.
func (p *Provider) Accounts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.state.accounts...)
}
