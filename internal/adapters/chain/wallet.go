package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/bft-labs/walletbridge/internal/ports"
)

// ErrUnsupportedChain is returned when switching to a chain the wallet
// was not configured with.
var ErrUnsupportedChain = errors.New("chain: unsupported chain")

var (
	_ ports.WalletState   = (*StaticWallet)(nil)
	_ ports.ChainSwitcher = (*StaticWallet)(nil)
)

// StaticWallet holds the active chain in memory and allows switching
// between a fixed set of chains.
type StaticWallet struct {
	mu        sync.RWMutex
	active    string
	supported map[string]struct{}
}

// NewStaticWallet starts on active. Switching is limited to supported
// (active is always included); an empty list allows any chain.
func NewStaticWallet(active string, supported ...string) (*StaticWallet, error) {
	id, err := canonical(active)
	if err != nil {
		return nil, err
	}
	w := &StaticWallet{active: id}
	if len(supported) > 0 {
		w.supported = map[string]struct{}{id: {}}
		for _, s := range supported {
			c, err := canonical(s)
			if err != nil {
				return nil, err
			}
			w.supported[c] = struct{}{}
		}
	}
	return w, nil
}

// ChainID returns the active chain.
func (w *StaticWallet) ChainID(ctx context.Context) (string, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.active, nil
}

// SwitchChain makes chainID the active chain.
func (w *StaticWallet) SwitchChain(ctx context.Context, chainID string) error {
	id, err := canonical(chainID)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.supported != nil {
		if _, ok := w.supported[id]; !ok {
			return fmt.Errorf("%w: %s", ErrUnsupportedChain, id)
		}
	}
	w.active = id
	return nil
}

// canonical renders a hex chain id without leading zeros.
func canonical(chainID string) (string, error) {
	s := strings.ToLower(strings.TrimSpace(chainID))
	n, ok := new(big.Int).SetString(strings.TrimPrefix(s, "0x"), 16)
	if !strings.HasPrefix(s, "0x") || !ok || n.Sign() < 0 {
		return "", fmt.Errorf("invalid chain id %q", chainID)
	}
	return hexutil.EncodeBig(n), nil
}
