// Package permissions stores which sites are connected to the wallet and
// with which accounts.
package permissions

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/bft-labs/walletbridge/internal/domain"
)

// normalizeAddresses checksums every address and drops duplicates while
// keeping the caller's order.
func normalizeAddresses(addresses []string) ([]string, error) {
	if len(addresses) == 0 {
		return nil, fmt.Errorf("%w: no accounts", domain.ErrInvalidAddress)
	}
	out := make([]string, 0, len(addresses))
	seen := make(map[common.Address]struct{}, len(addresses))
	for _, a := range addresses {
		a = strings.TrimSpace(a)
		if !common.IsHexAddress(a) {
			return nil, fmt.Errorf("%w: %q", domain.ErrInvalidAddress, a)
		}
		addr := common.HexToAddress(a)
		if _, dup := seen[addr]; dup {
			continue
		}
		seen[addr] = struct{}{}
		out = append(out, addr.Hex())
	}
	return out, nil
}

func normalizeSite(site string) (string, error) {
	site = strings.ToLower(strings.TrimSpace(site))
	if site == "" {
		return "", fmt.Errorf("permissions: empty site")
	}
	return site, nil
}
