package protocol

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// NetworkVersion derives the net_version answer (decimal string) from a
// hex chain id such as "0x89".
func NetworkVersion(chainID string) (string, error) {
	n, err := hexutil.DecodeBig(chainID)
	if err != nil {
		return "", fmt.Errorf("invalid chain id %q: %w", chainID, err)
	}
	return n.String(), nil
}

// ChainIDFromDecimal renders a decimal network id as a hex chain id.
func ChainIDFromDecimal(version string) (string, error) {
	n, ok := new(big.Int).SetString(version, 10)
	if !ok || n.Sign() < 0 {
		return "", fmt.Errorf("invalid network version %q", version)
	}
	return hexutil.EncodeBig(n), nil
}
