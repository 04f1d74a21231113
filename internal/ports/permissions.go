package ports

import (
	"context"

	"github.com/bft-labs/walletbridge/internal/domain"
)

// PermissionStore remembers which sites are connected to the wallet.
type PermissionStore interface {
	// Get returns the connection record for site. An unknown site yields a
	// record with Connected false and a nil error.
	Get(ctx context.Context, site string) (domain.Connection, error)

	// Grant connects site with the given addresses, replacing any previous grant.
	Grant(ctx context.Context, site string, addresses []string) (domain.Connection, error)

	// Revoke disconnects site. Revoking an unknown site is not an error.
	Revoke(ctx context.Context, site string) error
}
