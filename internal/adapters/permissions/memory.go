package permissions

import (
	"context"
	"sort"
	"sync"

	"github.com/bft-labs/walletbridge/internal/domain"
	"github.com/bft-labs/walletbridge/internal/ports"
	"github.com/bft-labs/walletbridge/pkg/clock"
)

var _ ports.PermissionStore = (*MemoryStore)(nil)

// MemoryStore keeps grants for the lifetime of the process.
type MemoryStore struct {
	mu    sync.RWMutex
	clk   clock.Clock
	conns map[string]domain.Connection
}

// NewMemoryStore creates an empty store. A nil clk uses the wall clock.
func NewMemoryStore(clk clock.Clock) *MemoryStore {
	return &MemoryStore{
		clk:   clock.OrReal(clk),
		conns: make(map[string]domain.Connection),
	}
}

// Get returns the connection of site, or a disconnected one.
func (s *MemoryStore) Get(ctx context.Context, site string) (domain.Connection, error) {
	site, err := normalizeSite(site)
	if err != nil {
		return domain.Connection{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conns[site]
	if !ok {
		return domain.Connection{Domain: site}, nil
	}
	return copyConnection(c), nil
}

// Grant connects site with addresses, replacing any earlier grant.
func (s *MemoryStore) Grant(ctx context.Context, site string, addresses []string) (domain.Connection, error) {
	site, err := normalizeSite(site)
	if err != nil {
		return domain.Connection{}, err
	}
	addrs, err := normalizeAddresses(addresses)
	if err != nil {
		return domain.Connection{}, err
	}
	c := domain.Connection{
		Domain:    site,
		Connected: true,
		Addresses: addrs,
		GrantedAt: s.clk.Now().UTC(),
	}
	s.mu.Lock()
	s.conns[site] = c
	s.mu.Unlock()
	return copyConnection(c), nil
}

// Revoke disconnects site. Revoking an unknown site is not an error.
func (s *MemoryStore) Revoke(ctx context.Context, site string) error {
	site, err := normalizeSite(site)
	if err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.conns, site)
	s.mu.Unlock()
	return nil
}

// List returns every connected site ordered by domain.
func (s *MemoryStore) List(ctx context.Context) ([]domain.Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Connection, 0, len(s.conns))
	for _, c := range s.conns {
		out = append(out, copyConnection(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Domain < out[j].Domain })
	return out, nil
}

func copyConnection(c domain.Connection) domain.Connection {
	c.Addresses = append([]string(nil), c.Addresses...)
	return c
}
