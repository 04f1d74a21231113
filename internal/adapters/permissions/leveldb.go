package permissions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/bft-labs/walletbridge/internal/domain"
	"github.com/bft-labs/walletbridge/internal/ports"
	"github.com/bft-labs/walletbridge/pkg/clock"
)

const siteKeyPrefix = "site:"

var _ ports.PermissionStore = (*LevelDBStore)(nil)

// LevelDBStore persists grants in a LevelDB database so connections
// survive daemon restarts.
type LevelDBStore struct {
	db  *leveldb.DB
	clk clock.Clock
}

// OpenLevelDB opens (or creates) the database at path.
func OpenLevelDB(path string, clk clock.Clock) (*LevelDBStore, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, fmt.Errorf("permissions: leveldb path required")
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return nil, fmt.Errorf("resolve permissions path: %w", err)
	}
	db, err := leveldb.OpenFile(abs, nil)
	if err != nil {
		return nil, fmt.Errorf("open permissions store: %w", err)
	}
	return &LevelDBStore{db: db, clk: clock.OrReal(clk)}, nil
}

// Close releases the database.
func (s *LevelDBStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Get returns the connection of site, or a disconnected one.
func (s *LevelDBStore) Get(ctx context.Context, site string) (domain.Connection, error) {
	site, err := normalizeSite(site)
	if err != nil {
		return domain.Connection{}, err
	}
	raw, err := s.db.Get(siteKey(site), nil)
	switch {
	case errors.Is(err, leveldb.ErrNotFound):
		return domain.Connection{Domain: site}, nil
	case err != nil:
		return domain.Connection{}, fmt.Errorf("load grant: %w", err)
	}
	var c domain.Connection
	if err := json.Unmarshal(raw, &c); err != nil {
		return domain.Connection{}, fmt.Errorf("decode grant for %s: %w", site, err)
	}
	return c, nil
}

// Grant connects site with addresses, replacing any earlier grant.
func (s *LevelDBStore) Grant(ctx context.Context, site string, addresses []string) (domain.Connection, error) {
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
	raw, err := json.Marshal(c)
	if err != nil {
		return domain.Connection{}, err
	}
	if err := s.db.Put(siteKey(site), raw, nil); err != nil {
		return domain.Connection{}, fmt.Errorf("record grant: %w", err)
	}
	return c, nil
}

// Revoke disconnects site. Revoking an unknown site is not an error.
func (s *LevelDBStore) Revoke(ctx context.Context, site string) error {
	site, err := normalizeSite(site)
	if err != nil {
		return err
	}
	if err := s.db.Delete(siteKey(site), nil); err != nil {
		return fmt.Errorf("revoke grant: %w", err)
	}
	return nil
}

// List returns every connected site.
func (s *LevelDBStore) List(ctx context.Context) ([]domain.Connection, error) {
	iter := s.db.NewIterator(util.BytesPrefix([]byte(siteKeyPrefix)), nil)
	defer iter.Release()

	var out []domain.Connection
	for iter.Next() {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		var c domain.Connection
		if err := json.Unmarshal(iter.Value(), &c); err != nil {
			continue
		}
		out = append(out, c)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("iterate grants: %w", err)
	}
	return out, nil
}

func siteKey(site string) []byte {
	return []byte(siteKeyPrefix + site)
}
