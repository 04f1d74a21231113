package permissions

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bft-labs/walletbridge/internal/domain"
	"github.com/bft-labs/walletbridge/internal/ports"
	"github.com/bft-labs/walletbridge/pkg/clock"
)

const (
	lowerAddr   = "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed"
	checksummed = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestNormalizeAddresses(t *testing.T) {
	tests := []struct {
		name    string
		in      []string
		want    []string
		wantErr bool
	}{
		{name: "checksums", in: []string{lowerAddr}, want: []string{checksummed}},
		{name: "dedups", in: []string{lowerAddr, checksummed}, want: []string{checksummed}},
		{name: "empty", in: nil, wantErr: true},
		{name: "short", in: []string{"0x1234"}, wantErr: true},
		{name: "not hex", in: []string{"0xzzzzb6053f3e94c9b9a09f33669435e7ef1beaed"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := normalizeAddresses(tt.in)
			if tt.wantErr {
				if !errors.Is(err, domain.ErrInvalidAddress) {
					t.Fatalf("expected ErrInvalidAddress, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(got) != len(tt.want) || got[0] != tt.want[0] {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

// exercise runs the PermissionStore contract against s.
func exercise(t *testing.T, s ports.PermissionStore) {
	ctx := context.Background()

	c, err := s.Get(ctx, "app.example")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if c.Connected || len(c.Accounts()) != 0 {
		t.Errorf("unknown site should be disconnected, got %+v", c)
	}

	c, err = s.Grant(ctx, "App.Example", []string{lowerAddr})
	if err != nil {
		t.Fatalf("Grant: %v", err)
	}
	if !c.Connected || c.Domain != "app.example" || !c.GrantedAt.Equal(epoch) {
		t.Errorf("unexpected grant %+v", c)
	}

	c, err = s.Get(ctx, "app.example")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got := c.Accounts(); len(got) != 1 || got[0] != checksummed {
		t.Errorf("Accounts() = %v", got)
	}

	if _, err := s.Grant(ctx, "app.example", []string{"nope"}); !errors.Is(err, domain.ErrInvalidAddress) {
		t.Errorf("expected ErrInvalidAddress, got %v", err)
	}

	if err := s.Revoke(ctx, "app.example"); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if err := s.Revoke(ctx, "never.example"); err != nil {
		t.Errorf("revoking unknown site: %v", err)
	}
	c, _ = s.Get(ctx, "app.example")
	if c.Connected {
		t.Error("site still connected after revoke")
	}

	if _, err := s.Get(ctx, ""); err == nil {
		t.Error("empty site should fail")
	}
}

func TestMemoryStore(t *testing.T) {
	exercise(t, NewMemoryStore(clock.NewFake(epoch)))
}

func TestLevelDBStore(t *testing.T) {
	s, err := OpenLevelDB(t.TempDir(), clock.NewFake(epoch))
	if err != nil {
		t.Fatalf("OpenLevelDB: %v", err)
	}
	defer s.Close()
	exercise(t, s)
}

func TestLevelDBStoreSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := OpenLevelDB(dir, clock.NewFake(epoch))
	if err != nil {
		t.Fatalf("OpenLevelDB: %v", err)
	}
	if _, err := s.Grant(ctx, "app.example", []string{lowerAddr}); err != nil {
		t.Fatalf("Grant: %v", err)
	}
	if _, err := s.Grant(ctx, "other.example", []string{lowerAddr}); err != nil {
		t.Fatalf("Grant: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s, err = OpenLevelDB(dir, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()

	c, err := s.Get(ctx, "app.example")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !c.Connected || c.Addresses[0] != checksummed {
		t.Errorf("grant lost across reopen: %+v", c)
	}
	all, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 2 || all[0].Domain != "app.example" || all[1].Domain != "other.example" {
		t.Errorf("List() = %+v", all)
	}
}

func TestOpenLevelDBRequiresPath(t *testing.T) {
	if _, err := OpenLevelDB("  ", nil); err == nil {
		t.Fatal("expected error for empty path")
	}
}
