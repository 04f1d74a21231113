package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bft-labs/walletbridge/pkg/bridge"
	"github.com/bft-labs/walletbridge/pkg/clock"
	"github.com/bft-labs/walletbridge/pkg/protocol"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func readOnly(domain string) bridge.GuardRequest {
	return bridge.GuardRequest{
		Origin: "https://" + domain,
		Domain: domain,
		Method: "eth_blockNumber",
		Class:  protocol.ClassReadOnly,
	}
}

func newPlugin(t *testing.T, cfg Config) (*Plugin, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(epoch)
	p := New(cfg)
	if err := p.Initialize(context.Background(), bridge.PluginConfig{Clock: clk}); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })
	return p, clk
}

func isLimited(err error) bool {
	var rpcErr *protocol.RPCError
	return errors.As(err, &rpcErr) && rpcErr.Code == protocol.CodeLimitExceeded
}

func TestPlugin_BurstThenRefill(t *testing.T) {
	p, clk := newPlugin(t, Config{Rate: 2, Burst: 3})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := p.Check(ctx, readOnly("a.example")); err != nil {
			t.Fatalf("request %d: unexpected error %v", i, err)
		}
	}
	if err := p.Check(ctx, readOnly("a.example")); !isLimited(err) {
		t.Fatalf("Check() error = %v, want LimitExceeded", err)
	}

	// Budgets are per site.
	if err := p.Check(ctx, readOnly("b.example")); err != nil {
		t.Errorf("other site limited: %v", err)
	}

	clk.Advance(500 * time.Millisecond)
	if err := p.Check(ctx, readOnly("a.example")); err != nil {
		t.Errorf("token not refilled: %v", err)
	}
	if err := p.Check(ctx, readOnly("a.example")); !isLimited(err) {
		t.Errorf("Check() error = %v, want LimitExceeded", err)
	}
}

func TestPlugin_ApprovalOnly(t *testing.T) {
	p, _ := newPlugin(t, Config{Rate: 1, Burst: 1, ApprovalOnly: true})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := p.Check(ctx, readOnly("a.example")); err != nil {
			t.Fatalf("read-only request limited: %v", err)
		}
	}

	req := bridge.GuardRequest{Domain: "a.example", Method: "eth_requestAccounts", Class: protocol.ClassApproval}
	if err := p.Check(ctx, req); err != nil {
		t.Fatalf("first approval limited: %v", err)
	}
	if err := p.Check(ctx, req); !isLimited(err) {
		t.Errorf("Check() error = %v, want LimitExceeded", err)
	}
}

func TestPlugin_NullOriginKeyedByOrigin(t *testing.T) {
	p, _ := newPlugin(t, Config{Rate: 1, Burst: 1})
	ctx := context.Background()

	req := bridge.GuardRequest{Origin: "null", Method: "eth_chainId", Class: protocol.ClassReadOnly}
	if err := p.Check(ctx, req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := p.Check(ctx, req); !isLimited(err) {
		t.Errorf("Check() error = %v, want LimitExceeded", err)
	}
	if p.Sites() != 1 {
		t.Errorf("Sites() = %d, want 1", p.Sites())
	}
}

func TestPlugin_EvictsIdleSites(t *testing.T) {
	p, clk := newPlugin(t, Config{Rate: 1, IdleTTL: time.Minute})
	ctx := context.Background()

	_ = p.Check(ctx, readOnly("a.example"))
	clk.Advance(30 * time.Second)
	_ = p.Check(ctx, readOnly("b.example"))
	if p.Sites() != 2 {
		t.Fatalf("Sites() = %d, want 2", p.Sites())
	}

	clk.Advance(30 * time.Second)
	if p.Sites() != 1 {
		t.Errorf("Sites() = %d after first sweep, want 1", p.Sites())
	}
	clk.Advance(time.Minute)
	if p.Sites() != 0 {
		t.Errorf("Sites() = %d after second sweep, want 0", p.Sites())
	}
}

func TestNew_Defaults(t *testing.T) {
	p := New(Config{Rate: 4.5})
	if p.burst != 5 {
		t.Errorf("burst = %d, want 5", p.burst)
	}
	if p.idleTTL != 5*time.Minute {
		t.Errorf("idleTTL = %v, want 5m", p.idleTTL)
	}

	d := New(Config{})
	if float64(d.limit) != 10 || d.burst != 11 {
		t.Errorf("defaults = %v/%d, want 10/11", d.limit, d.burst)
	}
}
