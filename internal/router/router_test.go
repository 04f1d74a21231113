package router

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bft-labs/walletbridge/internal/domain"
	"github.com/bft-labs/walletbridge/internal/ports"
	"github.com/bft-labs/walletbridge/pkg/clock"
	"github.com/bft-labs/walletbridge/pkg/origin"
	"github.com/bft-labs/walletbridge/pkg/protocol"
	"github.com/bft-labs/walletbridge/pkg/transport"
)

const (
	pageOrigin   = "https://app.dapp.example"
	pageDomain   = "app.dapp.example"
	routerOrigin = "walletbridge://router"

	account = "0x00000000000000000000000000000000000000a1"

	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type fakeSurface struct {
	mu        sync.Mutex
	prompts   chan domain.ApprovalPrompt
	replies   map[string]ports.ApprovalReply
	dismissed []string
	openErr   error
}

func newFakeSurface() *fakeSurface {
	return &fakeSurface{
		prompts: make(chan domain.ApprovalPrompt, 16),
		replies: make(map[string]ports.ApprovalReply),
	}
}

func (s *fakeSurface) Open(ctx context.Context, p domain.ApprovalPrompt, reply ports.ApprovalReply) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.openErr != nil {
		return s.openErr
	}
	s.replies[p.RequestID] = reply
	s.prompts <- p
	return nil
}

func (s *fakeSurface) Dismiss(id string, reason error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dismissed = append(s.dismissed, id)
}

func (s *fakeSurface) reply(id string) ports.ApprovalReply {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.replies[id]
}

func (s *fakeSurface) dismissedIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.dismissed...)
}

func (s *fakeSurface) nextPrompt(t *testing.T) domain.ApprovalPrompt {
	t.Helper()
	select {
	case p := <-s.prompts:
		return p
	case <-time.After(waitFor):
		t.Fatal("no approval prompt opened")
		return domain.ApprovalPrompt{}
	}
}

func (s *fakeSurface) assertNoPrompt(t *testing.T) {
	t.Helper()
	select {
	case p := <-s.prompts:
		t.Fatalf("unexpected prompt for %s", p.Method)
	case <-time.After(50 * time.Millisecond):
	}
}

type fakePermissions struct {
	mu    sync.Mutex
	conns map[string]domain.Connection
}

func newFakePermissions() *fakePermissions {
	return &fakePermissions{conns: make(map[string]domain.Connection)}
}

func (p *fakePermissions) Get(ctx context.Context, site string) (domain.Connection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.conns[site]
	if !ok {
		return domain.Connection{Domain: site}, nil
	}
	return c, nil
}

func (p *fakePermissions) Grant(ctx context.Context, site string, addresses []string) (domain.Connection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c := domain.Connection{Domain: site, Connected: true, Addresses: addresses, GrantedAt: epoch}
	p.conns[site] = c
	return c, nil
}

func (p *fakePermissions) Revoke(ctx context.Context, site string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.conns, site)
	return nil
}

type fakeWallet struct {
	mu      sync.Mutex
	chainID string
}

func (w *fakeWallet) ChainID(ctx context.Context) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.chainID, nil
}

func (w *fakeWallet) SwitchChain(ctx context.Context, chainID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.chainID = chainID
	return nil
}

type networkFunc func(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error)

func (f networkFunc) Call(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error) {
	return f(ctx, method, params)
}

type harness struct {
	router  *Router
	clk     *clock.Fake
	surface *fakeSurface
	perms   *fakePermissions
	wallet  *fakeWallet
	metrics *Metrics
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		clk:     clock.NewFake(epoch),
		surface: newFakeSurface(),
		perms:   newFakePermissions(),
		wallet:  &fakeWallet{chainID: "0x1"},
		metrics: NewMetrics(prometheus.NewRegistry()),
	}
	deps := Deps{
		Approvals:   h.surface,
		Permissions: h.perms,
		Wallet:      h.wallet,
		Network: networkFunc(func(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error) {
			switch method {
			case "eth_blockNumber":
				return protocol.MustMarshal("0x10"), nil
			case "eth_call":
				return nil, protocol.NewError(3, "execution reverted", "0x08c379a0")
			default:
				return nil, errors.New("dial tcp: connection refused")
			}
		}),
	}
	opts = append([]Option{WithClock(h.clk), WithMetrics(h.metrics)}, opts...)
	h.router = New(deps, DefaultConfig(), opts...)
	require.NoError(t, h.router.Start(context.Background()))
	t.Cleanup(func() { _ = h.router.Close() })
	return h
}

// client is the relay end of a channel.
type client struct {
	t      *testing.T
	conn   transport.Conn
	id     string
	events []*protocol.Event
}

func (h *harness) connect(t *testing.T, from string) *client {
	t.Helper()
	relayEnd, routerEnd := transport.Pipe(from, routerOrigin)
	id, err := h.router.Attach(routerEnd)
	require.NoError(t, err)
	return &client{t: t, conn: relayEnd, id: id}
}

func (c *client) request(id, method string, params any, flag bool) {
	raw, err := protocol.MarshalParams(params)
	require.NoError(c.t, err)
	c.sendRaw(&protocol.Request{ID: id, Method: method, Params: raw, RequiresApproval: flag, Timestamp: epoch.UnixMilli()})
}

func (c *client) sendRaw(m protocol.Message) {
	data, err := protocol.Encode(m)
	require.NoError(c.t, err)
	require.NoError(c.t, c.conn.Send(context.Background(), data))
}

func (c *client) next(t *testing.T) protocol.Message {
	t.Helper()
	select {
	case f := <-c.conn.Frames():
		msg, err := protocol.Decode(f.Data)
		require.NoError(t, err)
		return msg
	case <-time.After(waitFor):
		t.Fatal("channel received nothing")
		return nil
	}
}

// response waits for the next response, collecting events on the way.
func (c *client) response(t *testing.T) *protocol.Response {
	t.Helper()
	for {
		switch m := c.next(t).(type) {
		case *protocol.Response:
			return m
		case *protocol.Event:
			c.events = append(c.events, m)
		default:
			t.Fatalf("unexpected %T", m)
		}
	}
}

func (c *client) assertSilent(t *testing.T) {
	t.Helper()
	select {
	case f := <-c.conn.Frames():
		t.Fatalf("unexpected frame %s", f.Data)
	case <-time.After(50 * time.Millisecond):
	}
}

func requireCode(t *testing.T, resp *protocol.Response, code int) {
	t.Helper()
	require.NotNil(t, resp.Error, "expected error %d, got result %s", code, resp.Result)
	assert.Equal(t, code, resp.Error.Code)
}

func TestReadOnlyMethods(t *testing.T) {
	h := newHarness(t)
	c := h.connect(t, pageOrigin)

	tests := []struct {
		method string
		params any
		want   string
	}{
		{protocol.MethodChainID, nil, `"0x1"`},
		{protocol.MethodNetVersion, nil, `"1"`},
		{protocol.MethodAccounts, nil, `[]`},
		{protocol.MethodGetPermissions, nil, `[]`},
		{"eth_blockNumber", nil, `"0x10"`},
	}
	for i, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			id := "req-" + string(rune('a'+i))
			c.request(id, tt.method, tt.params, false)
			resp := c.response(t)
			assert.Equal(t, id, resp.ID)
			assert.Equal(t, tt.method, resp.Method)
			require.Nil(t, resp.Error)
			assert.JSONEq(t, tt.want, string(resp.Result))
		})
	}
	h.surface.assertNoPrompt(t)
}

func TestConnectedDomainSeesAccounts(t *testing.T) {
	h := newHarness(t)
	_, _ = h.perms.Grant(context.Background(), pageDomain, []string{account})
	c := h.connect(t, pageOrigin)

	c.request("req-1", protocol.MethodAccounts, nil, false)
	assert.JSONEq(t, `["`+account+`"]`, string(c.response(t).Result))

	c.request("req-2", protocol.MethodGetPermissions, nil, false)
	var perms []domain.Permission
	require.NoError(t, json.Unmarshal(c.response(t).Result, &perms))
	require.Len(t, perms, 1)
	assert.Equal(t, "eth_accounts", perms[0].ParentCapability)

	// Already connected: no prompt.
	c.request("req-3", protocol.MethodRequestAccounts, nil, true)
	assert.JSONEq(t, `["`+account+`"]`, string(c.response(t).Result))
	h.surface.assertNoPrompt(t)
}

func TestNetworkErrors(t *testing.T) {
	h := newHarness(t)
	c := h.connect(t, pageOrigin)

	c.request("req-1", "eth_call", []any{map[string]string{"to": account}}, false)
	resp := c.response(t)
	requireCode(t, resp, 3)
	assert.Equal(t, "execution reverted", resp.Error.Message)

	c.request("req-2", "eth_getBalance", []any{account, "latest"}, false)
	requireCode(t, c.response(t), protocol.CodeChainDisconnected)
}

func TestUnsupportedAndInvalid(t *testing.T) {
	h := newHarness(t)
	c := h.connect(t, pageOrigin)

	c.request("req-1", "eth_mine", nil, false)
	requireCode(t, c.response(t), protocol.CodeUnsupportedMethod)

	c.sendRaw(&protocol.Request{ID: "req-2", Method: "eth_blockNumber", Params: json.RawMessage(`{"a":1}`)})
	requireCode(t, c.response(t), protocol.CodeInvalidParams)

	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.requests.WithLabelValues("other", "unsupported", "4200")))
}

func TestServerClassificationWins(t *testing.T) {
	h := newHarness(t)
	c := h.connect(t, pageOrigin)

	// Claims approval but is read-only: answered directly.
	c.request("req-1", protocol.MethodChainID, nil, true)
	assert.JSONEq(t, `"0x1"`, string(c.response(t).Result))
	h.surface.assertNoPrompt(t)

	// Claims no approval but needs it: still prompts.
	c.request("req-2", protocol.MethodRequestAccounts, nil, false)
	p := h.surface.nextPrompt(t)
	assert.Equal(t, "req-2", p.RequestID)
}

func TestApprovalResolveGrantsAccounts(t *testing.T) {
	h := newHarness(t)
	c := h.connect(t, pageOrigin)
	other := h.connect(t, "https://other.example")

	c.request("req-1", protocol.MethodRequestAccounts, nil, true)
	p := h.surface.nextPrompt(t)
	assert.Equal(t, pageOrigin, p.Origin)
	assert.Equal(t, pageDomain, p.Domain)
	assert.Equal(t, "dapp.example", p.Site)
	assert.Equal(t, "connect to your wallet", p.Description)

	recs := h.router.Approvals()
	require.Len(t, recs, 1)
	assert.Equal(t, AwaitingApproval, recs[0].State)

	require.NoError(t, h.surface.reply("req-1").Resolve(protocol.MustMarshal([]string{account})))

	resp := c.response(t)
	require.Nil(t, resp.Error)
	assert.JSONEq(t, `["`+account+`"]`, string(resp.Result))
	require.Len(t, c.events, 1)
	assert.Equal(t, protocol.EventAccountsChanged, c.events[0].Event)
	other.assertSilent(t)

	conn, _ := h.perms.Get(context.Background(), pageDomain)
	assert.True(t, conn.Connected)
	assert.Empty(t, h.router.Approvals())

	// A second decision has no effect.
	assert.ErrorIs(t, h.surface.reply("req-1").Reject(nil), ErrUnknownApproval)
}

func TestApprovalReject(t *testing.T) {
	h := newHarness(t)
	_, _ = h.perms.Grant(context.Background(), pageDomain, []string{account})
	c := h.connect(t, pageOrigin)

	c.request("req-1", protocol.MethodPersonalSign, []string{"0xdead", account}, true)
	h.surface.nextPrompt(t)
	require.NoError(t, h.router.Reject("req-1", nil))

	resp := c.response(t)
	requireCode(t, resp, protocol.CodeUserRejected)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.approvalsClosed.WithLabelValues("Rejected")))
}

func TestSigningRequiresConnection(t *testing.T) {
	h := newHarness(t)
	c := h.connect(t, pageOrigin)

	c.request("req-1", protocol.MethodSendTransaction, []any{map[string]string{"from": account}}, true)
	requireCode(t, c.response(t), protocol.CodeUnauthorized)
	h.surface.assertNoPrompt(t)
}

func TestNullOriginCannotRequestAccess(t *testing.T) {
	h := newHarness(t)
	c := h.connect(t, origin.Null)

	c.request("req-1", protocol.MethodRequestAccounts, nil, true)
	requireCode(t, c.response(t), protocol.CodeUnauthorized)

	c.request("req-2", protocol.MethodAccounts, nil, false)
	assert.JSONEq(t, `[]`, string(c.response(t).Result))
}

func TestApprovalExpiresAfterSweep(t *testing.T) {
	h := newHarness(t)
	c := h.connect(t, pageOrigin)

	c.request("req-1", protocol.MethodRequestAccounts, nil, true)
	h.surface.nextPrompt(t)

	h.clk.Advance(20 * time.Second)
	h.clk.Advance(20 * time.Second)
	_, open := h.router.Approval("req-1")
	assert.True(t, open, "40s old approval must survive the sweep")

	h.clk.Advance(20 * time.Second)
	resp := c.response(t)
	requireCode(t, resp, protocol.CodeUserRejected)
	assert.Equal(t, protocol.ReasonExpired, resp.Error.Reason())
	assert.Equal(t, []string{"req-1"}, h.surface.dismissedIDs())
	assert.ErrorIs(t, h.router.Resolve("req-1", nil), ErrUnknownApproval)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.approvalsClosed.WithLabelValues("Expired")))
}

func TestDuplicateRequestsDropped(t *testing.T) {
	h := newHarness(t)
	c := h.connect(t, pageOrigin)

	c.request("req-1", protocol.MethodRequestAccounts, nil, true)
	c.request("req-1", protocol.MethodRequestAccounts, nil, true)
	h.surface.nextPrompt(t)
	h.surface.assertNoPrompt(t)

	require.NoError(t, h.router.Resolve("req-1", protocol.MustMarshal([]string{account})))
	c.response(t)

	c.request("req-2", protocol.MethodChainID, nil, false)
	c.request("req-2", protocol.MethodChainID, nil, false)
	assert.Equal(t, "req-2", c.response(t).ID)
	c.assertSilent(t)
	assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.duplicates))
}

func TestPortRemovalDropsApprovals(t *testing.T) {
	h := newHarness(t)
	c := h.connect(t, pageOrigin)

	c.request("req-1", protocol.MethodRequestAccounts, nil, true)
	h.surface.nextPrompt(t)
	require.Len(t, h.router.Ports(), 1)
	assert.Equal(t, 1, h.router.Ports()[0].InFlight)

	require.NoError(t, c.conn.Close())
	// sweep ticker + grace window
	require.Eventually(t, func() bool { return h.clk.Pending() == 2 }, waitFor, tick)
	assert.Len(t, h.router.Ports(), 1, "busy port lingers for the grace window")

	h.clk.Advance(DefaultGraceWindow)
	assert.Empty(t, h.router.Ports())
	assert.Empty(t, h.router.Approvals())
	assert.Equal(t, []string{"req-1"}, h.surface.dismissedIDs())
}

func TestIdlePortRemovedImmediately(t *testing.T) {
	h := newHarness(t)
	c := h.connect(t, pageOrigin)
	require.NoError(t, c.conn.Close())
	require.Eventually(t, func() bool { return len(h.router.Ports()) == 0 }, waitFor, tick)
}

func TestGuardRejects(t *testing.T) {
	h := newHarness(t, WithGuard(GuardFunc(func(ctx context.Context, req GuardRequest) error {
		if req.Method == "eth_blockNumber" {
			return protocol.LimitExceeded()
		}
		return nil
	})))
	c := h.connect(t, pageOrigin)

	c.request("req-1", "eth_blockNumber", nil, false)
	requireCode(t, c.response(t), protocol.CodeLimitExceeded)
	c.request("req-2", protocol.MethodChainID, nil, false)
	assert.Nil(t, c.response(t).Error)
}

func TestSwitchChainBroadcasts(t *testing.T) {
	h := newHarness(t)
	c := h.connect(t, pageOrigin)
	other := h.connect(t, "https://other.example")

	c.request("req-1", protocol.MethodSwitchChain, []any{map[string]string{"chainId": "0x89"}}, true)
	h.surface.nextPrompt(t)
	require.NoError(t, h.router.Resolve("req-1", nil))

	resp := c.response(t)
	require.Nil(t, resp.Error)
	assert.JSONEq(t, `null`, string(resp.Result))
	require.Len(t, c.events, 1)
	assert.Equal(t, protocol.EventChainChanged, c.events[0].Event)
	assert.JSONEq(t, `"0x89"`, string(c.events[0].Data))

	ev, ok := other.next(t).(*protocol.Event)
	require.True(t, ok)
	assert.Equal(t, protocol.EventChainChanged, ev.Event)

	chainID, _ := h.wallet.ChainID(context.Background())
	assert.Equal(t, "0x89", chainID)
}

func TestSwitchChainInvalidParams(t *testing.T) {
	h := newHarness(t)
	c := h.connect(t, pageOrigin)

	c.request("req-1", protocol.MethodSwitchChain, []any{map[string]string{}}, true)
	requireCode(t, c.response(t), protocol.CodeInvalidParams)
}

func TestRevokePermissions(t *testing.T) {
	h := newHarness(t)
	_, _ = h.perms.Grant(context.Background(), pageDomain, []string{account})
	c := h.connect(t, pageOrigin)

	c.request("req-1", protocol.MethodRevokePermissions, []any{map[string]any{"eth_accounts": map[string]any{}}}, true)
	h.surface.nextPrompt(t)
	require.NoError(t, h.router.Resolve("req-1", nil))

	c.response(t)
	require.Len(t, c.events, 1)
	assert.JSONEq(t, `[]`, string(c.events[0].Data))
	conn, _ := h.perms.Get(context.Background(), pageDomain)
	assert.False(t, conn.Connected)
}

func TestSurfaceFailure(t *testing.T) {
	h := newHarness(t)
	h.surface.openErr = errors.New("no display")
	c := h.connect(t, pageOrigin)

	c.request("req-1", protocol.MethodRequestAccounts, nil, true)
	requireCode(t, c.response(t), protocol.CodeInternal)
	assert.Empty(t, h.router.Approvals())
}

func TestBroadcast(t *testing.T) {
	h := newHarness(t)
	a := h.connect(t, pageOrigin)
	b := h.connect(t, "https://other.example")

	assert.Equal(t, 2, h.router.Broadcast(protocol.EventMessage, "hello"))
	assert.IsType(t, &protocol.Event{}, a.next(t))
	assert.IsType(t, &protocol.Event{}, b.next(t))

	assert.Equal(t, 1, h.router.BroadcastToDomain(pageDomain, protocol.EventMessage, "only you"))
	assert.IsType(t, &protocol.Event{}, a.next(t))
	b.assertSilent(t)
}

func TestPingAnswered(t *testing.T) {
	h := newHarness(t)
	c := h.connect(t, pageOrigin)
	c.sendRaw(&protocol.Ping{ID: "ping-1"})
	pong, ok := c.next(t).(*protocol.Pong)
	require.True(t, ok)
	assert.Equal(t, "ping-1", pong.ID)
}

func TestValidatorRefusesOrigin(t *testing.T) {
	h := newHarness(t, WithValidator(origin.NewValidator([]string{pageOrigin})))

	_, routerEnd := transport.Pipe("https://evil.example", routerOrigin)
	_, err := h.router.Attach(routerEnd)
	assert.ErrorIs(t, err, ErrOriginRefused)

	h.connect(t, pageOrigin)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.ports))
}

func TestServe(t *testing.T) {
	h := newHarness(t)
	l := transport.NewMemoryListener(routerOrigin)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- h.router.Serve(ctx, l) }()

	conn, err := l.Dial(context.Background(), pageOrigin)
	require.NoError(t, err)
	c := &client{t: t, conn: conn}
	c.request("req-1", protocol.MethodChainID, nil, false)
	assert.JSONEq(t, `"0x1"`, string(c.response(t).Result))

	cancel()
	assert.NoError(t, <-errc)
}

func TestCloseRejectsOpenApprovals(t *testing.T) {
	h := newHarness(t)
	c := h.connect(t, pageOrigin)
	c.request("req-1", protocol.MethodRequestAccounts, nil, true)
	h.surface.nextPrompt(t)

	require.NoError(t, h.router.Close())
	assert.Empty(t, h.router.Approvals())
	assert.Equal(t, []string{"req-1"}, h.surface.dismissedIDs())
	_, err := h.router.Attach(c.conn)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestCloseWaitsForReadOnlyCalls(t *testing.T) {
	h := newHarness(t)
	release := make(chan struct{})
	started := make(chan struct{})
	require.True(t, h.router.spawn(func() {
		close(started)
		<-release
	}))
	<-started

	closed := make(chan struct{})
	go func() {
		_ = h.router.Close()
		close(closed)
	}()
	select {
	case <-closed:
		t.Fatal("Close returned while a call was still running")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return")
	}

	ran := false
	assert.False(t, h.router.spawn(func() { ran = true }))
	assert.False(t, ran)
}
