package bridge_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bft-labs/walletbridge/internal/provider"
	"github.com/bft-labs/walletbridge/internal/relay"
	"github.com/bft-labs/walletbridge/pkg/bridge"
	"github.com/bft-labs/walletbridge/pkg/protocol"
	"github.com/bft-labs/walletbridge/pkg/transport"
)

const (
	pageOrigin = "https://app.dapp.example"
	account    = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"

	waitFor = 5 * time.Second
	tick    = 10 * time.Millisecond
)

type stubNetwork struct{}

func (stubNetwork) Call(_ context.Context, method string, _ json.RawMessage) (json.RawMessage, error) {
	if method == "eth_blockNumber" {
		return json.RawMessage(`"0x10"`), nil
	}
	return nil, protocol.ChainDisconnected("no node")
}

type recordingHandler struct {
	bridge.BaseEventHandler

	mu        sync.Mutex
	states    []bridge.State
	opened    chan bridge.ApprovalPrompt
	dismissed chan bridge.ApprovalEvent
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{
		opened:    make(chan bridge.ApprovalPrompt, 16),
		dismissed: make(chan bridge.ApprovalEvent, 16),
	}
}

func (h *recordingHandler) OnStateChange(e bridge.StateChangeEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.states = append(h.states, e.Current)
}

func (h *recordingHandler) OnApprovalOpened(e bridge.ApprovalEvent) {
	h.opened <- e.Prompt
}

func (h *recordingHandler) OnApprovalDismissed(e bridge.ApprovalEvent) {
	h.dismissed <- e
}

func (h *recordingHandler) Seen() []bridge.State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]bridge.State(nil), h.states...)
}

func (h *recordingHandler) nextPrompt(t *testing.T) bridge.ApprovalPrompt {
	t.Helper()
	select {
	case p := <-h.opened:
		return p
	case <-time.After(waitFor):
		t.Fatal("no approval prompt opened")
		return bridge.ApprovalPrompt{}
	}
}

func testConfig() bridge.Config {
	return bridge.Config{
		ListenAddr:     "127.0.0.1:0",
		AllowedOrigins: []string{pageOrigin},
		ChainID:        "0x1",
		Chains:         []string{"0x89"},
	}
}

func startBridge(t *testing.T, cfg bridge.Config, opts ...bridge.Option) *bridge.Bridge {
	t.Helper()
	b, err := bridge.New(cfg, append([]bridge.Option{bridge.WithNetwork(stubNetwork{})}, opts...)...)
	require.NoError(t, err)
	require.NoError(t, b.Start(context.Background()))
	t.Cleanup(func() {
		if b.Status() == bridge.StateRunning {
			_ = b.Stop()
		}
	})
	return b
}

// connectPage wires a provider and a relay for pageOrigin to b, the way a
// browser page reaches the daemon.
func connectPage(t *testing.T, b *bridge.Bridge, from string) *provider.Provider {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	rl := relay.New(transport.WebsocketDialer{
		URL:    "ws://" + b.Addr() + bridge.DefaultRelayPath,
		Origin: from,
	}, relay.Config{})
	pages := transport.NewMemoryListener(from)
	go func() { _ = rl.ServePages(ctx, pages) }()
	require.NoError(t, rl.Start(ctx))

	p := provider.New(pages.Dialer(from), provider.Config{})
	require.NoError(t, p.Start(ctx))

	t.Cleanup(func() {
		_ = p.Close()
		_ = rl.Close()
		_ = pages.Close()
		cancel()
	})
	require.Eventually(t, p.IsConnected, waitFor, tick)
	return p
}

func request(t *testing.T, p *provider.Provider, method string, params any) (json.RawMessage, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	return p.Request(ctx, method, params)
}

func TestNewValidatesConfig(t *testing.T) {
	cases := map[string]func(*bridge.Config){
		"bad chain":    func(c *bridge.Config) { c.ChainID = "1" },
		"bad chains":   func(c *bridge.Config) { c.Chains = []string{"polygon"} },
		"bad origin":   func(c *bridge.Config) { c.AllowedOrigins = []string{"app.example/path"} },
		"relay path":   func(c *bridge.Config) { c.RelayPath = "relay" },
		"same paths":   func(c *bridge.Config) { c.ApprovalsPath = c.RelayPath },
		"local origin": func(c *bridge.Config) { c.LocalOrigin = "http://x/y" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := testConfig()
			cfg.SetDefaults()
			mutate(&cfg)
			_, err := bridge.New(cfg)
			assert.Error(t, err)
		})
	}
}

func TestLifecycle(t *testing.T) {
	h := newRecordingHandler()
	b, err := bridge.New(testConfig(), bridge.WithEventHandler(h))
	require.NoError(t, err)
	assert.Equal(t, bridge.StateStopped, b.Status())
	assert.Empty(t, b.Addr())
	assert.ErrorIs(t, b.Stop(), bridge.ErrNotRunning)

	require.NoError(t, b.Start(context.Background()))
	assert.Equal(t, bridge.StateRunning, b.Status())
	assert.NotEmpty(t, b.Addr())
	assert.ErrorIs(t, b.Start(context.Background()), bridge.ErrAlreadyRunning)

	require.NoError(t, b.Stop())
	assert.Equal(t, bridge.StateStopped, b.Status())
	assert.Empty(t, b.Addr())

	// A stopped bridge starts again with fresh collaborators.
	require.NoError(t, b.Start(context.Background()))
	require.NoError(t, b.Stop())

	assert.Equal(t, []bridge.State{
		bridge.StateStarting, bridge.StateRunning, bridge.StateStopping, bridge.StateStopped,
		bridge.StateStarting, bridge.StateRunning, bridge.StateStopping, bridge.StateStopped,
	}, h.Seen())
}

func TestReadOnlyOverWebsocket(t *testing.T) {
	b := startBridge(t, testConfig())
	p := connectPage(t, b, pageOrigin)

	result, err := request(t, p, "eth_chainId", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `"0x1"`, string(result))

	result, err = request(t, p, "eth_blockNumber", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `"0x10"`, string(result))

	result, err = request(t, p, "eth_accounts", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(result))

	require.Eventually(t, func() bool { return len(b.Ports()) == 1 }, waitFor, tick)
	assert.Equal(t, pageOrigin, b.Ports()[0].Origin)
}

func TestApprovalFlow(t *testing.T) {
	h := newRecordingHandler()
	b := startBridge(t, testConfig(), bridge.WithEventHandler(h))
	p := connectPage(t, b, pageOrigin)

	type outcome struct {
		result json.RawMessage
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := request(t, p, "eth_requestAccounts", nil)
		done <- outcome{res, err}
	}()

	prompt := h.nextPrompt(t)
	assert.Equal(t, "eth_requestAccounts", prompt.Method)
	assert.Equal(t, "dapp.example", prompt.Site)
	require.Len(t, b.Approvals(), 1)

	require.NoError(t, b.Approve(prompt.RequestID, json.RawMessage(`["`+strings.ToLower(account)+`"]`)))
	assert.ErrorIs(t, b.Approve(prompt.RequestID, nil), bridge.ErrUnknownApproval)

	select {
	case o := <-done:
		require.NoError(t, o.err)
		assert.JSONEq(t, `["`+account+`"]`, string(o.result))
	case <-time.After(waitFor):
		t.Fatal("eth_requestAccounts did not complete")
	}

	result, err := request(t, p, "eth_accounts", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `["`+account+`"]`, string(result))
}

func TestRejectedApproval(t *testing.T) {
	h := newRecordingHandler()
	b := startBridge(t, testConfig(), bridge.WithEventHandler(h))
	p := connectPage(t, b, pageOrigin)

	errc := make(chan error, 1)
	go func() {
		_, err := request(t, p, "eth_requestAccounts", nil)
		errc <- err
	}()

	prompt := h.nextPrompt(t)
	require.NoError(t, b.Reject(prompt.RequestID, nil))

	select {
	case err := <-errc:
		var rpcErr *protocol.RPCError
		require.True(t, errors.As(err, &rpcErr))
		assert.Equal(t, protocol.CodeUserRejected, rpcErr.Code)
	case <-time.After(waitFor):
		t.Fatal("eth_requestAccounts did not complete")
	}
}

func TestStopRejectsOpenApprovals(t *testing.T) {
	h := newRecordingHandler()
	b := startBridge(t, testConfig(), bridge.WithEventHandler(h))
	p := connectPage(t, b, pageOrigin)

	errc := make(chan error, 1)
	go func() {
		_, err := request(t, p, "personal_sign", []string{"0x68656c6c6f", account})
		errc <- err
	}()

	// Not connected yet, so signing is refused without a prompt.
	select {
	case err := <-errc:
		var rpcErr *protocol.RPCError
		require.True(t, errors.As(err, &rpcErr))
		assert.Equal(t, protocol.CodeUnauthorized, rpcErr.Code)
	case <-time.After(waitFor):
		t.Fatal("personal_sign did not complete")
	}

	go func() {
		_, err := request(t, p, "eth_requestAccounts", nil)
		errc <- err
	}()
	h.nextPrompt(t)

	require.NoError(t, b.Stop())
	select {
	case ev := <-h.dismissed:
		assert.Equal(t, "eth_requestAccounts", ev.Prompt.Method)
	case <-time.After(waitFor):
		t.Fatal("prompt was not dismissed")
	}
	assert.Empty(t, b.Approvals())
	assert.ErrorIs(t, b.Approve("any", nil), bridge.ErrNotRunning)
}

func TestRefusesUnknownOrigin(t *testing.T) {
	b := startBridge(t, testConfig())

	_, err := transport.WebsocketDialer{
		URL:    "ws://" + b.Addr() + bridge.DefaultRelayPath,
		Origin: "https://evil.example",
	}.Dial(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, transport.ErrUnavailable)
	assert.Empty(t, b.Ports())
}

type denyGuard struct {
	name string
}

func (g *denyGuard) Name() string { return g.name }

func (g *denyGuard) Initialize(context.Context, bridge.PluginConfig) error { return nil }

func (g *denyGuard) Shutdown(context.Context) error { return nil }

func (g *denyGuard) Check(_ context.Context, req bridge.GuardRequest) error {
	if req.Method == "eth_blockNumber" {
		return protocol.LimitExceeded()
	}
	return nil
}

func TestPluginGuard(t *testing.T) {
	b := startBridge(t, testConfig(), bridge.WithPlugin(&denyGuard{name: "deny"}))
	p := connectPage(t, b, pageOrigin)

	_, err := request(t, p, "eth_blockNumber", nil)
	var rpcErr *protocol.RPCError
	require.True(t, errors.As(err, &rpcErr))
	assert.Equal(t, protocol.CodeLimitExceeded, rpcErr.Code)

	_, err = request(t, p, "eth_chainId", nil)
	assert.NoError(t, err)
}

type failingPlugin struct {
	initialized, shutdown *[]string
	name                  string
	fail                  bool
}

func (f *failingPlugin) Name() string { return f.name }

func (f *failingPlugin) Initialize(context.Context, bridge.PluginConfig) error {
	if f.fail {
		return fmt.Errorf("%s: refused", f.name)
	}
	*f.initialized = append(*f.initialized, f.name)
	return nil
}

func (f *failingPlugin) Shutdown(context.Context) error {
	*f.shutdown = append(*f.shutdown, f.name)
	return nil
}

func TestPluginInitFailureRollsBack(t *testing.T) {
	var initialized, shutdown []string
	b, err := bridge.New(testConfig(),
		bridge.WithPlugin(&failingPlugin{name: "a", initialized: &initialized, shutdown: &shutdown}),
		bridge.WithPlugin(&failingPlugin{name: "b", initialized: &initialized, shutdown: &shutdown, fail: true}),
	)
	require.NoError(t, err)

	require.Error(t, b.Start(context.Background()))
	assert.Equal(t, bridge.StateCrashed, b.Status())
	assert.Equal(t, []string{"a"}, initialized)
	assert.Equal(t, []string{"a"}, shutdown)
	assert.Empty(t, b.Addr())
}

func TestHTTPSurface(t *testing.T) {
	cfg := testConfig()
	cfg.ApprovalToken = "secret"
	reg := prometheus.NewRegistry()
	b := startBridge(t, cfg, bridge.WithRegistry(reg))
	base := "http://" + b.Addr()

	resp, err := http.Get(base + "/healthz")
	require.NoError(t, err)
	var health struct {
		Status    string `json:"status"`
		Ports     int    `json:"ports"`
		Approvals int    `json:"approvals"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	resp.Body.Close()
	assert.Equal(t, "Running", health.Status)

	resp, err = http.Get(base + bridge.DefaultApprovalsPath + "/")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, base+bridge.DefaultApprovalsPath+"/", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer secret")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `[]`, string(body))

	resp, err = http.Get(base + "/metrics")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), "walletbridge_router_ports")
}

func TestDataDirPersistsPermissions(t *testing.T) {
	h := newRecordingHandler()
	cfg := testConfig()
	cfg.DataDir = t.TempDir()

	b := startBridge(t, cfg, bridge.WithEventHandler(h))
	p := connectPage(t, b, pageOrigin)
	errc := make(chan error, 1)
	go func() {
		_, err := request(t, p, "eth_requestAccounts", nil)
		errc <- err
	}()
	prompt := h.nextPrompt(t)
	require.NoError(t, b.Approve(prompt.RequestID, json.RawMessage(`["`+account+`"]`)))
	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("eth_requestAccounts did not complete")
	}
	require.NoError(t, b.Stop())

	b2 := startBridge(t, cfg)
	p2 := connectPage(t, b2, pageOrigin)
	result, err := request(t, p2, "eth_accounts", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `["`+account+`"]`, string(result))
}
