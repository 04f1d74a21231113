package provider

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/bft-labs/walletbridge/internal/pending"
	"github.com/bft-labs/walletbridge/internal/seen"
	"github.com/bft-labs/walletbridge/pkg/clock"
	"github.com/bft-labs/walletbridge/pkg/ids"
	"github.com/bft-labs/walletbridge/pkg/lifecycle"
	"github.com/bft-labs/walletbridge/pkg/log"
	"github.com/bft-labs/walletbridge/pkg/origin"
	"github.com/bft-labs/walletbridge/pkg/protocol"
	"github.com/bft-labs/walletbridge/pkg/transport"
)

var (
	// ErrAlreadyStarted is returned by a second call to Start.
	ErrAlreadyStarted = errors.New("provider: already started")

	// ErrClosed is returned by Request after Close.
	ErrClosed = errors.New("provider: closed")
)

const pingMethod = "WALLET_PING"

// Provider is the in-page agent. It turns Request calls into request
// envelopes, correlates responses, and keeps a link to the relay alive.
type Provider struct {
	cfg    Config
	dialer transport.Dialer
	logger log.Logger
	clk    clock.Clock
	ids    *ids.Generator

	link        *lifecycle.Connection
	initializer *lifecycle.Reconnector
	reconnector *lifecycle.Reconnector

	pending *pending.Table[struct{}]
	probes  *pending.Table[transport.Conn]
	seen    *seen.Set
	events  *emitter

	mu        sync.Mutex
	conn      transport.Conn
	backendUp bool
	state     walletState
	started   bool
	closed    bool
	stopProbe func()

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a provider that reaches the relay through dialer.
func New(dialer transport.Dialer, cfg Config, opts ...Option) *Provider {
	cfg.SetDefaults()
	if cfg.Info.UUID == "" {
		cfg.Info.UUID = ids.Instance()
	}

	p := &Provider{
		cfg:       cfg,
		dialer:    dialer,
		backendUp: true,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = log.NewNoopLogger()
	}
	p.clk = clock.OrReal(p.clk)
	if p.ids == nil {
		p.ids = ids.NewGenerator()
	}

	p.link = lifecycle.NewConnection("provider", p.logger, nil)
	p.initializer = lifecycle.NewReconnector("provider-init", p.clk, cfg.InitialConnect, p.logger)
	p.reconnector = lifecycle.NewReconnector("provider", p.clk, cfg.Reconnect, p.logger)
	p.pending = pending.NewTable[struct{}](p.clk)
	p.probes = pending.NewTable[transport.Conn](p.clk)
	p.seen = seen.New(cfg.SeenCapacity)
	p.events = newEmitter(p.logger)
	p.ctx, p.cancel = context.WithCancel(context.Background())
	return p
}

// Info returns the provider's EIP-6963 description.
func (p *Provider) Info() Info {
	return p.cfg.Info
}

// Start begins connecting in the background and returns immediately.
func (p *Provider) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return ErrAlreadyStarted
	}
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	p.started = true
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.stopProbe = clock.Every(p.clk, p.cfg.ProbeInterval, p.probeTick)
	p.mu.Unlock()

	p.startCycle(true, "initialize")
	return nil
}

// Close tears the provider down and rejects outstanding requests.
func (p *Provider) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	conn := p.conn
	p.conn = nil
	stop := p.stopProbe
	p.mu.Unlock()

	if stop != nil {
		stop()
	}
	p.initializer.Stop()
	p.reconnector.Stop()
	p.cancel()
	if conn != nil {
		_ = conn.Close()
	}
	p.link.CompareAndTransition(lifecycle.Connected, lifecycle.Disconnected, "closed")
	p.link.CompareAndTransition(lifecycle.Connecting, lifecycle.Disconnected, "closed")
	p.pending.RejectAll(protocol.Disconnected("The provider was closed."))
	p.probes.RejectAll(transport.ErrClosed)
	return nil
}

// IsConnected reports whether the link to the relay is up and the relay
// reports the wallet backend as reachable.
func (p *Provider) IsConnected() bool {
	if !p.link.Is(lifecycle.Connected) {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.backendUp && p.conn != nil
}

// State returns the link state.
func (p *Provider) State() lifecycle.ConnState {
	return p.link.State()
}

// On registers l for the named event and returns a function removing it.
func (p *Provider) On(event string, l Listener) func() {
	return p.events.on(event, l)
}

// Pending returns the number of requests awaiting a response.
func (p *Provider) Pending() int {
	return p.pending.Len()
}

// Request sends method to the wallet and waits for its result.
func (p *Provider) Request(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if method == "" {
		return nil, protocol.InvalidParams("method is required")
	}
	raw, err := protocol.MarshalParams(params)
	if err != nil {
		return nil, protocol.InvalidParams(err.Error())
	}

	if result, ok := p.fromCache(method); ok {
		return result, nil
	}

	conn, err := p.awaitLink(ctx)
	if err != nil {
		return nil, err
	}
	result, err := p.roundTrip(ctx, conn, method, raw)
	if err != nil {
		return nil, err
	}
	p.updateCache(method, result)
	return result, nil
}

// awaitLink returns the live connection, waiting for an in-progress
// connection cycle or kicking a new one.
func (p *Provider) awaitLink(ctx context.Context) (transport.Conn, error) {
	expired := make(chan struct{})
	var once sync.Once
	timer := p.clk.AfterFunc(p.cfg.RequestTimeout, func() { once.Do(func() { close(expired) }) })
	defer timer.Stop()

	kicked := false
	for {
		if p.isClosed() {
			return nil, ErrClosed
		}
		changed := p.link.Changed()
		switch p.link.State() {
		case lifecycle.Connected:
			p.mu.Lock()
			conn := p.conn
			p.mu.Unlock()
			if conn != nil {
				return conn, nil
			}
		case lifecycle.Disconnected:
			if kicked {
				return nil, protocol.Disconnected("")
			}
			kicked = true
			if !p.startCycle(true, "request while disconnected") {
				continue
			}
		case lifecycle.Connecting:
			kicked = true
		}

		select {
		case <-changed:
		case <-expired:
			return nil, protocol.Disconnected("")
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (p *Provider) roundTrip(ctx context.Context, conn transport.Conn, method string, params json.RawMessage) (json.RawMessage, error) {
	id := p.ids.Request()
	done := make(chan pending.Outcome, 1)
	entry := pending.Entry[struct{}]{ID: id, Method: method}
	if err := p.pending.Insert(entry, p.cfg.RequestTimeout, func(o pending.Outcome) { done <- o }); err != nil {
		return nil, protocol.Internal(err.Error())
	}

	req := &protocol.Request{
		ID:               id,
		Method:           method,
		Params:           params,
		RequiresApproval: protocol.RequiresApproval(method),
		Timestamp:        p.clk.Now().UnixMilli(),
	}
	if err := p.send(ctx, conn, req); err != nil {
		p.logger.Warn("failed to deliver request", log.RequestID(id), log.Method(method), log.Err(err))
		p.pending.Reject(id, protocol.Disconnected("Failed to deliver the request."))
		_ = conn.Close()
	}

	var out pending.Outcome
	select {
	case out = <-done:
	case <-ctx.Done():
		p.pending.Reject(id, ctx.Err())
		out = <-done
	}
	return out.Result, out.Err
}

func (p *Provider) send(ctx context.Context, conn transport.Conn, m protocol.Message) error {
	data, err := protocol.Encode(m)
	if err != nil {
		return err
	}
	return conn.Send(ctx, data)
}

// startCycle begins a connection cycle if the link is idle. initial
// selects the quiet, immediate initialization schedule.
func (p *Provider) startCycle(initial bool, reason string) bool {
	if p.isClosed() {
		return false
	}
	if !p.link.CompareAndTransition(lifecycle.Disconnected, lifecycle.Connecting, reason) {
		return false
	}

	rc := p.reconnector
	if initial {
		rc = p.initializer
	}
	return rc.Start(lifecycle.Cycle{
		Immediate: initial,
		Attempt:   p.attempt,
		OnSuccess: func(n int) { p.onConnected(n) },
		OnGiveUp:  func(err error) { p.onGiveUp(err, initial) },
	})
}

// attempt dials the relay and completes a ping/pong handshake.
func (p *Provider) attempt(n int, done func(error)) {
	ctx, cancel := context.WithCancel(p.ctx)
	conn, err := p.dialer.Dial(ctx)
	cancel()
	if err != nil {
		done(err)
		return
	}
	p.install(conn)

	pingID := p.ids.Ping()
	err = p.probes.Insert(pending.Entry[transport.Conn]{ID: pingID, Method: pingMethod, Meta: conn}, p.cfg.ProbeTimeout, func(o pending.Outcome) {
		if o.Err != nil {
			p.drop(conn)
			done(o.Err)
			return
		}
		done(nil)
	})
	if err != nil {
		p.drop(conn)
		done(err)
		return
	}
	if err := p.send(p.ctx, conn, &protocol.Ping{ID: pingID}); err != nil {
		p.probes.Reject(pingID, err)
	}
}

func (p *Provider) onConnected(attempt int) {
	p.mu.Lock()
	p.backendUp = true
	p.mu.Unlock()

	if err := p.link.TransitionTo(lifecycle.Connected, "handshake complete"); err != nil {
		p.logger.Warn("unexpected link state", log.Err(err))
		return
	}
	p.logger.Info("connected to relay", log.Int("attempt", attempt))
	go p.refresh()
}

func (p *Provider) onGiveUp(err error, initial bool) {
	_ = p.link.TransitionTo(lifecycle.Disconnected, "attempts exhausted")
	if initial {
		p.logger.Warn("initial connection failed, will keep retrying", log.Err(err))
		return
	}

	rejected := p.pending.RejectAll(protocol.Disconnected(""))
	p.logger.Error("reconnection exhausted",
		log.Int("rejected", len(rejected)),
		log.Err(err),
	)
	p.events.emit(protocol.EventDisconnect, protocol.MustMarshal(protocol.ErrDisconnected))
}

// refresh re-derives chain id and accounts after (re)connecting, then
// announces the connection.
func (p *Provider) refresh() {
	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()
	if conn == nil {
		return
	}

	ctx := p.ctx
	if result, err := p.roundTrip(ctx, conn, protocol.MethodChainID, nil); err == nil {
		p.updateCache(protocol.MethodChainID, result)
	} else {
		p.logger.Warn("failed to refresh chain id", log.Err(err))
	}
	if result, err := p.roundTrip(ctx, conn, protocol.MethodAccounts, nil); err == nil {
		p.updateCache(protocol.MethodAccounts, result)
	} else {
		p.logger.Warn("failed to refresh accounts", log.Err(err))
	}

	p.events.emit(protocol.EventConnect, protocol.MustMarshal(map[string]string{"chainId": p.ChainID()}))
}

// probeTick runs every ProbeInterval.
func (p *Provider) probeTick() {
	if p.isClosed() {
		return
	}
	switch p.link.State() {
	case lifecycle.Connected:
		p.probe()
	case lifecycle.Disconnected:
		p.startCycle(true, "watchdog")
	}
}

func (p *Provider) probe() {
	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()
	if conn == nil {
		return
	}

	pingID := p.ids.Ping()
	err := p.probes.Insert(pending.Entry[transport.Conn]{ID: pingID, Method: pingMethod, Meta: conn}, p.cfg.ProbeTimeout, func(o pending.Outcome) {
		if o.Err != nil {
			p.logger.Warn("liveness probe failed", log.Err(o.Err))
			p.linkLost(conn, "liveness probe failed")
		}
	})
	if err != nil {
		return
	}
	if err := p.send(p.ctx, conn, &protocol.Ping{ID: pingID}); err != nil {
		p.probes.Reject(pingID, err)
	}
}

func (p *Provider) install(conn transport.Conn) {
	p.mu.Lock()
	old := p.conn
	p.conn = conn
	p.mu.Unlock()

	if old != nil && old != conn {
		_ = old.Close()
	}
	go p.readLoop(conn)
}

// drop discards conn without triggering reconnection.
func (p *Provider) drop(conn transport.Conn) {
	p.mu.Lock()
	if p.conn == conn {
		p.conn = nil
	}
	p.mu.Unlock()
	_ = conn.Close()
}

// linkLost handles the loss of the current connection.
func (p *Provider) linkLost(conn transport.Conn, reason string) {
	p.mu.Lock()
	if p.conn != conn {
		p.mu.Unlock()
		return
	}
	p.conn = nil
	closed := p.closed
	p.mu.Unlock()
	_ = conn.Close()

	if closed {
		return
	}
	if p.link.CompareAndTransition(lifecycle.Connected, lifecycle.Disconnected, reason) {
		p.startCycle(false, reason)
	}
}

func (p *Provider) readLoop(conn transport.Conn) {
	for {
		select {
		case f := <-conn.Frames():
			p.handleFrame(conn, f)
		case <-conn.Done():
			for _, f := range transport.Drain(conn) {
				p.handleFrame(conn, f)
			}
			p.probes.RejectWhere(func(e pending.Entry[transport.Conn]) bool { return e.Meta == conn }, transport.ErrClosed)
			p.linkLost(conn, "channel closed")
			return
		case <-p.ctx.Done():
			return
		}
	}
}

func (p *Provider) acceptOrigin(conn transport.Conn, from string) bool {
	expected := p.cfg.Origin
	if expected == "" {
		expected = conn.Info().RemoteOrigin
	}
	if origin.IsNull(expected) {
		return origin.IsNull(from)
	}
	return origin.Same(expected, from)
}

func (p *Provider) handleFrame(conn transport.Conn, f transport.Frame) {
	if !p.acceptOrigin(conn, f.Origin) {
		p.logger.Debug("dropped frame from unexpected origin", log.Origin(f.Origin))
		return
	}
	msg, err := protocol.Decode(f.Data)
	if err != nil {
		p.logger.Debug("dropped malformed frame", log.Err(err))
		return
	}

	switch m := msg.(type) {
	case *protocol.Response:
		p.handleResponse(m)
	case *protocol.Event:
		p.handleEvent(m)
	case *protocol.Pong:
		p.probes.Resolve(m.ID, nil)
	case *protocol.Ping:
		if err := p.send(p.ctx, conn, &protocol.Pong{ID: m.ID}); err != nil {
			p.logger.Debug("failed to answer ping", log.Err(err))
		}
	case *protocol.Request:
		p.logger.Debug("dropped request addressed to the page", log.RequestID(m.ID))
	case *protocol.Unknown:
		p.logger.Debug("dropped frame with unknown type", log.String("type", m.Type))
	}
}

func (p *Provider) handleResponse(m *protocol.Response) {
	if !p.seen.Add(m.ID) {
		p.logger.Debug("dropped duplicate response", log.RequestID(m.ID))
		return
	}

	var ok bool
	if m.Error != nil {
		ok = p.pending.Reject(m.ID, m.Error)
	} else {
		ok = p.pending.Resolve(m.ID, m.Result)
	}
	if !ok {
		p.logger.Debug("response for unknown or expired request", log.RequestID(m.ID), log.Method(m.Method))
	}
}

func (p *Provider) handleEvent(m *protocol.Event) {
	switch m.Event {
	case protocol.EventAccountsChanged:
		var accounts []string
		if err := json.Unmarshal(m.Data, &accounts); err != nil {
			p.logger.Warn("malformed accountsChanged event", log.Err(err))
			return
		}
		p.setAccounts(accounts)
		p.events.emit(m.Event, m.Data)

	case protocol.EventChainChanged:
		var chainID string
		if err := json.Unmarshal(m.Data, &chainID); err != nil {
			p.logger.Warn("malformed chainChanged event", log.Err(err))
			return
		}
		p.setChain(chainID)
		p.events.emit(m.Event, m.Data)

	case protocol.EventConnect:
		p.mu.Lock()
		wasUp := p.backendUp
		p.backendUp = true
		p.mu.Unlock()
		// Already announced by the handshake refresh.
		if wasUp {
			p.logger.Debug("backend connect while already up")
			return
		}
		if p.link.Is(lifecycle.Connected) {
			go p.refresh()
		}

	case protocol.EventDisconnect:
		p.mu.Lock()
		p.backendUp = false
		p.state.accounts = nil
		p.mu.Unlock()
		data := m.Data
		if len(data) == 0 || string(data) == "null" {
			data = protocol.MustMarshal(protocol.ErrDisconnected)
		}
		p.events.emit(m.Event, data)

	case protocol.EventMessage:
		p.events.emit(m.Event, m.Data)

	default:
		p.logger.Warn("dropped unknown event", log.String("event", m.Event))
	}
}

func (p *Provider) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
