// Package relay implements the content bridge between one page and the
// router. It validates page frames, keeps a single multiplexed channel
// to the router alive, queues requests while that channel is down, and
// answers for the router when the channel is lost.
package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bft-labs/walletbridge/internal/pending"
	"github.com/bft-labs/walletbridge/internal/seen"
	"github.com/bft-labs/walletbridge/pkg/clock"
	"github.com/bft-labs/walletbridge/pkg/ids"
	"github.com/bft-labs/walletbridge/pkg/lifecycle"
	"github.com/bft-labs/walletbridge/pkg/log"
	"github.com/bft-labs/walletbridge/pkg/origin"
	"github.com/bft-labs/walletbridge/pkg/protocol"
	"github.com/bft-labs/walletbridge/pkg/state"
	"github.com/bft-labs/walletbridge/pkg/transport"
)

var (
	// ErrAlreadyStarted is returned by a second call to Start.
	ErrAlreadyStarted = errors.New("relay: already started")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("relay: closed")
)

const pingMethod = "WALLET_PING"

// Relay bridges one page to the router.
type Relay struct {
	cfg    Config
	router transport.Dialer
	logger log.Logger
	clk    clock.Clock
	store  state.Repository
	ids    *ids.Generator

	link        *lifecycle.Connection
	reconnector *lifecycle.Reconnector
	forwarded   *pending.Table[struct{}]
	probes      *pending.Table[transport.Conn]
	seen        *seen.Set

	mu        sync.Mutex
	page      transport.Conn
	pageCheck *origin.Validator
	upstream  transport.Conn
	queue     *queue
	suspended bool
	started   bool
	closed    bool
	stops     []func()

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a relay that reaches the router through router.
func New(router transport.Dialer, cfg Config, opts ...Option) *Relay {
	cfg.SetDefaults()

	r := &Relay{
		cfg:    cfg,
		router: router,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = log.NewNoopLogger()
	}
	r.clk = clock.OrReal(r.clk)
	if r.store == nil {
		r.store = state.NewMemoryRepository()
	}
	r.ids = ids.NewGenerator()

	r.link = lifecycle.NewConnection("relay", r.logger, nil)
	r.reconnector = lifecycle.NewReconnector("relay", r.clk, cfg.Reconnect, r.logger)
	r.forwarded = pending.NewTable[struct{}](r.clk)
	r.probes = pending.NewTable[transport.Conn](r.clk)
	r.seen = seen.New(cfg.SeenCapacity)
	r.queue = newQueue(cfg.QueueCapacity)
	r.ctx, r.cancel = context.WithCancel(context.Background())
	return r
}

// Start opens the router channel in the background and starts the
// liveness probe and health check.
func (r *Relay) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return ErrAlreadyStarted
	}
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	r.started = true
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.stops = append(r.stops,
		clock.Every(r.clk, r.cfg.ProbeInterval, r.probeTick),
		clock.Every(r.clk, r.cfg.HealthInterval, r.healthTick),
	)
	r.mu.Unlock()

	r.loadSnapshot(ctx)
	r.startCycle(true, "start")
	return nil
}

// Close tears down both links. Forwarded requests are abandoned.
func (r *Relay) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	page, upstream := r.page, r.upstream
	r.page, r.upstream = nil, nil
	stops := r.stops
	r.stops = nil
	r.mu.Unlock()

	for _, stop := range stops {
		stop()
	}
	r.reconnector.Stop()
	r.cancel()
	if upstream != nil {
		_ = upstream.Close()
	}
	if page != nil {
		_ = page.Close()
	}
	r.link.CompareAndTransition(lifecycle.Connected, lifecycle.Disconnected, "closed")
	r.link.CompareAndTransition(lifecycle.Connecting, lifecycle.Disconnected, "closed")
	r.forwarded.RejectAll(protocol.Disconnected(""))
	r.probes.RejectAll(transport.ErrClosed)
	return nil
}

// State returns the router link state.
func (r *Relay) State() lifecycle.ConnState {
	return r.link.State()
}

// Queued returns the number of requests waiting for the router channel.
func (r *Relay) Queued() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.queue.len()
}

// InFlight returns the number of forwarded requests not yet answered.
func (r *Relay) InFlight() int {
	return r.forwarded.Len()
}

// Suspended reports whether the relay is suspended.
func (r *Relay) Suspended() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.suspended
}

// ServePages attaches every page link accepted from l until ctx ends.
func (r *Relay) ServePages(ctx context.Context, l transport.Listener) error {
	for {
		conn, err := l.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		r.AttachPage(conn)
	}
}

// AttachPage makes conn the page link, replacing any previous one.
func (r *Relay) AttachPage(conn transport.Conn) {
	expected := r.cfg.PageOrigin
	if expected == "" {
		expected = conn.Info().RemoteOrigin
	}
	check := origin.Exact(expected, origin.WithNullOrigin(r.cfg.AllowNullOrigin))

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		_ = conn.Close()
		return
	}
	old := r.page
	r.page = conn
	r.pageCheck = check
	r.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	r.logger.Debug("page attached", log.Origin(expected))
	go r.pageLoop(conn)
}

// Suspend saves the in-flight and queued requests, then marks the router
// link Disconnected without closing it. Probes pause until Resume.
func (r *Relay) Suspend(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	if r.suspended {
		r.mu.Unlock()
		return nil
	}
	r.suspended = true
	waiting := r.queue.snapshot()
	r.mu.Unlock()

	r.reconnector.Stop()
	r.link.CompareAndTransition(lifecycle.Connected, lifecycle.Disconnected, "suspended")
	r.link.CompareAndTransition(lifecycle.Connecting, lifecycle.Disconnected, "suspended")

	snap := state.Snapshot{SavedAt: r.clk.Now()}
	for _, e := range r.forwarded.Snapshot() {
		snap.InFlight = append(snap.InFlight, state.InFlight{ID: e.ID, Method: e.Method, ForwardedAt: e.CreatedAt})
	}
	for _, q := range waiting {
		snap.Queued = append(snap.Queued, state.InFlight{ID: q.id, Method: q.method, ForwardedAt: q.at, Frame: q.frame})
	}
	if err := r.store.Save(ctx, snap); err != nil {
		return fmt.Errorf("relay: save snapshot: %w", err)
	}
	r.logger.Info("relay suspended",
		log.Int("in_flight", len(snap.InFlight)),
		log.Int("queued", len(snap.Queued)),
	)
	return nil
}

// Resume restores a fresh snapshot and probes the existing router
// channel. A channel that does not answer is treated as lost.
func (r *Relay) Resume(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	if !r.suspended {
		r.mu.Unlock()
		return nil
	}
	r.suspended = false
	conn := r.upstream
	r.mu.Unlock()

	r.loadSnapshot(ctx)

	if conn == nil {
		r.startCycle(true, "resume")
		return nil
	}
	if !r.link.CompareAndTransition(lifecycle.Disconnected, lifecycle.Connecting, "resume") {
		return nil
	}
	r.handshake(conn, func(err error) {
		if err != nil {
			r.logger.Warn("router channel did not survive suspension", log.Err(err))
			r.hardDisconnect(conn, "resume probe failed")
			return
		}
		r.onConnected(0)
	})
	return nil
}

// loadSnapshot restores a fresh suspend snapshot, if any, and clears the
// store.
func (r *Relay) loadSnapshot(ctx context.Context) {
	snap, err := r.store.Load(ctx)
	switch {
	case err != nil:
		r.logger.Warn("failed to load suspend snapshot", log.Err(err))
		return
	case snap.IsEmpty():
		return
	case snap.Fresh(r.clk.Now(), r.cfg.SuspendTTL):
		r.restore(snap)
	default:
		r.logger.Info("discarded stale suspend snapshot")
	}
	if err := r.store.Clear(ctx); err != nil {
		r.logger.Warn("failed to clear suspend snapshot", log.Err(err))
	}
}

func (r *Relay) restore(snap state.Snapshot) {
	restored := 0
	for _, f := range snap.InFlight {
		if r.forwarded.Has(f.ID) {
			continue
		}
		id, method := f.ID, f.Method
		e := pending.Entry[struct{}]{ID: id, Method: method, CreatedAt: f.ForwardedAt}
		if err := r.forwarded.Insert(e, r.cfg.MessageTimeout, func(o pending.Outcome) {
			if o.Err != nil {
				r.replyPage(id, method, o.Err)
			}
		}); err == nil {
			restored++
		}
	}

	r.mu.Lock()
	if r.queue.len() == 0 {
		for _, q := range snap.Queued {
			if len(q.Frame) == 0 {
				continue
			}
			r.queue.push(queued{id: q.ID, method: q.Method, frame: q.Frame, at: q.ForwardedAt})
		}
	}
	r.mu.Unlock()

	r.logger.Info("restored suspend snapshot", log.Int("in_flight", restored), log.Int("queued", len(snap.Queued)))
}

func (r *Relay) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *Relay) isSuspended() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.suspended
}

// startCycle begins a connection cycle if the link is idle. immediate
// runs the first attempt without delay.
func (r *Relay) startCycle(immediate bool, reason string) bool {
	r.mu.Lock()
	blocked := r.closed || r.suspended
	r.mu.Unlock()
	if blocked {
		return false
	}
	if !r.link.CompareAndTransition(lifecycle.Disconnected, lifecycle.Connecting, reason) {
		return false
	}
	return r.reconnector.Start(lifecycle.Cycle{
		Immediate: immediate,
		Attempt:   r.attempt,
		OnSuccess: r.onConnected,
		OnGiveUp:  r.onGiveUp,
	})
}

func (r *Relay) attempt(n int, done func(error)) {
	ctx, cancel := context.WithCancel(r.ctx)
	conn, err := r.router.Dial(ctx)
	cancel()
	if err != nil {
		done(err)
		return
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		_ = conn.Close()
		done(ErrClosed)
		return
	}
	old := r.upstream
	r.upstream = conn
	r.mu.Unlock()
	if old != nil && old != conn {
		_ = old.Close()
	}
	go r.upstreamLoop(conn)

	r.handshake(conn, func(err error) {
		if err != nil {
			r.dropUpstream(conn)
		}
		done(err)
	})
}

// handshake pings conn and reports the outcome once.
func (r *Relay) handshake(conn transport.Conn, done func(error)) {
	pingID := r.ids.Ping()
	err := r.probes.Insert(pending.Entry[transport.Conn]{ID: pingID, Method: pingMethod, Meta: conn}, r.cfg.ProbeTimeout, func(o pending.Outcome) {
		done(o.Err)
	})
	if err != nil {
		done(err)
		return
	}
	if err := r.send(conn, &protocol.Ping{ID: pingID}); err != nil {
		r.probes.Reject(pingID, err)
	}
}

func (r *Relay) onConnected(attempt int) {
	if err := r.link.TransitionTo(lifecycle.Connected, "handshake complete"); err != nil {
		r.logger.Warn("unexpected link state", log.Err(err))
		return
	}
	r.logger.Info("connected to router", log.Int("attempt", attempt))
	r.notifyPage(protocol.EventConnect, protocol.MustMarshal(map[string]any{}))
	r.flush()
}

func (r *Relay) onGiveUp(err error) {
	_ = r.link.TransitionTo(lifecycle.Disconnected, "attempts exhausted")
	r.logger.Error("router unreachable, waiting for health check",
		log.Int("queued", r.Queued()),
		log.Err(err),
	)
}

// dropUpstream discards conn without the disconnect cascade.
func (r *Relay) dropUpstream(conn transport.Conn) {
	r.mu.Lock()
	if r.upstream == conn {
		r.upstream = nil
	}
	r.mu.Unlock()
	_ = conn.Close()
}

// hardDisconnect answers every forwarded request with Disconnected,
// tells the page, and starts reconnecting.
func (r *Relay) hardDisconnect(conn transport.Conn, reason string) {
	r.mu.Lock()
	if r.upstream != conn || r.closed {
		r.mu.Unlock()
		return
	}
	r.upstream = nil
	r.mu.Unlock()
	_ = conn.Close()

	r.link.CompareAndTransition(lifecycle.Connected, lifecycle.Disconnected, reason)
	r.link.CompareAndTransition(lifecycle.Connecting, lifecycle.Disconnected, reason)

	rejected := r.forwarded.RejectAll(protocol.Disconnected(""))
	r.logger.Warn("lost router channel",
		log.String("reason", reason),
		log.Int("rejected", len(rejected)),
	)
	r.notifyPage(protocol.EventDisconnect, protocol.MustMarshal(protocol.ErrDisconnected))
	r.startCycle(false, reason)
}

func (r *Relay) probeTick() {
	if r.isClosed() || r.isSuspended() || !r.link.Is(lifecycle.Connected) {
		return
	}
	r.mu.Lock()
	conn := r.upstream
	r.mu.Unlock()
	if conn == nil {
		return
	}
	r.handshake(conn, func(err error) {
		if err != nil {
			r.logger.Warn("router liveness probe failed", log.Err(err))
			r.hardDisconnect(conn, "liveness probe failed")
		}
	})
}

func (r *Relay) healthTick() {
	if r.isClosed() || r.isSuspended() {
		return
	}
	if r.link.Is(lifecycle.Disconnected) && !r.reconnector.Running() {
		r.startCycle(true, "health check")
	}
}

// forward sends a page request to the router or queues it.
func (r *Relay) forward(req *protocol.Request, data []byte) {
	if r.forwarded.Has(req.ID) {
		r.logger.Debug("dropped duplicate page request", log.RequestID(req.ID))
		return
	}

	connected := r.link.Is(lifecycle.Connected)
	r.mu.Lock()
	conn := r.upstream
	if conn == nil || !connected || r.suspended {
		r.mu.Unlock()
		r.enqueue(queued{id: req.ID, method: req.Method, frame: data, at: r.clk.Now()})
		if r.link.Is(lifecycle.Disconnected) && !r.reconnector.Running() {
			r.startCycle(true, "request while disconnected")
		}
		return
	}
	r.mu.Unlock()

	if err := r.deliver(conn, queued{id: req.ID, method: req.Method, frame: data, at: r.clk.Now()}); err != nil {
		r.mu.Lock()
		r.queue.push(queued{id: req.ID, method: req.Method, frame: data, at: r.clk.Now()})
		r.mu.Unlock()
		r.hardDisconnect(conn, "send failed")
	}
}

// enqueue parks q until the next flush. The link may have come up after
// the caller looked at it and its flush may already be done, so the link
// is checked again once q is in the queue.
func (r *Relay) enqueue(q queued) {
	r.mu.Lock()
	evicted, full := r.queue.push(q)
	r.mu.Unlock()
	if full {
		r.logger.Warn("outbound queue full, evicted oldest request", log.RequestID(evicted.id), log.Method(evicted.method))
	}
	r.logger.Debug("queued request", log.RequestID(q.id), log.Method(q.method))

	if r.link.Is(lifecycle.Connected) {
		r.flush()
	}
}

// deliver tracks q as forwarded and writes it to conn.
func (r *Relay) deliver(conn transport.Conn, q queued) error {
	id, method := q.id, q.method
	if err := r.forwarded.Insert(pending.Entry[struct{}]{ID: id, Method: method}, 0, func(o pending.Outcome) {
		if o.Err != nil {
			r.replyPage(id, method, o.Err)
		}
	}); err != nil {
		return nil
	}
	if err := conn.Send(r.ctx, q.frame); err != nil {
		r.forwarded.Settle(id, pending.Outcome{})
		return err
	}
	return nil
}

// flush forwards queued requests in order, discarding stale ones.
func (r *Relay) flush() {
	r.mu.Lock()
	conn := r.upstream
	if conn == nil || r.suspended {
		r.mu.Unlock()
		return
	}
	items, stale := r.queue.drain(r.clk.Now(), r.cfg.MessageTimeout)
	r.mu.Unlock()

	if stale > 0 {
		r.logger.Info("discarded stale queued requests", log.Int("count", stale))
	}
	for i, q := range items {
		if err := r.deliver(conn, q); err != nil {
			r.mu.Lock()
			for _, rest := range items[i:] {
				r.queue.push(rest)
			}
			r.mu.Unlock()
			r.hardDisconnect(conn, "send failed")
			return
		}
	}
	if len(items) > 0 {
		r.logger.Debug("flushed queued requests", log.Int("count", len(items)))
	}
}

func (r *Relay) pageLoop(conn transport.Conn) {
	for {
		select {
		case f := <-conn.Frames():
			r.handlePage(conn, f)
		case <-conn.Done():
			for _, f := range transport.Drain(conn) {
				r.handlePage(conn, f)
			}
			r.mu.Lock()
			if r.page == conn {
				r.page = nil
			}
			r.mu.Unlock()
			return
		case <-r.ctx.Done():
			return
		}
	}
}

func (r *Relay) handlePage(conn transport.Conn, f transport.Frame) {
	r.mu.Lock()
	check := r.pageCheck
	current := r.page == conn
	r.mu.Unlock()
	if !current || check == nil || !check.Allow(f.Origin) {
		r.logger.Debug("dropped page frame from unexpected origin", log.Origin(f.Origin))
		return
	}

	msg, err := protocol.Decode(f.Data)
	if err != nil {
		r.logger.Debug("dropped malformed page frame", log.Err(err))
		return
	}
	switch m := msg.(type) {
	case *protocol.Request:
		r.forward(m, f.Data)
	case *protocol.Ping:
		if err := r.send(conn, &protocol.Pong{ID: m.ID}); err != nil {
			r.logger.Debug("failed to answer page ping", log.Err(err))
		}
	case *protocol.Response, *protocol.Event, *protocol.Pong:
		r.logger.Debug("dropped page frame", log.String("type", string(m.Kind())))
	case *protocol.Unknown:
		r.logger.Debug("dropped page frame with unknown type", log.String("type", m.Type))
	}
}

func (r *Relay) upstreamLoop(conn transport.Conn) {
	for {
		select {
		case f := <-conn.Frames():
			r.handleUpstream(conn, f)
		case <-conn.Done():
			for _, f := range transport.Drain(conn) {
				r.handleUpstream(conn, f)
			}
			r.probes.RejectWhere(func(e pending.Entry[transport.Conn]) bool { return e.Meta == conn }, transport.ErrClosed)
			r.hardDisconnect(conn, "channel closed")
			return
		case <-r.ctx.Done():
			return
		}
	}
}

func (r *Relay) handleUpstream(conn transport.Conn, f transport.Frame) {
	msg, err := protocol.Decode(f.Data)
	if err != nil {
		r.logger.Debug("dropped malformed router frame", log.Err(err))
		return
	}
	switch m := msg.(type) {
	case *protocol.Response:
		if !r.seen.Add(m.ID) {
			r.logger.Debug("dropped duplicate response", log.RequestID(m.ID))
			return
		}
		if !r.forwarded.Resolve(m.ID, nil) {
			r.logger.Debug("response for untracked request", log.RequestID(m.ID), log.Method(m.Method))
		}
		r.deliverPage(f.Data)
	case *protocol.Event:
		r.deliverPage(f.Data)
	case *protocol.Ping:
		if err := r.send(conn, &protocol.Pong{ID: m.ID}); err != nil {
			r.logger.Debug("failed to answer router ping", log.Err(err))
		}
	case *protocol.Pong:
		r.probes.Resolve(m.ID, nil)
	case *protocol.Request:
		r.logger.Debug("dropped request from router", log.RequestID(m.ID))
	case *protocol.Unknown:
		r.logger.Debug("dropped router frame with unknown type", log.String("type", m.Type))
	}
}

// replyPage answers a request on the router's behalf.
func (r *Relay) replyPage(id, method string, err error) {
	rpcErr := protocol.AsRPCError(err)
	r.seen.Add(id)
	data, encErr := protocol.Encode(&protocol.Response{ID: id, Method: method, Error: rpcErr})
	if encErr != nil {
		r.logger.Error("failed to encode response", log.Err(encErr))
		return
	}
	r.deliverPage(data)
}

func (r *Relay) notifyPage(event string, payload []byte) {
	data, err := protocol.Encode(&protocol.Event{Event: event, Data: payload})
	if err != nil {
		r.logger.Error("failed to encode event", log.Err(err))
		return
	}
	r.deliverPage(data)
}

func (r *Relay) deliverPage(data []byte) {
	r.mu.Lock()
	page := r.page
	r.mu.Unlock()
	if page == nil {
		r.logger.Debug("no page attached, dropped delivery")
		return
	}
	if err := page.Send(r.ctx, data); err != nil {
		r.logger.Debug("failed to deliver to page", log.Err(err))
	}
}

func (r *Relay) send(conn transport.Conn, m protocol.Message) error {
	data, err := protocol.Encode(m)
	if err != nil {
		return err
	}
	return conn.Send(r.ctx, data)
}
