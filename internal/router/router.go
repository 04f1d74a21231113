// Package router implements the wallet backend dispatcher. It accepts
// channels from relays, answers read-only methods directly, and gates
// every other supported method behind the approval surface.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bft-labs/walletbridge/internal/pending"
	"github.com/bft-labs/walletbridge/internal/ports"
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
	ErrAlreadyStarted = errors.New("router: already started")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("router: closed")

	// ErrOriginRefused is returned by Attach for channels from origins
	// the validator does not allow.
	ErrOriginRefused = errors.New("router: origin refused")
)

// Deps are the collaborators the router dispatches to. Any of them may
// be nil; methods that need a missing one fail with an RPC error.
type Deps struct {
	Approvals   ports.ApprovalSurface
	Permissions ports.PermissionStore
	Network     ports.NetworkData
	Wallet      ports.WalletState
}

// PortRecord describes one attached relay channel.
type PortRecord struct {
	ChannelID    string    `json:"channelId"`
	Origin       string    `json:"origin"`
	Domain       string    `json:"domain"`
	ConnectedAt  time.Time `json:"connectedAt"`
	LastActivity time.Time `json:"lastActivity"`
	InFlight     int       `json:"inFlight"`
}

type port struct {
	conn    transport.Conn
	record  PortRecord
	closed  bool
	removal clock.Timer
}

// Router dispatches requests arriving on any number of channels.
type Router struct {
	cfg       Config
	deps      Deps
	logger    log.Logger
	clk       clock.Clock
	metrics   *Metrics
	guards    []Guard
	validator *origin.Validator
	ids       *ids.Generator

	seen      *seen.Set
	approvals *pending.Table[*approval]

	mu        sync.Mutex
	ports     map[string]*port
	started   bool
	closed    bool
	stopSweep func()

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a router.
func New(deps Deps, cfg Config, opts ...Option) *Router {
	cfg.SetDefaults()

	r := &Router{
		cfg:   cfg,
		deps:  deps,
		ports: make(map[string]*port),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = log.NewNoopLogger()
	}
	r.clk = clock.OrReal(r.clk)
	r.ids = ids.NewGenerator()
	r.seen = seen.New(cfg.SeenCapacity)
	r.approvals = pending.NewTable[*approval](r.clk)
	r.ctx, r.cancel = context.WithCancel(context.Background())
	return r
}

// Start begins the approval sweep.
func (r *Router) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return ErrAlreadyStarted
	}
	if r.closed {
		return ErrClosed
	}
	r.started = true
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.stopSweep = clock.Every(r.clk, r.cfg.SweepInterval, r.sweep)
	return nil
}

// Close detaches every channel and abandons open approvals.
func (r *Router) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	stop := r.stopSweep
	all := make([]*port, 0, len(r.ports))
	for id, p := range r.ports {
		all = append(all, p)
		if p.removal != nil {
			p.removal.Stop()
		}
		delete(r.ports, id)
		r.metrics.portRemoved()
	}
	r.mu.Unlock()

	if stop != nil {
		stop()
	}
	r.cancel()
	for _, p := range all {
		_ = p.conn.Close()
	}
	r.dismiss(r.approvals.RejectAll(protocol.Disconnected("The wallet is shutting down.")), nil)
	r.wg.Wait()
	return nil
}

// Serve attaches every channel accepted from l until ctx ends.
func (r *Router) Serve(ctx context.Context, l transport.Listener) error {
	for {
		conn, err := l.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, transport.ErrClosed) {
				return nil
			}
			return err
		}
		if _, err := r.Attach(conn); err != nil {
			r.logger.Warn("refused channel", log.Origin(conn.Info().RemoteOrigin), log.Err(err))
		}
	}
}

// Attach starts serving conn and returns its channel id.
func (r *Router) Attach(conn transport.Conn) (string, error) {
	from := conn.Info().RemoteOrigin
	if r.validator != nil && !r.validator.Allow(from) {
		_ = conn.Close()
		return "", fmt.Errorf("%w: %q", ErrOriginRefused, from)
	}
	normalized, err := origin.Normalize(from)
	if err != nil {
		_ = conn.Close()
		return "", fmt.Errorf("%w: %v", ErrOriginRefused, err)
	}
	site, _ := origin.Domain(normalized)

	now := r.clk.Now()
	p := &port{
		conn: conn,
		record: PortRecord{
			ChannelID:    r.ids.Channel(),
			Origin:       normalized,
			Domain:       site,
			ConnectedAt:  now,
			LastActivity: now,
		},
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		_ = conn.Close()
		return "", ErrClosed
	}
	r.ports[p.record.ChannelID] = p
	r.mu.Unlock()
	r.metrics.portAdded()

	r.logger.Info("channel attached",
		log.String("channel", p.record.ChannelID),
		log.Origin(normalized),
	)
	go r.readLoop(p)
	return p.record.ChannelID, nil
}

// Ports lists the attached channels.
func (r *Router) Ports() []PortRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]PortRecord, 0, len(r.ports))
	for _, p := range r.ports {
		out = append(out, p.record)
	}
	return out
}

// Broadcast sends an event to every attached channel and returns how
// many it reached.
func (r *Router) Broadcast(event string, data any) int {
	return r.broadcast(func(PortRecord) bool { return true }, event, data)
}

// BroadcastToDomain sends an event to the channels opened by site.
func (r *Router) BroadcastToDomain(site, event string, data any) int {
	return r.broadcast(func(rec PortRecord) bool { return rec.Domain == site }, event, data)
}

func (r *Router) broadcast(match func(PortRecord) bool, event string, data any) int {
	raw, err := json.Marshal(data)
	if err != nil {
		r.logger.Error("failed to encode event data", log.String("event", event), log.Err(err))
		return 0
	}
	frame, err := protocol.Encode(&protocol.Event{Event: event, Data: raw})
	if err != nil {
		r.logger.Error("failed to encode event", log.String("event", event), log.Err(err))
		return 0
	}

	r.mu.Lock()
	var targets []transport.Conn
	for _, p := range r.ports {
		if !p.closed && match(p.record) {
			targets = append(targets, p.conn)
		}
	}
	r.mu.Unlock()

	sent := 0
	for _, conn := range targets {
		if err := conn.Send(r.ctx, frame); err == nil {
			sent++
		}
	}
	return sent
}

func (r *Router) readLoop(p *port) {
	conn := p.conn
	for {
		select {
		case f := <-conn.Frames():
			r.handleFrame(p, f)
		case <-conn.Done():
			for _, f := range transport.Drain(conn) {
				r.handleFrame(p, f)
			}
			r.portClosed(p)
			return
		case <-r.ctx.Done():
			return
		}
	}
}

// portClosed removes p now if it is idle, else after the grace window.
func (r *Router) portClosed(p *port) {
	id := p.record.ChannelID

	r.mu.Lock()
	if p.closed {
		r.mu.Unlock()
		return
	}
	p.closed = true
	inFlight := p.record.InFlight
	if inFlight > 0 {
		p.removal = r.clk.AfterFunc(r.cfg.GraceWindow, func() { r.removePort(id) })
	}
	r.mu.Unlock()

	r.logger.Info("channel closed", log.String("channel", id), log.Int("in_flight", inFlight))
	if inFlight == 0 {
		r.removePort(id)
	}
}

// removePort forgets a channel and drops its open approvals.
func (r *Router) removePort(id string) {
	r.mu.Lock()
	_, ok := r.ports[id]
	delete(r.ports, id)
	r.mu.Unlock()
	if !ok {
		return
	}
	r.metrics.portRemoved()

	reason := protocol.Disconnected("The requesting page disconnected.")
	dropped := r.approvals.RejectWhere(func(e pending.Entry[*approval]) bool {
		return e.Meta.record.ChannelID == id
	}, reason)
	r.dismiss(dropped, reason)
	if len(dropped) > 0 {
		r.logger.Info("dropped approvals of removed channel", log.String("channel", id), log.Int("count", len(dropped)))
	}
}

func (r *Router) dismiss(entries []pending.Entry[*approval], reason error) {
	d, ok := r.deps.Approvals.(ports.Dismisser)
	if !ok {
		return
	}
	for _, e := range entries {
		d.Dismiss(e.ID, reason)
	}
}

// sweep expires approvals nobody answered in time.
func (r *Router) sweep() {
	expired := r.approvals.Expire(r.cfg.ApprovalTTL, func(pending.Entry[*approval]) error {
		return protocol.Expired()
	})
	if len(expired) == 0 {
		return
	}
	r.dismiss(expired, protocol.ErrExpired)
	r.logger.Info("expired stale approvals", log.Int("count", len(expired)))
}

func (r *Router) handleFrame(p *port, f transport.Frame) {
	if !sameOrigin(p.record.Origin, f.Origin) {
		r.logger.Debug("dropped frame from unexpected origin",
			log.String("channel", p.record.ChannelID),
			log.Origin(f.Origin),
		)
		return
	}
	msg, err := protocol.Decode(f.Data)
	if err != nil {
		r.logger.Debug("dropped malformed frame", log.Err(err))
		return
	}

	switch m := msg.(type) {
	case *protocol.Request:
		r.handleRequest(p, m)
	case *protocol.Ping:
		if err := r.sendTo(p.conn, &protocol.Pong{ID: m.ID}); err != nil {
			r.logger.Debug("failed to answer ping", log.Err(err))
		}
	case *protocol.Pong, *protocol.Response, *protocol.Event:
		r.logger.Debug("dropped frame", log.String("type", string(m.Kind())))
	case *protocol.Unknown:
		r.logger.Debug("dropped frame with unknown type", log.String("type", m.Type))
	}
}

func sameOrigin(portOrigin, from string) bool {
	if origin.IsNull(portOrigin) {
		return origin.IsNull(from)
	}
	return origin.Same(portOrigin, from)
}

func (r *Router) handleRequest(p *port, req *protocol.Request) {
	if r.approvals.Has(req.ID) || !r.seen.Add(req.ID) {
		r.metrics.duplicate()
		r.logger.Debug("dropped duplicate request", log.RequestID(req.ID), log.Method(req.Method))
		return
	}

	rec, ok := r.begin(p.record.ChannelID)
	if !ok {
		return
	}

	class := protocol.Classify(req.Method)
	if class != protocol.ClassUnsupported && req.RequiresApproval != (class == protocol.ClassApproval) {
		r.logger.Warn("approval flag disagrees with method classification",
			log.RequestID(req.ID),
			log.Method(req.Method),
			log.Origin(rec.Origin),
			log.Bool("client_flag", req.RequiresApproval),
			log.String("class", class.String()),
		)
	}

	params, err := protocol.ParamsArray(req.Params)
	if err != nil {
		r.finish(rec.ChannelID, req, class, nil, protocol.InvalidParams("params must be an array"))
		return
	}
	if class == protocol.ClassUnsupported {
		r.finish(rec.ChannelID, req, class, nil, protocol.UnsupportedMethod(req.Method))
		return
	}
	if err := r.guard(rec, req.Method, class); err != nil {
		r.finish(rec.ChannelID, req, class, nil, err)
		return
	}

	if class == protocol.ClassReadOnly {
		r.spawn(func() {
			result, err := r.readOnly(rec, req, params)
			r.finish(rec.ChannelID, req, class, result, err)
		})
		return
	}
	r.requestApproval(rec, req, params)
}

// spawn runs fn on a goroutine that Close waits for. It reports false,
// without running fn, once the router is closed.
func (r *Router) spawn(fn func()) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		fn()
	}()
	return true
}

// begin marks a request in flight on the channel.
func (r *Router) begin(channelID string) (PortRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.ports[channelID]
	if !ok {
		return PortRecord{}, false
	}
	p.record.InFlight++
	p.record.LastActivity = r.clk.Now()
	return p.record, true
}

func (r *Router) guard(rec PortRecord, method string, class protocol.Class) error {
	for _, g := range r.guards {
		err := g.Check(r.ctx, GuardRequest{Origin: rec.Origin, Domain: rec.Domain, Method: method, Class: class})
		if err == nil {
			continue
		}
		var rpcErr *protocol.RPCError
		if errors.As(err, &rpcErr) {
			return rpcErr
		}
		return protocol.Unauthorized(err.Error())
	}
	return nil
}

// finish answers req on its channel, if the channel still exists.
func (r *Router) finish(channelID string, req *protocol.Request, class protocol.Class, result json.RawMessage, err error) {
	var resp *protocol.Response
	if err != nil {
		resp = protocol.Failure(req, protocol.AsRPCError(err))
	} else {
		resp = protocol.Success(req, result)
	}
	r.metrics.request(req.Method, class, resp.Error)

	r.mu.Lock()
	p, ok := r.ports[channelID]
	if ok {
		p.record.InFlight--
		p.record.LastActivity = r.clk.Now()
	}
	r.mu.Unlock()
	if !ok || p.closed {
		r.logger.Debug("dropped response for departed channel", log.RequestID(req.ID), log.String("channel", channelID))
		return
	}

	if err := r.sendTo(p.conn, resp); err != nil {
		r.logger.Debug("failed to deliver response", log.RequestID(req.ID), log.Err(err))
	}
}

func (r *Router) sendTo(conn transport.Conn, m protocol.Message) error {
	data, err := protocol.Encode(m)
	if err != nil {
		return err
	}
	return conn.Send(r.ctx, data)
}

// requestApproval gates req behind the approval surface.
func (r *Router) requestApproval(rec PortRecord, req *protocol.Request, params []json.RawMessage) {
	a := &approval{
		record: ApprovalRecord{
			ID:          req.ID,
			Method:      req.Method,
			Params:      req.Params,
			Origin:      rec.Origin,
			Domain:      rec.Domain,
			Description: protocol.Describe(req.Method),
			ChannelID:   rec.ChannelID,
			CreatedAt:   r.clk.Now(),
		},
		req: req,
	}
	if len(a.record.Params) == 0 {
		a.record.Params = json.RawMessage("[]")
	}
	a.record.Site, _ = origin.Site(rec.Origin)
	a.state = lifecycle.NewMachine("approval", Received, approvalTransitions, log.With(r.logger, log.RequestID(req.ID)), nil)
	_ = a.state.TransitionTo(Validating, "received")

	result, direct, err := r.validateApproval(rec, req, params)
	if err != nil || direct {
		next := Resolved
		if err != nil {
			next = Rejected
		}
		_ = a.state.TransitionTo(next, "answered without prompt")
		r.finish(rec.ChannelID, req, protocol.ClassApproval, result, err)
		return
	}

	entry := pending.Entry[*approval]{ID: req.ID, Method: req.Method, CreatedAt: a.record.CreatedAt, Meta: a}
	if err := r.approvals.Insert(entry, 0, func(o pending.Outcome) { r.approvalSettled(a, o) }); err != nil {
		_ = a.state.TransitionTo(Rejected, "duplicate")
		r.finish(rec.ChannelID, req, protocol.ClassApproval, nil, protocol.Internal(err.Error()))
		return
	}
	_ = a.state.TransitionTo(AwaitingApproval, "prompt opened")
	r.metrics.approvalOpened()

	if err := r.deps.Approvals.Open(r.ctx, a.prompt(), reply{r: r, id: req.ID}); err != nil {
		r.logger.Error("failed to open approval prompt", log.RequestID(req.ID), log.Err(err))
		r.approvals.Reject(req.ID, protocol.Internal("The approval prompt could not be shown."))
	}
}

// approvalSettled runs once per approval, on the goroutine that settled it.
func (r *Router) approvalSettled(a *approval, o pending.Outcome) {
	final := Resolved
	switch {
	case o.Err == nil:
	case errors.Is(o.Err, protocol.ErrExpired):
		final = Expired
	default:
		final = Rejected
	}
	if err := a.state.TransitionTo(final, "settled"); err != nil {
		r.logger.Warn("unexpected approval state", log.Err(err))
	}
	r.metrics.approvalClosed(final)

	result, err := o.Result, o.Err
	if err == nil {
		result, err = r.applyApproved(a.record, a.req, result)
	}
	r.finish(a.record.ChannelID, a.req, protocol.ClassApproval, result, err)
}
