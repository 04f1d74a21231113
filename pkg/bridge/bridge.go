package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bft-labs/walletbridge/internal/adapters/approval"
	"github.com/bft-labs/walletbridge/internal/adapters/chain"
	"github.com/bft-labs/walletbridge/internal/adapters/permissions"
	"github.com/bft-labs/walletbridge/internal/domain"
	"github.com/bft-labs/walletbridge/internal/router"
	"github.com/bft-labs/walletbridge/pkg/clock"
	"github.com/bft-labs/walletbridge/pkg/lifecycle"
	"github.com/bft-labs/walletbridge/pkg/log"
	"github.com/bft-labs/walletbridge/pkg/origin"
	"github.com/bft-labs/walletbridge/pkg/protocol"
	"github.com/bft-labs/walletbridge/pkg/transport"
)

var (
	// ErrAlreadyRunning is returned by Start on a running bridge.
	ErrAlreadyRunning = domain.ErrAlreadyRunning

	// ErrNotRunning is returned by Stop and the approval methods when the
	// bridge is not running.
	ErrNotRunning = domain.ErrNotRunning

	// ErrUnknownApproval is returned when deciding a prompt that is not open.
	ErrUnknownApproval = approval.ErrNotFound
)

// Bridge is the wallet side of the protocol as an embeddable daemon. It
// serves relay channels over websocket, an approval API, health and
// metrics on one HTTP endpoint.
type Bridge struct {
	config    Config
	opts      options
	service   *lifecycle.Service
	logger    log.Logger
	clk       clock.Clock
	validator *origin.Validator
	registry  *prometheus.Registry
	metrics   *router.Metrics
	wallet    Wallet
	plugins   []Plugin

	mu  sync.RWMutex
	run *run
}

// run is everything built for one Start..Stop cycle. The router and the
// approval queue cannot be reopened once closed.
type run struct {
	ctx      context.Context
	router   *router.Router
	queue    *approval.Queue
	listener *transport.WebsocketListener
	server   *http.Server
	addr     string
	closers  []func() error
}

// New creates a bridge in StateStopped. Returns an error if the
// configuration is invalid.
func New(cfg Config, opts ...Option) (*Bridge, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = log.NewNoopLogger()
	}
	if o.registry == nil {
		o.registry = prometheus.NewRegistry()
	}
	clk := clock.OrReal(o.clock)

	wallet := o.wallet
	if wallet == nil {
		w, err := chain.NewStaticWallet(cfg.ChainID, cfg.Chains...)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidConfig, err)
		}
		wallet = w
	}
	if o.permissions == nil && cfg.DataDir == "" {
		o.permissions = permissions.NewMemoryStore(clk)
	}

	b := &Bridge{
		config:    cfg,
		opts:      o,
		logger:    o.logger,
		clk:       clk,
		validator: origin.NewValidator(cfg.AllowedOrigins, origin.WithNullOrigin(cfg.AllowNullOrigin)),
		registry:  o.registry,
		metrics:   router.NewMetrics(o.registry),
		wallet:    wallet,
		plugins:   o.plugins,
	}

	var emitter lifecycle.EventEmitter[State]
	if o.eventHandler != nil {
		emitter = lifecycle.EmitterFunc[State](func(previous, current State, reason string) {
			o.eventHandler.OnStateChange(StateChangeEvent{Previous: previous, Current: current, Reason: reason})
		})
	}
	b.service = lifecycle.NewService("bridge", o.logger, emitter)
	return b, nil
}

// Start initializes plugins, opens the endpoint, and serves in the
// background. The provided context bounds the lifetime of the run.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.service.CanStart() {
		return ErrAlreadyRunning
	}
	if err := b.service.TransitionTo(StateStarting, "Start() called"); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	b.service.SetCancel(cancel)

	pluginCfg := PluginConfig{
		Logger:    b.logger,
		Validator: b.validator,
		Clock:     b.clk,
		ChainID:   b.config.ChainID,
		DataDir:   b.config.DataDir,
	}
	for i, p := range b.plugins {
		if err := p.Initialize(runCtx, pluginCfg); err != nil {
			b.logger.Error("plugin initialization failed",
				log.String("plugin", p.Name()),
				log.Err(err))
			cancel()
			b.shutdownPlugins(b.plugins[:i])
			_ = b.service.TransitionTo(StateCrashed, "plugin init failed: "+p.Name())
			return err
		}
		b.logger.Info("plugin initialized", log.String("plugin", p.Name()))
	}

	r, err := b.open(runCtx)
	if err != nil {
		b.logger.Error("failed to open endpoint", log.Err(err))
		cancel()
		b.shutdownPlugins(b.plugins)
		_ = b.service.TransitionTo(StateCrashed, err.Error())
		return err
	}
	b.run = r
	b.serve(runCtx, r)

	_ = b.service.TransitionTo(StateRunning, "listening on "+r.addr)
	b.logger.Info("bridge listening",
		log.String("addr", r.addr),
		log.String("relay", b.config.RelayPath),
		log.Any("origins", b.validator.Allowed()))
	return nil
}

// open builds the collaborators of one run and binds the listener.
func (b *Bridge) open(ctx context.Context) (_ *run, err error) {
	r := &run{ctx: ctx}
	defer func() {
		if err != nil {
			r.close(b.logger)
		}
	}()

	store := b.opts.permissions
	if store == nil {
		db, err := permissions.OpenLevelDB(filepath.Join(b.config.DataDir, "permissions"), b.clk)
		if err != nil {
			return nil, err
		}
		r.closers = append(r.closers, db.Close)
		store = db
	}

	network := b.opts.network
	if network == nil && b.config.RPCURL != "" {
		n, err := chain.DialRPC(ctx, b.config.RPCURL, b.logger)
		if err != nil {
			return nil, err
		}
		r.closers = append(r.closers, func() error { n.Close(); return nil })
		network = n
	}

	ln, err := net.Listen("tcp", b.config.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", b.config.ListenAddr, err)
	}
	r.addr = ln.Addr().String()

	localOrigin := b.config.LocalOrigin
	if localOrigin == "" {
		localOrigin = "http://" + r.addr
	}

	r.queue = approval.NewQueue(
		approval.WithLogger(log.With(b.logger, log.String("component", "approvals"))),
		approval.WithToken(b.config.ApprovalToken),
	)
	routerOpts := []router.Option{
		router.WithLogger(log.With(b.logger, log.String("component", "router"))),
		router.WithClock(b.clk),
		router.WithMetrics(b.metrics),
		router.WithValidator(b.validator),
	}
	for _, g := range b.opts.guards {
		routerOpts = append(routerOpts, router.WithGuard(g))
	}
	for _, p := range b.plugins {
		if g, ok := p.(Guard); ok {
			routerOpts = append(routerOpts, router.WithGuard(g))
		}
	}
	r.router = router.New(router.Deps{
		Approvals:   &surface{queue: r.queue, handler: b.opts.eventHandler},
		Permissions: store,
		Network:     network,
		Wallet:      b.wallet,
	}, b.config.Router, routerOpts...)
	r.listener = transport.NewWebsocketListener(b.validator, localOrigin, b.logger)

	r.server = &http.Server{Handler: b.handler(r)}
	if err := r.router.Start(ctx); err != nil {
		_ = ln.Close()
		return nil, err
	}

	go func() {
		if err := r.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			b.logger.Error("http server failed", log.Err(err))
			b.service.Cancel()
		}
	}()
	return r, nil
}

// serve runs the tracked workers of r.
func (b *Bridge) serve(ctx context.Context, r *run) {
	b.service.Go(func() {
		if err := r.router.Serve(ctx, r.listener); err != nil {
			b.logger.Error("router stopped accepting", log.Err(err))
		}
	})
	b.service.Go(func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), lifecycle.ShutdownTimeout)
		defer cancel()
		if err := r.server.Shutdown(shutdownCtx); err != nil {
			b.logger.Warn("http shutdown", log.Err(err))
		}
	})
}

func (b *Bridge) handler(r *run) http.Handler {
	mux := chi.NewRouter()
	mux.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":    b.Status().String(),
			"ports":     len(r.router.Ports()),
			"approvals": r.queue.Len(),
		})
	})
	mux.Handle(b.config.RelayPath, r.listener)
	mux.Mount(b.config.ApprovalsPath, r.queue.Handler())
	mux.Handle("/metrics", promhttp.HandlerFor(b.registry, promhttp.HandlerOpts{}))
	return mux
}

// Stop closes the endpoint, rejects open approvals with Disconnected, and
// shuts plugins down in reverse order. Waits up to 30 seconds for the
// workers. Returns nil on graceful shutdown, lifecycle.ErrShutdownTimeout
// if forced.
func (b *Bridge) Stop() error {
	b.mu.Lock()
	if !b.service.CanStop() {
		b.mu.Unlock()
		return ErrNotRunning
	}
	if err := b.service.TransitionTo(StateStopping, "Stop() called"); err != nil {
		b.mu.Unlock()
		return err
	}
	r := b.run
	b.run = nil
	b.service.Cancel()
	b.mu.Unlock()

	if r != nil {
		r.close(b.logger)
	}
	err := b.service.WaitWithTimeout(lifecycle.ShutdownTimeout)
	b.shutdownPlugins(b.plugins)

	if err != nil {
		_ = b.service.TransitionTo(StateCrashed, "shutdown timeout")
	} else {
		_ = b.service.TransitionTo(StateStopped, "graceful shutdown")
	}
	return err
}

func (r *run) close(logger log.Logger) {
	if r.listener != nil {
		_ = r.listener.Close()
	}
	if r.router != nil {
		_ = r.router.Close()
	}
	if r.queue != nil {
		_ = r.queue.Close()
	}
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			logger.Warn("close failed", log.Err(err))
		}
	}
	r.closers = nil
}

func (b *Bridge) shutdownPlugins(plugins []Plugin) {
	ctx := context.Background()
	for i := len(plugins) - 1; i >= 0; i-- {
		p := plugins[i]
		if err := p.Shutdown(ctx); err != nil {
			b.logger.Error("plugin shutdown failed",
				log.String("plugin", p.Name()),
				log.Err(err))
		} else {
			b.logger.Info("plugin shutdown complete", log.String("plugin", p.Name()))
		}
	}
}

// Status returns the current lifecycle state.
// Safe to call concurrently from any goroutine.
func (b *Bridge) Status() State {
	return b.service.State()
}

// Addr returns the address the endpoint is bound to, or "" when stopped.
func (b *Bridge) Addr() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.run == nil {
		return ""
	}
	return b.run.addr
}

// Done is closed when the current run ends, whether through Stop, the
// Start context, or a failed listener. It is closed already when stopped.
func (b *Bridge) Done() <-chan struct{} {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.run == nil {
		done := make(chan struct{})
		close(done)
		return done
	}
	return b.run.ctx.Done()
}

// Origins returns the current origin allow-list.
func (b *Bridge) Origins() []string {
	return b.validator.Allowed()
}

func (b *Bridge) current() (*run, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.run == nil {
		return nil, ErrNotRunning
	}
	return b.run, nil
}

// Ports lists the attached relay channels.
func (b *Bridge) Ports() []PortRecord {
	r, err := b.current()
	if err != nil {
		return nil
	}
	return r.router.Ports()
}

// Approvals lists the open prompts, oldest first.
func (b *Bridge) Approvals() []ApprovalPrompt {
	r, err := b.current()
	if err != nil {
		return nil
	}
	return r.queue.List()
}

// Approve resolves an open prompt with result, which may be nil for
// methods that carry no result such as eth_requestAccounts.
func (b *Bridge) Approve(id string, result json.RawMessage) error {
	r, err := b.current()
	if err != nil {
		return err
	}
	return r.queue.Resolve(id, result)
}

// Reject declines an open prompt. A nil err rejects as the user.
func (b *Bridge) Reject(id string, err *protocol.RPCError) error {
	r, cerr := b.current()
	if cerr != nil {
		return cerr
	}
	return r.queue.Reject(id, err)
}

// Broadcast sends an event to every attached channel and returns how many
// channels it reached.
func (b *Bridge) Broadcast(event string, data any) int {
	r, err := b.current()
	if err != nil {
		return 0
	}
	return r.router.Broadcast(event, data)
}
