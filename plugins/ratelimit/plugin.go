// Package ratelimit caps how fast each site may send requests to the
// wallet. Requests over the limit fail with LimitExceeded (-32005) before
// they reach the node or the user.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/bft-labs/walletbridge/pkg/bridge"
	"github.com/bft-labs/walletbridge/pkg/clock"
	"github.com/bft-labs/walletbridge/pkg/log"
	"github.com/bft-labs/walletbridge/pkg/protocol"
)

// Config holds configuration options for the rate limit plugin.
type Config struct {
	// Rate is the sustained number of requests per second allowed per site.
	// Default: 10
	Rate float64

	// Burst is how many requests a site may send at once.
	// Default: Rate rounded down, plus one
	Burst int

	// ApprovalOnly limits only methods that open a prompt, leaving
	// read-only traffic unthrottled.
	ApprovalOnly bool

	// IdleTTL is how long an unused site limiter is kept.
	// Default: 5 minutes
	IdleTTL time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Rate:    10,
		Burst:   11,
		IdleTTL: 5 * time.Minute,
	}
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Plugin implements per-site rate limiting as a bridge guard.
type Plugin struct {
	mu sync.Mutex

	limit        rate.Limit
	burst        int
	approvalOnly bool
	idleTTL      time.Duration

	logger    log.Logger
	clk       clock.Clock
	visitors  map[string]*visitor
	stopSweep func()
}

// New creates a new rate limit plugin with the given configuration.
func New(cfg Config) *Plugin {
	d := DefaultConfig()
	if cfg.Rate <= 0 {
		cfg.Rate = d.Rate
	}
	if cfg.Burst <= 0 {
		cfg.Burst = int(cfg.Rate) + 1
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = d.IdleTTL
	}
	return &Plugin{
		limit:        rate.Limit(cfg.Rate),
		burst:        cfg.Burst,
		approvalOnly: cfg.ApprovalOnly,
		idleTTL:      cfg.IdleTTL,
		logger:       log.NewNoopLogger(),
		clk:          clock.Real(),
		visitors:     make(map[string]*visitor),
	}
}

// Name returns the plugin identifier.
func (p *Plugin) Name() string {
	return "ratelimit"
}

// Initialize starts evicting idle limiters.
func (p *Plugin) Initialize(ctx context.Context, cfg bridge.PluginConfig) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if cfg.Logger != nil {
		p.logger = cfg.Logger
	}
	p.clk = clock.OrReal(cfg.Clock)
	p.visitors = make(map[string]*visitor)
	p.stopSweep = clock.Every(p.clk, p.idleTTL, p.evictIdle)

	p.logger.Info("rate limit plugin initialized",
		log.Any("rate", float64(p.limit)),
		log.Int("burst", p.burst),
		log.Bool("approval_only", p.approvalOnly))
	return nil
}

// Shutdown stops eviction and forgets every site.
func (p *Plugin) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	stop := p.stopSweep
	p.stopSweep = nil
	p.visitors = make(map[string]*visitor)
	p.mu.Unlock()

	if stop != nil {
		stop()
	}
	return nil
}

// Check spends one token of the requesting site's budget.
func (p *Plugin) Check(ctx context.Context, req bridge.GuardRequest) error {
	if p.approvalOnly && req.Class != protocol.ClassApproval {
		return nil
	}

	key := req.Domain
	if key == "" {
		key = req.Origin
	}

	p.mu.Lock()
	now := p.clk.Now()
	v, ok := p.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(p.limit, p.burst)}
		p.visitors[key] = v
	}
	v.lastSeen = now
	allowed := v.limiter.AllowN(now, 1)
	p.mu.Unlock()

	if !allowed {
		p.logger.Warn("rate limited",
			log.String("site", key),
			log.Method(req.Method))
		return protocol.LimitExceeded()
	}
	return nil
}

// Sites reports how many sites currently have a limiter.
func (p *Plugin) Sites() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.visitors)
}

func (p *Plugin) evictIdle() {
	p.mu.Lock()
	defer p.mu.Unlock()
	cutoff := p.clk.Now().Add(-p.idleTTL)
	for key, v := range p.visitors {
		if !v.lastSeen.After(cutoff) {
			delete(p.visitors, key)
		}
	}
}

// Ensure Plugin implements bridge.Plugin and bridge.Guard.
var (
	_ bridge.Plugin = (*Plugin)(nil)
	_ bridge.Guard  = (*Plugin)(nil)
)
