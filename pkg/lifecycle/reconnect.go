package lifecycle

import (
	"math/rand"
	"sync"
	"time"

	"github.com/bft-labs/walletbridge/pkg/clock"
	"github.com/bft-labs/walletbridge/pkg/log"
)

// AttemptFunc tries to establish a link. It must call done exactly once,
// possibly later from another goroutine; extra calls are ignored.
type AttemptFunc func(attempt int, done func(err error))

// Cycle describes one reconnection cycle.
type Cycle struct {
	// Immediate runs the first attempt without delay. Later attempts wait
	// Delay(n-1). Without Immediate, attempt n waits Delay(n).
	Immediate bool

	Attempt   AttemptFunc
	OnSuccess func(attempt int)
	OnGiveUp  func(lastErr error)
}

// Reconnector schedules bounded reconnection attempts on a clock. At most
// one cycle runs at a time.
type Reconnector struct {
	name   string
	clk    clock.Clock
	cfg    BackoffConfig
	logger log.Logger
	rng    *rand.Rand

	mu      sync.Mutex
	running bool
	gen     uint64
	attempt int
	timer   clock.Timer
}

// NewReconnector creates an idle reconnector.
func NewReconnector(name string, clk clock.Clock, cfg BackoffConfig, logger log.Logger) *Reconnector {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	r := &Reconnector{
		name:   name,
		clk:    clock.OrReal(clk),
		cfg:    cfg,
		logger: logger,
	}
	if cfg.Jitter > 0 {
		r.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return r
}

// Start begins a cycle. It returns false when a cycle is already running.
func (r *Reconnector) Start(c Cycle) bool {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return false
	}
	r.running = true
	r.gen++
	r.attempt = 0
	gen := r.gen
	r.mu.Unlock()

	r.schedule(gen, c)
	return true
}

// Stop abandons the running cycle without calling its callbacks.
func (r *Reconnector) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.running = false
	r.gen++
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

// Running reports whether a cycle is in progress.
func (r *Reconnector) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Attempt returns the number of the latest attempt of the current cycle.
func (r *Reconnector) Attempt() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempt
}

func (r *Reconnector) schedule(gen uint64, c Cycle) {
	r.mu.Lock()
	if !r.running || r.gen != gen {
		r.mu.Unlock()
		return
	}
	r.attempt++
	n := r.attempt

	var delay time.Duration
	switch {
	case c.Immediate && n == 1:
		delay = 0
	case c.Immediate:
		delay = r.cfg.Delay(n - 1)
	default:
		delay = r.cfg.Delay(n)
	}
	delay = r.cfg.Jittered(delay, r.rng)

	if delay == 0 {
		r.mu.Unlock()
		r.run(gen, n, c)
		return
	}
	r.timer = r.clk.AfterFunc(delay, func() { r.run(gen, n, c) })
	r.mu.Unlock()

	r.logger.Debug("reconnect scheduled",
		log.String("component", r.name),
		log.Int("attempt", n),
		log.Duration("delay", delay),
	)
}

func (r *Reconnector) current(gen uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running && r.gen == gen
}

func (r *Reconnector) finish(gen uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running || r.gen != gen {
		return false
	}
	r.running = false
	r.timer = nil
	return true
}

func (r *Reconnector) run(gen uint64, n int, c Cycle) {
	if !r.current(gen) {
		return
	}

	var once sync.Once
	c.Attempt(n, func(err error) {
		once.Do(func() {
			if !r.current(gen) {
				return
			}
			if err == nil {
				if r.finish(gen) && c.OnSuccess != nil {
					c.OnSuccess(n)
				}
				return
			}

			r.logger.Warn("reconnect attempt failed",
				log.String("component", r.name),
				log.Int("attempt", n),
				log.Err(err),
			)
			if r.cfg.Exhausted(n) {
				if r.finish(gen) && c.OnGiveUp != nil {
					c.OnGiveUp(err)
				}
				return
			}
			r.schedule(gen, c)
		})
	})
}
