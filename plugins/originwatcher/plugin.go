// Package originwatcher keeps the bridge's origin allow-list in sync with
// a TOML file. Edits to the file take effect without a restart:
//
//	allowed_origins = ["https://app.example", "https://other.example"]
package originwatcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	toml "github.com/pelletier/go-toml/v2"

	"github.com/bft-labs/walletbridge/pkg/bridge"
	"github.com/bft-labs/walletbridge/pkg/clock"
	"github.com/bft-labs/walletbridge/pkg/log"
	"github.com/bft-labs/walletbridge/pkg/origin"
)

// ErrNoPath is returned by Initialize when no file is configured.
var ErrNoPath = errors.New("originwatcher: path is required")

// Config holds configuration options for the origin watcher plugin.
type Config struct {
	// Path is the TOML file holding allowed_origins.
	Path string

	// DebounceDelay is the quiet period after a change before reloading.
	// Default: 100 milliseconds
	DebounceDelay time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DebounceDelay: 100 * time.Millisecond,
	}
}

type originsFile struct {
	AllowedOrigins []string `toml:"allowed_origins"`
}

// Plugin watches the origins file.
type Plugin struct {
	mu sync.Mutex

	path          string
	debounceDelay time.Duration

	logger    log.Logger
	validator *origin.Validator
	clk       clock.Clock
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	debounce  clock.Timer
	reloads   int
}

// New creates a new origin watcher plugin with the given configuration.
func New(cfg Config) *Plugin {
	if cfg.DebounceDelay <= 0 {
		cfg.DebounceDelay = DefaultConfig().DebounceDelay
	}
	return &Plugin{
		path:          cfg.Path,
		debounceDelay: cfg.DebounceDelay,
	}
}

// Name returns the plugin identifier.
func (p *Plugin) Name() string {
	return "originwatcher"
}

// Initialize loads the file into the validator and starts watching it.
// A file that cannot be read or parsed fails the start.
func (p *Plugin) Initialize(ctx context.Context, cfg bridge.PluginConfig) error {
	if p.path == "" {
		return ErrNoPath
	}
	if cfg.Validator == nil {
		return errors.New("originwatcher: no validator")
	}
	path, err := filepath.Abs(p.path)
	if err != nil {
		return fmt.Errorf("originwatcher: %w", err)
	}

	p.mu.Lock()
	p.path = path
	p.logger = cfg.Logger
	if p.logger == nil {
		p.logger = log.NewNoopLogger()
	}
	p.validator = cfg.Validator
	p.clk = clock.OrReal(cfg.Clock)
	p.mu.Unlock()

	if err := p.reload(); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("originwatcher: %w", err)
	}
	// Watch the directory so editors that replace the file are seen.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("originwatcher: watch %s: %w", filepath.Dir(path), err)
	}

	watchCtx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.cancel = cancel
	p.mu.Unlock()

	p.wg.Add(1)
	go p.watchLoop(watchCtx, watcher)

	p.logger.Info("origin watcher initialized", log.String("path", path))
	return nil
}

// Shutdown stops watching.
func (p *Plugin) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	if p.debounce != nil {
		p.debounce.Stop()
		p.debounce = nil
	}
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	p.wg.Wait()
	return nil
}

// Reloads reports how many times the allow-list was applied.
func (p *Plugin) Reloads() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reloads
}

func (p *Plugin) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer p.wg.Done()
	defer watcher.Close()

	name := filepath.Base(p.path)
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			p.debounceReload()

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			p.logger.Error("origin watcher error", log.Err(err))
		}
	}
}

func (p *Plugin) debounceReload() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel == nil {
		return
	}
	if p.debounce != nil {
		p.debounce.Stop()
	}
	p.debounce = p.clk.AfterFunc(p.debounceDelay, func() {
		if err := p.reload(); err != nil {
			p.logger.Error("origin reload failed, keeping previous list", log.Err(err))
		}
	})
}

// reload applies the file. Unparseable files leave the list unchanged;
// invalid entries are skipped and reported.
func (p *Plugin) reload() error {
	b, err := os.ReadFile(p.path)
	if err != nil {
		return fmt.Errorf("originwatcher: %w", err)
	}
	var f originsFile
	if err := toml.Unmarshal(b, &f); err != nil {
		return fmt.Errorf("originwatcher: parse %s: %w", p.path, err)
	}

	if err := p.validator.Replace(f.AllowedOrigins); err != nil {
		p.logger.Warn("ignored invalid origins", log.Err(err))
	}

	p.mu.Lock()
	p.reloads++
	p.mu.Unlock()
	p.logger.Info("origins loaded", log.Any("origins", p.validator.Allowed()))
	return nil
}

// Ensure Plugin implements bridge.Plugin.
var _ bridge.Plugin = (*Plugin)(nil)
