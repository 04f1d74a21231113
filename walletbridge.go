// Package walletbridge connects web pages to a wallet that runs outside
// the browser.
//
// Example usage:
//
//	cfg := walletbridge.Config{
//	    AllowedOrigins: []string{"https://app.example"},
//	    RPCURL:         "http://127.0.0.1:8545",
//	}
//	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer stop()
//	if err := walletbridge.Run(ctx, cfg); err != nil {
//	    log.Fatal(err)
//	}
//
// For finer control embed [bridge.Bridge] directly.
package walletbridge

import (
	"context"

	"github.com/bft-labs/walletbridge/pkg/bridge"
)

// Config holds the configuration of the bridge daemon.
type Config = bridge.Config

// Option configures optional behavior of the daemon.
type Option = bridge.Option

// Run starts the daemon and blocks until ctx is cancelled or the endpoint
// fails, then shuts it down.
func Run(ctx context.Context, cfg Config, opts ...Option) error {
	b, err := bridge.New(cfg, opts...)
	if err != nil {
		return err
	}
	if err := b.Start(ctx); err != nil {
		return err
	}
	<-b.Done()
	return b.Stop()
}

// DefaultListenAddr is where the daemon listens unless configured otherwise.
const DefaultListenAddr = bridge.DefaultListenAddr
