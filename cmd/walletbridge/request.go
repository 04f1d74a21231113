package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/bft-labs/walletbridge/internal/cliconfig"
	"github.com/bft-labs/walletbridge/internal/provider"
	"github.com/bft-labs/walletbridge/internal/relay"
	"github.com/bft-labs/walletbridge/pkg/bridge"
	"github.com/bft-labs/walletbridge/pkg/log"
	"github.com/bft-labs/walletbridge/pkg/state"
	"github.com/bft-labs/walletbridge/pkg/transport"
)

// newRequestCmd sends one request through an in-process provider and
// relay, exactly as a page with the given origin would.
func newRequestCmd() *cobra.Command {
	var (
		endpoint string
		from     string
		timeout  time.Duration
		stateDir string
		verbose  bool
	)

	cmd := &cobra.Command{
		Use:   "request <method> [params-json]",
		Short: "Send one provider request to a running bridge",
		Example: strings.TrimSpace(`
  walletbridge request --origin https://app.example eth_chainId
  walletbridge request --origin https://app.example eth_getBalance '["0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed","latest"]'
`),
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var params any
			if len(args) == 2 {
				var raw json.RawMessage
				if err := json.Unmarshal([]byte(args[1]), &raw); err != nil {
					return fmt.Errorf("params must be JSON: %w", err)
				}
				params = raw
			}

			var logger log.Logger = log.NewNoopLogger()
			if verbose {
				logger = log.NewZerolog(log.Options{Level: "debug", Console: true})
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			relayOpts := []relay.Option{relay.WithLogger(log.With(logger, log.String("component", "relay")))}
			if stateDir != "" {
				relayOpts = append(relayOpts, relay.WithStore(state.NewFileRepository(stateDir)))
			}
			rl := relay.New(transport.WebsocketDialer{URL: endpoint, Origin: from}, relay.Config{}, relayOpts...)
			pages := transport.NewMemoryListener(from)
			defer pages.Close()
			go func() { _ = rl.ServePages(ctx, pages) }()
			if err := rl.Start(ctx); err != nil {
				return err
			}
			defer rl.Close()

			p := provider.New(pages.Dialer(from), provider.Config{RequestTimeout: timeout},
				provider.WithLogger(log.With(logger, log.String("component", "provider"))))
			if err := p.Start(ctx); err != nil {
				return err
			}
			defer p.Close()

			result, err := p.Request(ctx, args[0], params)
			if err != nil {
				return err
			}

			var out bytes.Buffer
			if err := json.Indent(&out, result, "", "  "); err != nil {
				out.Reset()
				out.Write(result)
			}
			fmt.Fprintln(os.Stdout, out.String())
			return nil
		},
	}

	cmd.Flags().StringVar(&endpoint, "url", "ws://"+cliconfig.DefaultListenAddr+bridge.DefaultRelayPath, "relay endpoint of the bridge")
	cmd.Flags().StringVar(&from, "origin", "", "page origin to present (must be allowed by the bridge)")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "how long to wait, including for approval")
	cmd.Flags().StringVar(&stateDir, "state-dir", "", "directory for the relay's suspend snapshot (empty keeps it in memory)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log provider and relay activity")
	_ = cmd.MarkFlagRequired("origin")
	return cmd
}
