package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"

	"github.com/bft-labs/walletbridge/internal/cliconfig"
	"github.com/bft-labs/walletbridge/pkg/bridge"
	"github.com/bft-labs/walletbridge/pkg/log"
	"github.com/bft-labs/walletbridge/plugins/originwatcher"
	"github.com/bft-labs/walletbridge/plugins/ratelimit"
)

const helpDescription = `
Connect web pages to a wallet that lives outside the browser.

Highlights:
  - Pages talk EIP-1193 to an injected provider; a relay carries requests here.
  - Read-only calls are answered from your node, everything else waits for you.
  - Only origins you allow can connect; edit the origins file without restarting.
  - Decide prompts over the approval API or with "walletbridge approvals".
`

var longHelp = strings.TrimSpace(helpDescription)

var exampleUsage = strings.TrimSpace(`
  walletbridge --rpc-url http://127.0.0.1:8545 --allowed-origins https://app.example
  walletbridge --config $HOME/.walletbridge/config.toml
  walletbridge request --origin https://app.example eth_requestAccounts
  walletbridge approvals list
`)

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

func main() {
	cfg := cliconfig.DefaultConfig()
	var cfgPath string

	logger := log.NewZerologAdapter()

	root := &cobra.Command{
		Use:     "walletbridge",
		Short:   "Connect web pages to a wallet outside the browser",
		Long:    longHelp,
		Example: exampleUsage,
		Version: fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),
		RunE: func(cmd *cobra.Command, args []string) error {
			// Load config file first (default $HOME/.walletbridge/config.toml), then apply flag overrides
			cfgFile := cfgPath
			if cfgFile == "" {
				cfgFile = cliconfig.DefaultConfigPath()
			}

			// Build set of changed flags
			changed := map[string]bool{}
			cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })

			if cfgFile != "" && cliconfig.FileExists(cfgFile) {
				fc, err := cliconfig.LoadFileConfig(cfgFile)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				if err := cliconfig.ApplyFileConfig(&cfg, fc, changed); err != nil {
					return err
				}
			}

			// Environment (WALLETBRIDGE_*) overrides the file but not flags
			if err := cliconfig.ApplyEnvConfig(&cfg, changed); err != nil {
				return err
			}

			if err := cfg.Validate(); err != nil {
				return err
			}

			logger = log.NewZerolog(log.Options{
				Level:   cfg.LogLevel,
				Console: true,
				File:    cfg.LogFile,
			})
			zl := logger.Logger()

			// Log configuration (masking the approval token)
			logCfg := cfg
			if len(logCfg.ApprovalToken) > 0 {
				logCfg.ApprovalToken = "*****"
			}
			zl.Info().Interface("config", logCfg).Msg("configuration")

			opts := []bridge.Option{bridge.WithLogger(logger)}
			if cfg.OriginsFile != "" {
				opts = append(opts, originwatcher.WithOriginsFile(cfg.OriginsFile))
			}
			if cfg.RateLimit > 0 {
				opts = append(opts, ratelimit.WithRateLimit(ratelimit.Config{
					Rate:  cfg.RateLimit,
					Burst: cfg.RateBurst,
				}))
			}

			b, err := bridge.New(bridge.Config{
				ListenAddr:      cfg.ListenAddr,
				AllowedOrigins:  cfg.AllowedOrigins,
				AllowNullOrigin: cfg.AllowNullOrigin,
				DataDir:         cfg.DataDir,
				RPCURL:          cfg.RPCURL,
				ChainID:         cfg.ChainID,
				Chains:          cfg.Chains,
				ApprovalToken:   cfg.ApprovalToken,
				Router:          cfg.RouterConfig(),
			}, opts...)
			if err != nil {
				return fmt.Errorf("create bridge: %w", err)
			}

			// Setup signal handling for graceful shutdown
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := b.Start(ctx); err != nil {
				return fmt.Errorf("start bridge: %w", err)
			}

			select {
			case <-ctx.Done():
				zl.Info().Msg("received signal, stopping...")
			case <-b.Done():
				zl.Error().Msg("bridge stopped serving")
			}

			// Graceful shutdown
			if err := b.Stop(); err != nil {
				return fmt.Errorf("stop bridge: %w", err)
			}
			return nil
		},
	}

	// Flags
	root.Flags().StringVar(&cfgPath, "config", "", "path to config file (default: $HOME/.walletbridge/config.toml)")
	root.Flags().StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "address serving relays, approvals, health and metrics")
	root.Flags().StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "directory holding site permissions (default: $HOME/.walletbridge/data)")

	root.Flags().StringVar(&cfg.RPCURL, "rpc-url", cfg.RPCURL, "node JSON-RPC endpoint for read-only methods")
	root.Flags().StringVar(&cfg.ChainID, "chain-id", cfg.ChainID, "active chain id (0x-prefixed hex)")
	root.Flags().StringSliceVar(&cfg.Chains, "chains", cfg.Chains, "chain ids wallet_switchEthereumChain may select")

	root.Flags().StringSliceVar(&cfg.AllowedOrigins, "allowed-origins", cfg.AllowedOrigins, "page origins allowed to connect (\"*\" for any)")
	root.Flags().StringVar(&cfg.OriginsFile, "origins-file", cfg.OriginsFile, "TOML file with allowed_origins, reloaded on change")
	root.Flags().BoolVar(&cfg.AllowNullOrigin, "allow-null-origin", cfg.AllowNullOrigin, "accept sandboxed pages (read-only methods only)")

	root.Flags().DurationVar(&cfg.ApprovalTTL, "approval-ttl", cfg.ApprovalTTL, "age after which an unanswered prompt expires")
	root.Flags().DurationVar(&cfg.SweepInterval, "sweep-interval", cfg.SweepInterval, "how often expired prompts are collected")
	root.Flags().DurationVar(&cfg.GraceWindow, "grace-window", cfg.GraceWindow, "delay before a disconnected channel with requests in flight is dropped")
	root.Flags().DurationVar(&cfg.CallTimeout, "call-timeout", cfg.CallTimeout, "timeout of each node call")
	if err := root.Flags().MarkHidden("sweep-interval"); err != nil {
		logger.Info("failed to hide sweep-interval flag", log.Err(err))
	}

	root.Flags().Float64Var(&cfg.RateLimit, "rate-limit", cfg.RateLimit, "requests per second allowed per site (0 disables)")
	root.Flags().IntVar(&cfg.RateBurst, "rate-burst", cfg.RateBurst, "requests a site may send at once")

	root.Flags().StringVar(&cfg.ApprovalToken, "approval-token", cfg.ApprovalToken, "bearer token required by the approval API")
	root.Flags().StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")
	root.Flags().StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "also write JSON logs to this file, rotated by size")

	root.AddCommand(newRequestCmd(), newApprovalsCmd())

	if err := root.Execute(); err != nil {
		logger.Error("walletbridge", log.Err(err))
		os.Exit(1)
	}
}
