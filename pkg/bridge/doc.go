// Package bridge provides the wallet side of walletbridge as an embeddable
// daemon.
//
// A Bridge serves one HTTP endpoint. Relays open websocket channels on
// the relay path, the router answers read-only methods from the node and
// queues everything else for the user, and the approval API lets a UI or
// script decide queued prompts.
//
// # Basic Usage
//
//	cfg := bridge.Config{
//	    ListenAddr:     "127.0.0.1:7545",
//	    AllowedOrigins: []string{"https://app.example"},
//	    RPCURL:         "http://127.0.0.1:8545",
//	    ChainID:        "0x1",
//	}
//
//	b, err := bridge.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := b.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer b.Stop()
//
// # Endpoints
//
//	GET  /healthz                      run state, attached channels, open prompts
//	GET  /v1/relay                     websocket upgrade for relays
//	GET  /v1/approvals/                open prompts
//	POST /v1/approvals/{id}/resolve    approve with {"result": ...}
//	POST /v1/approvals/{id}/reject     reject, optionally with {code, message}
//	GET  /metrics                      prometheus metrics
//
// Set Config.ApprovalToken to require a bearer token on the approval API.
//
// # Approvals
//
// Embedders that show prompts themselves implement [EventHandler] and
// decide with [Bridge.Approve] and [Bridge.Reject] instead of going
// through HTTP.
//
// # Plugins and Guards
//
// Plugins are initialized on Start and shut down on Stop. A plugin that
// also implements [Guard] is consulted before every request is
// dispatched:
//
//	import "github.com/bft-labs/walletbridge/plugins/ratelimit"
//	import "github.com/bft-labs/walletbridge/plugins/originwatcher"
//
//	b, err := bridge.New(cfg,
//	    ratelimit.WithRateLimit(ratelimit.Config{Rate: 5, Burst: 10}),
//	    originwatcher.WithOriginWatcher(originwatcher.Config{Path: "origins.toml"}),
//	)
//
// # Lifecycle States
//
// A Bridge is in one of [StateStopped], [StateStarting], [StateRunning],
// [StateStopping], or [StateCrashed]. A stopped or crashed bridge can be
// started again.
package bridge
