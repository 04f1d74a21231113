// Package lifecycle provides the state machines and retry scheduling used
// by every walletbridge actor.
//
// A Machine is a mutex-guarded state machine with a fixed transition
// table. Two instantiations are provided:
//
//   - Connection (Disconnected, Connecting, Connected) tracks a provider
//     or relay link.
//   - Service (Stopped, Starting, Running, Stopping, Crashed) tracks the
//     daemon and adds worker accounting for graceful shutdown.
//
// A Reconnector drives bounded reconnection cycles on a clock.Clock using
// a BackoffConfig, so the whole schedule is deterministic under
// clock.Fake.
//
// # Usage
//
//	conn := lifecycle.NewConnection("relay", logger, nil)
//	rc := lifecycle.NewReconnector("relay", clk, lifecycle.ReconnectBackoff(), logger)
//
//	rc.Start(lifecycle.Cycle{
//	    Attempt:   func(n int, done func(error)) { done(dial()) },
//	    OnSuccess: func(n int) { _ = conn.TransitionTo(lifecycle.Connected, "reconnected") },
//	    OnGiveUp:  func(err error) { rejectPending(err) },
//	})
//
// # State Machines
//
// Connection transitions:
//   - Disconnected -> Connecting
//   - Connecting -> Connected, Disconnected
//   - Connected -> Disconnected
//
// Service transitions:
//   - Stopped -> Starting
//   - Starting -> Running, Crashed
//   - Running -> Stopping, Crashed
//   - Stopping -> Stopped, Crashed
//   - Crashed -> Starting
//
// # Version
//
// Current version: 1.0.0
// Minimum compatible version: 1.0.0
//
// See version.go for version constants that can be used programmatically.
package lifecycle
