// Package log provides the logging abstraction shared by the provider,
// relay, and router actors.
//
// Actors accept a Logger through functional options and never import a
// concrete logging library. The zerolog adapter is the default for the
// daemon; NoopLogger is the default for embedded use and tests.
//
// # Usage
//
// Console output at debug level:
//
//	logger := log.NewZerolog(log.Options{Level: "debug", Console: true})
//
// JSON lines to a rotated file as well:
//
//	logger := log.NewZerolog(log.Options{
//	    Console: true,
//	    File:    "/var/log/walletbridge/bridge.log",
//	})
//
// Scope every entry of a component:
//
//	relayLog := log.With(logger, log.String("component", "relay"))
//
// # Version
//
// Current version: 1.0.0
// Minimum compatible version: 1.0.0
//
// See version.go for version constants that can be used programmatically.
package log
