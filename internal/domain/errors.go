package domain

import "errors"

// Domain errors represent error conditions of the bridge daemon.
// These errors are returned by the public API and can be checked with errors.Is.
var (
	// ErrAlreadyRunning is returned when Start() is called on a running instance.
	ErrAlreadyRunning = errors.New("walletbridge: already running")

	// ErrNotRunning is returned when Stop() is called on a stopped instance.
	ErrNotRunning = errors.New("walletbridge: not running")

	// ErrShutdownTimeout is returned when graceful shutdown times out.
	ErrShutdownTimeout = errors.New("walletbridge: shutdown timeout")

	// ErrInvalidConfig is returned when configuration validation fails.
	ErrInvalidConfig = errors.New("walletbridge: invalid configuration")

	// ErrInvalidAddress is returned when a permission grant names a
	// malformed account address.
	ErrInvalidAddress = errors.New("walletbridge: invalid account address")
)
