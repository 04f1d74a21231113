// Package ports defines the interfaces that connect the router to the
// collaborators it does not own.
//
// # Port Interfaces
//
//   - [ApprovalSurface]: shows approval prompts and reports the user's decision
//   - [PermissionStore]: remembers which sites are connected with which accounts
//   - [NetworkData]: answers read-only chain queries
//   - [WalletState]: reports the wallet's active chain
//
// # Usage
//
// The router (internal/router) depends only on these interfaces.
// Adapters (internal/adapters) implement them with leveldb, go-ethereum
// rpc, and an HTTP approval queue. Tests use in-memory implementations.
package ports
