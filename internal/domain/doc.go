// Package domain contains the value objects the router shares with its
// collaborators.
//
// It has no dependencies on infrastructure concerns (transport, storage,
// HTTP) and holds only plain data and the rules attached to it.
//
// # Entities
//
//   - [Connection]: whether a site is connected to the wallet, and with which accounts
//   - [Permission]: the EIP-2255 permission descriptor reported for a connected site
//   - [ApprovalPrompt]: what the user is asked to approve
package domain
