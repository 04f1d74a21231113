// Package protocol defines the envelopes exchanged between the in-page
// provider, the relay, and the router, together with the provider error
// taxonomy and the method classification tables.
//
// Every frame is a JSON object tagged by "type":
//
//	{"type":"WALLET_REQUEST","id":"req-01H...","method":"eth_chainId","params":[],"requiresApproval":false,"timestamp":1700000000000}
//	{"type":"WALLET_RESPONSE","id":"req-01H...","method":"eth_chainId","result":"0x1"}
//	{"type":"WALLET_EVENT","event":"chainChanged","data":"0x89"}
//	{"type":"WALLET_PING","id":"ping-1"}
//
// Decode returns one of *Request, *Response, *Event, *Ping, *Pong or
// *Unknown. Receivers switch over the concrete type and must handle
// *Unknown explicitly.
//
// # Version
//
// Current version: 1.0.0
// Minimum compatible version: 1.0.0
package protocol
