// Package transport moves serialised envelopes between execution
// contexts.
//
// A Conn carries opaque byte frames in order and stamps each inbound
// frame with the sender's origin. Two implementations are provided: an
// in-memory Pipe (with MemoryListener) used for in-process wiring and
// tests, and gorilla/websocket connections used between a relay and the
// router daemon.
package transport
