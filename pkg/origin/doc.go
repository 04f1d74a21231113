// Package origin validates the sender origin attached to every frame.
//
// The origin of a frame is supplied by the transport (the browser in a
// real deployment, the websocket handshake for the daemon) and never by
// the frame's content. A frame whose origin is not accepted is dropped
// without a response.
//
// Domain derives the hostname that connection grants are keyed by, and
// Site derives the registrable domain shown to users.
package origin
