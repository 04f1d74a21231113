package protocol

import "encoding/json"

// Kind is the wire tag of an envelope.
type Kind string

const (
	KindRequest  Kind = "WALLET_REQUEST"
	KindResponse Kind = "WALLET_RESPONSE"
	KindEvent    Kind = "WALLET_EVENT"
	KindPing     Kind = "WALLET_PING"
	KindPong     Kind = "WALLET_PONG"

	// KindUnknown marks a frame whose tag is not part of the protocol.
	KindUnknown Kind = ""
)

// Message is the closed set of envelopes. Dispatch with a type switch over
// *Request, *Response, *Event, *Ping, *Pong and *Unknown.
type Message interface {
	Kind() Kind
	isMessage()
}

// Request asks the wallet to perform Method.
type Request struct {
	ID               string
	Method           string
	Params           json.RawMessage
	RequiresApproval bool

	// Timestamp is the send time in unix milliseconds.
	Timestamp int64
}

// Response answers the Request with the same ID. Exactly one of Result
// and Error is meaningful: Error non-nil means failure.
type Response struct {
	ID     string
	Method string
	Result json.RawMessage
	Error  *RPCError
}

// Event is an unsolicited notification pushed toward the page.
type Event struct {
	Event string
	Data  json.RawMessage
}

// Ping probes liveness of the peer.
type Ping struct {
	ID string
}

// Pong answers the Ping with the same ID.
type Pong struct {
	ID string
}

// Unknown carries a frame with an unrecognised tag.
type Unknown struct {
	Type string
}

func (*Request) Kind() Kind  { return KindRequest }
func (*Response) Kind() Kind { return KindResponse }
func (*Event) Kind() Kind    { return KindEvent }
func (*Ping) Kind() Kind     { return KindPing }
func (*Pong) Kind() Kind     { return KindPong }
func (*Unknown) Kind() Kind  { return KindUnknown }

func (*Request) isMessage()  {}
func (*Response) isMessage() {}
func (*Event) isMessage()    {}
func (*Ping) isMessage()     {}
func (*Pong) isMessage()     {}
func (*Unknown) isMessage()  {}

// Failed reports whether the response carries an error.
func (r *Response) Failed() bool {
	return r.Error != nil
}

// Success builds a successful response for req.
func Success(req *Request, result json.RawMessage) *Response {
	return &Response{ID: req.ID, Method: req.Method, Result: result}
}

// Failure builds an error response for req.
func Failure(req *Request, err *RPCError) *Response {
	return &Response{ID: req.ID, Method: req.Method, Error: err}
}

// Well-known event names.
const (
	EventConnect         = "connect"
	EventDisconnect      = "disconnect"
	EventAccountsChanged = "accountsChanged"
	EventChainChanged    = "chainChanged"
	EventMessage         = "message"
)
