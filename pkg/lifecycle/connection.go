package lifecycle

import "github.com/bft-labs/walletbridge/pkg/log"

// ConnState is the link state of a provider or relay.
type ConnState int

const (
	Disconnected ConnState = iota
	Connecting
	Connected
)

// String returns a human-readable representation of the state.
func (s ConnState) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	default:
		return "Unknown"
	}
}

var connTransitions = map[ConnState][]ConnState{
	Disconnected: {Connecting},
	Connecting:   {Connected, Disconnected},
	Connected:    {Disconnected},
}

// Connection tracks a single link.
type Connection = Machine[ConnState]

// NewConnection returns a link machine starting Disconnected.
func NewConnection(name string, logger log.Logger, emitter EventEmitter[ConnState]) *Connection {
	return NewMachine(name, Disconnected, connTransitions, logger, emitter)
}
