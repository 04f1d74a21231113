package transport

import (
	"context"
	"errors"
)

var (
	// ErrClosed is returned when sending on a closed connection.
	ErrClosed = errors.New("transport: connection closed")

	// ErrUnavailable is returned by a Dialer when the peer cannot be reached.
	ErrUnavailable = errors.New("transport: peer unavailable")
)

// Frame is one serialised envelope together with the origin of the
// context that sent it. The origin is stamped by the transport, never
// taken from the frame content.
type Frame struct {
	Origin string
	Data   []byte
}

// Info describes one end of a connection.
type Info struct {
	// ID identifies the connection on the accepting side.
	ID string

	// LocalOrigin is stamped on frames sent from this end.
	LocalOrigin string

	// RemoteOrigin is the origin of the peer as established at connect time.
	RemoteOrigin string
}

// Conn is a bidirectional, ordered, message-oriented link between two
// execution contexts.
type Conn interface {
	Info() Info

	// Send delivers a copy of data to the peer.
	Send(ctx context.Context, data []byte) error

	// Frames yields inbound frames in order. The channel is never closed;
	// select on Done as well.
	Frames() <-chan Frame

	// Done is closed once the connection is closed by either side.
	Done() <-chan struct{}

	Close() error
}

// Dialer opens connections toward a peer.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context) (Conn, error)

// Dial calls f.
func (f DialerFunc) Dial(ctx context.Context) (Conn, error) {
	return f(ctx)
}

// Listener accepts inbound connections.
type Listener interface {
	Accept(ctx context.Context) (Conn, error)
	Close() error
}

// Drain returns frames already buffered on c without blocking. Readers
// call it after Done fires so frames sent before the close are not lost.
func Drain(c Conn) []Frame {
	var out []Frame
	for {
		select {
		case f := <-c.Frames():
			out = append(out, f)
		default:
			return out
		}
	}
}
