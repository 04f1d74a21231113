package transport

import (
	"bytes"
	"context"
	"sync"

	"github.com/google/uuid"
)

const frameBuffer = 256

type pipeEnd struct {
	info Info
	in   chan Frame
	peer *pipeEnd

	done      chan struct{}
	closeOnce *sync.Once
}

// Pipe returns two connected in-memory ends. Frames sent from a are
// stamped with aOrigin and vice versa. Closing either end closes both.
func Pipe(aOrigin, bOrigin string) (Conn, Conn) {
	id := uuid.NewString()
	done := make(chan struct{})
	once := &sync.Once{}

	a := &pipeEnd{
		info:      Info{ID: id, LocalOrigin: aOrigin, RemoteOrigin: bOrigin},
		in:        make(chan Frame, frameBuffer),
		done:      done,
		closeOnce: once,
	}
	b := &pipeEnd{
		info:      Info{ID: id, LocalOrigin: bOrigin, RemoteOrigin: aOrigin},
		in:        make(chan Frame, frameBuffer),
		done:      done,
		closeOnce: once,
	}
	a.peer, b.peer = b, a
	return a, b
}

func (p *pipeEnd) Info() Info { return p.info }

func (p *pipeEnd) Send(ctx context.Context, data []byte) error {
	select {
	case <-p.done:
		return ErrClosed
	default:
	}

	f := Frame{Origin: p.info.LocalOrigin, Data: bytes.Clone(data)}
	select {
	case p.peer.in <- f:
		return nil
	case <-p.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pipeEnd) Frames() <-chan Frame { return p.in }

func (p *pipeEnd) Done() <-chan struct{} { return p.done }

func (p *pipeEnd) Close() error {
	p.closeOnce.Do(func() { close(p.done) })
	return nil
}

// MemoryListener is an in-process Listener. Its Dialer hands the server
// end of a fresh Pipe to Accept and returns the client end.
type MemoryListener struct {
	origin string
	accept chan Conn

	mu        sync.Mutex
	available bool
	closed    bool
	conns     []Conn
	done      chan struct{}
}

// NewMemoryListener creates a listener whose accepted ends send frames
// stamped with origin.
func NewMemoryListener(origin string) *MemoryListener {
	return &MemoryListener{
		origin:    origin,
		accept:    make(chan Conn, 16),
		available: true,
		done:      make(chan struct{}),
	}
}

// Accept waits for the next inbound connection.
func (l *MemoryListener) Accept(ctx context.Context) (Conn, error) {
	select {
	case c := <-l.accept:
		return c, nil
	case <-l.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Dial connects a client stamped with clientOrigin.
func (l *MemoryListener) Dial(ctx context.Context, clientOrigin string) (Conn, error) {
	l.mu.Lock()
	if l.closed || !l.available {
		l.mu.Unlock()
		return nil, ErrUnavailable
	}
	client, server := Pipe(clientOrigin, l.origin)
	l.conns = append(l.conns, server)
	l.mu.Unlock()

	select {
	case l.accept <- server:
		return client, nil
	case <-l.done:
		return nil, ErrUnavailable
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Dialer returns a Dialer for clients at clientOrigin.
func (l *MemoryListener) Dialer(clientOrigin string) Dialer {
	return DialerFunc(func(ctx context.Context) (Conn, error) {
		return l.Dial(ctx, clientOrigin)
	})
}

// SetAvailable controls whether new dials succeed.
func (l *MemoryListener) SetAvailable(available bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.available = available
}

// DropAll closes every connection accepted so far.
func (l *MemoryListener) DropAll() {
	l.mu.Lock()
	conns := l.conns
	l.conns = nil
	l.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}
}

// Close stops accepting and refuses new dials.
func (l *MemoryListener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.closed {
		l.closed = true
		close(l.done)
	}
	return nil
}
