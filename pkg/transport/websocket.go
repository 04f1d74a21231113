package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/bft-labs/walletbridge/pkg/log"
	"github.com/bft-labs/walletbridge/pkg/origin"
)

const (
	defaultWriteTimeout = 10 * time.Second
	maxFrameBytes       = 1 << 20
)

type wsConn struct {
	ws     *websocket.Conn
	info   Info
	frames chan Frame
	done   chan struct{}
	once   sync.Once

	writeMu sync.Mutex
}

func newWSConn(ws *websocket.Conn, info Info) *wsConn {
	ws.SetReadLimit(maxFrameBytes)
	c := &wsConn{
		ws:     ws,
		info:   info,
		frames: make(chan Frame, frameBuffer),
		done:   make(chan struct{}),
	}
	go c.readPump()
	return c
}

func (c *wsConn) readPump() {
	defer c.Close()
	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		if kind != websocket.TextMessage && kind != websocket.BinaryMessage {
			continue
		}
		select {
		case c.frames <- Frame{Origin: c.info.RemoteOrigin, Data: data}:
		case <-c.done:
			return
		}
	}
}

func (c *wsConn) Info() Info { return c.info }

func (c *wsConn) Send(ctx context.Context, data []byte) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	deadline := time.Now().Add(defaultWriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	err := c.ws.SetWriteDeadline(deadline)
	if err == nil {
		err = c.ws.WriteMessage(websocket.TextMessage, data)
	}
	c.writeMu.Unlock()

	if err != nil {
		_ = c.Close()
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	return nil
}

func (c *wsConn) Frames() <-chan Frame { return c.frames }

func (c *wsConn) Done() <-chan struct{} { return c.done }

func (c *wsConn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.ws.Close()
	})
	return err
}

// WebsocketDialer connects to a router endpoint over websocket, presenting
// Origin as the handshake origin.
type WebsocketDialer struct {
	URL              string
	Origin           string
	HandshakeTimeout time.Duration
}

// Dial opens a websocket connection.
func (d WebsocketDialer) Dial(ctx context.Context) (Conn, error) {
	timeout := d.HandshakeTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	dialer := websocket.Dialer{HandshakeTimeout: timeout}

	header := http.Header{}
	if d.Origin != "" {
		header.Set("Origin", d.Origin)
	}
	ws, resp, err := dialer.DialContext(ctx, d.URL, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	remote, err := origin.FromURL(d.URL)
	if err != nil {
		remote = origin.Null
	}
	return newWSConn(ws, Info{
		ID:           uuid.NewString(),
		LocalOrigin:  d.Origin,
		RemoteOrigin: remote,
	}), nil
}

// WebsocketListener is an http.Handler that upgrades requests from
// allowed origins and hands the resulting connections to Accept.
type WebsocketListener struct {
	upgrader    websocket.Upgrader
	validator   *origin.Validator
	localOrigin string
	logger      log.Logger

	conns     chan Conn
	done      chan struct{}
	closeOnce sync.Once
}

// NewWebsocketListener creates a listener gated by validator. localOrigin
// is stamped on frames the server sends.
func NewWebsocketListener(validator *origin.Validator, localOrigin string, logger log.Logger) *WebsocketListener {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	l := &WebsocketListener{
		validator:   validator,
		localOrigin: localOrigin,
		logger:      logger,
		conns:       make(chan Conn, 16),
		done:        make(chan struct{}),
	}
	l.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			return l.validator.Allow(r.Header.Get("Origin"))
		},
	}
	return l
}

// ServeHTTP upgrades the request.
func (l *WebsocketListener) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	select {
	case <-l.done:
		http.Error(w, "listener closed", http.StatusServiceUnavailable)
		return
	default:
	}

	remote, err := origin.Normalize(r.Header.Get("Origin"))
	if err != nil {
		l.logger.Debug("rejected websocket origin", log.Origin(r.Header.Get("Origin")), log.Err(err))
		http.Error(w, "invalid origin", http.StatusForbidden)
		return
	}

	ws, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.logger.Debug("websocket upgrade failed", log.Origin(remote), log.Err(err))
		return
	}

	conn := newWSConn(ws, Info{
		ID:           uuid.NewString(),
		LocalOrigin:  l.localOrigin,
		RemoteOrigin: remote,
	})
	select {
	case l.conns <- conn:
	case <-l.done:
		_ = conn.Close()
	case <-r.Context().Done():
		_ = conn.Close()
	}
}

// Accept waits for the next upgraded connection.
func (l *WebsocketListener) Accept(ctx context.Context) (Conn, error) {
	select {
	case c := <-l.conns:
		return c, nil
	case <-l.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops accepting connections.
func (l *WebsocketListener) Close() error {
	l.closeOnce.Do(func() { close(l.done) })
	return nil
}
