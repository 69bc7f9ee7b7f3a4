package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	DefaultCloseGrace       = 2 * time.Second
	DefaultHandshakeTimeout = 10 * time.Second

	maxCloseReason = 123
)

type InboundKind int

const (
	InboundText InboundKind = iota
	InboundPeerClosed
	InboundError
)

// InboundEvent is the outcome of one ReceiveOne call. Err is set only for InboundError.
type InboundEvent struct {
	Kind InboundKind
	Text string
	Err  error
}

// Channel is one physical duplex connection. It never retries and holds no policy.
type Channel interface {
	Send(ctx context.Context, text string) error
	ReceiveOne(ctx context.Context) InboundEvent
	Close(reason string) error
}

type Dialer interface {
	Open(ctx context.Context, address string) (Channel, error)
}

// WSDialer opens websocket channels.
type WSDialer struct {
	HandshakeTimeout time.Duration
	CloseGrace       time.Duration
	Header           http.Header
}

func (d *WSDialer) Open(ctx context.Context, address string) (Channel, error) {
	handshake := d.HandshakeTimeout
	if handshake <= 0 {
		handshake = DefaultHandshakeTimeout
	}
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshake,
		ReadBufferSize:   4096,
		WriteBufferSize:  4096,
	}
	conn, resp, err := dialer.DialContext(ctx, address, d.Header)
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("%w (http status %d)", err, resp.StatusCode)
		}
		return nil, &ConnectError{Address: address, Err: err}
	}
	if resp.StatusCode != http.StatusSwitchingProtocols {
		_ = conn.Close()
		return nil, &ConnectError{Address: address, Err: errors.New("invalid handshake response")}
	}
	grace := d.CloseGrace
	if grace <= 0 {
		grace = DefaultCloseGrace
	}
	return newWSChannel(conn, grace), nil
}

type wsChannel struct {
	conn  *websocket.Conn
	grace time.Duration

	writeMu sync.Mutex

	closing   chan struct{}
	closeOnce sync.Once
	closeErr  error

	reading      atomic.Bool
	readDone     chan struct{}
	readDoneOnce sync.Once
}

func newWSChannel(conn *websocket.Conn, grace time.Duration) *wsChannel {
	return &wsChannel{
		conn:     conn,
		grace:    grace,
		closing:  make(chan struct{}),
		readDone: make(chan struct{}),
	}
}

func (c *wsChannel) Send(ctx context.Context, text string) error {
	if c.isClosing() {
		return &SendError{Err: ErrChannelClosed}
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline, _ := ctx.Deadline()
	_ = c.conn.SetWriteDeadline(deadline)
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetWriteDeadline(time.Now())
	})
	defer stop()

	if err := c.conn.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		return &SendError{Err: err}
	}
	return nil
}

func (c *wsChannel) ReceiveOne(ctx context.Context) InboundEvent {
	select {
	case <-c.readDone:
		return InboundEvent{Kind: InboundError, Err: &ReceiveError{Err: ErrChannelClosed}}
	default:
	}
	if err := ctx.Err(); err != nil {
		return InboundEvent{Kind: InboundError, Err: &ReceiveError{Err: err}}
	}

	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	c.reading.Store(true)
	defer c.reading.Store(false)
	for {
		msgType, msg, err := c.conn.ReadMessage()
		if err != nil {
			ev := c.classify(ctx, err)
			c.readDoneOnce.Do(func() { close(c.readDone) })
			return ev
		}
		// binary frames carry nothing for this link; text is discarded once closing
		// so the reader keeps going until the peer's close answer
		if msgType != websocket.TextMessage || c.isClosing() {
			continue
		}
		return InboundEvent{Kind: InboundText, Text: string(msg)}
	}
}

func (c *wsChannel) isClosing() bool {
	select {
	case <-c.closing:
		return true
	default:
		return false
	}
}

func (c *wsChannel) classify(ctx context.Context, err error) InboundEvent {
	var ce *websocket.CloseError
	if errors.As(err, &ce) && ce.Code != websocket.CloseAbnormalClosure {
		return InboundEvent{Kind: InboundPeerClosed}
	}
	if c.isClosing() {
		return InboundEvent{Kind: InboundError, Err: &ReceiveError{Err: ErrChannelClosed}}
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = ctxErr
	}
	return InboundEvent{Kind: InboundError, Err: &ReceiveError{Err: err}}
}

// Close sends a close frame, waits at most the grace period for a pending reader to see
// the peer's answer, then releases the socket. Safe to call more than once.
func (c *wsChannel) Close(reason string) error {
	c.closeOnce.Do(func() {
		close(c.closing)
		if len(reason) > maxCloseReason {
			reason = reason[:maxCloseReason]
		}
		deadline := time.Now().Add(c.grace)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
		if err := c.conn.WriteControl(websocket.CloseMessage, msg, deadline); err == nil && c.reading.Load() {
			_ = c.conn.SetReadDeadline(deadline)
			timer := time.NewTimer(c.grace)
			select {
			case <-c.readDone:
			case <-timer.C:
			}
			timer.Stop()
		}
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}
