package renderer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xdimtech/go-avatarlink/handler/base"
)

const (
	WriteQueueSize = 256
	PingTick       = 10 * time.Second
)

var _ base.WsConnWrapper = (*ConnWrapper)(nil)

type ConnWrapper struct {
	ctx          context.Context
	cancel       context.CancelFunc
	conn         *websocket.Conn
	handler      base.WsHandler
	logger       *zap.Logger
	writeQueue   chan any
	group        *errgroup.Group
	closeOnce    sync.Once
	idleTimeout  time.Duration
	idleTimer    *time.Timer
	pingInterval time.Duration
}

type WsConnOption func(*ConnWrapper)

func WithIdleTimeout(idleTimeout time.Duration) WsConnOption {
	return func(w *ConnWrapper) {
		if idleTimeout <= 0 {
			return
		}
		w.idleTimeout = idleTimeout
		w.idleTimer = time.NewTimer(w.idleTimeout)
	}
}

func WithPingInterval(d time.Duration) WsConnOption {
	return func(w *ConnWrapper) {
		w.pingInterval = d
	}
}

func WithHandler(handler base.WsHandler) WsConnOption {
	return func(w *ConnWrapper) {
		w.handler = handler
	}
}

func WithLogger(logger *zap.Logger) WsConnOption {
	return func(w *ConnWrapper) {
		w.logger = logger
	}
}

func NewConnWrapper(ctx context.Context, conn *websocket.Conn, ops ...WsConnOption) (*ConnWrapper, error) {
	wsConn := &ConnWrapper{
		conn:         conn,
		logger:       zap.NewNop(),
		writeQueue:   make(chan any, WriteQueueSize),
		pingInterval: PingTick,
	}
	for _, op := range ops {
		op(wsConn)
	}
	if wsConn.handler == nil {
		if wsConn.idleTimer != nil {
			wsConn.idleTimer.Stop()
		}
		return nil, errors.New("handler is nil")
	}

	wsConn.ctx, wsConn.cancel = context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(wsConn.ctx)
	g.Go(func() error { wsConn.WriteLoop(gctx); return nil })
	g.Go(func() error { wsConn.WatchIdle(gctx); return nil })
	wsConn.group = g

	conn.SetPingHandler(wsConn.Pong)
	return wsConn, nil
}

func (w *ConnWrapper) Ping(data string) error {
	return w.conn.WriteControl(websocket.PingMessage, []byte(data), time.Now().Add(time.Second))
}

func (w *ConnWrapper) Pong(data string) error {
	w.resetIdleTimer()
	return w.conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
}

func (w *ConnWrapper) Close() error {
	var err error
	w.closeOnce.Do(func() {
		w.cancel()
		err = w.conn.Close()
		if w.idleTimer != nil {
			w.idleTimer.Stop()
		}
		_ = w.group.Wait()
	})
	return err
}

func (w *ConnWrapper) WriteLoop(ctx context.Context) {
	interval := w.pingInterval
	if interval <= 0 {
		interval = PingTick
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case event := <-w.writeQueue:
			buf, err := w.handler.MarshalServerEvent(event)
			if err != nil {
				w.logger.Warn("marshal reply", zap.Error(err))
				continue
			}
			if err := w.conn.WriteMessage(websocket.TextMessage, buf); err != nil {
				w.logger.Debug("write reply", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = w.Ping("")
		}
	}
}

func (w *ConnWrapper) ReadLoop(ctx context.Context) error {
	defer func() {
		_ = w.Close()
	}()

	for {
		msgType, msg, err := w.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				w.logger.Warn("connection dropped", zap.Error(err))
			}
			return nil
		}
		w.resetIdleTimer()
		if msgType != websocket.TextMessage {
			continue
		}

		event, err := w.handler.UnmarshalClientTextEvent(msg)
		if err != nil {
			w.enqueue(w.handler.BuildErrorEvent(ctx, err))
			continue
		}
		reply, err := w.handler.DispatchClientEvent(ctx, event)
		if err != nil {
			w.enqueue(w.handler.BuildErrorEvent(ctx, err))
			continue
		}
		if reply != nil {
			w.enqueue(reply)
		}
	}
}

func (w *ConnWrapper) WatchIdle(ctx context.Context) {
	if w.idleTimer == nil {
		return
	}

	select {
	case <-ctx.Done():
		return
	case <-w.idleTimer.C:
	}
	w.logger.Info("closing idle connection", zap.Duration("idle_timeout", w.idleTimeout))
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "too long without operation")
	_ = w.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	_ = w.conn.Close()
}

func (w *ConnWrapper) enqueue(event any) {
	select {
	case w.writeQueue <- event:
	case <-w.ctx.Done():
	}
}

func (w *ConnWrapper) resetIdleTimer() {
	if w.idleTimer == nil {
		return
	}
	w.idleTimer.Reset(w.idleTimeout)
}
