package base

import "context"

// WsConnWrapper owns one server-side websocket connection. ReadLoop runs on the
// caller's goroutine; WriteLoop and WatchIdle run beside it until Close.
type WsConnWrapper interface {
	ReadLoop(ctx context.Context) error
	WriteLoop(ctx context.Context)
	WatchIdle(ctx context.Context)
	Ping(data string) error
	Pong(data string) error
	Close() error
}
