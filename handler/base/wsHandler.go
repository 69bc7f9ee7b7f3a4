package base

import "context"

// WsHandler turns inbound frames into events and events into replies.
type WsHandler interface {
	UnmarshalClientTextEvent(msg []byte) (any, error)
	DispatchClientEvent(ctx context.Context, event any) (reply any, err error)
	MarshalServerEvent(event any) ([]byte, error)
	BuildErrorEvent(ctx context.Context, err error) any
}
