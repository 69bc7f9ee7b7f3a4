package transport

import (
	"errors"
	"fmt"
)

var (
	ErrChannelClosed = errors.New("transport: channel closed")
	ErrClosing       = errors.New("transport: supervisor is closing")
)

// ConnectError reports a failed handshake. Attempt counts attempts since the last successful connect.
type ConnectError struct {
	Address string
	Attempt int
	Err     error
}

func (e *ConnectError) Error() string {
	if e.Attempt > 0 {
		return fmt.Sprintf("connect %s (attempt %d): %v", e.Address, e.Attempt, e.Err)
	}
	return fmt.Sprintf("connect %s: %v", e.Address, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

type SendError struct {
	Err error
}

func (e *SendError) Error() string { return "send: " + e.Err.Error() }

func (e *SendError) Unwrap() error { return e.Err }

// ReceiveError is a read failure, as opposed to the peer closing the connection.
type ReceiveError struct {
	Err error
}

func (e *ReceiveError) Error() string { return "receive: " + e.Err.Error() }

func (e *ReceiveError) Unwrap() error { return e.Err }
