package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newPeer starts a websocket server that runs serve on every accepted connection.
func newPeer(t *testing.T, serve func(conn *websocket.Conn)) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		serve(conn)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func echo(conn *websocket.Conn) {
	for {
		typ, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if err := conn.WriteMessage(typ, msg); err != nil {
			return
		}
	}
}

func openTestChannel(t *testing.T, addr string) Channel {
	t.Helper()
	d := &WSDialer{CloseGrace: 200 * time.Millisecond}
	ch, err := d.Open(context.Background(), addr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ch.Close("") })
	return ch
}

func TestWSChannelSendReceive(t *testing.T) {
	ch := openTestChannel(t, newPeer(t, echo))
	ctx := context.Background()

	require.NoError(t, ch.Send(ctx, `{"type":"gesture_trigger"}`))
	require.NoError(t, ch.Send(ctx, "second"))

	ev := ch.ReceiveOne(ctx)
	require.Equal(t, InboundText, ev.Kind)
	assert.Equal(t, `{"type":"gesture_trigger"}`, ev.Text)

	ev = ch.ReceiveOne(ctx)
	require.Equal(t, InboundText, ev.Kind)
	assert.Equal(t, "second", ev.Text)
}

func TestWSChannelSkipsBinaryFrames(t *testing.T) {
	addr := newPeer(t, func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3})
		_ = conn.WriteMessage(websocket.TextMessage, []byte("text"))
		echo(conn)
	})
	ch := openTestChannel(t, addr)

	ev := ch.ReceiveOne(context.Background())
	require.Equal(t, InboundText, ev.Kind)
	assert.Equal(t, "text", ev.Text)
}

func TestWSChannelPeerClosed(t *testing.T) {
	addr := newPeer(t, func(conn *websocket.Conn) {
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "bye")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		echo(conn)
	})
	ch := openTestChannel(t, addr)

	ev := ch.ReceiveOne(context.Background())
	assert.Equal(t, InboundPeerClosed, ev.Kind)
	assert.NoError(t, ev.Err)
}

func TestWSChannelAbruptDropIsAnError(t *testing.T) {
	addr := newPeer(t, func(conn *websocket.Conn) {
		_ = conn.UnderlyingConn().Close()
	})
	ch := openTestChannel(t, addr)

	ev := ch.ReceiveOne(context.Background())
	assert.Equal(t, InboundError, ev.Kind)
	var rerr *ReceiveError
	assert.ErrorAs(t, ev.Err, &rerr)
}

func TestWSChannelReceiveIsCancellable(t *testing.T) {
	ch := openTestChannel(t, newPeer(t, echo))

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan InboundEvent, 1)
	go func() { result <- ch.ReceiveOne(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case ev := <-result:
		assert.Equal(t, InboundError, ev.Kind)
		assert.ErrorIs(t, ev.Err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("ReceiveOne ignored cancellation")
	}
}

func TestWSChannelCloseUnblocksReader(t *testing.T) {
	ch := openTestChannel(t, newPeer(t, echo))

	result := make(chan InboundEvent, 1)
	go func() { result <- ch.ReceiveOne(context.Background()) }()
	time.Sleep(20 * time.Millisecond)

	start := time.Now()
	require.NoError(t, ch.Close("done"))
	select {
	case ev := <-result:
		assert.NotEqual(t, InboundText, ev.Kind)
	case <-time.After(time.Second):
		t.Fatal("ReceiveOne still blocked after Close")
	}
	assert.Less(t, time.Since(start), time.Second)

	// idempotent, and the channel refuses further use
	assert.NoError(t, ch.Close("again"))
	err := ch.Send(context.Background(), "late")
	assert.ErrorIs(t, err, ErrChannelClosed)
	ev := ch.ReceiveOne(context.Background())
	assert.Equal(t, InboundError, ev.Kind)
	assert.ErrorIs(t, ev.Err, ErrChannelClosed)
}

func TestWSChannelCloseWhilePeerStreams(t *testing.T) {
	addr := newPeer(t, func(conn *websocket.Conn) {
		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
		ticker := time.NewTicker(time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := conn.WriteMessage(websocket.TextMessage, []byte("x")); err != nil {
					return
				}
			}
		}
	})
	ch, err := (&WSDialer{CloseGrace: 2 * time.Second}).Open(context.Background(), addr)
	require.NoError(t, err)

	last := make(chan InboundEvent, 1)
	go func() {
		for {
			ev := ch.ReceiveOne(context.Background())
			if ev.Kind != InboundText {
				last <- ev
				return
			}
		}
	}()
	time.Sleep(30 * time.Millisecond)

	start := time.Now()
	require.NoError(t, ch.Close("done"))
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	select {
	case ev := <-last:
		assert.NotEqual(t, InboundText, ev.Kind)
	case <-time.After(time.Second):
		t.Fatal("reader still running after Close")
	}
}

func TestWSChannelCloseWithoutReader(t *testing.T) {
	ch := openTestChannel(t, newPeer(t, echo))
	start := time.Now()
	require.NoError(t, ch.Close(strings.Repeat("x", 500)))
	assert.Less(t, time.Since(start), 200*time.Millisecond)
}

func TestWSDialerConnectError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := "ws" + strings.TrimPrefix(srv.URL, "http")
	srv.Close()

	_, err := (&WSDialer{HandshakeTimeout: time.Second}).Open(context.Background(), addr)
	var cerr *ConnectError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, addr, cerr.Address)
}

func TestWSDialerRejectsNonWebsocketPeer(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(srv.Close)
	addr := "ws" + strings.TrimPrefix(srv.URL, "http")

	_, err := (&WSDialer{}).Open(context.Background(), addr)
	var cerr *ConnectError
	require.ErrorAs(t, err, &cerr)
	assert.Contains(t, cerr.Error(), "404")
}
