package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var errRefused = errors.New("connection refused")

type fakeChannel struct {
	inbound chan InboundEvent

	mu           sync.Mutex
	sent         []string
	sendErr      error
	closeReasons []string

	// when set, Send parks until holdSends is closed or the channel closes
	holdSends   chan struct{}
	sendStarted chan struct{}
	// runs at the start of Close
	onClose func()

	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		inbound:     make(chan InboundEvent, 128),
		sendStarted: make(chan struct{}, 1),
		closed:      make(chan struct{}),
	}
}

func (c *fakeChannel) Send(_ context.Context, text string) error {
	c.mu.Lock()
	hold := c.holdSends
	c.mu.Unlock()
	if hold != nil {
		select {
		case c.sendStarted <- struct{}{}:
		default:
		}
		select {
		case <-hold:
		case <-c.closed:
			return &SendError{Err: ErrChannelClosed}
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.closed:
		return &SendError{Err: ErrChannelClosed}
	default:
	}
	if c.sendErr != nil {
		return &SendError{Err: c.sendErr}
	}
	c.sent = append(c.sent, text)
	return nil
}

func (c *fakeChannel) ReceiveOne(ctx context.Context) InboundEvent {
	select {
	case ev := <-c.inbound:
		return ev
	case <-c.closed:
		return InboundEvent{Kind: InboundPeerClosed}
	case <-ctx.Done():
		return InboundEvent{Kind: InboundError, Err: &ReceiveError{Err: ctx.Err()}}
	}
}

func (c *fakeChannel) Close(reason string) error {
	c.mu.Lock()
	c.closeReasons = append(c.closeReasons, reason)
	hook := c.onClose
	c.mu.Unlock()
	if hook != nil {
		hook()
	}
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeChannel) HoldSends() {
	c.mu.Lock()
	c.holdSends = make(chan struct{})
	c.mu.Unlock()
}

func (c *fakeChannel) OnClose(fn func()) {
	c.mu.Lock()
	c.onClose = fn
	c.mu.Unlock()
}

func (c *fakeChannel) Sent() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sent...)
}

func (c *fakeChannel) IsClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// fakeDialer fails the first `failures` opens, then hands out fake channels.
type fakeDialer struct {
	mu       sync.Mutex
	failures int
	opens    int
	channels []*fakeChannel
	preload  []string

	// when set, Open blocks until release is closed or ctx is done
	release chan struct{}
}

func (d *fakeDialer) Open(ctx context.Context, address string) (Channel, error) {
	d.mu.Lock()
	d.opens++
	n := d.opens
	fail := n <= d.failures
	release := d.release
	d.mu.Unlock()

	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fail {
		return nil, fmt.Errorf("open %s: %w", address, errRefused)
	}
	ch := newFakeChannel()
	for _, text := range d.preload {
		ch.inbound <- InboundEvent{Kind: InboundText, Text: text}
	}
	d.mu.Lock()
	d.channels = append(d.channels, ch)
	d.mu.Unlock()
	return ch, nil
}

func (d *fakeDialer) Opens() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opens
}

func (d *fakeDialer) Channel(i int) *fakeChannel {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.channels) {
		return nil
	}
	return d.channels[i]
}

type fakeTimer struct {
	delay   time.Duration
	fn      func()
	mu      sync.Mutex
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	was := !t.stopped
	t.stopped = true
	return was
}

func (t *fakeTimer) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// fakeClock captures scheduled reconnects; tests fire them by hand.
type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (c *fakeClock) AfterFunc(d time.Duration, fn func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{delay: d, fn: fn}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

func (c *fakeClock) Timer(i int) *fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timers[i]
}

// Fire runs the i-th scheduled callback on the calling goroutine, even if it was stopped.
func (c *fakeClock) Fire(i int) {
	c.Timer(i).fn()
}

type recorder struct {
	mu     sync.Mutex
	events []string
	errs   []error
}

func (r *recorder) handlers() Handlers {
	return Handlers{
		OnConnected:       func() { r.add("connected") },
		OnDisconnected:    func() { r.add("disconnected") },
		OnMessageReceived: func(text string) { r.add("message:" + text) },
		OnError: func(err error) {
			r.mu.Lock()
			r.errs = append(r.errs, err)
			r.mu.Unlock()
			r.add("error")
		},
	}
}

func (r *recorder) add(ev string) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) Errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

func (r *recorder) Count(ev string) int {
	n := 0
	for _, e := range r.Events() {
		if e == ev {
			n++
		}
	}
	return n
}
