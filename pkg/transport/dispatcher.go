package transport

import (
	"context"
	"slices"
	"sync"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/xdimtech/go-avatarlink/pkg/utils"
)

// Handlers are the notifications a subscriber can receive. Nil fields are skipped.
type Handlers struct {
	OnConnected       func()
	OnDisconnected    func()
	OnMessageReceived func(text string)
	OnError           func(err error)
}

type notificationKind int

const (
	notifyConnected notificationKind = iota
	notifyDisconnected
	notifyMessage
	notifyError
	notifyFlush
)

type notification struct {
	kind notificationKind
	text string
	err  error
	done chan struct{}
}

type subscription struct {
	id       string
	seq      uint64
	handlers Handlers
}

// Dispatcher fans notifications out to subscribers. Notifications are delivered one at a
// time, in the order they were emitted, on a single goroutine; a handler never runs
// concurrently with another handler of the same Dispatcher.
type Dispatcher struct {
	logger *zap.Logger

	mu   sync.RWMutex
	subs map[string]*subscription
	seq  uint64

	qmu      sync.Mutex
	queue    []notification
	draining bool
}

func NewDispatcher(logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		logger: logger,
		subs:   make(map[string]*subscription),
	}
}

// Subscribe registers h and returns its id and a function that removes it.
func (d *Dispatcher) Subscribe(h Handlers) (string, func()) {
	id := utils.UniqueID()
	d.mu.Lock()
	d.seq++
	d.subs[id] = &subscription{id: id, seq: d.seq, handlers: h}
	d.mu.Unlock()
	return id, func() { d.Unsubscribe(id) }
}

func (d *Dispatcher) Unsubscribe(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subs[id]; !ok {
		return false
	}
	delete(d.subs, id)
	return true
}

func (d *Dispatcher) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subs)
}

func (d *Dispatcher) Connected() { d.emit(notification{kind: notifyConnected}) }

func (d *Dispatcher) Disconnected() { d.emit(notification{kind: notifyDisconnected}) }

func (d *Dispatcher) Error(err error) { d.emit(notification{kind: notifyError, err: err}) }

// Deliver hands one inbound message to every subscriber and waits until all of them
// returned, or ctx is done.
func (d *Dispatcher) Deliver(ctx context.Context, text string) error {
	return d.emitAndWait(ctx, notification{kind: notifyMessage, text: text})
}

// Flush waits until every notification emitted before the call has been delivered.
func (d *Dispatcher) Flush(ctx context.Context) error {
	return d.emitAndWait(ctx, notification{kind: notifyFlush})
}

func (d *Dispatcher) emitAndWait(ctx context.Context, n notification) error {
	n.done = make(chan struct{})
	d.emit(n)
	select {
	case <-n.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) emit(n notification) {
	d.qmu.Lock()
	d.queue = append(d.queue, n)
	if !d.draining {
		d.draining = true
		go d.drain()
	}
	d.qmu.Unlock()
}

func (d *Dispatcher) drain() {
	for {
		d.qmu.Lock()
		if len(d.queue) == 0 {
			d.draining = false
			d.qmu.Unlock()
			return
		}
		n := d.queue[0]
		d.queue[0] = notification{}
		d.queue = d.queue[1:]
		d.qmu.Unlock()

		if n.kind != notifyFlush {
			for _, sub := range d.snapshot() {
				d.invoke(sub, n)
			}
		}
		if n.done != nil {
			close(n.done)
		}
	}
}

func (d *Dispatcher) snapshot() []*subscription {
	d.mu.RLock()
	subs := lo.Values(d.subs)
	d.mu.RUnlock()
	slices.SortFunc(subs, func(a, b *subscription) int {
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		}
		return 0
	})
	return subs
}

func (d *Dispatcher) invoke(sub *subscription, n notification) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("subscriber panicked",
				zap.String("subscriber", sub.id),
				zap.Any("panic", r))
		}
	}()

	h := sub.handlers
	switch n.kind {
	case notifyConnected:
		if h.OnConnected != nil {
			h.OnConnected()
		}
	case notifyDisconnected:
		if h.OnDisconnected != nil {
			h.OnDisconnected()
		}
	case notifyMessage:
		if h.OnMessageReceived != nil {
			h.OnMessageReceived(n.text)
		}
	case notifyError:
		if h.OnError != nil {
			h.OnError(n.err)
		}
	}
}
