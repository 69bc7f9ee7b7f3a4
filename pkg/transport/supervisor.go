package transport

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xdimtech/go-avatarlink/pkg/protocol/avatar"
)

const closeReason = "client closing"

// Config is the connection surface of a Supervisor.
type Config struct {
	Address           string
	AutoReconnect     bool
	ReconnectInterval time.Duration
}

// Timer is a scheduled reconnect that can be cancelled.
type Timer interface {
	Stop() bool
}

type Option func(*Supervisor)

func WithDialer(d Dialer) Option {
	return func(s *Supervisor) {
		s.dialer = d
	}
}

// WithReconnectPolicy replaces the fixed interval policy derived from Config.
func WithReconnectPolicy(p ReconnectPolicy) Option {
	return func(s *Supervisor) {
		s.policy = p
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Supervisor) {
		s.logger = l
	}
}

func WithMetrics(m *Metrics) Option {
	return func(s *Supervisor) {
		s.metrics = m
	}
}

func WithEncoder(e *avatar.Encoder) Option {
	return func(s *Supervisor) {
		s.encoder = e
	}
}

// WithAfterFunc replaces time.AfterFunc for reconnect scheduling.
func WithAfterFunc(f func(d time.Duration, fn func()) Timer) Option {
	return func(s *Supervisor) {
		s.afterFunc = f
	}
}

// Supervisor owns the lifecycle of one link: it opens channels, runs the receive loop,
// reconnects according to its policy and routes outbound events. At most one channel is
// live at a time.
type Supervisor struct {
	address       string
	autoReconnect bool
	dialer        Dialer
	policy        ReconnectPolicy
	encoder       *avatar.Encoder
	dispatcher    *Dispatcher
	logger        *zap.Logger
	metrics       *Metrics
	afterFunc     func(time.Duration, func()) Timer

	// serializes sends so they reach the channel in call order
	sendMu sync.Mutex

	mu         sync.Mutex
	state      ConnectionState
	epoch      uint64
	ch         Channel
	cancel     context.CancelFunc
	retryTimer Timer
	retries    int
	failures   int
}

func New(cfg Config, ops ...Option) *Supervisor {
	s := &Supervisor{
		address:       cfg.Address,
		autoReconnect: cfg.AutoReconnect,
		dialer:        &WSDialer{},
		policy:        FixedInterval{Interval: cfg.ReconnectInterval},
		logger:        zap.NewNop(),
		afterFunc: func(d time.Duration, fn func()) Timer {
			return time.AfterFunc(d, fn)
		},
	}
	for _, op := range ops {
		op(s)
	}
	if s.encoder == nil {
		s.encoder = avatar.NewEncoder()
	}
	s.logger = s.logger.With(zap.String("address", s.address))
	s.dispatcher = NewDispatcher(s.logger)
	return s
}

func (s *Supervisor) Subscribe(h Handlers) (string, func()) {
	return s.dispatcher.Subscribe(h)
}

func (s *Supervisor) Unsubscribe(id string) bool {
	return s.dispatcher.Unsubscribe(id)
}

// Flush waits until every notification emitted so far has been delivered.
func (s *Supervisor) Flush(ctx context.Context) error {
	return s.dispatcher.Flush(ctx)
}

func (s *Supervisor) State() ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connect makes one connection attempt and returns its error. It is a no-op while
// connecting or connected, and it replaces a pending reconnect.
func (s *Supervisor) Connect(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case Connecting, Connected:
		s.mu.Unlock()
		return nil
	case Closing:
		s.mu.Unlock()
		return ErrClosing
	}
	s.stopRetryLocked()
	s.retries = 0
	s.failures = 0
	dialCtx, epoch := s.beginAttemptLocked(ctx)
	s.mu.Unlock()

	return s.attempt(dialCtx, epoch)
}

// Close shuts the link down gracefully. It never schedules a reconnect.
func (s *Supervisor) Close() error {
	s.mu.Lock()
	s.stopRetryLocked()
	switch s.state {
	case Disconnected, Closing:
		s.epoch++
		s.mu.Unlock()
		return nil
	}
	s.epoch++
	wasConnecting := s.state == Connecting
	cancel := s.cancel
	s.cancel = nil
	ch := s.ch
	s.ch = nil
	s.setStateLocked(Closing)
	s.mu.Unlock()

	// an in-flight dial is abandoned right away; a receive loop gets to see the close echo
	if wasConnecting && cancel != nil {
		cancel()
	}
	var err error
	if ch != nil {
		err = ch.Close(closeReason)
	}
	if cancel != nil {
		cancel()
	}

	s.mu.Lock()
	s.setStateLocked(Disconnected)
	s.dispatcher.Disconnected()
	s.mu.Unlock()

	s.logger.Info("link closed")
	return err
}

func (s *Supervisor) Disconnect() error {
	return s.Close()
}

// Reconnect closes the current link, if any, and connects again.
func (s *Supervisor) Reconnect(ctx context.Context) error {
	if err := s.Close(); err != nil {
		s.logger.Warn("close before reconnect", zap.Error(err))
	}
	return s.Connect(ctx)
}

// SendAnimation streams one animation frame. It is dropped silently unless connected.
func (s *Supervisor) SendAnimation(ctx context.Context, frame avatar.AnimationFrame) error {
	return s.send(ctx, avatar.EventTypeAnimationUpdate, func() (avatar.OutboundEvent, error) {
		return s.encoder.Animation(frame)
	})
}

// SendGesture triggers a gesture. It is dropped silently unless connected.
func (s *Supervisor) SendGesture(ctx context.Context, gestureType string, ops ...avatar.GestureOption) error {
	return s.send(ctx, avatar.EventTypeGestureTrigger, func() (avatar.OutboundEvent, error) {
		return s.encoder.Gesture(gestureType, ops...)
	})
}

func (s *Supervisor) send(ctx context.Context, typ avatar.EventType, build func() (avatar.OutboundEvent, error)) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	s.mu.Lock()
	state, ch, epoch := s.state, s.ch, s.epoch
	s.mu.Unlock()

	if state != Connected || ch == nil {
		s.metrics.messageDropped(string(typ))
		s.logger.Debug("dropped outbound event", zap.String("type", string(typ)), zap.Stringer("state", state))
		return nil
	}

	ev, err := build()
	if err != nil {
		return err
	}
	text, err := avatar.Encode(ev)
	if err != nil {
		return err
	}
	if err := ch.Send(ctx, text); err != nil {
		var serr *SendError
		if !errors.As(err, &serr) {
			serr = &SendError{Err: err}
		}
		s.mu.Lock()
		replaced := s.epoch != epoch
		s.mu.Unlock()
		// the caller closed or replaced the link under this send
		if replaced {
			s.logger.Debug("send interrupted by close", zap.String("type", string(typ)), zap.Error(serr))
			return serr
		}
		s.metrics.sendFailure()
		s.logger.Warn("send failed", zap.String("type", string(typ)), zap.Error(serr))
		s.dispatcher.Error(serr)
		return serr
	}
	s.metrics.messageSent(string(typ))
	return nil
}

func (s *Supervisor) beginAttemptLocked(parent context.Context) (context.Context, uint64) {
	s.epoch++
	s.setStateLocked(Connecting)
	ctx, cancel := context.WithCancel(parent)
	s.cancel = cancel
	return ctx, s.epoch
}

func (s *Supervisor) attempt(ctx context.Context, epoch uint64) error {
	s.metrics.connectAttempt()
	s.logger.Info("connecting")

	ch, err := s.dialer.Open(ctx, s.address)

	s.mu.Lock()
	if s.epoch != epoch || s.state != Connecting {
		s.mu.Unlock()
		if ch != nil {
			_ = ch.Close(closeReason)
		}
		return ErrClosing
	}
	s.cancel()
	s.cancel = nil

	if err != nil {
		s.failures++
		var cerr *ConnectError
		if !errors.As(err, &cerr) {
			cerr = &ConnectError{Address: s.address, Err: err}
		}
		cerr.Attempt = s.failures
		s.setStateLocked(Disconnected)
		s.dispatcher.Error(cerr)
		s.scheduleRetryLocked()
		s.mu.Unlock()

		s.metrics.connectFailure()
		s.logger.Warn("connect failed", zap.Int("attempt", cerr.Attempt), zap.Error(cerr.Err))
		return cerr
	}

	s.ch = ch
	s.retries = 0
	s.failures = 0
	s.encoder.Reset()
	s.setStateLocked(Connected)
	loopCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.dispatcher.Connected()
	go s.receiveLoop(loopCtx, ch, epoch)
	s.mu.Unlock()

	s.logger.Info("connected")
	return nil
}

func (s *Supervisor) receiveLoop(ctx context.Context, ch Channel, epoch uint64) {
	for {
		ev := ch.ReceiveOne(ctx)
		if ev.Kind != InboundText {
			s.lost(ch, epoch, ev)
			return
		}
		// a closing channel is read until it ends, but nothing more is handed out
		if !s.current(epoch) {
			continue
		}
		s.metrics.messageReceived()
		if err := s.dispatcher.Deliver(ctx, ev.Text); err != nil {
			return
		}
	}
}

// current reports whether epoch still owns a connected link.
func (s *Supervisor) current(epoch uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch == epoch && s.state == Connected
}

// lost handles a channel that ended without the caller asking for it.
func (s *Supervisor) lost(ch Channel, epoch uint64, ev InboundEvent) {
	s.mu.Lock()
	if s.epoch != epoch || s.state != Connected {
		s.mu.Unlock()
		return
	}
	s.ch = nil
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.setStateLocked(Disconnected)
	s.dispatcher.Disconnected()
	if ev.Kind == InboundError {
		s.dispatcher.Error(ev.Err)
	}
	s.scheduleRetryLocked()
	s.mu.Unlock()

	if ev.Kind == InboundPeerClosed {
		s.logger.Info("peer closed the link")
	} else {
		s.logger.Warn("link lost", zap.Error(ev.Err))
	}
	_ = ch.Close("")
}

func (s *Supervisor) scheduleRetryLocked() {
	if !s.autoReconnect {
		return
	}
	next := s.retries + 1
	delay, ok := s.policy.NextDelay(next)
	if !ok {
		s.logger.Warn("reconnect attempts exhausted", zap.Int("retries", s.retries))
		return
	}
	s.retries = next
	epoch := s.epoch
	s.retryTimer = s.afterFunc(delay, func() { s.retry(epoch) })
	s.metrics.reconnectScheduled()
	s.logger.Info("reconnect scheduled", zap.Duration("delay", delay), zap.Int("retry", next))
}

func (s *Supervisor) retry(epoch uint64) {
	s.mu.Lock()
	if s.epoch != epoch || s.state != Disconnected {
		s.mu.Unlock()
		return
	}
	s.retryTimer = nil
	ctx, attemptEpoch := s.beginAttemptLocked(context.Background())
	s.mu.Unlock()

	_ = s.attempt(ctx, attemptEpoch)
}

func (s *Supervisor) stopRetryLocked() {
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
}

func (s *Supervisor) setStateLocked(st ConnectionState) {
	s.state = st
	s.metrics.setState(st)
}
