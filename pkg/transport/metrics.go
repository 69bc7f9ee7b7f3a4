package transport

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace = "avatarlink"
	metricsSubsystem = "link"
)

// Metrics instruments a Supervisor. A nil *Metrics records nothing.
type Metrics struct {
	connectAttempts prometheus.Counter
	connectFailures prometheus.Counter
	reconnects      prometheus.Counter
	sendFailures    prometheus.Counter
	received        prometheus.Counter
	sent            *prometheus.CounterVec
	dropped         *prometheus.CounterVec
	state           prometheus.Gauge
}

// NewMetrics creates the link metrics on reg. A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	counter := func(name, help string) prometheus.Counter {
		return f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      name,
			Help:      help,
		})
	}
	return &Metrics{
		connectAttempts: counter("connect_attempts_total", "Connection attempts started."),
		connectFailures: counter("connect_failures_total", "Connection attempts that failed."),
		reconnects:      counter("reconnects_scheduled_total", "Reconnects scheduled by the reconnect policy."),
		sendFailures:    counter("send_failures_total", "Outbound messages the channel failed to write."),
		received:        counter("messages_received_total", "Inbound text messages dispatched."),
		sent: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "messages_sent_total",
			Help:      "Outbound messages written to the channel.",
		}, []string{"type"}),
		dropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "messages_dropped_total",
			Help:      "Outbound messages dropped because the link was not connected.",
		}, []string{"type"}),
		state: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "state",
			Help:      "Current connection state (0 disconnected, 1 connecting, 2 connected, 3 closing).",
		}),
	}
}

func (m *Metrics) connectAttempt() {
	if m != nil {
		m.connectAttempts.Inc()
	}
}

func (m *Metrics) connectFailure() {
	if m != nil {
		m.connectFailures.Inc()
	}
}

func (m *Metrics) reconnectScheduled() {
	if m != nil {
		m.reconnects.Inc()
	}
}

func (m *Metrics) sendFailure() {
	if m != nil {
		m.sendFailures.Inc()
	}
}

func (m *Metrics) messageReceived() {
	if m != nil {
		m.received.Inc()
	}
}

func (m *Metrics) messageSent(typ string) {
	if m != nil {
		m.sent.WithLabelValues(typ).Inc()
	}
}

func (m *Metrics) messageDropped(typ string) {
	if m != nil {
		m.dropped.WithLabelValues(typ).Inc()
	}
}

func (m *Metrics) setState(s ConnectionState) {
	if m != nil {
		m.state.Set(float64(s))
	}
}
