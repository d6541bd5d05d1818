package endpoint

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the prometheus collectors shared by all endpoints of a
// process. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	messagesSent    *prometheus.CounterVec
	receiveAttempts *prometheus.CounterVec
	receiveErrors   *prometheus.CounterVec
	handlerErrors   *prometheus.CounterVec
	listeningQueues *prometheus.GaugeVec
}

// NewMetrics creates the collectors under namespace and registers them on a
// private registry exposed through Registry.
func NewMetrics(namespace string) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		messagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Messages handed to the transport for delivery.",
		}, []string{"address"}),
		receiveAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "receive_attempts_total",
			Help:      "Receive calls made against the transport.",
		}, []string{"address"}),
		receiveErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "listen_receive_errors_total",
			Help:      "Receive failures contained by a listen loop.",
		}, []string{"address"}),
		handlerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handler_errors_total",
			Help:      "Message handlers that returned an error or panicked.",
		}, []string{"address"}),
		listeningQueues: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "listening",
			Help:      "1 while a listen loop is active on the address.",
		}, []string{"address"}),
	}

	m.registry.MustRegister(
		m.messagesSent,
		m.receiveAttempts,
		m.receiveErrors,
		m.handlerErrors,
		m.listeningQueues,
	)
	return m
}

// Registry returns the registry holding the endpoint collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) sent(address string) {
	if m != nil {
		m.messagesSent.WithLabelValues(address).Inc()
	}
}

func (m *Metrics) received(address string) {
	if m != nil {
		m.receiveAttempts.WithLabelValues(address).Inc()
	}
}

func (m *Metrics) receiveFailed(address string) {
	if m != nil {
		m.receiveErrors.WithLabelValues(address).Inc()
	}
}

func (m *Metrics) handlerFailed(address string) {
	if m != nil {
		m.handlerErrors.WithLabelValues(address).Inc()
	}
}

func (m *Metrics) setListening(address string, on bool) {
	if m == nil {
		return
	}
	if on {
		m.listeningQueues.WithLabelValues(address).Set(1)
		return
	}
	m.listeningQueues.WithLabelValues(address).Set(0)
}
