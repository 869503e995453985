// Package metrics exposes Prometheus instrumentation for the SIP stack.
//
// Every collector is registered against the Registerer handed to New, so
// several stacks can live in one process with their own registries. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DefaultNamespace prefixes metric names when no namespace is configured.
const DefaultNamespace = "sipua"

// Metrics holds the stack collectors.
type Metrics struct {
	transactionsTotal   *prometheus.CounterVec
	transactionsActive  prometheus.Gauge
	retransmissions     *prometheus.CounterVec
	transactionTimeouts *prometheus.CounterVec
	dialogsTotal        *prometheus.CounterVec
	dialogsActive       prometheus.Gauge
	eventsTotal         *prometheus.CounterVec
	messagesDropped     *prometheus.CounterVec
	callbackDuration    prometheus.Histogram
}

// New registers the stack collectors with reg. A nil reg registers with
// prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer, namespace string) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = DefaultNamespace
	}
	factory := promauto.With(reg)

	return &Metrics{
		transactionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transaction",
			Name:      "transactions_total",
			Help:      "Total number of SIP transactions created",
		}, []string{"kind"}),
		transactionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "transaction",
			Name:      "transactions_active",
			Help:      "Number of live SIP transactions",
		}),
		retransmissions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transaction",
			Name:      "retransmissions_total",
			Help:      "Total number of request and response retransmissions",
		}, []string{"kind"}),
		transactionTimeouts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transaction",
			Name:      "transaction_timeouts_total",
			Help:      "Total number of transactions terminated by a timeout",
		}, []string{"kind"}),
		dialogsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dialog",
			Name:      "dialogs_total",
			Help:      "Total number of SIP dialogs created",
		}, []string{"role"}),
		dialogsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "dialog",
			Name:      "dialogs_active",
			Help:      "Number of live SIP dialogs",
		}),
		eventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stack",
			Name:      "events_total",
			Help:      "Total number of events dispatched to the listener",
		}, []string{"type"}),
		messagesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stack",
			Name:      "messages_dropped_total",
			Help:      "Total number of inbound messages dropped",
		}, []string{"reason"}),
		callbackDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "stack",
			Name:      "callback_duration_seconds",
			Help:      "Time spent in listener callbacks",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
		}),
	}
}

// TransactionStarted counts a new transaction of the given kind.
func (m *Metrics) TransactionStarted(kind string) {
	if m == nil {
		return
	}
	m.transactionsTotal.WithLabelValues(kind).Inc()
	m.transactionsActive.Inc()
}

// TransactionEnded decrements the live transaction gauge.
func (m *Metrics) TransactionEnded() {
	if m == nil {
		return
	}
	m.transactionsActive.Dec()
}

func (m *Metrics) Retransmission(kind string) {
	if m == nil {
		return
	}
	m.retransmissions.WithLabelValues(kind).Inc()
}

func (m *Metrics) TransactionTimeout(kind string) {
	if m == nil {
		return
	}
	m.transactionTimeouts.WithLabelValues(kind).Inc()
}

// DialogCreated counts a new dialog; role is "uac" or "uas".
func (m *Metrics) DialogCreated(role string) {
	if m == nil {
		return
	}
	m.dialogsTotal.WithLabelValues(role).Inc()
	m.dialogsActive.Inc()
}

func (m *Metrics) DialogEnded() {
	if m == nil {
		return
	}
	m.dialogsActive.Dec()
}

func (m *Metrics) Event(typ string) {
	if m == nil {
		return
	}
	m.eventsTotal.WithLabelValues(typ).Inc()
}

// MessageDropped counts an inbound message discarded for reason.
func (m *Metrics) MessageDropped(reason string) {
	if m == nil {
		return
	}
	m.messagesDropped.WithLabelValues(reason).Inc()
}

// ObserveCallback records the duration of one listener callback.
func (m *Metrics) ObserveCallback(d time.Duration) {
	if m == nil {
		return
	}
	m.callbackDuration.Observe(d.Seconds())
}
