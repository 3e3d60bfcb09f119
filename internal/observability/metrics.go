// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application. A nil *Metrics
// is valid and records nothing, which keeps unit tests free of the global
// registry.
type Metrics struct {
	// Ingestion metrics
	TradesIngested  prometheus.Counter
	MalformedTrades prometheus.Counter
	SourceReconnects prometheus.Counter

	// Pipeline metrics
	AggregatesEmitted prometheus.Counter
	SignalsEmitted    *prometheus.CounterVec

	// Broadcast metrics
	Subscribers      prometheus.Gauge
	MessagesSent     prometheus.Counter
	MessagesDropped  prometheus.Counter

	// Store metrics
	StoreQueueDepth   prometheus.Gauge
	StoreWrites       *prometheus.CounterVec
	StoreWriteErrors  prometheus.Counter
	StoreWritesDropped prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "orderflow"
	}

	return &Metrics{
		TradesIngested: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "trades_total",
			Help:      "Total number of trades ingested",
		}),
		MalformedTrades: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "malformed_trades_total",
			Help:      "Total number of trades rejected as malformed",
		}),
		SourceReconnects: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "source_reconnects_total",
			Help:      "Total number of live source reconnect attempts",
		}),

		AggregatesEmitted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "aggregates_total",
			Help:      "Total number of 1-second aggregates emitted",
		}),
		SignalsEmitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "signals_total",
			Help:      "Total number of signals emitted by type",
		}, []string{"signal_type"}),

		Subscribers: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "subscribers",
			Help:      "Current number of broadcast subscribers",
		}),
		MessagesSent: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "messages_sent_total",
			Help:      "Total number of messages delivered to subscribers",
		}),
		MessagesDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "messages_dropped_total",
			Help:      "Total number of messages dropped on subscriber overflow",
		}),

		StoreQueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "queue_depth",
			Help:      "Current number of pending store writes",
		}),
		StoreWrites: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "writes_total",
			Help:      "Total number of store writes by kind",
		}, []string{"kind"}),
		StoreWriteErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "write_errors_total",
			Help:      "Total number of failed store writes",
		}),
		StoreWritesDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "writes_dropped_total",
			Help:      "Total number of store writes dropped on backlog overflow",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// IncTradesIngested increments the ingested trade counter.
func (m *Metrics) IncTradesIngested() {
	if m != nil {
		m.TradesIngested.Inc()
	}
}

// IncMalformedTrades increments the malformed trade counter.
func (m *Metrics) IncMalformedTrades() {
	if m != nil {
		m.MalformedTrades.Inc()
	}
}

// IncSourceReconnects increments the live source reconnect counter.
func (m *Metrics) IncSourceReconnects() {
	if m != nil {
		m.SourceReconnects.Inc()
	}
}

// IncAggregates increments the aggregate counter.
func (m *Metrics) IncAggregates() {
	if m != nil {
		m.AggregatesEmitted.Inc()
	}
}

// IncSignals increments the signal counter for one type.
func (m *Metrics) IncSignals(signalType string) {
	if m != nil {
		m.SignalsEmitted.WithLabelValues(signalType).Inc()
	}
}

// SetSubscribers updates the subscriber gauge.
func (m *Metrics) SetSubscribers(n int) {
	if m != nil {
		m.Subscribers.Set(float64(n))
	}
}

// IncMessagesSent increments the delivered message counter.
func (m *Metrics) IncMessagesSent() {
	if m != nil {
		m.MessagesSent.Inc()
	}
}

// IncMessagesDropped increments the dropped message counter.
func (m *Metrics) IncMessagesDropped() {
	if m != nil {
		m.MessagesDropped.Inc()
	}
}

// SetStoreQueueDepth updates the store queue gauge.
func (m *Metrics) SetStoreQueueDepth(n int) {
	if m != nil {
		m.StoreQueueDepth.Set(float64(n))
	}
}

// IncStoreWrites increments the store write counter for one kind.
func (m *Metrics) IncStoreWrites(kind string) {
	if m != nil {
		m.StoreWrites.WithLabelValues(kind).Inc()
	}
}

// IncStoreWriteErrors increments the failed store write counter.
func (m *Metrics) IncStoreWriteErrors() {
	if m != nil {
		m.StoreWriteErrors.Inc()
	}
}

// IncStoreWritesDropped increments the dropped store write counter.
func (m *Metrics) IncStoreWritesDropped() {
	if m != nil {
		m.StoreWritesDropped.Inc()
	}
}
