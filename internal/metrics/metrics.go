// Package metrics defines the process-wide Prometheus registries backing the
// indexer's exposed series (spec §6) and a cheap per-chain handle (Sink) that
// call sites pass by value, mirroring the teacher corpus's MetricsCollector.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	endpointFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "indexer_endpoint_failures",
		Help: "Number of RPC endpoint failures",
	}, []string{"chain", "endpoint"})

	endpointLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "indexer_endpoint_latency",
		Help:    "RPC endpoint latency in seconds",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"chain", "endpoint"})

	activeConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "indexer_active_connections",
		Help: "Whether a chain currently has a live RPC connection (0/1)",
	}, []string{"chain", "endpoint"})

	eventsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "indexer_events_received",
		Help: "Total number of raw logs received before decoding",
	}, []string{"chain"})

	eventsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "indexer_events_processed",
		Help: "Number of events successfully processed (decoded and, if the breaker allowed it, written)",
	}, []string{"chain", "event_type"})

	eventsByType = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "indexer_events_by_type",
		Help: "Number of events observed, by decoded type",
	}, []string{"chain", "event_type"})

	eventsDecodeFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "indexer_events_decode_failures",
		Help: "Number of event decode failures",
	}, []string{"chain", "reason"})

	lastBlockHeight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "indexer_last_block_height",
		Help: "Last processed block height",
	}, []string{"chain"})

	circuitBreakerTrips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "indexer_circuit_breaker_trips",
		Help: "Number of circuit breaker trips",
	}, []string{"chain", "endpoint"})

	eventProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "indexer_event_processing_duration",
		Help:    "Time taken to process an event, in seconds",
		Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 2, 5},
	}, []string{"chain", "event_type"})
)

// Sink is a cheap, pass-by-value handle scoping the shared registries to one
// chain/endpoint pair. A zero-value Sink is safe to use in tests (chain name
// "" just becomes a label value).
type Sink struct {
	chain    string
	endpoint string
}

// NewSink returns a handle for the given chain and its currently-active
// endpoint URL. Endpoint may be updated by calling WithEndpoint after a
// reconnect, since it changes the active label set.
func NewSink(chain, endpoint string) Sink {
	return Sink{chain: chain, endpoint: endpoint}
}

// WithEndpoint returns a copy of the sink scoped to a different active
// endpoint, used after the connection manager fails over.
func (s Sink) WithEndpoint(endpoint string) Sink {
	s.endpoint = endpoint
	return s
}

func (s Sink) RecordEndpointFailure() {
	endpointFailures.WithLabelValues(s.chain, s.endpoint).Inc()
}

func (s Sink) ObserveLatencySeconds(seconds float64) {
	endpointLatency.WithLabelValues(s.chain, s.endpoint).Observe(seconds)
}

func (s Sink) SetConnected(connected bool) {
	v := 0.0
	if connected {
		v = 1.0
	}
	activeConnections.WithLabelValues(s.chain, s.endpoint).Set(v)
}

func (s Sink) RecordEventReceived() {
	eventsReceived.WithLabelValues(s.chain).Inc()
}

func (s Sink) RecordEventProcessed(eventType string) {
	eventsProcessed.WithLabelValues(s.chain, eventType).Inc()
}

func (s Sink) RecordEventByType(eventType string) {
	eventsByType.WithLabelValues(s.chain, eventType).Inc()
}

func (s Sink) RecordDecodeFailure(reason string) {
	eventsDecodeFailures.WithLabelValues(s.chain, reason).Inc()
}

func (s Sink) SetLastBlockHeight(height uint64) {
	lastBlockHeight.WithLabelValues(s.chain).Set(float64(height))
}

func (s Sink) RecordCircuitBreakerTrip() {
	circuitBreakerTrips.WithLabelValues(s.chain, s.endpoint).Inc()
}

func (s Sink) ObserveEventProcessingSeconds(eventType string, seconds float64) {
	eventProcessingDuration.WithLabelValues(s.chain, eventType).Observe(seconds)
}
