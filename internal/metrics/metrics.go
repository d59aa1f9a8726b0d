// ABOUTME: Prometheus collectors for the support-chat gateway
// ABOUTME: Tracks hub fan-out, live stream sessions and mutation outcomes

// Package metrics provides Prometheus metrics for the support-chat gateway.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HubSubscribers tracks the number of live hub subscriptions across all rooms.
	HubSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "opsdesk_hub_subscribers",
			Help: "Number of currently registered hub subscriptions",
		},
	)

	// HubEventsPublished counts publish calls by event type.
	HubEventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opsdesk_hub_events_published_total",
			Help: "Total number of events published to the hub",
		},
		[]string{"type"},
	)

	// HubDeliveries counts handler invocations performed by the hub.
	HubDeliveries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "opsdesk_hub_deliveries_total",
			Help: "Total number of event deliveries to subscribers",
		},
	)

	// StreamsActive tracks the number of open stream sessions.
	StreamsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "opsdesk_streams_active",
			Help: "Number of currently open chat stream sessions",
		},
	)

	// StreamsClosed counts stream teardowns by reason.
	StreamsClosed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opsdesk_streams_closed_total",
			Help: "Total number of chat stream sessions closed",
		},
		[]string{"reason"},
	)

	// StreamHeartbeats counts heartbeat frames written.
	StreamHeartbeats = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "opsdesk_stream_heartbeats_total",
			Help: "Total number of heartbeat frames written to streams",
		},
	)

	// Mutations counts chat mutations by operation and outcome.
	Mutations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opsdesk_chat_mutations_total",
			Help: "Total number of chat mutations by operation and outcome",
		},
		[]string{"op", "outcome"},
	)
)

// RecordStreamOpened increments the active stream gauge.
func RecordStreamOpened() {
	StreamsActive.Inc()
}

// RecordStreamClosed decrements the active stream gauge and records why.
func RecordStreamClosed(reason string) {
	StreamsActive.Dec()
	StreamsClosed.WithLabelValues(reason).Inc()
}

// RecordMutation records the outcome of a chat mutation.
func RecordMutation(op, outcome string) {
	Mutations.WithLabelValues(op, outcome).Inc()
}
