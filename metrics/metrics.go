// Package metrics exposes Prometheus instruments for the assistant.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RequestsTotal tracks assistant calls per lane, mode (generate/stream) and outcome
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assist_requests_total",
			Help: "Total number of assistant requests",
		},
		[]string{"lane", "mode", "outcome"},
	)

	// RequestLatency tracks end-to-end request latency, retries included
	RequestLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "assist_request_latency_seconds",
			Help:    "Assistant request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"lane", "mode"},
	)

	// RetriesTotal tracks retry attempts by the classified error code that caused them
	RetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assist_retries_total",
			Help: "Total number of retried transport calls",
		},
		[]string{"code"},
	)

	// FailuresTotal tracks failures surfaced to callers by error code
	FailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assist_failures_total",
			Help: "Total number of classified failures returned to callers",
		},
		[]string{"code"},
	)

	// ChunksTotal tracks validated stream chunks
	ChunksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assist_stream_chunks_total",
			Help: "Total number of stream chunks by validation outcome",
		},
		[]string{"outcome"},
	)

	// TokensTotal tracks token consumption per model
	TokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assist_tokens_total",
			Help: "Total number of tokens consumed",
		},
		[]string{"model", "kind"},
	)

	// TransportCallsTotal tracks raw provider calls
	TransportCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assist_transport_calls_total",
			Help: "Total number of provider transport calls",
		},
		[]string{"provider", "mode", "status"},
	)

	// AutomationTasksTotal tracks automation tasks by action and outcome
	AutomationTasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assist_automation_tasks_total",
			Help: "Total number of automation tasks",
		},
		[]string{"action", "outcome"},
	)
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
