package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry for the service
	Registry = prometheus.NewRegistry()
	// HTTPRequests counts requests by method, route, and status
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	// HTTPDuration records request durations in seconds
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path", "status"},
	)

	// Runs counts finished optimization runs by method and final status
	Runs = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "optimization_runs_total", Help: "Finished optimization runs by method and status."},
		[]string{"method", "status"},
	)
	// RunsActive is the number of runs currently executing
	RunsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "optimization_runs_active", Help: "Optimization runs currently executing."},
	)
	// RunDuration records wall-clock run durations in seconds
	RunDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "optimization_run_duration_seconds", Help: "Optimization run duration in seconds.", Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 900}},
		[]string{"method"},
	)
	// Generations counts evaluated generations across all runs
	Generations = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "optimization_generations_total", Help: "Generations evaluated by method."},
		[]string{"method"},
	)

	// OracleRequests counts privacy engine calls by operation and outcome
	OracleRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "oracle_requests_total", Help: "Privacy engine requests by operation and status."},
		[]string{"op", "status"},
	)
	// OracleLatency tracks privacy engine latencies in seconds
	OracleLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "oracle_request_duration_seconds", Help: "Privacy engine request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"op"},
	)

	// WebhookDeliveries counts webhook delivery outcomes by event type and status
	WebhookDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "webhook_deliveries_total", Help: "Webhook deliveries by event type and status."},
		[]string{"event_type", "status"},
	)
	// WebhookLatency tracks webhook delivery latencies in milliseconds
	WebhookLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "webhook_delivery_latency_ms", Help: "Webhook delivery latency in ms.", Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000}},
		[]string{"event_type", "status"},
	)
)

// RegisterDefault registers collectors to the service registry.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests, HTTPDuration)
		Registry.MustRegister(Runs, RunsActive, RunDuration, Generations)
		Registry.MustRegister(OracleRequests, OracleLatency)
		Registry.MustRegister(WebhookDeliveries, WebhookLatency)
		// Go/process collectors on our registry
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once
