package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Default service metrics for requests to the status API.
type RequestMetrics struct {
	// Counts of requests made to each endpoint.
	requestCounts *prometheus.CounterVec

	// Latencies of serving incoming requests.
	requestLatencies *prometheus.HistogramVec
}

// NewDefaultRequestMetrics creates Prometheus metric instrumentation for
// requests served by the status API.
func NewDefaultRequestMetrics(pkg string) RequestMetrics {
	m := RequestMetrics{
		requestCounts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: fmt.Sprintf("%s_requests", pkg),
				Help: "How many status requests were made, partitioned by endpoint and status.",
			},
			[]string{"endpoint", "status"},
		),
		requestLatencies: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: fmt.Sprintf("%s_request_latencies", pkg),
				Help: "How long requests take to process, partitioned by endpoint.",
			},
			[]string{"endpoint"},
		),
	}
	m.requestCounts = registerOnce(m.requestCounts)
	m.requestLatencies = registerOnce(m.requestLatencies)
	return m
}

func (m *RequestMetrics) RequestCounts(endpoint string, status string) prometheus.Counter {
	return m.requestCounts.WithLabelValues(endpoint, status)
}

func (m *RequestMetrics) RequestLatencies(endpoint string) prometheus.Observer {
	return m.requestLatencies.WithLabelValues(endpoint)
}
