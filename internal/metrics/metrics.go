// Package metrics defines the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "hebsession"

// Result label values.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// Registry holds every collector of this process.
var Registry = prometheus.NewRegistry()

var (
	// TokenRefreshes counts bearer token refreshes by result.
	TokenRefreshes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "token_refreshes_total",
		Help:      "Bearer token refresh attempts by result.",
	}, []string{"result"})

	// StoreOperations counts credential store calls by operation and result.
	StoreOperations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "store_operations_total",
		Help:      "Credential store operations by operation and result.",
	}, []string{"op", "result"})

	// CachedSessions is the number of sessions held by the tenant manager.
	CachedSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "cached_sessions",
		Help:      "Sessions currently cached by the tenant manager.",
	})

	// GraphQLRequests counts persisted-query calls by catalog and HTTP status class.
	GraphQLRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "graphql_requests_total",
		Help:      "Persisted-query requests by catalog and status class.",
	}, []string{"catalog", "status"})

	// GraphQLDuration observes persisted-query latency by catalog.
	GraphQLDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "graphql_request_duration_seconds",
		Help:      "Persisted-query request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"catalog"})
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		TokenRefreshes,
		StoreOperations,
		CachedSessions,
		GraphQLRequests,
		GraphQLDuration,
	)
}

// Result maps an error to a result label.
func Result(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultOK
}

// StatusClass buckets an HTTP status code as 2xx, 4xx and so on.
func StatusClass(code int) string {
	switch {
	case code <= 0:
		return "error"
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}

// Handler serves Registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
