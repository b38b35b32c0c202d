// Package metrics defines the Prometheus collectors exported by the server.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "agora"

// Turn and request status label values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

var (
	// TurnsTotal counts chat turns by outcome.
	TurnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_turns_total",
			Help:      "Total number of chat turns",
		},
		[]string{"status"},
	)

	// TurnDuration is a histogram of whole-turn latency, fan-out included.
	TurnDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "chat_turn_duration_seconds",
			Help:      "Duration of chat turns in seconds",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"status"},
	)

	// GenerationDuration is a histogram of single generator calls.
	GenerationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_duration_seconds",
			Help:      "Duration of response generator calls in seconds",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"agent", "status"},
	)

	// SessionsActive is the number of sessions held in memory.
	SessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "chat_sessions_active",
			Help:      "Number of chat sessions currently held in memory",
		},
	)

	// SessionsEvicted counts sessions removed by expiry or capacity eviction.
	SessionsEvicted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_sessions_evicted_total",
			Help:      "Total number of chat sessions evicted",
		},
		[]string{"reason"}, // reason: expired, capacity, closed
	)

	// MarketRequestsTotal counts upstream market-data calls.
	MarketRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "market_requests_total",
			Help:      "Total number of market-data requests",
		},
		[]string{"endpoint", "status"}, // status: success, error, cache_hit
	)
)

// Collectors returns every collector defined by this package.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		TurnsTotal,
		TurnDuration,
		GenerationDuration,
		SessionsActive,
		SessionsEvicted,
		MarketRequestsTotal,
	}
}

// Register registers all collectors with reg. Collectors that are already
// registered are ignored so Register can be called more than once.
func Register(reg prometheus.Registerer) error {
	for _, c := range Collectors() {
		if err := reg.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				continue
			}
			return err
		}
	}
	return nil
}
