package buffer

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	prometheus "github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

// Metrics represents the buffer factory metrics
type Metrics struct {
	// No. of accounts currently tracked in the bucket index
	TrackedAccounts metrics.Gauge

	// No. of streams reset by overload shedding
	ShedStreams metrics.Counter
}

// GetPrometheusMetrics return the buffer factory metrics instance
func GetPrometheusMetrics(namespace string, labelsWithValues ...string) *Metrics {
	labels := []string{}

	for i := 0; i < len(labelsWithValues); i += 2 {
		labels = append(labels, labelsWithValues[i])
	}

	return &Metrics{
		TrackedAccounts: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "buffer",
			Name:      "tracked_accounts",
			Help:      "Number of accounts tracked in the bucket index.",
		}, labels).With(labelsWithValues...),
		ShedStreams: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "buffer",
			Name:      "shed_streams",
			Help:      "Number of streams reset by overload shedding.",
		}, labels).With(labelsWithValues...),
	}
}

// NilMetrics will return the non operational metrics
func NilMetrics() *Metrics {
	return &Metrics{
		TrackedAccounts: discard.NewGauge(),
		ShedStreams:     discard.NewCounter(),
	}
}
