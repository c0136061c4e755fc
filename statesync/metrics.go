package statesync

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

const (
	// MetricsSubsystem is a subsystem shared by all metrics exposed by this
	// package.
	MetricsSubsystem = "statesync"
)

// Metrics contains metrics exposed by this package.
type Metrics struct {
	// Whether or not a node is syncing. 1 if yes, 0 if no.
	Syncing metrics.Gauge
	// Number of catchup episodes currently in flight.
	CatchupEpisodes metrics.Gauge
	// Number of shard state snapshot headers applied.
	StateHeadersApplied metrics.Counter
	// Number of shard state snapshot parts applied.
	StatePartsApplied metrics.Counter
	// Number of state responses dropped as stale, unexpected or malformed.
	UnexpectedResponses metrics.Counter
}

// PrometheusMetrics returns Metrics build using Prometheus client library.
// Optionally, labels can be provided along with their values ("foo",
// "fooValue").
func PrometheusMetrics(namespace string, labelsAndValues ...string) *Metrics {
	labels := []string{}
	for i := 0; i < len(labelsAndValues); i += 2 {
		labels = append(labels, labelsAndValues[i])
	}
	return &Metrics{
		Syncing: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "syncing",
			Help:      "Whether or not a node is syncing. 1 if yes, 0 if no.",
		}, labels).With(labelsAndValues...),
		CatchupEpisodes: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "catchup_episodes",
			Help:      "Number of catchup episodes currently in flight.",
		}, labels).With(labelsAndValues...),
		StateHeadersApplied: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "state_headers_applied",
			Help:      "Number of shard state snapshot headers applied.",
		}, labels).With(labelsAndValues...),
		StatePartsApplied: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "state_parts_applied",
			Help:      "Number of shard state snapshot parts applied.",
		}, labels).With(labelsAndValues...),
		UnexpectedResponses: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "unexpected_responses",
			Help:      "Number of state responses dropped as stale, unexpected or malformed.",
		}, labels).With(labelsAndValues...),
	}
}

// NopMetrics returns no-op Metrics.
func NopMetrics() *Metrics {
	return &Metrics{
		Syncing:             discard.NewGauge(),
		CatchupEpisodes:     discard.NewGauge(),
		StateHeadersApplied: discard.NewCounter(),
		StatePartsApplied:   discard.NewCounter(),
		UnexpectedResponses: discard.NewCounter(),
	}
}
