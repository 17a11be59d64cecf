package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the ledger's Prometheus registry and meters.
type Metrics struct {
	Registry          *prometheus.Registry
	OperationDuration *prometheus.HistogramVec
	AppendsTotal      *prometheus.CounterVec
	ResolutionsTotal  *prometheus.CounterVec
	ValidationsTotal  *prometheus.CounterVec
	PublishErrors     prometheus.Counter
	ChainLength       prometheus.Gauge
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	opDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gymchain_operation_duration_seconds",
		Help:    "Duration of ledger operations in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "status"})

	appends := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gymchain_appends_total",
		Help: "Membership append attempts by result.",
	}, []string{"result"})

	resolutions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gymchain_resolutions_total",
		Help: "Membership lookups by outcome.",
	}, []string{"outcome"})

	validations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gymchain_validations_total",
		Help: "Whole-chain validations by result.",
	}, []string{"result"})

	publishErrors := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gymchain_publish_errors_total",
		Help: "Block events that could not be published.",
	})

	chainLength := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gymchain_chain_length",
		Help: "Number of blocks in the ledger, genesis included.",
	})

	reg.MustRegister(opDuration, appends, resolutions, validations, publishErrors, chainLength)

	return &Metrics{
		Registry:          reg,
		OperationDuration: opDuration,
		AppendsTotal:      appends,
		ResolutionsTotal:  resolutions,
		ValidationsTotal:  validations,
		PublishErrors:     publishErrors,
		ChainLength:       chainLength,
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
