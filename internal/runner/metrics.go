package runner

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes the runner's operational counters. A nil registerer
// yields a detached registry so tests and embedded use need no wiring.
type Metrics struct {
	PollsTotal           prometheus.Counter
	ActivationsTotal     *prometheus.CounterVec
	IterationsTotal      prometheus.Counter
	TokensTotal          *prometheus.CounterVec
	ActivationDuration   prometheus.Histogram
	LeaseRenewalFailures prometheus.Counter
	CoordinationErrors   prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		PollsTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "fleetd_polls_total",
			Help: "Total number of coordinator polls.",
		}),

		ActivationsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "fleetd_activations_total",
			Help: "Total number of finished activations by final status.",
		}, []string{"status"}),

		IterationsTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "fleetd_iterations_total",
			Help: "Total number of executor invocations.",
		}),

		TokensTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "fleetd_tokens_total",
			Help: "Total tokens consumed by executors, by direction.",
		}, []string{"direction"}),

		ActivationDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "fleetd_activation_duration_seconds",
			Help:    "Histogram of activation wall-clock durations.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}),

		LeaseRenewalFailures: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "fleetd_lease_renewal_failures_total",
			Help: "Total number of activations aborted on lease renewal failure.",
		}),

		CoordinationErrors: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "fleetd_coordination_errors_total",
			Help: "Total number of polls aborted on hub or lease store errors.",
		}),
	}
}
