package diagnostics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/g960059/riskdesk/internal/model"
)

// Metrics holds the prometheus collectors for classification, operation
// timings and lifecycle state. All methods are nil-safe.
type Metrics struct {
	classified     *prometheus.CounterVec
	durations      *prometheus.HistogramVec
	status         *prometheus.GaugeVec
	fallbackActive prometheus.Gauge
	retries        prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		classified: f.NewCounterVec(prometheus.CounterOpts{
			Name: "riskdesk_classified_errors_total",
			Help: "Classified lifecycle errors by category and severity",
		}, []string{"category", "severity"}),
		durations: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "riskdesk_operation_duration_seconds",
			Help:    "Duration of recorded operations",
			Buckets: []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"operation", "outcome"}),
		status: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "riskdesk_lifecycle_status",
			Help: "1 for the current lifecycle status, 0 otherwise",
		}, []string{"status"}),
		fallbackActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "riskdesk_fallback_active",
			Help: "1 while fallback navigation is active",
		}),
		retries: f.NewCounter(prometheus.CounterOpts{
			Name: "riskdesk_lifecycle_retries_total",
			Help: "Initialization retry attempts",
		}),
	}
}

func (m *Metrics) observeClassified(rec model.ErrorRecord) {
	if m == nil {
		return
	}
	m.classified.WithLabelValues(string(rec.Category), string(rec.Severity)).Inc()
}

func (m *Metrics) observeDuration(operation string, d time.Duration, succeeded bool) {
	if m == nil {
		return
	}
	outcome := "success"
	if !succeeded {
		outcome = "failure"
	}
	m.durations.WithLabelValues(operation, outcome).Observe(d.Seconds())
}

func (m *Metrics) SetStatus(status model.Status) {
	if m == nil {
		return
	}
	for _, s := range []model.Status{model.StatusPending, model.StatusInitializing, model.StatusReady, model.StatusFailed} {
		v := 0.0
		if s == status {
			v = 1
		}
		m.status.WithLabelValues(string(s)).Set(v)
	}
}

func (m *Metrics) SetFallbackActive(active bool) {
	if m == nil {
		return
	}
	if active {
		m.fallbackActive.Set(1)
		return
	}
	m.fallbackActive.Set(0)
}

func (m *Metrics) IncRetry() {
	if m == nil {
		return
	}
	m.retries.Inc()
}
