package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	decisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "risk_engine_decisions_total",
			Help: "Total trade decisions by outcome",
		},
		[]string{"outcome"},
	)

	riskScore = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "risk_engine_overall_score",
			Help:    "Distribution of overall risk scores",
			Buckets: prometheus.LinearBuckets(0.0, 0.1, 11),
		},
	)

	componentLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "risk_engine_component_seconds",
			Help:    "Per-component assessment latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"component"},
	)

	breakerTrips = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "risk_engine_breaker_trips_total",
			Help: "Circuit breaker trips by breaker name",
		},
		[]string{"breaker"},
	)

	componentErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "risk_engine_component_errors_total",
			Help: "Component failures by component name",
		},
		[]string{"component"},
	)

	capitalGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "risk_engine_capital_usd",
			Help: "Portfolio capital by bucket (total, available, reserved)",
		},
		[]string{"bucket"},
	)

	emergencyActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "risk_engine_emergency_active",
			Help: "1 when the emergency stop is active",
		},
	)
)

func init() {
	prometheus.MustRegister(decisionsTotal)
	prometheus.MustRegister(riskScore)
	prometheus.MustRegister(componentLatency)
	prometheus.MustRegister(breakerTrips)
	prometheus.MustRegister(componentErrors)
	prometheus.MustRegister(capitalGauge)
	prometheus.MustRegister(emergencyActive)
}

// MetricsHandler serves the Prometheus scrape endpoint.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// RecordDecision records one trade decision outcome ("approved", "rejected",
// "timeout").
func RecordDecision(outcome string, score float64) {
	decisionsTotal.WithLabelValues(outcome).Inc()
	riskScore.Observe(score)
}

// ObserveComponentLatency records how long one component assessment took.
func ObserveComponentLatency(component string, seconds float64) {
	componentLatency.WithLabelValues(component).Observe(seconds)
}

// RecordBreakerTrip records a circuit breaker trip.
func RecordBreakerTrip(breaker string) {
	breakerTrips.WithLabelValues(breaker).Inc()
}

// RecordComponentError records a component failure.
func RecordComponentError(component string) {
	componentErrors.WithLabelValues(component).Inc()
}

// UpdateCapital publishes the current portfolio capital buckets.
func UpdateCapital(total, available, reserved float64) {
	capitalGauge.WithLabelValues("total").Set(total)
	capitalGauge.WithLabelValues("available").Set(available)
	capitalGauge.WithLabelValues("reserved").Set(reserved)
}

// SetEmergencyActive publishes the emergency stop state.
func SetEmergencyActive(active bool) {
	if active {
		emergencyActive.Set(1)
	} else {
		emergencyActive.Set(0)
	}
}
