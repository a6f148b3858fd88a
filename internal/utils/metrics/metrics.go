package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Rate limiter metrics
	RateDecisionsTotal *prometheus.CounterVec

	// Ledger metrics
	ReservationsTotal *prometheus.CounterVec
	CreditsGranted    *prometheus.CounterVec

	// Orchestrator metrics
	UsageStagesTotal *prometheus.CounterVec
	SettlementsTotal *prometheus.CounterVec
	ProviderDuration *prometheus.HistogramVec
	ConflictsTotal   *prometheus.CounterVec

	// Reconciler metrics
	ReconcilerRunsTotal  *prometheus.CounterVec
	ReconcilerItemsTotal *prometheus.CounterVec
	CountersSweptTotal   prometheus.Counter
}

// New creates a new Metrics instance registered with the default registry.
func New(namespace string) *Metrics {
	return NewWithRegisterer(namespace, prometheus.DefaultRegisterer)
}

// NewWithRegisterer creates a new Metrics instance registered with reg.
func NewWithRegisterer(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "creditgate"
	}
	factory := promauto.With(reg)

	return &Metrics{
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_in_flight",
				Help:      "Current number of HTTP requests being processed",
			},
		),

		RateDecisionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ratelimit",
				Name:      "decisions_total",
				Help:      "Total number of rate limit decisions",
			},
			[]string{"tier", "resource", "decision"}, // decision: allowed, denied, error
		),

		ReservationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ledger",
				Name:      "reservations_total",
				Help:      "Total number of credit reservation attempts",
			},
			[]string{"result"}, // reserved, insufficient, duplicate, error
		),
		CreditsGranted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ledger",
				Name:      "credits_granted_total",
				Help:      "Total credits added to balances",
			},
			[]string{"kind"},
		),

		UsageStagesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "usage",
				Name:      "stages_total",
				Help:      "Total number of usage requests reaching each stage",
			},
			[]string{"stage"},
		),
		SettlementsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "usage",
				Name:      "settlements_total",
				Help:      "Total number of settled usage requests",
			},
			[]string{"outcome", "reason"},
		),
		ProviderDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "provider",
				Name:      "request_duration_seconds",
				Help:      "Generation provider call duration in seconds",
				Buckets:   []float64{.25, .5, 1, 2.5, 5, 10, 20, 30, 60, 120},
			},
			[]string{"status"},
		),
		ConflictsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "usage",
				Name:      "settlement_conflicts_total",
				Help:      "Total number of settlement races lost or detected",
			},
			[]string{"kind"},
		),

		ReconcilerRunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "reconciler",
				Name:      "runs_total",
				Help:      "Total number of reconciler sweeps",
			},
			[]string{"result"},
		),
		ReconcilerItemsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "reconciler",
				Name:      "items_total",
				Help:      "Total number of items resolved by the reconciler",
			},
			[]string{"action"}, // expired, released, committed
		),
		CountersSweptTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "reconciler",
				Name:      "counters_swept_total",
				Help:      "Total number of expired rate counters removed",
			},
		),
	}
}

// --- Convenience methods ---

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, path, statusCodeToString(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordRateDecision records a rate limiter decision.
func (m *Metrics) RecordRateDecision(tier, resource, decision string) {
	if m == nil {
		return
	}
	m.RateDecisionsTotal.WithLabelValues(tier, resource, decision).Inc()
}

// RecordReservation records a reservation attempt.
func (m *Metrics) RecordReservation(result string) {
	if m == nil {
		return
	}
	m.ReservationsTotal.WithLabelValues(result).Inc()
}

// RecordGrant records credits added to a balance.
func (m *Metrics) RecordGrant(kind string, amount int64) {
	if m == nil || amount <= 0 {
		return
	}
	m.CreditsGranted.WithLabelValues(kind).Add(float64(amount))
}

// RecordStage records a usage request reaching a stage.
func (m *Metrics) RecordStage(stage string) {
	if m == nil {
		return
	}
	m.UsageStagesTotal.WithLabelValues(stage).Inc()
}

// RecordSettlement records a settled usage request.
func (m *Metrics) RecordSettlement(outcome, reason string) {
	if m == nil {
		return
	}
	m.SettlementsTotal.WithLabelValues(outcome, reason).Inc()
}

// RecordProviderCall records a provider call.
func (m *Metrics) RecordProviderCall(status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.ProviderDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordConflict records a settlement conflict.
func (m *Metrics) RecordConflict(kind string) {
	if m == nil {
		return
	}
	m.ConflictsTotal.WithLabelValues(kind).Inc()
}

// RecordReconcilerRun records a reconciler sweep.
func (m *Metrics) RecordReconcilerRun(failed bool) {
	if m == nil {
		return
	}
	result := "ok"
	if failed {
		result = "error"
	}
	m.ReconcilerRunsTotal.WithLabelValues(result).Inc()
}

// RecordReconciled records an item resolved by the reconciler.
func (m *Metrics) RecordReconciled(action string) {
	if m == nil {
		return
	}
	m.ReconcilerItemsTotal.WithLabelValues(action).Inc()
}

// RecordCountersSwept records removed rate counters.
func (m *Metrics) RecordCountersSwept(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.CountersSweptTotal.Add(float64(n))
}

// statusCodeToString converts an HTTP status code to a string category.
func statusCodeToString(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code == 429:
		return strconv.Itoa(code)
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
