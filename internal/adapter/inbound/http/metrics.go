package http

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/swiftdrop/accountgate/internal/domain/guard"
	"github.com/swiftdrop/accountgate/internal/domain/session"
	"github.com/swiftdrop/accountgate/internal/service"
)

const namespace = "accountgate"

// Metrics holds all Prometheus metrics for accountgate.
// It implements the recorder interfaces of the guard and service packages.
type Metrics struct {
	RequestsTotal      *prometheus.CounterVec
	RequestDuration    *prometheus.HistogramVec
	SessionPresent     prometheus.Gauge
	SessionTransitions *prometheus.CounterVec
	RefreshTotal       *prometheus.CounterVec
	RefreshDuration    prometheus.Histogram
	LogoutTotal        *prometheus.CounterVec
	LocalResets        prometheus.Counter
	SwitchTotal        *prometheus.CounterVec
	GuardDecisions     *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Total number of API requests processed",
			},
			[]string{"method", "endpoint", "status"}, // status=2xx/4xx/...
		),
		RequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "Request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"endpoint"},
		),
		SessionPresent: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "session_present",
				Help:      "1 while a session is held, 0 otherwise",
			},
		),
		SessionTransitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "session_transitions_total",
				Help:      "Session transitions by kind",
			},
			[]string{"kind"},
		),
		RefreshTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "session_refresh_total",
				Help:      "Session refresh runs by result",
			},
			[]string{"result"},
		),
		RefreshDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "session_refresh_duration_seconds",
				Help:      "Session refresh duration including retries",
				Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
		),
		LogoutTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "logout_total",
				Help:      "Logouts by server-side outcome",
			},
			[]string{"result"},
		),
		LocalResets: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "local_resets_total",
				Help:      "Local wipes of session and cached data",
			},
		),
		SwitchTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "role_switch_total",
				Help:      "Account role switch attempts by result",
			},
			[]string{"result"},
		),
		GuardDecisions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "guard_decisions_total",
				Help:      "Navigation decisions by reason",
			},
			[]string{"reason", "allow"},
		),
	}
}

// RecordDecision counts a navigation decision.
func (m *Metrics) RecordDecision(reason string, allow bool) {
	m.GuardDecisions.WithLabelValues(reason, strconv.FormatBool(allow)).Inc()
}

// RecordRefresh counts a refresh run and observes its duration.
func (m *Metrics) RecordRefresh(_ context.Context, result string, elapsed time.Duration) {
	m.RefreshTotal.WithLabelValues(result).Inc()
	m.RefreshDuration.Observe(elapsed.Seconds())
}

// RecordLogout counts a logout.
func (m *Metrics) RecordLogout(_ context.Context, result string) {
	m.LogoutTotal.WithLabelValues(result).Inc()
}

// RecordReset counts a local wipe. Registered as a logout reset hook.
func (m *Metrics) RecordReset() {
	m.LocalResets.Inc()
	m.SessionPresent.Set(0)
}

// RecordSwitch counts a switch attempt.
func (m *Metrics) RecordSwitch(result string) {
	m.SwitchTotal.WithLabelValues(result).Inc()
}

// ObserveTransition is a session.Listener that tracks session presence.
func (m *Metrics) ObserveTransition(tr session.Transition) {
	m.SessionTransitions.WithLabelValues(tr.Kind.String()).Inc()
	if tr.Kind == session.SignedOut {
		m.SessionPresent.Set(0)
	} else {
		m.SessionPresent.Set(1)
	}
}

var (
	_ guard.DecisionRecorder = (*Metrics)(nil)
	_ guard.RefreshRecorder  = (*Metrics)(nil)
	_ service.LogoutRecorder = (*Metrics)(nil)
	_ service.SwitchRecorder = (*Metrics)(nil)
)
