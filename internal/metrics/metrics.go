// Package metrics provides Prometheus metrics for the tutor service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aexy-app/aexy/internal/conversation"
)

// Metrics holds all Prometheus metrics of the service.
type Metrics struct {
	// Session lifecycle
	SessionsStartedTotal *prometheus.CounterVec
	StartsDeniedTotal    *prometheus.CounterVec
	SessionsEndedTotal   prometheus.Counter
	SessionsDisposed     prometheus.Counter

	// Turns
	TurnsTotal   *prometheus.CounterVec
	TurnDuration *prometheus.HistogramVec

	// Summaries
	SummaryScore *prometheus.HistogramVec

	// Persistence
	PersistenceErrorsTotal *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New creates and registers all metrics with reg. A nil reg uses a fresh registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	m := &Metrics{gatherer: reg}

	m.SessionsStartedTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aexy_sessions_started_total",
			Help: "Total number of practice sessions started",
		},
		[]string{"scenario_id"},
	)

	m.StartsDeniedTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aexy_session_starts_denied_total",
			Help: "Session starts denied by the access policy",
		},
		[]string{"reason"},
	)

	m.SessionsEndedTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "aexy_sessions_ended_total",
			Help: "Total number of practice sessions ended by the learner",
		},
	)

	m.SessionsDisposed = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "aexy_sessions_disposed_total",
			Help: "Total number of live session contexts disposed",
		},
	)

	m.TurnsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aexy_turns_total",
			Help: "Total number of turns by result",
		},
		[]string{"result"},
	)

	m.TurnDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aexy_turn_duration_seconds",
			Help:    "Duration of turns including the generator call",
			Buckets: []float64{.1, .25, .5, 1, 2, 4, 8, 16, 32},
		},
		[]string{"result"},
	)

	m.SummaryScore = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aexy_summary_score",
			Help:    "Session summary scores",
			Buckets: prometheus.LinearBuckets(10, 10, 10),
		},
		[]string{"dimension"},
	)

	m.PersistenceErrorsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aexy_persistence_errors_total",
			Help: "Fire-and-forget persistence writes that failed",
		},
		[]string{"op"},
	)

	return m
}

// RegisterLiveSessions exposes a gauge reading the number of live sessions.
func (m *Metrics) RegisterLiveSessions(reg *prometheus.Registry, live func() int) {
	promauto.With(reg).NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "aexy_live_sessions",
			Help: "Number of live session contexts held in memory",
		},
		func() float64 { return float64(live()) },
	)
}

// RecordTurn records a turn outcome.
func (m *Metrics) RecordTurn(result conversation.TurnResult, d time.Duration) {
	m.TurnsTotal.WithLabelValues(string(result)).Inc()
	if result != conversation.TurnRejected {
		m.TurnDuration.WithLabelValues(string(result)).Observe(d.Seconds())
	}
}

// RecordStartDenied records a denied session start.
func (m *Metrics) RecordStartDenied(reason string) {
	m.StartsDeniedTotal.WithLabelValues(reason).Inc()
}

// OnEvent implements conversation.Observer.
func (m *Metrics) OnEvent(e conversation.Event) {
	switch e.Type {
	case conversation.EventSessionStarted:
		m.SessionsStartedTotal.WithLabelValues(strconv.Itoa(e.ScenarioID)).Inc()
	case conversation.EventSessionEnded:
		m.SessionsEndedTotal.Inc()
		if e.Summary != nil {
			m.SummaryScore.WithLabelValues("fluency").Observe(float64(e.Summary.Scores.Fluency))
			m.SummaryScore.WithLabelValues("grammar").Observe(float64(e.Summary.Scores.Grammar))
			m.SummaryScore.WithLabelValues("pronunciation").Observe(float64(e.Summary.Scores.Pronunciation))
		}
	case conversation.EventSessionDisposed:
		m.SessionsDisposed.Inc()
	case conversation.EventPersistenceError:
		m.PersistenceErrorsTotal.WithLabelValues(e.Op).Inc()
	}
}

// Handler serves the registered metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
