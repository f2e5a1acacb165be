// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector records voice pipeline metrics. A nil *Collector is valid and
// records nothing.
type Collector struct {
	activeSessions prometheus.Gauge
	sessionsTotal  *prometheus.CounterVec
	turnsTotal     *prometheus.CounterVec
	fallbacksTotal *prometheus.CounterVec
	stageDuration  *prometheus.HistogramVec
	flushesTotal   *prometheus.CounterVec
	condensedTotal prometheus.Counter
	transitions    *prometheus.CounterVec
	httpRequests   *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector registers the pipeline metrics on reg. A nil reg uses the
// default Prometheus registerer.
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.activeSessions = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_sessions",
		Help:      "Number of conversation sessions currently registered",
	})

	c.sessionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of terminated sessions by reason",
		},
		[]string{"reason"},
	)

	c.turnsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Total number of completed conversation turns",
		},
		[]string{"source", "degraded"},
	)

	c.fallbacksTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallbacks_total",
			Help:      "Total number of degraded pipeline stages",
		},
		[]string{"stage"},
	)

	c.stageDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Pipeline stage duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"stage"},
	)

	c.flushesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_flushes_total",
			Help:      "Total number of audio buffer flushes by recognition outcome",
		},
		[]string{"outcome"},
	)

	c.condensedTotal = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "context_condensations_total",
		Help:      "Total number of turns whose retrieved context was condensed",
	})

	c.transitions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "Total number of session state transitions",
		},
		[]string{"from", "to"},
	)

	c.httpRequests = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"path", "status"},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// SessionStarted records a newly registered session.
func (c *Collector) SessionStarted() {
	if c == nil {
		return
	}
	c.activeSessions.Inc()
}

// SessionEnded records a terminated session.
func (c *Collector) SessionEnded(reason string) {
	if c == nil {
		return
	}
	c.activeSessions.Dec()
	c.sessionsTotal.WithLabelValues(reason).Inc()
}

// RecordTurn records a completed turn. source is "voice" or "text".
func (c *Collector) RecordTurn(source string, degraded bool) {
	if c == nil {
		return
	}
	c.turnsTotal.WithLabelValues(source, strconv.FormatBool(degraded)).Inc()
}

// RecordFallback records a stage that substituted its fallback value.
func (c *Collector) RecordFallback(stage string) {
	if c == nil {
		return
	}
	c.fallbacksTotal.WithLabelValues(stage).Inc()
}

// ObserveStage records how long a pipeline stage took.
func (c *Collector) ObserveStage(stage string, d time.Duration) {
	if c == nil {
		return
	}
	c.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// RecordFlush records an audio buffer flush.
func (c *Collector) RecordFlush(outcome string) {
	if c == nil {
		return
	}
	c.flushesTotal.WithLabelValues(outcome).Inc()
}

// RecordCondensation records a turn whose context was condensed.
func (c *Collector) RecordCondensation() {
	if c == nil {
		return
	}
	c.condensedTotal.Inc()
}

// RecordTransition records a session state change.
func (c *Collector) RecordTransition(from, to string) {
	if c == nil {
		return
	}
	c.transitions.WithLabelValues(from, to).Inc()
}

// RecordHTTPRequest records an HTTP request.
func (c *Collector) RecordHTTPRequest(path string, status int) {
	if c == nil {
		return
	}
	c.httpRequests.WithLabelValues(path, statusCode(status)).Inc()
}

func statusCode(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	case code >= 200:
		return "2xx"
	default:
		return "1xx"
	}
}
