// Package telemetry exposes Prometheus metrics for the scoring pipeline
// and the HTTP surface.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "kestrel"

var (
	transactionsScored = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "transactions_scored_total",
		Help:      "Total number of scored transactions by verdict and deciding source",
	}, []string{"verdict", "source"})

	scoringDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "scoring_duration_seconds",
		Help:      "Time spent scoring a single transaction",
		Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25},
	})

	fraudScore = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "fraud_score",
		Help:      "Distribution of combined fraud scores",
		Buckets:   prometheus.LinearBuckets(0.1, 0.1, 10),
	})

	pipelineErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pipeline_errors_total",
		Help:      "Non-fatal pipeline failures by stage",
	}, []string{"stage"})

	activeRules = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "custom_rules_active",
		Help:      "Number of active custom rules in the current snapshot",
	})

	modelAvailable = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "model_available",
		Help:      "Whether a statistical classifier is loaded (1) or not (0)",
	})

	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests",
	}, []string{"method", "route", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)

// Pipeline stages reported through PipelineError.
const (
	StageRules    = "rules"
	StageVelocity = "velocity"
	StagePersist  = "persist"
	StagePublish  = "publish"
)

// ObserveScore records one scoring decision.
func ObserveScore(result *domain.ScoringResult, elapsed time.Duration) {
	if result == nil {
		return
	}
	verdict := "legit"
	if result.IsFraud {
		verdict = "fraud"
	}
	transactionsScored.WithLabelValues(verdict, result.Diagnostics.FraudSource).Inc()
	scoringDuration.Observe(elapsed.Seconds())
	fraudScore.Observe(result.CombinedScore)
}

// PipelineError counts a failure at the given stage.
func PipelineError(stage string) {
	pipelineErrors.WithLabelValues(stage).Inc()
}

// SetActiveRules publishes the size of the current rule snapshot.
func SetActiveRules(n int) {
	activeRules.Set(float64(n))
}

// SetModelAvailable publishes whether a classifier is loaded.
func SetModelAvailable(ok bool) {
	if ok {
		modelAvailable.Set(1)
		return
	}
	modelAvailable.Set(0)
}

// ObserveHTTP records one served request.
func ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	if route == "" {
		route = "not_found"
	}
	code := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, code).Inc()
	httpRequestDuration.WithLabelValues(method, route, code).Observe(elapsed.Seconds())
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
