package core

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"healthcore/pkg/domain"
)

// Bulk operation outcomes used as the result label.
const (
	ResultSuccess = "success"
	ResultPartial = "partial"
	ResultError   = "error"
)

// BulkObservation summarizes one bulk call for metrics recorders.
type BulkObservation struct {
	Entity    domain.EntityType
	Operation domain.APIOperation
	Succeeded int
	Failed    int
	// Codes lists every error code attached during the call, one entry per error.
	Codes    []string
	Duration time.Duration
	Err      error
}

// Result classifies the observation.
func (o BulkObservation) Result() string {
	switch {
	case o.Err != nil:
		return ResultError
	case o.Failed > 0:
		return ResultPartial
	default:
		return ResultSuccess
	}
}

// MetricsRecorder receives bulk call observations.
type MetricsRecorder interface {
	ObserveBulk(ctx context.Context, obs BulkObservation)
}

// TraceSpan ends a traced operation.
type TraceSpan interface {
	End(err error)
}

// Tracer starts spans around service operations.
type Tracer interface {
	Start(ctx context.Context, operation string) (context.Context, TraceSpan)
}

type noopTracer struct{}

type noopSpan struct{}

func (noopTracer) Start(ctx context.Context, _ string) (context.Context, TraceSpan) {
	return ctx, noopSpan{}
}

func (noopSpan) End(error) {}

type noopRecorder struct{}

func (noopRecorder) ObserveBulk(context.Context, BulkObservation) {}

type promMetrics struct {
	validationErrors *prometheus.CounterVec
	operations       *prometheus.CounterVec
	duration         *prometheus.HistogramVec
}

var promSingleton = sync.OnceValue(func() *promMetrics {
	return &promMetrics{
		validationErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "healthcore",
			Name:      "validation_errors_total",
			Help:      "Total number of entity validation errors by code.",
		}, []string{"entity", "code"}),
		operations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "healthcore",
			Name:      "bulk_operations_total",
			Help:      "Total number of bulk operations by outcome.",
		}, []string{"entity", "operation", "result"}),
		duration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "healthcore",
			Name:      "bulk_duration_seconds",
			Help:      "Latency distribution of bulk operations.",
			Buckets: []float64{
				0.005, 0.01, 0.025,
				0.05, 0.1, 0.25,
				0.5, 1, 2.5, 5, 10,
			},
		}, []string{"entity", "operation"}),
	}
})

// PrometheusRecorder exports observations through the default registry.
type PrometheusRecorder struct {
	m *promMetrics
}

// NewPrometheusRecorder returns a recorder sharing the process wide collectors.
func NewPrometheusRecorder() *PrometheusRecorder {
	return &PrometheusRecorder{m: promSingleton()}
}

// ObserveBulk implements MetricsRecorder.
func (r *PrometheusRecorder) ObserveBulk(_ context.Context, obs BulkObservation) {
	entity, op := string(obs.Entity), string(obs.Operation)
	r.m.operations.WithLabelValues(entity, op, obs.Result()).Inc()
	r.m.duration.WithLabelValues(entity, op).Observe(obs.Duration.Seconds())
	for _, code := range obs.Codes {
		r.m.validationErrors.WithLabelValues(entity, code).Inc()
	}
}

// MultiRecorder fans observations out to several recorders.
type MultiRecorder []MetricsRecorder

// ObserveBulk implements MetricsRecorder.
func (m MultiRecorder) ObserveBulk(ctx context.Context, obs BulkObservation) {
	for _, r := range m {
		if r != nil {
			r.ObserveBulk(ctx, obs)
		}
	}
}
