package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Значения метки result для executions_total.
const (
	ResultSuccess   = "success"
	ResultFailure   = "failure"
	ResultSpawn     = "spawn_error"
	ResultRejected  = "rejected"
	ResultThrottled = "throttled"
)

var (
	registerOnce sync.Once

	executions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "boardgate",
			Name:      "executions_total",
			Help:      "Pipeline runs by operation and result.",
		},
		[]string{"operation", "result"},
	)
	executionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "boardgate",
			Name:      "execution_duration_seconds",
			Help:      "External process run time in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"operation"},
	)
	inFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "boardgate",
			Name:      "executions_in_flight",
			Help:      "External processes currently running.",
		},
	)
	validationFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "boardgate",
			Name:      "validation_failures_total",
			Help:      "Requests rejected before spawning a process.",
		},
		[]string{"operation"},
	)
	ackFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "boardgate",
			Name:      "ack_failures_total",
			Help:      "Responses that could not be delivered to the event client.",
		},
		[]string{"event"},
	)
	binaryHealthy = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "boardgate",
			Name:      "binary_healthy",
			Help:      "1 if the last probe of the external binary succeeded.",
		},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "boardgate",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "boardgate",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			executions, executionDuration, inFlight, validationFailures,
			ackFailures, binaryHealthy, httpRequests, httpDuration,
		)
	})
}

// ExecutionStarted увеличивает gauge и возвращает функцию завершения.
func ExecutionStarted() (done func()) {
	RegisterMetrics()
	inFlight.Inc()
	return inFlight.Dec
}

func RecordExecution(operation, result string, duration time.Duration) {
	RegisterMetrics()
	executions.WithLabelValues(operation, result).Inc()
	if result != ResultRejected {
		executionDuration.WithLabelValues(operation).Observe(duration.Seconds())
	}
}

func RecordValidationFailure(operation string) {
	RegisterMetrics()
	validationFailures.WithLabelValues(operation).Inc()
	executions.WithLabelValues(operation, ResultRejected).Inc()
}

// RecordRateLimited учитывает запрос, отклоненный ограничителем частоты.
func RecordRateLimited(operation string) {
	RegisterMetrics()
	executions.WithLabelValues(operation, ResultThrottled).Inc()
}

func RecordAckFailure(event string) {
	RegisterMetrics()
	ackFailures.WithLabelValues(event).Inc()
}

func SetBinaryHealthy(ok bool) {
	RegisterMetrics()
	if ok {
		binaryHealthy.Set(1)
		return
	}
	binaryHealthy.Set(0)
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}
