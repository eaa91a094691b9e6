package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRegisterMetricsIsIdempotent(t *testing.T) {
	RegisterMetrics()
	RegisterMetrics()

	RecordHTTPRequest("GET", "/boards/list", 200, 12*time.Millisecond)
	RecordExecution("list-boards", ResultSuccess, 40*time.Millisecond)
}

func TestInFlightGauge(t *testing.T) {
	before := testutil.ToFloat64(inFlight)
	done := ExecutionStarted()
	assert.Equal(t, before+1, testutil.ToFloat64(inFlight))
	done()
	assert.Equal(t, before, testutil.ToFloat64(inFlight))
}

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(ackFailures.WithLabelValues("upload-sketch"))
	RecordAckFailure("upload-sketch")
	assert.Equal(t, before+1, testutil.ToFloat64(ackFailures.WithLabelValues("upload-sketch")))

	rejected := testutil.ToFloat64(executions.WithLabelValues("compile-sketch", ResultRejected))
	RecordValidationFailure("compile-sketch")
	assert.Equal(t, rejected+1, testutil.ToFloat64(executions.WithLabelValues("compile-sketch", ResultRejected)))

	SetBinaryHealthy(false)
	assert.Equal(t, float64(0), testutil.ToFloat64(binaryHealthy))
	SetBinaryHealthy(true)
	assert.Equal(t, float64(1), testutil.ToFloat64(binaryHealthy))
}

func TestRateLimitedIsNotValidationFailure(t *testing.T) {
	validation := testutil.ToFloat64(validationFailures.WithLabelValues("upload-sketch"))
	rejected := testutil.ToFloat64(executions.WithLabelValues("upload-sketch", ResultRejected))
	throttled := testutil.ToFloat64(executions.WithLabelValues("upload-sketch", ResultThrottled))

	RecordRateLimited("upload-sketch")

	assert.Equal(t, throttled+1, testutil.ToFloat64(executions.WithLabelValues("upload-sketch", ResultThrottled)))
	assert.Equal(t, validation, testutil.ToFloat64(validationFailures.WithLabelValues("upload-sketch")))
	assert.Equal(t, rejected, testutil.ToFloat64(executions.WithLabelValues("upload-sketch", ResultRejected)))
}
