package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRegisterIsIdempotent(t *testing.T) {
	assert.NotPanics(t, func() {
		RegisterGatewayMetrics()
		RegisterGatewayMetrics()
		RegisterDispatcherMetrics()
		RegisterDispatcherMetrics()
		RegisterBusMetrics()
		RegisterKafkaMetrics()
		RegisterCircuitBreakerMetrics()
		RegisterCircuitBreakerMetrics()
	})
}

func TestObservePipelineStep(t *testing.T) {
	before := testutil.ToFloat64(PipelineStepsTotal.WithLabelValues("pipeline.auth", "request", "success"))

	ObservePipelineStep("pipeline.auth", "request", "success", 12*time.Millisecond)
	ObservePipelineStep("pipeline.auth", "request", "success", 3*time.Millisecond)

	after := testutil.ToFloat64(PipelineStepsTotal.WithLabelValues("pipeline.auth", "request", "success"))
	assert.Equal(t, before+2, after)
}

func TestObserveGatewayRequest(t *testing.T) {
	before := testutil.ToFloat64(GatewayRequestsTotal.WithLabelValues("DELETE", "500"))
	ObserveGatewayRequest("DELETE", 500, time.Millisecond)
	assert.Equal(t, before+1, testutil.ToFloat64(GatewayRequestsTotal.WithLabelValues("DELETE", "500")))
}

func TestSetBusConnectionStatus(t *testing.T) {
	SetBusConnectionStatus(2)
	assert.Equal(t, float64(2), testutil.ToFloat64(BusConnectionStatus))
}
