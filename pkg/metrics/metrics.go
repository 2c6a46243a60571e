package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	GatewayRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Total number of HTTP requests handled by the gateway (count)",
		},
		[]string{"method", "status"},
	)

	GatewayRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_request_duration_ms",
			Help:    "End-to-end pipeline duration per HTTP request in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		},
		[]string{"method"},
	)

	PipelineStepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_steps_total",
			Help: "Total number of pipeline steps executed (count)",
		},
		[]string{"step", "pattern", "status"},
	)

	PipelineStepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pipeline_step_duration_ms",
			Help:    "Duration of a single pipeline step call in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		},
		[]string{"step", "pattern"},
	)

	PipelineTerminationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_terminations_total",
			Help: "Total number of pipelines stopped early by a step (count)",
		},
		[]string{"step"},
	)

	PipelineStepsSkippedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_steps_skipped_total",
			Help: "Total number of steps skipped because their condition was false (count)",
		},
		[]string{"step"},
	)

	ObserverPublishesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "observer_publishes_total",
			Help: "Total number of envelopes published to observers (count)",
		},
		[]string{"subject", "status"},
	)

	DispatcherMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatcher_messages_total",
			Help: "Total number of bus messages dispatched to handlers and observers (count)",
		},
		[]string{"subscription", "kind", "status"},
	)

	DispatcherDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dispatcher_duration_ms",
			Help:    "Handler or observer processing time in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		},
		[]string{"subscription", "kind"},
	)

	CallTimingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "envelope_call_timing_ms",
			Help:    "Call timings reported by completed envelopes in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		},
		[]string{"subject"},
	)

	BusConnectionStatus = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bus_connection_status",
			Help: "Bus connection status (0=disconnected, 1=connecting, 2=connected, 3=reconnecting) (state code)",
		},
	)

	BusReconnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bus_reconnects_total",
			Help: "Total number of bus reconnections (count)",
		},
	)

	BusMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bus_messages_total",
			Help: "Total number of bus operations by kind (count)",
		},
		[]string{"operation", "status"},
	)

	KafkaMessagesWrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_messages_written_total",
			Help: "Total number of messages written to Kafka (count)",
		},
		[]string{"service", "topic"},
	)

	KafkaWriteDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kafka_write_duration_ms",
			Help:    "Duration of writing messages to Kafka in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"service", "topic"},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open) (state code)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker (count)",
		},
		[]string{"name", "state"},
	)

	CircuitBreakerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_failures_total",
			Help: "Total number of failures through circuit breaker (count)",
		},
		[]string{"name"},
	)

	RateLimitRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_requests_total",
			Help: "Total number of requests checked against rate limit (count)",
		},
		[]string{"status"},
	)
)

var (
	gatewayOnce        sync.Once
	dispatcherOnce     sync.Once
	busOnce            sync.Once
	kafkaOnce          sync.Once
	circuitBreakerOnce sync.Once
)

func RegisterGatewayMetrics() {
	gatewayOnce.Do(func() {
		prometheus.MustRegister(GatewayRequestsTotal)
		prometheus.MustRegister(GatewayRequestDuration)
		prometheus.MustRegister(PipelineStepsTotal)
		prometheus.MustRegister(PipelineStepDuration)
		prometheus.MustRegister(PipelineTerminationsTotal)
		prometheus.MustRegister(PipelineStepsSkippedTotal)
		prometheus.MustRegister(ObserverPublishesTotal)
		prometheus.MustRegister(RateLimitRequestsTotal)
	})
}

func RegisterDispatcherMetrics() {
	dispatcherOnce.Do(func() {
		prometheus.MustRegister(DispatcherMessagesTotal)
		prometheus.MustRegister(DispatcherDuration)
		prometheus.MustRegister(CallTimingDuration)
	})
}

func RegisterBusMetrics() {
	busOnce.Do(func() {
		prometheus.MustRegister(BusConnectionStatus)
		prometheus.MustRegister(BusReconnectsTotal)
		prometheus.MustRegister(BusMessagesTotal)
	})
}

func RegisterKafkaMetrics() {
	kafkaOnce.Do(func() {
		prometheus.MustRegister(KafkaMessagesWrittenTotal)
		prometheus.MustRegister(KafkaWriteDuration)
	})
}

func RegisterCircuitBreakerMetrics() {
	circuitBreakerOnce.Do(func() {
		prometheus.MustRegister(CircuitBreakerState)
		prometheus.MustRegister(CircuitBreakerRequests)
		prometheus.MustRegister(CircuitBreakerFailures)
	})
}

func ObserveGatewayRequest(method string, statusCode int, duration time.Duration) {
	GatewayRequestsTotal.WithLabelValues(method, strconv.Itoa(statusCode)).Inc()
	GatewayRequestDuration.WithLabelValues(method).Observe(float64(duration.Milliseconds()))
}

func ObservePipelineStep(step, pattern, status string, duration time.Duration) {
	PipelineStepsTotal.WithLabelValues(step, pattern, status).Inc()
	PipelineStepDuration.WithLabelValues(step, pattern).Observe(float64(duration.Milliseconds()))
}

func IncPipelineTermination(step string) {
	PipelineTerminationsTotal.WithLabelValues(step).Inc()
}

func IncPipelineStepSkipped(step string) {
	PipelineStepsSkippedTotal.WithLabelValues(step).Inc()
}

func IncObserverPublish(subject, status string) {
	ObserverPublishesTotal.WithLabelValues(subject, status).Inc()
}

func ObserveDispatch(subscription, kind, status string, duration time.Duration) {
	DispatcherMessagesTotal.WithLabelValues(subscription, kind, status).Inc()
	DispatcherDuration.WithLabelValues(subscription, kind).Observe(float64(duration.Milliseconds()))
}

func ObserveCallTiming(subject string, elapsedMs int64) {
	CallTimingDuration.WithLabelValues(subject).Observe(float64(elapsedMs))
}

func SetBusConnectionStatus(code int) {
	BusConnectionStatus.Set(float64(code))
}

func IncBusReconnect() {
	BusReconnectsTotal.Inc()
}

func IncBusMessage(operation, status string) {
	BusMessagesTotal.WithLabelValues(operation, status).Inc()
}

func IncKafkaMessagesWritten(service, topic string) {
	KafkaMessagesWrittenTotal.WithLabelValues(service, topic).Inc()
}

func ObserveKafkaWriteDuration(service, topic string, duration time.Duration) {
	KafkaWriteDuration.WithLabelValues(service, topic).Observe(float64(duration.Milliseconds()))
}
