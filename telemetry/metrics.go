// Package telemetry provides Prometheus metrics and OpenTelemetry
// tracing for the live pipeline.
package telemetry

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	InputsTotal         *prometheus.CounterVec
	OutputsTotal        prometheus.Counter
	PipelineErrorsTotal *prometheus.CounterVec
	StudioRequestsTotal *prometheus.CounterVec

	// Histograms (seconds)
	StageDuration *prometheus.HistogramVec

	// Gauges
	QueueDepthGauge   *prometheus.GaugeVec
	ChatConnectedGauge *prometheus.GaugeVec
)

// stageBuckets covers everything from a studio call to a slow model
// answer.
var stageBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		InputsTotal = promauto.NewCounterVec(prometheus.CounterOpts{Name: "lobby_inputs_total", Help: "Chat inputs received, by source and whether the filter admitted them"}, []string{"source", "admitted"})
		OutputsTotal = promauto.NewCounter(prometheus.CounterOpts{Name: "lobby_outputs_total", Help: "Fully processed pipeline outputs"})
		PipelineErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{Name: "lobby_pipeline_errors_total", Help: "Pipeline stage failures"}, []string{"stage"})
		StudioRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{Name: "lobby_studio_requests_total", Help: "Studio WebSocket requests by type and outcome"}, []string{"type", "ok"})
		StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{Name: "lobby_stage_duration_seconds", Help: "Pipeline stage duration seconds", Buckets: stageBuckets}, []string{"stage"})
		QueueDepthGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{Name: "lobby_queue_depth", Help: "Inputs waiting, by queue"}, []string{"queue"})
		ChatConnectedGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{Name: "lobby_chat_connected", Help: "Chat platform connection state, 1=connected"}, []string{"platform"})
	})
}

// CountInput records one received input and the filter verdict.
func CountInput(source string, admitted bool) {
	if InputsTotal != nil {
		InputsTotal.WithLabelValues(source, strconv.FormatBool(admitted)).Inc()
	}
}

// CountOutput records one finished pipeline item.
func CountOutput() {
	if OutputsTotal != nil {
		OutputsTotal.Inc()
	}
}

// CountPipelineError records a failure of the named stage.
func CountPipelineError(stage string) {
	if PipelineErrorsTotal != nil {
		PipelineErrorsTotal.WithLabelValues(stage).Inc()
	}
}

// CountStudioRequest records one studio request and its outcome.
func CountStudioRequest(requestType string, ok bool) {
	if StudioRequestsTotal != nil {
		StudioRequestsTotal.WithLabelValues(requestType, strconv.FormatBool(ok)).Inc()
	}
}

// SetQueueDepth records how many inputs the named queue holds.
func SetQueueDepth(queue string, n int) {
	if QueueDepthGauge != nil {
		QueueDepthGauge.WithLabelValues(queue).Set(float64(n))
	}
}

// SetChatConnected flips the named platform's connection gauge.
func SetChatConnected(platform string, connected bool) {
	if ChatConnectedGauge != nil {
		if connected {
			ChatConnectedGauge.WithLabelValues(platform).Set(1)
		} else {
			ChatConnectedGauge.WithLabelValues(platform).Set(0)
		}
	}
}

// TimeStage measures fn and records its duration for the named stage.
func TimeStage(stage string, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)

	if StageDuration != nil {
		StageDuration.WithLabelValues(stage).Observe(d.Seconds())
	}

	return d
}
