package observability

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"azflow/internal/connector"
)

// Metrics holds the service metrics, covering the golden 4 signals:
// - Latency: HTTP requests, connector operations and callback delivery
// - Traffic: request throughput and lifecycle checkpoints
// - Errors: failed requests, checkpoints and deliveries
// - Saturation: active deployments and notify queue depth
type Metrics struct {
	meter metric.Meter

	// HTTP metrics
	HTTPRequestDuration metric.Float64Histogram
	HTTPRequestsTotal   metric.Int64Counter
	HTTPErrorsTotal     metric.Int64Counter

	// Connector metrics
	CheckpointsTotal  metric.Int64Counter
	OperationDuration metric.Float64Histogram
	DeploymentsActive metric.Int64UpDownCounter

	// Notify metrics
	NotifyDuration  metric.Float64Histogram
	NotifyDelivered metric.Int64Counter
	NotifyFailed    metric.Int64Counter
	NotifyDropped   metric.Int64Counter
	NotifyQueueSize metric.Int64Gauge
}

// NewMetrics creates and registers all metrics with a Prometheus exporter.
func NewMetrics(ctx context.Context) (*Metrics, http.Handler, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter("azflow")
	m := &Metrics{meter: meter}

	m.HTTPRequestDuration, err = meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return nil, nil, err
	}

	m.HTTPRequestsTotal, err = meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.HTTPErrorsTotal, err = meter.Int64Counter(
		"http_errors_total",
		metric.WithDescription("Total number of HTTP errors (4xx and 5xx)"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.CheckpointsTotal, err = meter.Int64Counter(
		"connector_checkpoints_total",
		metric.WithDescription("Connector lifecycle checkpoints reached"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.OperationDuration, err = meter.Float64Histogram(
		"connector_operation_duration_seconds",
		metric.WithDescription("Duration of connector setup, run and teardown in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300, 900),
	)
	if err != nil {
		return nil, nil, err
	}

	m.DeploymentsActive, err = meter.Int64UpDownCounter(
		"deployments_active",
		metric.WithDescription("Number of connectors set up and not yet closed (saturation)"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.NotifyDuration, err = meter.Float64Histogram(
		"notify_duration_seconds",
		metric.WithDescription("Callback delivery latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return nil, nil, err
	}

	m.NotifyDelivered, err = meter.Int64Counter(
		"notify_delivered_total",
		metric.WithDescription("Total events successfully delivered"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.NotifyFailed, err = meter.Int64Counter(
		"notify_failed_total",
		metric.WithDescription("Total events failed after retries"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.NotifyDropped, err = meter.Int64Counter(
		"notify_dropped_total",
		metric.WithDescription("Total events dropped because the buffer was full"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.NotifyQueueSize, err = meter.Int64Gauge(
		"notify_queue_size",
		metric.WithDescription("Current number of events in the notify queue (saturation)"),
	)
	if err != nil {
		return nil, nil, err
	}

	return m, promhttp.Handler(), nil
}

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, durationSeconds float64) {
	attrs := metric.WithAttributes(
		methodAttr(method),
		pathAttr(path),
		statusAttr(statusCode),
	)

	m.HTTPRequestDuration.Record(ctx, durationSeconds, attrs)
	m.HTTPRequestsTotal.Add(ctx, 1, attrs)

	if statusCode >= 400 {
		m.HTTPErrorsTotal.Add(ctx, 1, attrs)
	}
}

// Observe implements connector.Observer. Every checkpoint is counted and
// the *-done checkpoints also record their duration.
func (m *Metrics) Observe(ctx context.Context, ev connector.Event) {
	success := ev.Err == nil
	m.CheckpointsTotal.Add(ctx, 1, metric.WithAttributes(
		kindAttr(ev.Kind),
		checkpointAttr(string(ev.Checkpoint)),
		successAttr(success),
	))
	if ev.Checkpoint == connector.CheckpointSetupStart {
		return
	}
	m.OperationDuration.Record(ctx, ev.Duration.Seconds(), metric.WithAttributes(
		kindAttr(ev.Kind),
		checkpointAttr(string(ev.Checkpoint)),
		successAttr(success),
	))
}

// RecordDeploymentOpened records a connector that completed setup.
func (m *Metrics) RecordDeploymentOpened(ctx context.Context, kind string) {
	m.DeploymentsActive.Add(ctx, 1, metric.WithAttributes(kindAttr(kind)))
}

// RecordDeploymentClosed records a previously opened connector being closed.
func (m *Metrics) RecordDeploymentClosed(ctx context.Context, kind string) {
	m.DeploymentsActive.Add(ctx, -1, metric.WithAttributes(kindAttr(kind)))
}

// RecordNotifyDelivered records a successful event delivery with its duration.
func (m *Metrics) RecordNotifyDelivered(ctx context.Context, durationSeconds float64) {
	m.NotifyDelivered.Add(ctx, 1)
	m.NotifyDuration.Record(ctx, durationSeconds)
}

// RecordNotifyFailed records a failed event delivery.
func (m *Metrics) RecordNotifyFailed(ctx context.Context) {
	m.NotifyFailed.Add(ctx, 1)
}

// RecordNotifyDropped records a dropped event.
func (m *Metrics) RecordNotifyDropped(ctx context.Context) {
	m.NotifyDropped.Add(ctx, 1)
}

// RecordNotifyQueueSize records the current queue size.
func (m *Metrics) RecordNotifyQueueSize(ctx context.Context, size int64) {
	m.NotifyQueueSize.Record(ctx, size)
}
