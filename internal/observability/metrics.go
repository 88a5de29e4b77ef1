package observability

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics covers the golden signals for the HTTP surface, jobs,
// orchestration steps, remote polling and webhook delivery.
type Metrics struct {
	HTTPRequestDuration metric.Float64Histogram
	HTTPRequestsTotal   metric.Int64Counter
	HTTPErrorsTotal     metric.Int64Counter

	JobDuration    metric.Float64Histogram
	JobsTotal      metric.Int64Counter
	JobsFinished   metric.Int64Counter
	JobErrorsTotal metric.Int64Counter
	JobsActive     metric.Int64UpDownCounter

	StepDuration metric.Float64Histogram
	StepFailures metric.Int64Counter

	RemotePolls metric.Int64Counter

	DispatcherDuration  metric.Float64Histogram
	DispatcherDelivered metric.Int64Counter
	DispatcherFailed    metric.Int64Counter
	DispatcherDropped   metric.Int64Counter
	DispatcherRequeued  metric.Int64Counter
}

// NewMetrics registers all instruments with a Prometheus exporter and
// returns the scrape handler.
func NewMetrics(ctx context.Context) (*Metrics, http.Handler, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	m, err := newMetrics(provider.Meter("venue"))
	if err != nil {
		return nil, nil, err
	}
	return m, promhttp.Handler(), nil
}

func newMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	if m.HTTPRequestDuration, err = meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	); err != nil {
		return nil, err
	}
	if m.HTTPRequestsTotal, err = meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
	); err != nil {
		return nil, err
	}
	if m.HTTPErrorsTotal, err = meter.Int64Counter(
		"http_errors_total",
		metric.WithDescription("Total number of HTTP errors (4xx and 5xx)"),
	); err != nil {
		return nil, err
	}

	if m.JobDuration, err = meter.Float64Histogram(
		"job_duration_seconds",
		metric.WithDescription("Time from submission to terminal status"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.01, 0.1, 0.5, 1, 5, 10, 30, 60, 300, 900),
	); err != nil {
		return nil, err
	}
	if m.JobsTotal, err = meter.Int64Counter(
		"jobs_total",
		metric.WithDescription("Total number of jobs created"),
	); err != nil {
		return nil, err
	}
	if m.JobsFinished, err = meter.Int64Counter(
		"jobs_finished_total",
		metric.WithDescription("Jobs reaching a terminal status, by status"),
	); err != nil {
		return nil, err
	}
	if m.JobErrorsTotal, err = meter.Int64Counter(
		"job_errors_total",
		metric.WithDescription("Jobs finishing FAILED, REJECTED or TIMEOUT"),
	); err != nil {
		return nil, err
	}
	if m.JobsActive, err = meter.Int64UpDownCounter(
		"jobs_active",
		metric.WithDescription("Jobs not yet in a terminal status (saturation)"),
	); err != nil {
		return nil, err
	}

	if m.StepDuration, err = meter.Float64Histogram(
		"orchestration_step_duration_seconds",
		metric.WithDescription("Orchestration step latency in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if m.StepFailures, err = meter.Int64Counter(
		"orchestration_step_failures_total",
		metric.WithDescription("Orchestration steps that failed"),
	); err != nil {
		return nil, err
	}

	if m.RemotePolls, err = meter.Int64Counter(
		"remote_polls_total",
		metric.WithDescription("Status polls against remote venues, by outcome"),
	); err != nil {
		return nil, err
	}

	if m.DispatcherDuration, err = meter.Float64Histogram(
		"dispatcher_duration_seconds",
		metric.WithDescription("Webhook delivery latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	); err != nil {
		return nil, err
	}
	if m.DispatcherDelivered, err = meter.Int64Counter(
		"dispatcher_delivered_total",
		metric.WithDescription("Total webhooks delivered"),
	); err != nil {
		return nil, err
	}
	if m.DispatcherFailed, err = meter.Int64Counter(
		"dispatcher_failed_total",
		metric.WithDescription("Total webhooks failed after retries"),
	); err != nil {
		return nil, err
	}
	if m.DispatcherDropped, err = meter.Int64Counter(
		"dispatcher_dropped_total",
		metric.WithDescription("Total webhooks dropped (buffer full or max requeues)"),
	); err != nil {
		return nil, err
	}
	if m.DispatcherRequeued, err = meter.Int64Counter(
		"dispatcher_requeued_total",
		metric.WithDescription("Total webhooks parked behind an open circuit"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, durationSeconds float64) {
	attrs := metric.WithAttributes(methodAttr(method), pathAttr(path), statusAttr(statusCode))

	m.HTTPRequestDuration.Record(ctx, durationSeconds, attrs)
	m.HTTPRequestsTotal.Add(ctx, 1, attrs)
	if statusCode >= 400 {
		m.HTTPErrorsTotal.Add(ctx, 1, attrs)
	}
}

// RecordJobCreated records a job registered in the job table.
func (m *Metrics) RecordJobCreated(ctx context.Context, adapter string) {
	attrs := metric.WithAttributes(adapterAttr(adapter))
	m.JobsTotal.Add(ctx, 1, attrs)
	m.JobsActive.Add(ctx, 1, attrs)
}

// RecordJobFinished records a job's terminal transition.
func (m *Metrics) RecordJobFinished(ctx context.Context, adapter, status string, failure bool, durationSeconds float64) {
	m.JobsActive.Add(ctx, -1, metric.WithAttributes(adapterAttr(adapter)))

	attrs := metric.WithAttributes(adapterAttr(adapter), resultAttr(status))
	m.JobsFinished.Add(ctx, 1, attrs)
	m.JobDuration.Record(ctx, durationSeconds, attrs)
	if failure {
		m.JobErrorsTotal.Add(ctx, 1, attrs)
	}
}

// RecordStep records one orchestration step outcome.
func (m *Metrics) RecordStep(ctx context.Context, adapter string, success bool, durationSeconds float64) {
	attrs := metric.WithAttributes(adapterAttr(adapter), successAttr(success))
	m.StepDuration.Record(ctx, durationSeconds, attrs)
	if !success {
		m.StepFailures.Add(ctx, 1, attrs)
	}
}

// RecordRemotePoll records one status fetch against a remote venue.
// outcome is "pending", "finished", "not_found" or "error".
func (m *Metrics) RecordRemotePoll(ctx context.Context, venue, outcome string) {
	m.RemotePolls.Add(ctx, 1, metric.WithAttributes(venueAttr(venue), resultAttr(outcome)))
}

// RecordDispatcherDelivered records a successful webhook delivery with its duration.
func (m *Metrics) RecordDispatcherDelivered(ctx context.Context, durationSeconds float64) {
	m.DispatcherDelivered.Add(ctx, 1)
	m.DispatcherDuration.Record(ctx, durationSeconds)
}

// RecordDispatcherFailed records a failed webhook delivery.
func (m *Metrics) RecordDispatcherFailed(ctx context.Context) {
	m.DispatcherFailed.Add(ctx, 1)
}

// RecordDispatcherDropped records a dropped webhook.
func (m *Metrics) RecordDispatcherDropped(ctx context.Context) {
	m.DispatcherDropped.Add(ctx, 1)
}

// RecordDispatcherRequeued records a webhook parked behind an open circuit.
func (m *Metrics) RecordDispatcherRequeued(ctx context.Context) {
	m.DispatcherRequeued.Add(ctx, 1)
}
