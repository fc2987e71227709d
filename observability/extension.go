// Package observability provides an OpenTelemetry-based metrics extension
// for the geoapi job manager. The MetricsExtension implements lifecycle
// hooks to record system-wide counters for job acceptance, completion,
// failure, and dismissal.
//
// For per-execution tracing and latency metrics, see the middleware
// package: middleware.Tracing() and middleware.Metrics().
package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/vforwater/geoapi/ext"
	"github.com/vforwater/geoapi/job"
)

const scopeName = "github.com/vforwater/geoapi/observability"

// Compile-time interface checks.
var (
	_ ext.Extension    = (*MetricsExtension)(nil)
	_ ext.JobAccepted  = (*MetricsExtension)(nil)
	_ ext.JobCompleted = (*MetricsExtension)(nil)
	_ ext.JobFailed    = (*MetricsExtension)(nil)
	_ ext.JobDismissed = (*MetricsExtension)(nil)
)

// MetricsExtension records job lifecycle counters, partitioned by
// process identifier. Register it with the manager's extension registry
// to track acceptance rates, completion counts, failure rates, and
// dismissals.
type MetricsExtension struct {
	accepted  metric.Int64Counter
	completed metric.Int64Counter
	failed    metric.Int64Counter
	dismissed metric.Int64Counter
}

// NewMetricsExtension creates a MetricsExtension using the global
// OpenTelemetry meter provider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.GetMeterProvider().Meter(scopeName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension recording to
// the given meter.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	m := &MetricsExtension{}
	var err error

	m.accepted, err = meter.Int64Counter("geoapi.job.accepted",
		metric.WithDescription("Jobs accepted for execution"))
	if err != nil {
		m.accepted = noop.Int64Counter{}
	}
	m.completed, err = meter.Int64Counter("geoapi.job.completed",
		metric.WithDescription("Jobs that finished successfully"))
	if err != nil {
		m.completed = noop.Int64Counter{}
	}
	m.failed, err = meter.Int64Counter("geoapi.job.failed",
		metric.WithDescription("Jobs that reached the failed state"))
	if err != nil {
		m.failed = noop.Int64Counter{}
	}
	m.dismissed, err = meter.Int64Counter("geoapi.job.dismissed",
		metric.WithDescription("Jobs dismissed before or during execution"))
	if err != nil {
		m.dismissed = noop.Int64Counter{}
	}

	return m
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnJobAccepted implements ext.JobAccepted.
func (m *MetricsExtension) OnJobAccepted(ctx context.Context, j *job.Job) error {
	m.accepted.Add(ctx, 1, metric.WithAttributes(processAttr(j)))
	return nil
}

// OnJobCompleted implements ext.JobCompleted.
func (m *MetricsExtension) OnJobCompleted(ctx context.Context, j *job.Job, _ time.Duration) error {
	m.completed.Add(ctx, 1, metric.WithAttributes(processAttr(j)))
	return nil
}

// OnJobFailed implements ext.JobFailed.
func (m *MetricsExtension) OnJobFailed(ctx context.Context, j *job.Job, _ error) error {
	m.failed.Add(ctx, 1, metric.WithAttributes(processAttr(j)))
	return nil
}

// OnJobDismissed implements ext.JobDismissed.
func (m *MetricsExtension) OnJobDismissed(ctx context.Context, j *job.Job) error {
	m.dismissed.Add(ctx, 1, metric.WithAttributes(processAttr(j)))
	return nil
}

func processAttr(j *job.Job) attribute.KeyValue {
	return attribute.String("process_id", j.ProcessID)
}
