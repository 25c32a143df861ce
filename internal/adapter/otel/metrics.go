package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "chimera"

// Metrics holds all Chimera metric instruments.
type Metrics struct {
	TasksClaimed     metric.Int64Counter
	TasksCommitted   metric.Int64Counter
	TasksFailed      metric.Int64Counter
	TasksRequeued    metric.Int64Counter
	ApprovalsQueued  metric.Int64Counter
	LeasesReaped     metric.Int64Counter
	PresenceBeats    metric.Int64Counter
	TaskDuration     metric.Float64Histogram
	ResultConfidence metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.TasksClaimed, err = meter.Int64Counter("chimera.tasks.claimed",
		metric.WithDescription("Number of tasks claimed by workers"))
	if err != nil {
		return nil, err
	}

	m.TasksCommitted, err = meter.Int64Counter("chimera.tasks.committed",
		metric.WithDescription("Number of tasks committed"))
	if err != nil {
		return nil, err
	}

	m.TasksFailed, err = meter.Int64Counter("chimera.tasks.failed",
		metric.WithDescription("Number of tasks failed"))
	if err != nil {
		return nil, err
	}

	m.TasksRequeued, err = meter.Int64Counter("chimera.tasks.requeued",
		metric.WithDescription("Number of tasks sent back for retry"))
	if err != nil {
		return nil, err
	}

	m.ApprovalsQueued, err = meter.Int64Counter("chimera.approvals.queued",
		metric.WithDescription("Number of results queued for human review"))
	if err != nil {
		return nil, err
	}

	m.LeasesReaped, err = meter.Int64Counter("chimera.leases.reaped",
		metric.WithDescription("Number of expired task leases reclaimed"))
	if err != nil {
		return nil, err
	}

	m.PresenceBeats, err = meter.Int64Counter("chimera.presence.publications",
		metric.WithDescription("Number of presence publications sent"))
	if err != nil {
		return nil, err
	}

	m.TaskDuration, err = meter.Float64Histogram("chimera.task.duration_seconds",
		metric.WithDescription("Task execution duration in seconds"))
	if err != nil {
		return nil, err
	}

	m.ResultConfidence, err = meter.Float64Histogram("chimera.result.confidence",
		metric.WithDescription("Confidence scores of attached results"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
