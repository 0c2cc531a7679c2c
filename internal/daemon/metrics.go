package daemon

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/yairfalse/snapwarden/executor"
)

// DaemonMetrics holds operational metrics using OTEL semantic conventions
type DaemonMetrics struct {
	passes         metric.Int64Counter
	passDuration   metric.Float64Histogram
	snapshots      metric.Int64Counter
	volumesSkipped metric.Int64Counter
	lastPass       metric.Int64Gauge
}

// NewDaemonMetrics creates daemon metrics on mp, or on the global meter
// provider when mp is nil.
func NewDaemonMetrics(mp metric.MeterProvider) (*DaemonMetrics, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter("snapwarden.daemon")

	passes, err := meter.Int64Counter(
		"snapwarden.daemon.passes",
		metric.WithDescription("Number of scheduled snapshot passes"),
		metric.WithUnit("{pass}"),
	)
	if err != nil {
		return nil, err
	}

	passDuration, err := meter.Float64Histogram(
		"snapwarden.daemon.pass.duration",
		metric.WithDescription("Duration of scheduled snapshot passes"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	snapshots, err := meter.Int64Counter(
		"snapwarden.snapshots.created",
		metric.WithDescription("Number of snapshots created by scheduled passes"),
		metric.WithUnit("{snapshot}"),
	)
	if err != nil {
		return nil, err
	}

	volumesSkipped, err := meter.Int64Counter(
		"snapwarden.volumes.skipped",
		metric.WithDescription("Number of volumes skipped by scheduled passes"),
		metric.WithUnit("{volume}"),
	)
	if err != nil {
		return nil, err
	}

	lastPass, err := meter.Int64Gauge(
		"snapwarden.daemon.last_pass",
		metric.WithDescription("Unix time the last pass finished"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &DaemonMetrics{
		passes:         passes,
		passDuration:   passDuration,
		snapshots:      snapshots,
		volumesSkipped: volumesSkipped,
		lastPass:       lastPass,
	}, nil
}

// RecordPass records a finished pass with its outcome
func (m *DaemonMetrics) RecordPass(ctx context.Context, outcome, region string, d time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.String("cloud.region", region),
	)
	m.passes.Add(ctx, 1, attrs)
	m.passDuration.Record(ctx, d.Seconds(), attrs)
	m.lastPass.Record(ctx, time.Now().Unix(), metric.WithAttributes(
		attribute.String("cloud.region", region),
	))
}

// RecordSnapshots counts created snapshots and skipped volumes in report
func (m *DaemonMetrics) RecordSnapshots(ctx context.Context, report *executor.Report, region string) {
	var created, skipped int64
	for _, inst := range report.Instances {
		for _, vol := range inst.Volumes {
			switch {
			case vol.SnapshotID != "":
				created++
			case vol.Outcome == executor.OutcomeSkipped:
				skipped++
			}
		}
	}

	attrs := metric.WithAttributes(attribute.String("cloud.region", region))
	if created > 0 {
		m.snapshots.Add(ctx, created, attrs)
	}
	if skipped > 0 {
		m.volumesSkipped.Add(ctx, skipped, attrs)
	}
}
