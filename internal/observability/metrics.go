// Package observability defines the metric instruments recorded by the
// workflow engine. Instruments come from the global otel MeterProvider, so
// they are no-ops until the process installs a real provider.
package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "broadcast-ops/backend/workflow"

// Metrics groups the engine's counters.
type Metrics struct {
	stepsAdvanced       metric.Int64Counter
	subWorksProvisioned metric.Int64Counter
	repairWrites        metric.Int64Counter
	repairDiagnostics   metric.Int64Counter
	notificationsFailed metric.Int64Counter
}

// NewMetrics creates the instruments on the given provider. A nil provider
// uses the global one.
func NewMetrics(provider metric.MeterProvider) (*Metrics, error) {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	meter := provider.Meter(meterName)

	var (
		m   Metrics
		err error
	)
	if m.stepsAdvanced, err = meter.Int64Counter("workflow.steps.advanced",
		metric.WithDescription("Ledger step transitions applied by the evaluator")); err != nil {
		return nil, fmt.Errorf("create steps counter: %w", err)
	}
	if m.subWorksProvisioned, err = meter.Int64Counter("workflow.subworks.provisioned",
		metric.WithDescription("Sub-works created automatically when a step gate opened")); err != nil {
		return nil, fmt.Errorf("create provision counter: %w", err)
	}
	if m.repairWrites, err = meter.Int64Counter("workflow.repair.writes",
		metric.WithDescription("Sub-work writes made by the QC repair pass")); err != nil {
		return nil, fmt.Errorf("create repair writes counter: %w", err)
	}
	if m.repairDiagnostics, err = meter.Int64Counter("workflow.repair.diagnostics",
		metric.WithDescription("Non-fatal anomalies found by the QC repair pass")); err != nil {
		return nil, fmt.Errorf("create repair diagnostics counter: %w", err)
	}
	if m.notificationsFailed, err = meter.Int64Counter("workflow.notifications.failed",
		metric.WithDescription("Notification deliveries that returned an error")); err != nil {
		return nil, fmt.Errorf("create notification counter: %w", err)
	}
	return &m, nil
}

// StepAdvanced records one ledger transition.
func (m *Metrics) StepAdvanced(ctx context.Context, step int, status string) {
	if m == nil || m.stepsAdvanced == nil {
		return
	}
	m.stepsAdvanced.Add(ctx, 1, metric.WithAttributes(
		attribute.Int("step", step),
		attribute.String("status", status),
	))
}

// SubWorkProvisioned records one auto-created sub-work.
func (m *Metrics) SubWorkProvisioned(ctx context.Context, discipline string) {
	if m == nil || m.subWorksProvisioned == nil {
		return
	}
	m.subWorksProvisioned.Add(ctx, 1, metric.WithAttributes(attribute.String("discipline", discipline)))
}

// RepairWrites records sub-work writes made by one repair pass.
func (m *Metrics) RepairWrites(ctx context.Context, n int) {
	if m == nil || m.repairWrites == nil || n == 0 {
		return
	}
	m.repairWrites.Add(ctx, int64(n))
}

// RepairDiagnostic records one repair diagnostic.
func (m *Metrics) RepairDiagnostic(ctx context.Context, kind string) {
	if m == nil || m.repairDiagnostics == nil {
		return
	}
	m.repairDiagnostics.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// NotificationFailed records one failed notification.
func (m *Metrics) NotificationFailed(ctx context.Context, event string) {
	if m == nil || m.notificationsFailed == nil {
		return
	}
	m.notificationsFailed.Add(ctx, 1, metric.WithAttributes(attribute.String("event", event)))
}
