package observability

import (
	"context"
	"encoding/json"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/victorbash400/rainmaker/hook"
	"github.com/victorbash400/rainmaker/pipeline"
)

const meterName = "github.com/victorbash400/rainmaker/observability"

// Compile-time interface checks.
var (
	_ hook.Extension         = (*MetricsExtension)(nil)
	_ hook.WorkflowCreated   = (*MetricsExtension)(nil)
	_ hook.StageStarted      = (*MetricsExtension)(nil)
	_ hook.StageCompleted    = (*MetricsExtension)(nil)
	_ hook.StageFailed       = (*MetricsExtension)(nil)
	_ hook.StageRetrying     = (*MetricsExtension)(nil)
	_ hook.WorkflowPaused    = (*MetricsExtension)(nil)
	_ hook.WorkflowResumed   = (*MetricsExtension)(nil)
	_ hook.WorkflowRerouted  = (*MetricsExtension)(nil)
	_ hook.WorkflowAwaiting  = (*MetricsExtension)(nil)
	_ hook.WorkflowCancelled = (*MetricsExtension)(nil)
	_ hook.WorkflowCompleted = (*MetricsExtension)(nil)
	_ hook.WorkflowFailed    = (*MetricsExtension)(nil)
)

// MetricsExtension records system-wide lifecycle metrics via OpenTelemetry.
// Register it on the hook registry to automatically track workflow creation,
// stage throughput, failure and retry rates, pauses, reroutes, and terminal
// outcomes. Per-execution latency lives in middleware.Metrics; this extension
// covers the events the middleware chain never sees.
type MetricsExtension struct {
	workflowCreated   metric.Int64Counter
	stageStarted      metric.Int64Counter
	stageCompleted    metric.Int64Counter
	stageFailed       metric.Int64Counter
	stageRetried      metric.Int64Counter
	workflowPaused    metric.Int64Counter
	workflowResumed   metric.Int64Counter
	workflowRerouted  metric.Int64Counter
	workflowAwaiting  metric.Int64Counter
	workflowCancelled metric.Int64Counter
	workflowCompleted metric.Int64Counter
	workflowFailed    metric.Int64Counter
}

// NewMetricsExtension creates a MetricsExtension using the global meter
// provider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the provided
// meter. Use an sdkmetric ManualReader-backed meter for testing.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	counter := func(name, desc string) metric.Int64Counter {
		c, _ := meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit("{event}"))
		return c
	}
	return &MetricsExtension{
		workflowCreated:   counter("rainmaker.workflow.created", "Workflows created"),
		stageStarted:      counter("rainmaker.stage.started", "Stage executions started"),
		stageCompleted:    counter("rainmaker.stage.completed", "Stage executions completed"),
		stageFailed:       counter("rainmaker.stage.failed", "Stage executions failed"),
		stageRetried:      counter("rainmaker.stage.retried", "Stage retries scheduled"),
		workflowPaused:    counter("rainmaker.workflow.paused", "Workflows paused for review"),
		workflowResumed:   counter("rainmaker.workflow.resumed", "Workflows resumed after review"),
		workflowRerouted:  counter("rainmaker.workflow.rerouted", "Workflows rerouted to an earlier stage"),
		workflowAwaiting:  counter("rainmaker.workflow.awaiting", "Workflows parked awaiting an external reply"),
		workflowCancelled: counter("rainmaker.workflow.cancelled", "Workflows cancelled"),
		workflowCompleted: counter("rainmaker.workflow.completed", "Workflows completed"),
		workflowFailed:    counter("rainmaker.workflow.failed", "Workflows failed terminally"),
	}
}

// Name implements hook.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

func stageAttr(stage pipeline.Stage) metric.AddOption {
	return metric.WithAttributes(attribute.String("stage", string(stage)))
}

// ── Stage lifecycle hooks ───────────────────────────

// OnWorkflowCreated implements hook.WorkflowCreated.
func (m *MetricsExtension) OnWorkflowCreated(ctx context.Context, _ *pipeline.State) error {
	m.workflowCreated.Add(ctx, 1)
	return nil
}

// OnStageStarted implements hook.StageStarted.
func (m *MetricsExtension) OnStageStarted(ctx context.Context, _ *pipeline.State, stage pipeline.Stage) error {
	m.stageStarted.Add(ctx, 1, stageAttr(stage))
	return nil
}

// OnStageCompleted implements hook.StageCompleted.
func (m *MetricsExtension) OnStageCompleted(ctx context.Context, _ *pipeline.State, stage pipeline.Stage, _ json.RawMessage, _ time.Duration) error {
	m.stageCompleted.Add(ctx, 1, stageAttr(stage))
	return nil
}

// OnStageFailed implements hook.StageFailed.
func (m *MetricsExtension) OnStageFailed(ctx context.Context, _ *pipeline.State, stage pipeline.Stage, _ error) error {
	m.stageFailed.Add(ctx, 1, stageAttr(stage))
	return nil
}

// OnStageRetrying implements hook.StageRetrying.
func (m *MetricsExtension) OnStageRetrying(ctx context.Context, _ *pipeline.State, stage pipeline.Stage, _ int, _ time.Duration) error {
	m.stageRetried.Add(ctx, 1, stageAttr(stage))
	return nil
}

// ── Workflow lifecycle hooks ────────────────────────

// OnWorkflowPaused implements hook.WorkflowPaused.
func (m *MetricsExtension) OnWorkflowPaused(ctx context.Context, _ *pipeline.State, pause *pipeline.PauseContext) error {
	m.workflowPaused.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(pause.Kind))))
	return nil
}

// OnWorkflowResumed implements hook.WorkflowResumed.
func (m *MetricsExtension) OnWorkflowResumed(ctx context.Context, _ *pipeline.State) error {
	m.workflowResumed.Add(ctx, 1)
	return nil
}

// OnWorkflowRerouted implements hook.WorkflowRerouted.
func (m *MetricsExtension) OnWorkflowRerouted(ctx context.Context, _ *pipeline.State, _, to pipeline.Stage) error {
	m.workflowRerouted.Add(ctx, 1, stageAttr(to))
	return nil
}

// OnWorkflowAwaiting implements hook.WorkflowAwaiting.
func (m *MetricsExtension) OnWorkflowAwaiting(ctx context.Context, _ *pipeline.State, stage pipeline.Stage) error {
	m.workflowAwaiting.Add(ctx, 1, stageAttr(stage))
	return nil
}

// OnWorkflowCancelled implements hook.WorkflowCancelled.
func (m *MetricsExtension) OnWorkflowCancelled(ctx context.Context, _ *pipeline.State) error {
	m.workflowCancelled.Add(ctx, 1)
	return nil
}

// OnWorkflowCompleted implements hook.WorkflowCompleted.
func (m *MetricsExtension) OnWorkflowCompleted(ctx context.Context, _ *pipeline.State) error {
	m.workflowCompleted.Add(ctx, 1)
	return nil
}

// OnWorkflowFailed implements hook.WorkflowFailed.
func (m *MetricsExtension) OnWorkflowFailed(ctx context.Context, _ *pipeline.State, _ string) error {
	m.workflowFailed.Add(ctx, 1)
	return nil
}
