package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/victorbash400/rainmaker"
	"github.com/victorbash400/rainmaker/audit"
	"github.com/victorbash400/rainmaker/backoff"
	"github.com/victorbash400/rainmaker/driver"
	"github.com/victorbash400/rainmaker/gate"
	"github.com/victorbash400/rainmaker/hook"
	"github.com/victorbash400/rainmaker/id"
	mw "github.com/victorbash400/rainmaker/middleware"
	"github.com/victorbash400/rainmaker/observability"
	"github.com/victorbash400/rainmaker/pipeline"
	"github.com/victorbash400/rainmaker/router"
	"github.com/victorbash400/rainmaker/stream"
)

// Engine wraps an Orchestrator with the fully wired pipeline subsystems:
// hook registry, event broker, audit recorder, review gate, and driver.
// Use Build() to create one from an Orchestrator.
type Engine struct {
	o      *rainmaker.Orchestrator
	hooks  *hook.Registry
	broker *stream.Broker

	pipelineStore pipeline.Store
	auditStore    audit.Store

	registry *driver.Registry
	gate     *gate.Gate
	driver   *driver.Driver

	rt  *router.Router
	bo  backoff.Strategy
	mws []mw.Middleware

	logger *slog.Logger

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures an Engine.
type Option func(*Engine)

// WithExtension registers an extension with the engine's hook registry.
func WithExtension(e hook.Extension) Option {
	return func(eng *Engine) {
		eng.hooks.Register(e)
	}
}

// WithMiddleware appends middleware to the stage execution chain, after
// the default stack.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) {
		eng.mws = append(eng.mws, m)
	}
}

// WithRouter sets a custom router. If not set, router.New with the
// default policy is used.
func WithRouter(r *router.Router) Option {
	return func(eng *Engine) {
		eng.rt = r
	}
}

// WithBackoff sets the retry backoff strategy. If not set, exponential
// backoff over the orchestrator's configured delay window is used.
func WithBackoff(b backoff.Strategy) Option {
	return func(eng *Engine) {
		eng.bo = b
	}
}

// WithTracerProvider sets a custom OTel TracerProvider for the engine.
// When set, the tracing middleware uses this provider instead of the
// global one.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) {
		eng.tracerProvider = tp
	}
}

// WithMeterProvider sets a custom OTel MeterProvider for the engine.
// When set, both the metrics middleware and the observability extension
// use this provider instead of the global one.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) {
		eng.meterProvider = mp
	}
}

// Build creates an Engine from an existing Orchestrator. The
// Orchestrator's store must implement pipeline.Store and audit.Store;
// a store that also implements driver.LeaseStore enables cross-process
// ownership leases.
func Build(o *rainmaker.Orchestrator, opts ...Option) (*Engine, error) {
	logger := o.Logger()
	st := o.Store()

	if st == nil {
		return nil, rainmaker.ErrNoStore
	}

	ps, ok := st.(pipeline.Store)
	if !ok {
		return nil, fmt.Errorf("rainmaker: store does not implement pipeline.Store")
	}
	as, ok := st.(audit.Store)
	if !ok {
		return nil, fmt.Errorf("rainmaker: store does not implement audit.Store")
	}

	eng := &Engine{
		o:             o,
		hooks:         hook.NewRegistry(logger),
		pipelineStore: ps,
		auditStore:    as,
		registry:      driver.NewRegistry(),
		logger:        logger,
	}

	for _, opt := range opts {
		opt(eng)
	}

	config := o.Config()

	if eng.bo == nil {
		eng.bo = backoff.NewExponential(config.BaseDelay, config.MaxDelay)
	}
	if eng.rt == nil {
		eng.rt = router.New(router.DefaultPolicy())
	}

	// Built-in extensions: the event broker, the audit recorder, and the
	// lifecycle metrics extension.
	eng.broker = stream.NewBroker(logger)
	eng.hooks.Register(eng.broker)
	eng.hooks.Register(audit.NewRecorder(as, logger))

	var obsExt *observability.MetricsExtension
	if eng.meterProvider != nil {
		obsExt = observability.NewMetricsExtensionWithMeter(
			eng.meterProvider.Meter("github.com/victorbash400/rainmaker/observability"))
	} else {
		obsExt = observability.NewMetricsExtension()
	}
	eng.hooks.Register(obsExt)

	o.SetHooks(eng.hooks)

	// The gate re-validates stage preconditions on resume; the binding
	// registry is its precondition source.
	eng.gate = gate.New(ps, eng.hooks, eng.registry, logger)

	// Build tracing middleware (custom provider or global).
	var tracingMw mw.Middleware
	if eng.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(eng.tracerProvider.Tracer("github.com/victorbash400/rainmaker"))
	} else {
		tracingMw = mw.Tracing()
	}

	// Build metrics middleware (custom provider or global).
	var metricsMw mw.Middleware
	if eng.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(eng.meterProvider.Meter("github.com/victorbash400/rainmaker"))
	} else {
		metricsMw = mw.Metrics()
	}

	// Default middleware stack: recover → tracing → metrics → logging → timeout.
	defaultMws := []mw.Middleware{
		mw.Recover(logger),
		tracingMw,
		metricsMw,
		mw.Logging(logger),
		mw.Timeout(logger, config.StageTimeout),
	}
	allMws := make([]mw.Middleware, 0, len(defaultMws)+len(eng.mws))
	allMws = append(allMws, defaultMws...)
	allMws = append(allMws, eng.mws...)

	driverOpts := []driver.Option{
		driver.WithRouter(eng.rt),
		driver.WithClassifier(pipeline.NewClassifier(config.MaxRetries, eng.bo)),
		driver.WithMiddleware(allMws...),
	}
	if config.StageRate > 0 {
		driverOpts = append(driverOpts, driver.WithRateLimit(config.StageRate))
	}
	if ls, leased := st.(driver.LeaseStore); leased && config.OwnerLeaseTTL > 0 {
		driverOpts = append(driverOpts, driver.WithLeases(ls, config.OwnerLeaseTTL))
	}

	eng.driver = driver.New(ps, eng.registry, eng.gate, eng.hooks, logger, driverOpts...)

	return eng, nil
}

// Bind registers a stage executor binding with the engine.
func (eng *Engine) Bind(b driver.Binding) {
	eng.registry.Bind(b)
}

// Start performs crash recovery: every workflow left in the executing
// state is re-advanced, bounded by the driver's resume concurrency.
// Best-effort; individual resume failures are logged, not returned.
func (eng *Engine) Start(ctx context.Context) error {
	if err := eng.o.Store().Ping(ctx); err != nil {
		return fmt.Errorf("rainmaker: store ping: %w", err)
	}
	return eng.driver.ResumeActive(ctx)
}

// Close shuts the engine down: extensions are notified, subscriber
// channels close, and the store is released.
func (eng *Engine) Close(ctx context.Context) error {
	return eng.o.Close(ctx)
}

// Create persists a new workflow for the given prospect and announces it.
// The workflow starts at the discovery stage; call Advance to run it.
func (eng *Engine) Create(ctx context.Context, prospectRef string) (*pipeline.State, error) {
	st := pipeline.NewState(prospectRef)
	if err := eng.pipelineStore.CreateState(ctx, st); err != nil {
		return nil, err
	}
	eng.hooks.EmitWorkflowCreated(ctx, st)
	return st, nil
}

// Advance drives the workflow forward until it parks, pauses, terminates,
// or the context is cancelled. Returns rainmaker.ErrNotOwner when another
// driver holds the workflow.
func (eng *Engine) Advance(ctx context.Context, workflowID id.WorkflowID) error {
	return eng.driver.Advance(ctx, workflowID)
}

// DeliverReply hands an external event payload to a workflow parked
// awaiting one, then advances it. Returns rainmaker.ErrInvalidState if
// the workflow is not awaiting a reply, rainmaker.ErrPaused if it is
// paused for review, and rainmaker.ErrTerminal if it already finished.
func (eng *Engine) DeliverReply(ctx context.Context, workflowID id.WorkflowID, payload json.RawMessage) error {
	st, err := eng.pipelineStore.GetState(ctx, workflowID)
	if err != nil {
		return err
	}
	if st.Terminal() {
		return rainmaker.ErrTerminal
	}
	if st.Pause != nil {
		return rainmaker.ErrPaused
	}
	if !st.AwaitingReply {
		return fmt.Errorf("rainmaker: workflow %s is not awaiting a reply: %w", workflowID, rainmaker.ErrInvalidState)
	}

	st.PendingReply = payload
	st.Touch()
	if err := eng.pipelineStore.PutState(ctx, st); err != nil {
		return err
	}
	return eng.driver.Advance(ctx, workflowID)
}

// RequestAssistance pauses a workflow on behalf of a stage that needs a
// human decision before it can proceed.
func (eng *Engine) RequestAssistance(ctx context.Context, workflowID id.WorkflowID, reason string, collabCtx json.RawMessage) (*pipeline.PauseContext, error) {
	return eng.gate.RequestAssistance(ctx, workflowID, reason, collabCtx)
}

// Resume lifts a review pause and advances the workflow. The paused
// stage's precondition is re-validated first: if it no longer holds, the
// workflow re-pauses with an updated reason and
// rainmaker.ErrPreconditionUnmet is returned.
func (eng *Engine) Resume(ctx context.Context, workflowID id.WorkflowID) error {
	if err := eng.gate.Resume(ctx, workflowID); err != nil {
		return err
	}
	return eng.driver.Advance(ctx, workflowID)
}

// Cancel terminates a workflow regardless of what it is doing. Any
// in-flight stage result is discarded when it lands.
func (eng *Engine) Cancel(ctx context.Context, workflowID id.WorkflowID) error {
	return eng.driver.Cancel(ctx, workflowID)
}

// Status returns the current state document for a workflow.
func (eng *Engine) Status(ctx context.Context, workflowID id.WorkflowID) (*pipeline.State, error) {
	return eng.pipelineStore.GetState(ctx, workflowID)
}

// List returns workflow state documents matching the options.
func (eng *Engine) List(ctx context.Context, opts pipeline.ListOpts) ([]*pipeline.State, error) {
	return eng.pipelineStore.ListStates(ctx, opts)
}

// Audit returns the audit trail for a workflow.
func (eng *Engine) Audit(ctx context.Context, workflowID id.WorkflowID, opts audit.ListOpts) ([]*audit.Record, error) {
	return eng.auditStore.ListAudit(ctx, workflowID, opts)
}

// Subscribe attaches a consumer to the event broker on the given topics.
func (eng *Engine) Subscribe(subscriberID string, topics ...string) *stream.Subscriber {
	return eng.broker.Subscribe(subscriberID, topics...)
}

// Unsubscribe removes a consumer from the event broker entirely.
func (eng *Engine) Unsubscribe(subscriberID string) {
	eng.broker.RemoveSubscriber(subscriberID)
}

// Hooks returns the hook registry.
func (eng *Engine) Hooks() *hook.Registry { return eng.hooks }

// Broker returns the event broker.
func (eng *Engine) Broker() *stream.Broker { return eng.broker }

// Gate returns the review gate.
func (eng *Engine) Gate() *gate.Gate { return eng.gate }

// Driver returns the pipeline driver.
func (eng *Engine) Driver() *driver.Driver { return eng.driver }

// Registry returns the stage binding registry.
func (eng *Engine) Registry() *driver.Registry { return eng.registry }

// Orchestrator returns the underlying Orchestrator.
func (eng *Engine) Orchestrator() *rainmaker.Orchestrator { return eng.o }
