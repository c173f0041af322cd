package driver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/victorbash400/rainmaker"
	"github.com/victorbash400/rainmaker/gate"
	"github.com/victorbash400/rainmaker/hook"
	"github.com/victorbash400/rainmaker/id"
	"github.com/victorbash400/rainmaker/middleware"
	"github.com/victorbash400/rainmaker/pipeline"
	"github.com/victorbash400/rainmaker/router"
)

// defaultResumeConcurrency bounds how many workflows a crash recovery
// sweep advances in parallel.
const defaultResumeConcurrency = 8

// Driver advances workflows through the pipeline. It owns the only write
// path for workflow state while a stage executes: exactly one Advance loop
// runs per workflow at a time, enforced in-process by the ownership table
// and across processes by an optional store lease.
type Driver struct {
	store      pipeline.Store
	leases     LeaseStore
	registry   *Registry
	router     *router.Router
	classifier *pipeline.Classifier
	gate       *gate.Gate
	hooks      *hook.Registry
	mw         middleware.Middleware
	limiter    *rate.Limiter
	owners     *ownership
	ownerID    id.OwnerID
	leaseTTL   time.Duration
	resumeConc int
	logger     *slog.Logger
}

// Option configures a Driver.
type Option func(*Driver)

// WithRouter sets the routing policy implementation.
func WithRouter(r *router.Router) Option {
	return func(d *Driver) { d.router = r }
}

// WithClassifier sets the failure classifier.
func WithClassifier(c *pipeline.Classifier) Option {
	return func(d *Driver) { d.classifier = c }
}

// WithMiddleware sets the middleware chain applied around every stage
// executor invocation. The first middleware is the outermost wrapper.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(d *Driver) { d.mw = middleware.Chain(mws...) }
}

// WithRateLimit limits outbound stage executor invocations per second
// across all workflows this driver advances. Zero disables the limiter.
func WithRateLimit(perSecond float64) Option {
	return func(d *Driver) {
		if perSecond <= 0 {
			d.limiter = nil
			return
		}
		burst := int(perSecond)
		if burst < 1 {
			burst = 1
		}
		d.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithLeases enables cross-process ownership via a TTL lease store.
func WithLeases(ls LeaseStore, ttl time.Duration) Option {
	return func(d *Driver) {
		d.leases = ls
		d.leaseTTL = ttl
	}
}

// WithResumeConcurrency bounds the parallelism of ResumeActive.
func WithResumeConcurrency(n int) Option {
	return func(d *Driver) {
		if n > 0 {
			d.resumeConc = n
		}
	}
}

// New creates a Driver. The gate must share the driver's store and
// registry so resumes re-validate the same entry preconditions.
func New(store pipeline.Store, registry *Registry, g *gate.Gate, hooks *hook.Registry, logger *slog.Logger, opts ...Option) *Driver {
	d := &Driver{
		store:      store,
		registry:   registry,
		router:     router.New(router.DefaultPolicy()),
		classifier: pipeline.NewClassifier(rainmaker.DefaultConfig().MaxRetries, nil),
		gate:       g,
		hooks:      hooks,
		mw:         middleware.Chain(),
		owners:     newOwnership(),
		ownerID:    id.NewOwnerID(),
		resumeConc: defaultResumeConcurrency,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// OwnerID returns the driver's unique owner identifier.
func (d *Driver) OwnerID() id.OwnerID { return d.ownerID }

// Advance drives the workflow forward until it terminates, pauses, parks
// awaiting an external event, or fails. It returns rainmaker.ErrNotOwner
// when another advance loop already owns the workflow; the caller may
// treat that as "already being handled".
func (d *Driver) Advance(ctx context.Context, workflowID id.WorkflowID) error {
	if !d.owners.acquire(workflowID) {
		return fmt.Errorf("%w: workflow %s is already being advanced", rainmaker.ErrNotOwner, workflowID)
	}
	defer d.owners.release(workflowID)

	if d.leases != nil {
		held, err := d.leases.AcquireLease(ctx, workflowID, d.ownerID, d.leaseTTL)
		if err != nil {
			return fmt.Errorf("acquire workflow lease: %w", err)
		}
		if !held {
			return fmt.Errorf("%w: workflow %s is leased to another process", rainmaker.ErrNotOwner, workflowID)
		}
		defer func() {
			if relErr := d.leases.ReleaseLease(context.WithoutCancel(ctx), workflowID, d.ownerID); relErr != nil {
				d.logger.Warn("failed to release workflow lease",
					slog.String("workflow_id", workflowID.String()),
					slog.String("error", relErr.Error()))
			}
		}()
	}

	for {
		again, err := d.advanceOnce(ctx, workflowID)
		if err != nil {
			return err
		}
		if !again {
			return nil
		}
	}
}

// advanceOnce executes at most one stage. It reports whether the loop
// should keep going.
func (d *Driver) advanceOnce(ctx context.Context, workflowID id.WorkflowID) (bool, error) {
	st, err := d.store.GetState(ctx, workflowID)
	if err != nil {
		return false, err
	}

	if st.Terminal() {
		return false, nil
	}
	if st.Pause != nil {
		// Waiting for a human; Resume restarts the loop.
		return false, nil
	}

	binding, ok := d.registry.Get(st.CurrentStage)
	if !ok {
		return false, fmt.Errorf("%w: stage %s", rainmaker.ErrNoExecutor, st.CurrentStage)
	}

	// Pausable-on-entry stage: park until the external event arrives.
	if binding.AwaitsReply {
		if !st.AwaitingReply && len(st.PendingReply) == 0 {
			st.AwaitingReply = true
			st.Touch()
			if err := d.persistFenced(ctx, st, st.Generation); err != nil {
				if errors.Is(err, rainmaker.ErrStaleGeneration) {
					return false, nil
				}
				return false, fmt.Errorf("persist awaiting state: %w", err)
			}
			d.logger.Info("workflow parked awaiting external event",
				slog.String("workflow_id", workflowID.String()),
				slog.String("stage", string(st.CurrentStage)))
			d.hooks.EmitWorkflowAwaiting(ctx, st, st.CurrentStage)
			return false, nil
		}
		if len(st.PendingReply) == 0 {
			return false, nil
		}
		st.AwaitingReply = false
	}

	// Entry precondition. An unmet precondition is not a failure: the
	// workflow pauses for assistance and a resume re-checks it.
	if binding.Precondition != nil {
		if preErr := binding.Precondition(ctx, st); preErr != nil {
			return false, d.gate.Escalate(ctx, st, pipeline.PauseAssistance, preErr.Error())
		}
	}

	return d.step(ctx, st, binding)
}

// step runs the stage executor once and applies the outcome.
func (d *Driver) step(ctx context.Context, st *pipeline.State, binding Binding) (bool, error) {
	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return false, err
		}
	}

	gen := st.Generation
	stage := st.CurrentStage
	d.hooks.EmitStageStarted(ctx, st, stage)

	// The terminal handler that calls the bound stage executor. The
	// executor gets a clone so it cannot mutate the document the driver
	// owns.
	terminal := func(ctx context.Context) (json.RawMessage, error) {
		return binding.Executor.Execute(ctx, st.Clone())
	}

	start := time.Now()
	result, execErr := d.mw(ctx, st, terminal)
	elapsed := time.Since(start)

	// Reload before applying anything: a cancel may have bumped the
	// generation and the gate may have paused the workflow while the
	// executor ran.
	fresh, err := d.store.GetState(ctx, st.ID)
	if err != nil {
		return false, err
	}
	if fresh.Generation != gen {
		d.logger.Info("discarding stale stage result",
			slog.String("workflow_id", st.ID.String()),
			slog.String("stage", string(stage)),
			slog.Int64("generation", gen),
			slog.Int64("current_generation", fresh.Generation))
		return false, nil
	}

	var again bool
	var applyErr error
	switch {
	case execErr != nil:
		if errors.Is(execErr, rainmaker.ErrAssistanceRequested) {
			// The executor already raised the pause through the gate;
			// the persisted pause context is the source of truth.
			return false, nil
		}
		again, applyErr = d.handleFailure(ctx, fresh, stage, execErr)
	case fresh.Pause != nil:
		// A pause landed mid-run. It wins over the result: the human
		// decides, and the stage re-runs after resume.
		return false, nil
	default:
		again, applyErr = d.handleSuccess(ctx, fresh, stage, result, elapsed)
	}

	// A cancel that landed after the reload trips the fence inside the
	// persist instead; the outcome is discarded the same way.
	if errors.Is(applyErr, rainmaker.ErrStaleGeneration) {
		d.logger.Info("discarding stale stage result",
			slog.String("workflow_id", st.ID.String()),
			slog.String("stage", string(stage)),
			slog.Int64("generation", gen))
		return false, nil
	}
	return again, applyErr
}

// persistFenced writes the state only while the stored generation still
// matches expect. The per-workflow write lock makes the check and the
// write atomic with respect to Cancel, which bumps the generation from
// outside the advance loop's ownership.
func (d *Driver) persistFenced(ctx context.Context, st *pipeline.State, expect int64) error {
	mu := d.owners.writeLock(st.ID)
	mu.Lock()
	defer mu.Unlock()

	stored, err := d.store.GetState(ctx, st.ID)
	if err != nil {
		return err
	}
	if stored.Generation != expect {
		return fmt.Errorf("%w: workflow %s is at generation %d, expected %d",
			rainmaker.ErrStaleGeneration, st.ID, stored.Generation, expect)
	}
	return d.store.PutState(ctx, st)
}

// handleSuccess records the stage result and applies the router's decision.
func (d *Driver) handleSuccess(ctx context.Context, st *pipeline.State, stage pipeline.Stage, result json.RawMessage, elapsed time.Duration) (bool, error) {
	st.MarkStageComplete(stage, result)
	// The retry streak ended in a success, even when the router holds the
	// workflow at the same stage for review.
	st.RetryCount = 0
	st.PendingReply = nil
	d.hooks.EmitStageCompleted(ctx, st, stage, result, elapsed)

	return d.apply(ctx, st, d.router.Decide(st))
}

// handleFailure classifies the failure and applies the verdict.
func (d *Driver) handleFailure(ctx context.Context, st *pipeline.State, stage pipeline.Stage, execErr error) (bool, error) {
	verdict := d.classifier.Classify(stage, execErr, st.RetryCount)
	st.RecordError(stage, verdict.Kind, execErr.Error(), verdict.Retryable)
	d.hooks.EmitStageFailed(ctx, st, stage, execErr)

	switch verdict.Action {
	case pipeline.ActionRetry:
		return d.scheduleRetry(ctx, st, stage, verdict, execErr)

	case pipeline.ActionRoute:
		if err := d.persistFenced(ctx, st, st.Generation); err != nil {
			return false, fmt.Errorf("persist error record: %w", err)
		}
		return d.apply(ctx, st, d.router.DecideFailure(st))

	case pipeline.ActionCancel:
		return false, d.terminateCancelled(ctx, st)

	default: // pipeline.ActionEscalate
		d.logger.Warn("stage failure escalated to human",
			slog.String("workflow_id", st.ID.String()),
			slog.String("stage", string(stage)),
			slog.String("kind", string(verdict.Kind)),
			slog.String("error", execErr.Error()))
		return false, d.gate.Escalate(ctx, st, pipeline.PauseEscalated, execErr.Error())
	}
}

// scheduleRetry persists the incremented retry counter, waits out the
// backoff, and keeps the loop going.
func (d *Driver) scheduleRetry(ctx context.Context, st *pipeline.State, stage pipeline.Stage, verdict pipeline.Verdict, execErr error) (bool, error) {
	st.RetryCount++
	st.Touch()
	if err := d.persistFenced(ctx, st, st.Generation); err != nil {
		return false, fmt.Errorf("persist retry state: %w", err)
	}

	d.hooks.EmitStageRetrying(ctx, st, stage, st.RetryCount, verdict.Delay)
	d.logger.Info("stage scheduled for retry",
		slog.String("workflow_id", st.ID.String()),
		slog.String("stage", string(stage)),
		slog.Int("attempt", st.RetryCount),
		slog.Int("max_retries", d.classifier.MaxRetries),
		slog.Duration("delay", verdict.Delay),
		slog.String("error", execErr.Error()))

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case <-time.After(verdict.Delay):
	}
	return true, nil
}

// apply executes a router decision against the state document.
func (d *Driver) apply(ctx context.Context, st *pipeline.State, decision router.Decision) (bool, error) {
	switch decision.Kind {
	case router.KindProceed:
		st.SetStage(decision.Next)
		if err := d.persistFenced(ctx, st, st.Generation); err != nil {
			return false, fmt.Errorf("persist stage transition: %w", err)
		}
		return true, nil

	case router.KindRetrySame:
		if err := d.persistFenced(ctx, st, st.Generation); err != nil {
			return false, fmt.Errorf("persist retry state: %w", err)
		}
		return true, nil

	case router.KindReroute:
		from := st.CurrentStage
		if err := st.RerouteTo(decision.Target); err != nil {
			return false, err
		}
		if err := d.persistFenced(ctx, st, st.Generation); err != nil {
			return false, fmt.Errorf("persist reroute: %w", err)
		}
		d.logger.Info("workflow rerouted",
			slog.String("workflow_id", st.ID.String()),
			slog.String("from", string(from)),
			slog.String("to", string(decision.Target)))
		d.hooks.EmitWorkflowRerouted(ctx, st, from, decision.Target)
		return true, nil

	case router.KindNeedsReview:
		return false, d.gate.Escalate(ctx, st, pipeline.PauseNeedsReview, decision.Reason)

	case router.KindTerminate:
		if decision.Outcome == router.OutcomeCompleted {
			return false, d.terminateCompleted(ctx, st)
		}
		return false, d.terminateFailed(ctx, st, decision.Reason)

	default:
		return false, fmt.Errorf("unknown router decision %q", decision.Kind)
	}
}

func (d *Driver) terminateCompleted(ctx context.Context, st *pipeline.State) error {
	st.SetStage(pipeline.StageCompleted)
	st.Archive()
	if err := d.persistFenced(ctx, st, st.Generation); err != nil {
		return fmt.Errorf("persist completion: %w", err)
	}
	d.logger.Info("workflow completed",
		slog.String("workflow_id", st.ID.String()),
		slog.String("prospect_ref", st.ProspectRef))
	d.hooks.EmitWorkflowCompleted(ctx, st)
	return nil
}

func (d *Driver) terminateFailed(ctx context.Context, st *pipeline.State, reason string) error {
	st.Failed = true
	st.Archive()
	if err := d.persistFenced(ctx, st, st.Generation); err != nil {
		return fmt.Errorf("persist failure: %w", err)
	}
	d.logger.Warn("workflow failed",
		slog.String("workflow_id", st.ID.String()),
		slog.String("stage", string(st.CurrentStage)),
		slog.String("reason", reason))
	d.hooks.EmitWorkflowFailed(ctx, st, reason)
	return nil
}

func (d *Driver) terminateCancelled(ctx context.Context, st *pipeline.State) error {
	expect := st.Generation
	st.Generation++
	st.ClearPause()
	st.PendingReply = nil
	st.SetStage(pipeline.StageCancelled)
	st.Archive()
	if err := d.persistFenced(ctx, st, expect); err != nil {
		if errors.Is(err, rainmaker.ErrStaleGeneration) {
			return err
		}
		return fmt.Errorf("persist cancellation: %w", err)
	}
	d.logger.Info("workflow cancelled",
		slog.String("workflow_id", st.ID.String()))
	d.hooks.EmitWorkflowCancelled(ctx, st)
	return nil
}

// Cancel terminates a workflow regardless of what it is doing. The
// generation bump fences any in-flight executor result: the advance loop
// re-checks the generation inside every persist and discards the result
// on a mismatch.
func (d *Driver) Cancel(ctx context.Context, workflowID id.WorkflowID) error {
	st, err := d.store.GetState(ctx, workflowID)
	if err != nil {
		return err
	}
	if st.Terminal() {
		return fmt.Errorf("%w: workflow %s", rainmaker.ErrTerminal, workflowID)
	}
	if err := d.terminateCancelled(ctx, st); err != nil {
		if errors.Is(err, rainmaker.ErrStaleGeneration) {
			// Another cancel won the race; the workflow is terminal.
			return fmt.Errorf("%w: workflow %s", rainmaker.ErrTerminal, workflowID)
		}
		return err
	}
	return nil
}

// ResumeActive sweeps the store for workflows that were executing when the
// process stopped and advances each of them. Workflows owned by another
// advance loop are skipped.
func (d *Driver) ResumeActive(ctx context.Context) error {
	states, err := d.store.ListStates(ctx, pipeline.ListOpts{Status: pipeline.StatusExecuting})
	if err != nil {
		return fmt.Errorf("list active workflows: %w", err)
	}
	if len(states) == 0 {
		return nil
	}

	d.logger.Info("resuming active workflows", slog.Int("count", len(states)))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.resumeConc)
	for _, st := range states {
		g.Go(func() error {
			if err := d.Advance(gctx, st.ID); err != nil && !errors.Is(err, rainmaker.ErrNotOwner) {
				d.logger.Error("failed to resume workflow",
					slog.String("workflow_id", st.ID.String()),
					slog.String("error", err.Error()))
			}
			return nil
		})
	}
	return g.Wait()
}
