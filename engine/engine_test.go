package engine_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/victorbash400/rainmaker"
	"github.com/victorbash400/rainmaker/audit"
	"github.com/victorbash400/rainmaker/backoff"
	"github.com/victorbash400/rainmaker/driver"
	"github.com/victorbash400/rainmaker/engine"
	"github.com/victorbash400/rainmaker/id"
	"github.com/victorbash400/rainmaker/pipeline"
	"github.com/victorbash400/rainmaker/store/memory"
	"github.com/victorbash400/rainmaker/stream"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine(t *testing.T, oOpts []rainmaker.Option, eOpts ...engine.Option) *engine.Engine {
	t.Helper()

	opts := append([]rainmaker.Option{
		rainmaker.WithStore(memory.New()),
		rainmaker.WithLogger(testLogger()),
	}, oOpts...)
	o, err := rainmaker.New(opts...)
	if err != nil {
		t.Fatalf("rainmaker.New: %v", err)
	}

	eOpts = append([]engine.Option{
		engine.WithBackoff(backoff.NewConstant(time.Millisecond)),
	}, eOpts...)
	eng, err := engine.Build(o, eOpts...)
	if err != nil {
		t.Fatalf("engine.Build: %v", err)
	}
	return eng
}

// okExecutor returns a fixed payload for every invocation.
func okExecutor(payload string) driver.ExecutorFunc {
	return func(_ context.Context, _ *pipeline.State) (json.RawMessage, error) {
		return json.RawMessage(payload), nil
	}
}

// goodEnrichment is an enrichment result the default routing policy
// accepts: confident and with a reachable contact.
const goodEnrichment = `{"confidence":0.92,"contact":{"email":"cto@prospect.example"}}`

// bindHappyPath binds all six working stages with executors that succeed.
func bindHappyPath(eng *engine.Engine) {
	eng.Bind(driver.Binding{Stage: pipeline.StageDiscovery, Executor: okExecutor(`{"prospects":3}`)})
	eng.Bind(driver.Binding{Stage: pipeline.StageEnrichment, Executor: okExecutor(goodEnrichment)})
	eng.Bind(driver.Binding{Stage: pipeline.StageOutreach, Executor: okExecutor(`{"sent":true}`)})
	eng.Bind(driver.Binding{Stage: pipeline.StageConversation, Executor: okExecutor(`{"sentiment":"positive"}`)})
	eng.Bind(driver.Binding{Stage: pipeline.StageProposal, Executor: okExecutor(`{"proposal":"q3-pilot"}`)})
	eng.Bind(driver.Binding{Stage: pipeline.StageMeeting, Executor: okExecutor(`{"booked_at":"2026-09-01T10:00:00Z"}`)})
}

// ──────────────────────────────────────────────────
// End-to-end: Create → Advance → Completed
// ──────────────────────────────────────────────────

func TestEngine_EndToEnd_HappyPath(t *testing.T) {
	eng := newTestEngine(t, nil)
	bindHappyPath(eng)
	ctx := context.Background()

	st, err := eng.Create(ctx, "acct-1042")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if st.CurrentStage != pipeline.StageDiscovery {
		t.Errorf("CurrentStage = %q, want %q", st.CurrentStage, pipeline.StageDiscovery)
	}

	if err := eng.Advance(ctx, st.ID); err != nil {
		t.Fatalf("Advance: %v", err)
	}

	got, err := eng.Status(ctx, st.ID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if got.Status() != pipeline.StatusCompleted {
		t.Fatalf("Status() = %q, want %q", got.Status(), pipeline.StatusCompleted)
	}
	if got.CurrentStage != pipeline.StageCompleted {
		t.Errorf("CurrentStage = %q, want %q", got.CurrentStage, pipeline.StageCompleted)
	}
	if len(got.CompletedStages) != len(pipeline.Order) {
		t.Errorf("CompletedStages = %v, want all working stages", got.CompletedStages)
	}
	for _, stage := range pipeline.Order {
		if len(got.Result(stage)) == 0 {
			t.Errorf("stage %s has no recorded result", stage)
		}
	}
	if got.ArchivedAt == nil {
		t.Error("terminal workflow was not archived")
	}
}

func TestEngine_Create_PersistsAndAnnounces(t *testing.T) {
	eng := newTestEngine(t, nil)
	ctx := context.Background()

	sub := eng.Subscribe("watcher", stream.TopicWorkflows)
	defer eng.Unsubscribe("watcher")

	st, err := eng.Create(ctx, "acct-7")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	select {
	case evt := <-sub.C():
		if evt.Type != stream.EventWorkflowCreated {
			t.Errorf("event type = %q, want %q", evt.Type, stream.EventWorkflowCreated)
		}
		if evt.WorkflowID != st.ID.String() {
			t.Errorf("event workflow id = %q, want %q", evt.WorkflowID, st.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for workflow.created event")
	}
}

func TestEngine_Advance_UnboundStage(t *testing.T) {
	eng := newTestEngine(t, nil)
	ctx := context.Background()

	st, err := eng.Create(ctx, "acct-8")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := eng.Advance(ctx, st.ID); !errors.Is(err, rainmaker.ErrNoExecutor) {
		t.Errorf("Advance with no bindings: err = %v, want ErrNoExecutor", err)
	}
}

// ──────────────────────────────────────────────────
// Awaiting an external reply
// ──────────────────────────────────────────────────

func TestEngine_AwaitsReply_ParksThenDelivers(t *testing.T) {
	eng := newTestEngine(t, nil)
	ctx := context.Background()

	var gotReply atomic.Value
	bindHappyPath(eng)
	eng.Bind(driver.Binding{
		Stage:       pipeline.StageConversation,
		AwaitsReply: true,
		Executor: driver.ExecutorFunc(func(_ context.Context, st *pipeline.State) (json.RawMessage, error) {
			gotReply.Store(string(st.PendingReply))
			return json.RawMessage(`{"sentiment":"positive"}`), nil
		}),
	})

	st, err := eng.Create(ctx, "acct-9")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := eng.Advance(ctx, st.ID); err != nil {
		t.Fatalf("Advance: %v", err)
	}

	parked, err := eng.Status(ctx, st.ID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if parked.CurrentStage != pipeline.StageConversation {
		t.Fatalf("CurrentStage = %q, want %q", parked.CurrentStage, pipeline.StageConversation)
	}
	if !parked.AwaitingReply {
		t.Fatal("workflow is not parked awaiting a reply")
	}
	if parked.Status() != pipeline.StatusExecuting {
		t.Errorf("Status() = %q, want %q (awaiting is not a pause)", parked.Status(), pipeline.StatusExecuting)
	}

	reply := json.RawMessage(`{"body":"yes, let's talk"}`)
	if err := eng.DeliverReply(ctx, st.ID, reply); err != nil {
		t.Fatalf("DeliverReply: %v", err)
	}

	if got, _ := gotReply.Load().(string); got != string(reply) {
		t.Errorf("executor saw reply %q, want %q", got, reply)
	}

	final, err := eng.Status(ctx, st.ID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if final.Status() != pipeline.StatusCompleted {
		t.Errorf("Status() = %q, want %q", final.Status(), pipeline.StatusCompleted)
	}
	if len(final.PendingReply) != 0 {
		t.Error("pending reply payload was not cleared after consumption")
	}
}

func TestEngine_DeliverReply_NotAwaiting(t *testing.T) {
	eng := newTestEngine(t, nil)
	ctx := context.Background()

	st, err := eng.Create(ctx, "acct-10")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	err = eng.DeliverReply(ctx, st.ID, json.RawMessage(`{}`))
	if !errors.Is(err, rainmaker.ErrInvalidState) {
		t.Errorf("DeliverReply on fresh workflow: err = %v, want ErrInvalidState", err)
	}
}

// ──────────────────────────────────────────────────
// Transient failures and the retry budget
// ──────────────────────────────────────────────────

func TestEngine_TransientFailure_RetriesThenSucceeds(t *testing.T) {
	eng := newTestEngine(t, nil)
	ctx := context.Background()

	var attempts atomic.Int32
	bindHappyPath(eng)
	eng.Bind(driver.Binding{
		Stage: pipeline.StageDiscovery,
		Executor: driver.ExecutorFunc(func(_ context.Context, st *pipeline.State) (json.RawMessage, error) {
			if attempts.Add(1) <= 2 {
				return nil, pipeline.Faultf(pipeline.KindTransientExternal, pipeline.StageDiscovery, "search API rate limited")
			}
			return json.RawMessage(`{"prospects":1}`), nil
		}),
	})

	st, err := eng.Create(ctx, "acct-11")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := eng.Advance(ctx, st.ID); err != nil {
		t.Fatalf("Advance: %v", err)
	}

	if got := attempts.Load(); got != 3 {
		t.Errorf("discovery attempts = %d, want 3", got)
	}

	final, err := eng.Status(ctx, st.ID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if final.Status() != pipeline.StatusCompleted {
		t.Fatalf("Status() = %q, want %q", final.Status(), pipeline.StatusCompleted)
	}
	if len(final.Errors) != 2 {
		t.Errorf("error trail length = %d, want 2", len(final.Errors))
	}
	for _, rec := range final.Errors {
		if rec.Kind != pipeline.KindTransientExternal {
			t.Errorf("error kind = %q, want %q", rec.Kind, pipeline.KindTransientExternal)
		}
		if !rec.Retryable {
			t.Error("transient error recorded as non-retryable")
		}
	}
	// RetryCount is per-stage and resets on transition.
	if final.RetryCount != 0 {
		t.Errorf("RetryCount = %d, want 0 after stage transitions", final.RetryCount)
	}
}

func TestEngine_RetriesExhausted_EscalatesThenResumes(t *testing.T) {
	eng := newTestEngine(t, []rainmaker.Option{rainmaker.WithMaxRetries(2)})
	ctx := context.Background()

	var healthy atomic.Bool
	bindHappyPath(eng)
	eng.Bind(driver.Binding{
		Stage: pipeline.StageDiscovery,
		Executor: driver.ExecutorFunc(func(_ context.Context, st *pipeline.State) (json.RawMessage, error) {
			if !healthy.Load() {
				return nil, pipeline.Faultf(pipeline.KindTransientExternal, pipeline.StageDiscovery, "search API down")
			}
			return json.RawMessage(`{"prospects":1}`), nil
		}),
	})

	st, err := eng.Create(ctx, "acct-12")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := eng.Advance(ctx, st.ID); err != nil {
		t.Fatalf("Advance: %v", err)
	}

	paused, err := eng.Status(ctx, st.ID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if paused.Status() != pipeline.StatusPausedForHuman {
		t.Fatalf("Status() = %q, want %q", paused.Status(), pipeline.StatusPausedForHuman)
	}
	if paused.Pause == nil || paused.Pause.Kind != pipeline.PauseEscalated {
		t.Fatalf("Pause = %+v, want kind %q", paused.Pause, pipeline.PauseEscalated)
	}
	// Budget of 2 retries: initial attempt plus two retries recorded.
	if len(paused.Errors) != 3 {
		t.Fatalf("error trail length = %d, want 3", len(paused.Errors))
	}
	// The first two attempts still had budget; the one that escalated
	// did not, whatever the kind's general retryability says.
	for i, rec := range paused.Errors[:2] {
		if !rec.Retryable {
			t.Errorf("error %d recorded as non-retryable", i)
		}
	}
	if paused.Errors[2].Retryable {
		t.Error("budget-exhausting failure recorded as retryable")
	}

	// Dead-end while still broken: the workflow pauses again.
	if err := eng.Advance(ctx, st.ID); err != nil {
		t.Fatalf("Advance on paused workflow: %v", err)
	}
	stillPaused, _ := eng.Status(ctx, st.ID)
	if stillPaused.Pause == nil {
		t.Fatal("advancing a paused workflow lifted the pause")
	}

	// Operator fixes the upstream and resumes.
	healthy.Store(true)
	if err := eng.Resume(ctx, st.ID); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	final, _ := eng.Status(ctx, st.ID)
	if final.Status() != pipeline.StatusCompleted {
		t.Errorf("Status() = %q, want %q after resume", final.Status(), pipeline.StatusCompleted)
	}
}

func TestEngine_CriticalFailure_EscalatesImmediately(t *testing.T) {
	eng := newTestEngine(t, nil)
	ctx := context.Background()

	var attempts atomic.Int32
	eng.Bind(driver.Binding{
		Stage: pipeline.StageDiscovery,
		Executor: driver.ExecutorFunc(func(_ context.Context, st *pipeline.State) (json.RawMessage, error) {
			attempts.Add(1)
			return nil, pipeline.Faultf(pipeline.KindCriticalService, pipeline.StageDiscovery, "analysis model unavailable")
		}),
	})

	st, err := eng.Create(ctx, "acct-13")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := eng.Advance(ctx, st.ID); err != nil {
		t.Fatalf("Advance: %v", err)
	}

	if got := attempts.Load(); got != 1 {
		t.Errorf("critical failure was attempted %d times, want 1 (never retried)", got)
	}
	paused, _ := eng.Status(ctx, st.ID)
	if paused.Pause == nil || paused.Pause.Kind != pipeline.PauseEscalated {
		t.Fatalf("Pause = %+v, want kind %q", paused.Pause, pipeline.PauseEscalated)
	}
}

// ──────────────────────────────────────────────────
// Router verdicts: review and reroute
// ──────────────────────────────────────────────────

func TestEngine_LowConfidenceEnrichment_NeedsReview(t *testing.T) {
	eng := newTestEngine(t, nil)
	ctx := context.Background()

	bindHappyPath(eng)
	eng.Bind(driver.Binding{
		Stage:    pipeline.StageEnrichment,
		Executor: okExecutor(`{"confidence":0.2,"contact":{"email":"maybe@prospect.example"}}`),
	})

	st, err := eng.Create(ctx, "acct-14")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := eng.Advance(ctx, st.ID); err != nil {
		t.Fatalf("Advance: %v", err)
	}

	got, _ := eng.Status(ctx, st.ID)
	if got.Status() != pipeline.StatusNeedsReview {
		t.Fatalf("Status() = %q, want %q", got.Status(), pipeline.StatusNeedsReview)
	}
	if got.Pause == nil || got.Pause.Kind != pipeline.PauseNeedsReview {
		t.Fatalf("Pause = %+v, want kind %q", got.Pause, pipeline.PauseNeedsReview)
	}
	if !strings.Contains(got.Pause.Reason, "confidence") {
		t.Errorf("pause reason %q does not explain the confidence threshold", got.Pause.Reason)
	}
	// The low-confidence result is kept for the reviewer.
	if len(got.Result(pipeline.StageEnrichment)) == 0 {
		t.Error("enrichment result missing; reviewer has nothing to judge")
	}
}

func TestEngine_MissingContact_ReroutesToDiscovery(t *testing.T) {
	eng := newTestEngine(t, nil)
	ctx := context.Background()

	var discoveryRuns, enrichmentRuns atomic.Int32
	bindHappyPath(eng)
	eng.Bind(driver.Binding{
		Stage: pipeline.StageDiscovery,
		Executor: driver.ExecutorFunc(func(_ context.Context, st *pipeline.State) (json.RawMessage, error) {
			discoveryRuns.Add(1)
			return json.RawMessage(`{"prospects":1}`), nil
		}),
	})
	eng.Bind(driver.Binding{
		Stage: pipeline.StageEnrichment,
		Executor: driver.ExecutorFunc(func(_ context.Context, st *pipeline.State) (json.RawMessage, error) {
			if enrichmentRuns.Add(1) == 1 {
				// Confident but unreachable: no email, no phone.
				return json.RawMessage(`{"confidence":0.9,"contact":{}}`), nil
			}
			return json.RawMessage(goodEnrichment), nil
		}),
	})

	st, err := eng.Create(ctx, "acct-15")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	sub := eng.Subscribe("reroute-watcher", stream.TopicWorkflows)
	defer eng.Unsubscribe("reroute-watcher")

	if err := eng.Advance(ctx, st.ID); err != nil {
		t.Fatalf("Advance: %v", err)
	}

	if got := discoveryRuns.Load(); got != 2 {
		t.Errorf("discovery ran %d times, want 2 (original + after reroute)", got)
	}
	if got := enrichmentRuns.Load(); got != 2 {
		t.Errorf("enrichment ran %d times, want 2", got)
	}

	final, _ := eng.Status(ctx, st.ID)
	if final.Status() != pipeline.StatusCompleted {
		t.Fatalf("Status() = %q, want %q", final.Status(), pipeline.StatusCompleted)
	}

	var sawReroute bool
	for done := false; !done; {
		select {
		case evt := <-sub.C():
			if evt.Type == stream.EventWorkflowRerouted {
				sawReroute = true
				done = true
			}
		default:
			done = true
		}
	}
	if !sawReroute {
		t.Error("no workflow.rerouted event observed")
	}
}

func TestEngine_FailureAfterReroute_PausesForReview(t *testing.T) {
	eng := newTestEngine(t, nil)
	ctx := context.Background()

	// Discovery succeeds, enrichment walks the pipeline back, and the
	// discovery re-run fails. The stale result of the first run must not
	// be mistaken for the outcome of the failed one.
	var discoveryRuns, enrichmentRuns atomic.Int32
	bindHappyPath(eng)
	eng.Bind(driver.Binding{
		Stage: pipeline.StageDiscovery,
		Executor: driver.ExecutorFunc(func(_ context.Context, st *pipeline.State) (json.RawMessage, error) {
			if discoveryRuns.Add(1) == 2 {
				return nil, pipeline.Faultf(pipeline.KindDataQuality, pipeline.StageDiscovery, "prospect list empty")
			}
			return json.RawMessage(`{"prospects":1}`), nil
		}),
	})
	eng.Bind(driver.Binding{
		Stage: pipeline.StageEnrichment,
		Executor: driver.ExecutorFunc(func(_ context.Context, st *pipeline.State) (json.RawMessage, error) {
			if enrichmentRuns.Add(1) == 1 {
				return json.RawMessage(`{"confidence":0.9,"contact":{}}`), nil
			}
			return json.RawMessage(goodEnrichment), nil
		}),
	})

	st, err := eng.Create(ctx, "acct-27")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := eng.Advance(ctx, st.ID); err != nil {
		t.Fatalf("Advance: %v", err)
	}

	paused, err := eng.Status(ctx, st.ID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if paused.Status() != pipeline.StatusNeedsReview {
		t.Fatalf("Status() = %q, want %q", paused.Status(), pipeline.StatusNeedsReview)
	}
	if paused.CurrentStage != pipeline.StageDiscovery {
		t.Errorf("CurrentStage = %q, want %q", paused.CurrentStage, pipeline.StageDiscovery)
	}
	if got := enrichmentRuns.Load(); got != 1 {
		t.Errorf("enrichment ran %d times after the discovery failure, want 1", got)
	}
	if err := paused.Validate(); err != nil {
		t.Errorf("paused state is invalid: %v", err)
	}

	// The operator resumes; the next discovery run succeeds and the
	// pipeline completes.
	if err := eng.Resume(ctx, st.ID); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	final, _ := eng.Status(ctx, st.ID)
	if final.Status() != pipeline.StatusCompleted {
		t.Errorf("Status() = %q, want %q", final.Status(), pipeline.StatusCompleted)
	}
	if got := discoveryRuns.Load(); got != 3 {
		t.Errorf("discovery ran %d times, want 3", got)
	}
}

func TestEngine_ReviewAfterRetries_ClearsRetryCount(t *testing.T) {
	eng := newTestEngine(t, nil)
	ctx := context.Background()

	var attempts atomic.Int32
	bindHappyPath(eng)
	eng.Bind(driver.Binding{
		Stage: pipeline.StageEnrichment,
		Executor: driver.ExecutorFunc(func(_ context.Context, st *pipeline.State) (json.RawMessage, error) {
			if attempts.Add(1) <= 2 {
				return nil, pipeline.Faultf(pipeline.KindTransientExternal, pipeline.StageEnrichment, "enrich API rate limited")
			}
			// Succeeds, but with a result the router sends to review.
			return json.RawMessage(`{"confidence":0.2,"contact":{"email":"maybe@prospect.example"}}`), nil
		}),
	})

	st, err := eng.Create(ctx, "acct-28")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := eng.Advance(ctx, st.ID); err != nil {
		t.Fatalf("Advance: %v", err)
	}

	paused, _ := eng.Status(ctx, st.ID)
	if paused.Status() != pipeline.StatusNeedsReview {
		t.Fatalf("Status() = %q, want %q", paused.Status(), pipeline.StatusNeedsReview)
	}
	// The successful run ended the retry streak: the stage gets its full
	// budget back after the review, even though it never transitioned.
	if paused.RetryCount != 0 {
		t.Errorf("RetryCount = %d, want 0 after a successful run", paused.RetryCount)
	}
}

// ──────────────────────────────────────────────────
// Cancellation
// ──────────────────────────────────────────────────

func TestEngine_Cancel(t *testing.T) {
	eng := newTestEngine(t, nil)
	ctx := context.Background()

	st, err := eng.Create(ctx, "acct-16")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := eng.Cancel(ctx, st.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	got, _ := eng.Status(ctx, st.ID)
	if got.Status() != pipeline.StatusCancelled {
		t.Errorf("Status() = %q, want %q", got.Status(), pipeline.StatusCancelled)
	}
	if !got.Terminal() {
		t.Error("cancelled workflow is not terminal")
	}
	if got.ArchivedAt == nil {
		t.Error("cancelled workflow was not archived")
	}

	// Terminal is final: cancel again and the driver refuses.
	if err := eng.Cancel(ctx, st.ID); !errors.Is(err, rainmaker.ErrTerminal) {
		t.Errorf("second Cancel: err = %v, want ErrTerminal", err)
	}
	if err := eng.Resume(ctx, st.ID); err == nil {
		t.Error("Resume on a cancelled workflow succeeded")
	}
}

func TestEngine_CancelMidFlight_DiscardsStaleResult(t *testing.T) {
	eng := newTestEngine(t, nil)
	ctx := context.Background()

	executing := make(chan struct{})
	release := make(chan struct{})
	eng.Bind(driver.Binding{
		Stage: pipeline.StageDiscovery,
		Executor: driver.ExecutorFunc(func(_ context.Context, st *pipeline.State) (json.RawMessage, error) {
			close(executing)
			<-release
			return json.RawMessage(`{"prospects":99}`), nil
		}),
	})

	st, err := eng.Create(ctx, "acct-17")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	advanceDone := make(chan error, 1)
	go func() { advanceDone <- eng.Advance(ctx, st.ID) }()

	select {
	case <-executing:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for executor to start")
	}

	// Operator cancels while the stage is in flight.
	if err := eng.Cancel(ctx, st.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	close(release)

	select {
	case err := <-advanceDone:
		if err != nil {
			t.Fatalf("Advance: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for advance to finish")
	}

	got, _ := eng.Status(ctx, st.ID)
	if got.Status() != pipeline.StatusCancelled {
		t.Fatalf("Status() = %q, want %q", got.Status(), pipeline.StatusCancelled)
	}
	// The in-flight result landed under a stale generation and must not
	// have been applied.
	if len(got.Result(pipeline.StageDiscovery)) != 0 {
		t.Error("stale discovery result was recorded after cancellation")
	}
	if len(got.CompletedStages) != 0 {
		t.Errorf("CompletedStages = %v, want none", got.CompletedStages)
	}
}

// readHookStore wraps the memory store and invokes a hook after each
// successful state read, letting a test interleave writes into the advance
// loop's reload-then-persist window.
type readHookStore struct {
	*memory.Store
	gets  atomic.Int32
	onGet func(n int32)
}

func (s *readHookStore) GetState(ctx context.Context, workflowID id.WorkflowID) (*pipeline.State, error) {
	st, err := s.Store.GetState(ctx, workflowID)
	if err == nil && s.onGet != nil {
		s.onGet(s.gets.Add(1))
	}
	return st, err
}

func TestEngine_CancelAfterReload_IsNotOverwritten(t *testing.T) {
	store := &readHookStore{Store: memory.New()}
	eng := newTestEngine(t, []rainmaker.Option{rainmaker.WithStore(store)})
	ctx := context.Background()

	eng.Bind(driver.Binding{Stage: pipeline.StageDiscovery, Executor: okExecutor(`{"prospects":1}`)})

	st, err := eng.Create(ctx, "acct-29")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Reads during the advance: the loop's entry read, then the
	// post-executor reload. Cancelling right after the reload lands in
	// the window between the fence check and the persist.
	var once atomic.Bool
	store.onGet = func(n int32) {
		if n == 2 && once.CompareAndSwap(false, true) {
			if err := eng.Cancel(context.Background(), st.ID); err != nil {
				t.Errorf("Cancel: %v", err)
			}
		}
	}

	if err := eng.Advance(ctx, st.ID); err != nil {
		t.Fatalf("Advance: %v", err)
	}

	got, _ := eng.Status(ctx, st.ID)
	if got.Status() != pipeline.StatusCancelled {
		t.Fatalf("Status() = %q, want %q", got.Status(), pipeline.StatusCancelled)
	}
	if len(got.Result(pipeline.StageDiscovery)) != 0 {
		t.Error("stage outcome was persisted over the cancellation")
	}
	if len(got.CompletedStages) != 0 {
		t.Errorf("CompletedStages = %v, want none", got.CompletedStages)
	}
}

// ──────────────────────────────────────────────────
// Assistance and preconditions
// ──────────────────────────────────────────────────

func TestEngine_RequestAssistance_PausesWorkflow(t *testing.T) {
	eng := newTestEngine(t, nil)
	bindHappyPath(eng)
	ctx := context.Background()

	st, err := eng.Create(ctx, "acct-18")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	pause, err := eng.RequestAssistance(ctx, st.ID, "needs LinkedIn session", json.RawMessage(`{"login_url":"https://linkedin.com"}`))
	if err != nil {
		t.Fatalf("RequestAssistance: %v", err)
	}
	if pause.Kind != pipeline.PauseAssistance {
		t.Errorf("pause kind = %q, want %q", pause.Kind, pipeline.PauseAssistance)
	}
	if pause.ResumeToken.IsNil() {
		t.Error("pause has no resume token")
	}

	got, _ := eng.Status(ctx, st.ID)
	if got.Status() != pipeline.StatusPausedForHuman {
		t.Fatalf("Status() = %q, want %q", got.Status(), pipeline.StatusPausedForHuman)
	}

	// The pause blocks progression until resumed.
	if err := eng.Advance(ctx, st.ID); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	still, _ := eng.Status(ctx, st.ID)
	if still.CurrentStage != pipeline.StageDiscovery {
		t.Errorf("paused workflow advanced to %q", still.CurrentStage)
	}

	if err := eng.Resume(ctx, st.ID); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	final, _ := eng.Status(ctx, st.ID)
	if final.Status() != pipeline.StatusCompleted {
		t.Errorf("Status() = %q, want %q", final.Status(), pipeline.StatusCompleted)
	}
}

func TestEngine_PreconditionUnmet_RepausesOnResume(t *testing.T) {
	eng := newTestEngine(t, nil)
	ctx := context.Background()

	var sessionReady atomic.Bool
	bindHappyPath(eng)
	eng.Bind(driver.Binding{
		Stage:    pipeline.StageOutreach,
		Executor: okExecutor(`{"sent":true}`),
		Precondition: func(_ context.Context, _ *pipeline.State) error {
			if !sessionReady.Load() {
				return errors.New("outreach session not established")
			}
			return nil
		},
	})

	st, err := eng.Create(ctx, "acct-19")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := eng.Advance(ctx, st.ID); err != nil {
		t.Fatalf("Advance: %v", err)
	}

	paused, _ := eng.Status(ctx, st.ID)
	if paused.CurrentStage != pipeline.StageOutreach {
		t.Fatalf("CurrentStage = %q, want %q", paused.CurrentStage, pipeline.StageOutreach)
	}
	if paused.Pause == nil || paused.Pause.Kind != pipeline.PauseAssistance {
		t.Fatalf("Pause = %+v, want kind %q", paused.Pause, pipeline.PauseAssistance)
	}
	firstToken := paused.Pause.ResumeToken

	// Resume while the precondition still fails: the gate re-pauses.
	err = eng.Resume(ctx, st.ID)
	if !errors.Is(err, rainmaker.ErrPreconditionUnmet) {
		t.Fatalf("Resume: err = %v, want ErrPreconditionUnmet", err)
	}
	repaused, _ := eng.Status(ctx, st.ID)
	if repaused.Pause == nil {
		t.Fatal("workflow is not paused after failed resume")
	}
	if repaused.Pause.ResumeToken == firstToken {
		t.Error("re-pause kept the stale resume token")
	}

	sessionReady.Store(true)
	if err := eng.Resume(ctx, st.ID); err != nil {
		t.Fatalf("Resume after precondition met: %v", err)
	}
	final, _ := eng.Status(ctx, st.ID)
	if final.Status() != pipeline.StatusCompleted {
		t.Errorf("Status() = %q, want %q", final.Status(), pipeline.StatusCompleted)
	}
}

func TestEngine_Resume_NotPaused(t *testing.T) {
	eng := newTestEngine(t, nil)
	ctx := context.Background()

	st, err := eng.Create(ctx, "acct-20")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := eng.Resume(ctx, st.ID); !errors.Is(err, rainmaker.ErrNotPaused) {
		t.Errorf("Resume on executing workflow: err = %v, want ErrNotPaused", err)
	}
}

// ──────────────────────────────────────────────────
// Executor-raised assistance mid-run
// ──────────────────────────────────────────────────

func TestEngine_ExecutorRaisesAssistance(t *testing.T) {
	eng := newTestEngine(t, nil)
	ctx := context.Background()

	var outreachRuns atomic.Int32
	bindHappyPath(eng)
	eng.Bind(driver.Binding{
		Stage: pipeline.StageOutreach,
		Executor: driver.ExecutorFunc(func(execCtx context.Context, st *pipeline.State) (json.RawMessage, error) {
			if outreachRuns.Add(1) == 1 {
				if _, err := eng.Gate().RequestAssistance(execCtx, st.ID, "CAPTCHA challenge", nil); err != nil {
					return nil, err
				}
				return nil, rainmaker.ErrAssistanceRequested
			}
			return json.RawMessage(`{"sent":true}`), nil
		}),
	})

	st, err := eng.Create(ctx, "acct-21")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := eng.Advance(ctx, st.ID); err != nil {
		t.Fatalf("Advance: %v", err)
	}

	paused, _ := eng.Status(ctx, st.ID)
	if paused.Pause == nil || paused.Pause.Kind != pipeline.PauseAssistance {
		t.Fatalf("Pause = %+v, want kind %q", paused.Pause, pipeline.PauseAssistance)
	}
	if paused.Pause.Reason != "CAPTCHA challenge" {
		t.Errorf("pause reason = %q, want the executor's reason", paused.Pause.Reason)
	}

	if err := eng.Resume(ctx, st.ID); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	final, _ := eng.Status(ctx, st.ID)
	if final.Status() != pipeline.StatusCompleted {
		t.Errorf("Status() = %q, want %q", final.Status(), pipeline.StatusCompleted)
	}
	if got := outreachRuns.Load(); got != 2 {
		t.Errorf("outreach ran %d times, want 2 (pause discards the first run)", got)
	}
}

// ──────────────────────────────────────────────────
// Audit trail
// ──────────────────────────────────────────────────

func TestEngine_AuditTrail(t *testing.T) {
	eng := newTestEngine(t, nil)
	bindHappyPath(eng)
	ctx := context.Background()

	st, err := eng.Create(ctx, "acct-22")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := eng.Advance(ctx, st.ID); err != nil {
		t.Fatalf("Advance: %v", err)
	}

	records, err := eng.Audit(ctx, st.ID, audit.ListOpts{})
	if err != nil {
		t.Fatalf("Audit: %v", err)
	}
	if len(records) == 0 {
		t.Fatal("no audit records written")
	}
	if records[0].Action != audit.ActionWorkflowCreated {
		t.Errorf("first audit action = %q, want %q", records[0].Action, audit.ActionWorkflowCreated)
	}
	last := records[len(records)-1]
	if last.Action != audit.ActionWorkflowCompleted {
		t.Errorf("last audit action = %q, want %q", last.Action, audit.ActionWorkflowCompleted)
	}

	// Filtered query: only stage completions.
	completions, err := eng.Audit(ctx, st.ID, audit.ListOpts{Action: audit.ActionStageCompleted})
	if err != nil {
		t.Fatalf("Audit filtered: %v", err)
	}
	if len(completions) != len(pipeline.Order) {
		t.Errorf("stage.completed records = %d, want %d", len(completions), len(pipeline.Order))
	}
}

// ──────────────────────────────────────────────────
// Crash recovery
// ──────────────────────────────────────────────────

func TestEngine_Start_ResumesExecutingWorkflows(t *testing.T) {
	eng := newTestEngine(t, nil)
	bindHappyPath(eng)
	ctx := context.Background()

	// Workflows created but never advanced simulate a crash between
	// creation and the first stage.
	first, err := eng.Create(ctx, "acct-23")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	second, err := eng.Create(ctx, "acct-24")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := eng.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	for _, wid := range []string{first.ID.String(), second.ID.String()} {
		st, err := eng.List(ctx, pipeline.ListOpts{})
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		var found bool
		for _, got := range st {
			if got.ID.String() == wid && got.Status() == pipeline.StatusCompleted {
				found = true
			}
		}
		if !found {
			t.Errorf("workflow %s was not driven to completion by Start", wid)
		}
	}
}

// ──────────────────────────────────────────────────
// Build validation
// ──────────────────────────────────────────────────

func TestEngine_Build_NoStore(t *testing.T) {
	o, err := rainmaker.New(rainmaker.WithLogger(testLogger()))
	if err != nil {
		t.Fatalf("rainmaker.New: %v", err)
	}
	if _, err := engine.Build(o); !errors.Is(err, rainmaker.ErrNoStore) {
		t.Errorf("Build without store: err = %v, want ErrNoStore", err)
	}
}

type lifecycleOnlyStore struct{}

func (lifecycleOnlyStore) Migrate(context.Context) error { return nil }
func (lifecycleOnlyStore) Ping(context.Context) error    { return nil }
func (lifecycleOnlyStore) Close() error                  { return nil }

func TestEngine_Build_IncompleteStore(t *testing.T) {
	o, err := rainmaker.New(
		rainmaker.WithStore(lifecycleOnlyStore{}),
		rainmaker.WithLogger(testLogger()),
	)
	if err != nil {
		t.Fatalf("rainmaker.New: %v", err)
	}
	if _, err := engine.Build(o); err == nil {
		t.Error("Build with a lifecycle-only store succeeded")
	}
}

// ──────────────────────────────────────────────────
// Listing
// ──────────────────────────────────────────────────

func TestEngine_List_FiltersByStatus(t *testing.T) {
	eng := newTestEngine(t, nil)
	bindHappyPath(eng)
	ctx := context.Background()

	done, err := eng.Create(ctx, "acct-25")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := eng.Advance(ctx, done.ID); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if _, err := eng.Create(ctx, "acct-26"); err != nil {
		t.Fatalf("Create: %v", err)
	}

	completed, err := eng.List(ctx, pipeline.ListOpts{Status: pipeline.StatusCompleted})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(completed) != 1 || completed[0].ID != done.ID {
		t.Errorf("completed list = %v, want exactly %s", completed, done.ID)
	}

	executing, err := eng.List(ctx, pipeline.ListOpts{Status: pipeline.StatusExecuting})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(executing) != 1 {
		t.Errorf("executing list length = %d, want 1", len(executing))
	}
}
