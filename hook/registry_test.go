package hook_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/victorbash400/rainmaker/hook"
	"github.com/victorbash400/rainmaker/pipeline"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// countingExtension implements every lifecycle hook and counts calls.
type countingExtension struct {
	calls map[string]int
}

func newCountingExtension() *countingExtension {
	return &countingExtension{calls: make(map[string]int)}
}

func (e *countingExtension) Name() string { return "counting" }

func (e *countingExtension) OnWorkflowCreated(_ context.Context, _ *pipeline.State) error {
	e.calls["created"]++
	return nil
}

func (e *countingExtension) OnStageStarted(_ context.Context, _ *pipeline.State, _ pipeline.Stage) error {
	e.calls["started"]++
	return nil
}

func (e *countingExtension) OnStageCompleted(_ context.Context, _ *pipeline.State, _ pipeline.Stage, _ json.RawMessage, _ time.Duration) error {
	e.calls["completed"]++
	return nil
}

func (e *countingExtension) OnStageFailed(_ context.Context, _ *pipeline.State, _ pipeline.Stage, _ error) error {
	e.calls["failed"]++
	return nil
}

func (e *countingExtension) OnStageRetrying(_ context.Context, _ *pipeline.State, _ pipeline.Stage, _ int, _ time.Duration) error {
	e.calls["retrying"]++
	return nil
}

func (e *countingExtension) OnWorkflowPaused(_ context.Context, _ *pipeline.State, _ *pipeline.PauseContext) error {
	e.calls["paused"]++
	return nil
}

func (e *countingExtension) OnWorkflowResumed(_ context.Context, _ *pipeline.State) error {
	e.calls["resumed"]++
	return nil
}

func (e *countingExtension) OnWorkflowRerouted(_ context.Context, _ *pipeline.State, _, _ pipeline.Stage) error {
	e.calls["rerouted"]++
	return nil
}

func (e *countingExtension) OnWorkflowAwaiting(_ context.Context, _ *pipeline.State, _ pipeline.Stage) error {
	e.calls["awaiting"]++
	return nil
}

func (e *countingExtension) OnWorkflowCancelled(_ context.Context, _ *pipeline.State) error {
	e.calls["cancelled"]++
	return nil
}

func (e *countingExtension) OnWorkflowCompleted(_ context.Context, _ *pipeline.State) error {
	e.calls["wf_completed"]++
	return nil
}

func (e *countingExtension) OnWorkflowFailed(_ context.Context, _ *pipeline.State, _ string) error {
	e.calls["wf_failed"]++
	return nil
}

func (e *countingExtension) OnShutdown(_ context.Context) error {
	e.calls["shutdown"]++
	return nil
}

// narrowExtension only implements WorkflowCreated.
type narrowExtension struct {
	created int
}

func (e *narrowExtension) Name() string { return "narrow" }

func (e *narrowExtension) OnWorkflowCreated(_ context.Context, _ *pipeline.State) error {
	e.created++
	return nil
}

// failingExtension returns an error from WorkflowCreated.
type failingExtension struct{}

func (failingExtension) Name() string { return "failing" }

func (failingExtension) OnWorkflowCreated(_ context.Context, _ *pipeline.State) error {
	return errors.New("hook exploded")
}

func TestRegistryEmitsAllHooks(t *testing.T) {
	r := hook.NewRegistry(testLogger())
	ext := newCountingExtension()
	r.Register(ext)

	ctx := context.Background()
	st := pipeline.NewState("ref")

	r.EmitWorkflowCreated(ctx, st)
	r.EmitStageStarted(ctx, st, pipeline.StageDiscovery)
	r.EmitStageCompleted(ctx, st, pipeline.StageDiscovery, json.RawMessage(`{}`), time.Millisecond)
	r.EmitStageFailed(ctx, st, pipeline.StageDiscovery, errors.New("x"))
	r.EmitStageRetrying(ctx, st, pipeline.StageDiscovery, 1, time.Second)
	r.EmitWorkflowPaused(ctx, st, &pipeline.PauseContext{Kind: pipeline.PauseEscalated})
	r.EmitWorkflowResumed(ctx, st)
	r.EmitWorkflowRerouted(ctx, st, pipeline.StageEnrichment, pipeline.StageDiscovery)
	r.EmitWorkflowAwaiting(ctx, st, pipeline.StageConversation)
	r.EmitWorkflowCancelled(ctx, st)
	r.EmitWorkflowCompleted(ctx, st)
	r.EmitWorkflowFailed(ctx, st, "gave up")
	r.EmitShutdown(ctx)

	if len(ext.calls) != 13 {
		t.Errorf("expected 13 distinct hooks called, got %d: %v", len(ext.calls), ext.calls)
	}
	for name, count := range ext.calls {
		if count != 1 {
			t.Errorf("hook %s called %d times, expected 1", name, count)
		}
	}
}

func TestRegistryPartialInterface(t *testing.T) {
	r := hook.NewRegistry(testLogger())
	ext := &narrowExtension{}
	r.Register(ext)

	ctx := context.Background()
	st := pipeline.NewState("ref")

	// Emitting events the extension does not subscribe to is harmless.
	r.EmitStageStarted(ctx, st, pipeline.StageDiscovery)
	r.EmitWorkflowCompleted(ctx, st)
	r.EmitWorkflowCreated(ctx, st)

	if ext.created != 1 {
		t.Errorf("expected 1 created call, got %d", ext.created)
	}
}

func TestRegistryHookErrorIsLoggedNotPropagated(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	r := hook.NewRegistry(logger)
	r.Register(failingExtension{})
	after := &narrowExtension{}
	r.Register(after)

	r.EmitWorkflowCreated(context.Background(), pipeline.NewState("ref"))

	// The failure is logged with the extension's name and the remaining
	// extensions still run.
	out := buf.String()
	if !strings.Contains(out, "hook exploded") || !strings.Contains(out, "failing") {
		t.Errorf("expected logged hook failure, got: %s", out)
	}
	if after.created != 1 {
		t.Errorf("extension after the failing one should still run, got %d calls", after.created)
	}
}

func TestRegistryOrder(t *testing.T) {
	r := hook.NewRegistry(testLogger())
	a := &narrowExtension{}
	b := newCountingExtension()
	r.Register(a)
	r.Register(b)

	exts := r.Extensions()
	if len(exts) != 2 {
		t.Fatalf("expected 2 extensions, got %d", len(exts))
	}
	if exts[0].Name() != "narrow" || exts[1].Name() != "counting" {
		t.Errorf("extensions out of registration order: %s, %s", exts[0].Name(), exts[1].Name())
	}
}
