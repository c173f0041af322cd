//go:build integration

package postgres_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	pgmodule "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/victorbash400/rainmaker"
	"github.com/victorbash400/rainmaker/audit"
	"github.com/victorbash400/rainmaker/id"
	"github.com/victorbash400/rainmaker/pipeline"
	"github.com/victorbash400/rainmaker/store/postgres"
)

// setupTestStore creates a Postgres container and returns a connected Store.
func setupTestStore(t *testing.T) *postgres.Store {
	t.Helper()

	ctx := context.Background()

	container, err := pgmodule.Run(ctx,
		"postgres:16-alpine",
		pgmodule.WithDatabase("rainmaker_test"),
		pgmodule.WithUsername("test"),
		pgmodule.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if termErr := container.Terminate(ctx); termErr != nil {
			t.Logf("terminate container: %v", termErr)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("get connection string: %v", err)
	}

	store, err := postgres.New(ctx, connStr)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})

	if migErr := store.Migrate(ctx); migErr != nil {
		t.Fatalf("migrate: %v", migErr)
	}

	return store
}

// ──────────────────────────────────────────────────
// Lifecycle tests
// ──────────────────────────────────────────────────

func TestStore_Ping(t *testing.T) {
	s := setupTestStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("ping failed: %v", err)
	}
}

func TestStore_MigrateIdempotent(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	// Second migrate should be a no-op.
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("second migrate failed: %v", err)
	}
}

// ──────────────────────────────────────────────────
// Pipeline Store tests
// ──────────────────────────────────────────────────

func TestPipelineStore_CreateAndGet(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	st := pipeline.NewState("acct-314")
	if err := s.CreateState(ctx, st); err != nil {
		t.Fatalf("CreateState: %v", err)
	}

	got, err := s.GetState(ctx, st.ID)
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if got.ID != st.ID {
		t.Errorf("ID = %v, want %v", got.ID, st.ID)
	}
	if got.ProspectRef != "acct-314" {
		t.Errorf("ProspectRef = %q, want %q", got.ProspectRef, "acct-314")
	}
	if got.CurrentStage != pipeline.StageDiscovery {
		t.Errorf("CurrentStage = %q, want %q", got.CurrentStage, pipeline.StageDiscovery)
	}
}

func TestPipelineStore_CreateDuplicate(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	st := pipeline.NewState("acct-314")
	if err := s.CreateState(ctx, st); err != nil {
		t.Fatalf("CreateState: %v", err)
	}
	if err := s.CreateState(ctx, st); !errors.Is(err, rainmaker.ErrWorkflowExists) {
		t.Fatalf("expected ErrWorkflowExists, got %v", err)
	}
}

func TestPipelineStore_GetNotFound(t *testing.T) {
	s := setupTestStore(t)
	_, err := s.GetState(context.Background(), id.NewWorkflowID())
	if !errors.Is(err, rainmaker.ErrWorkflowNotFound) {
		t.Fatalf("expected ErrWorkflowNotFound, got %v", err)
	}
}

func TestPipelineStore_PutRoundTrip(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	st := pipeline.NewState("acct-314")
	if err := s.CreateState(ctx, st); err != nil {
		t.Fatalf("CreateState: %v", err)
	}

	st.MarkStageComplete(pipeline.StageDiscovery, json.RawMessage(`{"leads":2}`))
	st.SetStage(pipeline.StageEnrichment)
	st.RecordError(pipeline.StageEnrichment, pipeline.KindTransientExternal, "rate limited", true)
	st.RetryCount = 1
	if err := s.PutState(ctx, st); err != nil {
		t.Fatalf("PutState: %v", err)
	}

	got, err := s.GetState(ctx, st.ID)
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if got.CurrentStage != pipeline.StageEnrichment {
		t.Errorf("CurrentStage = %q, want %q", got.CurrentStage, pipeline.StageEnrichment)
	}
	if got.RetryCount != 1 {
		t.Errorf("RetryCount = %d, want 1", got.RetryCount)
	}
	if len(got.Errors) != 1 || got.Errors[0].Kind != pipeline.KindTransientExternal {
		t.Errorf("Errors = %+v", got.Errors)
	}
	if string(got.Result(pipeline.StageDiscovery)) != `{"leads":2}` {
		t.Errorf("discovery result = %s", got.Result(pipeline.StageDiscovery))
	}
}

func TestPipelineStore_PutNotFound(t *testing.T) {
	s := setupTestStore(t)
	st := pipeline.NewState("acct-314")
	if err := s.PutState(context.Background(), st); !errors.Is(err, rainmaker.ErrWorkflowNotFound) {
		t.Fatalf("expected ErrWorkflowNotFound, got %v", err)
	}
}

func TestPipelineStore_ListByStatus(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	executing := pipeline.NewState("acct-exec")
	if err := s.CreateState(ctx, executing); err != nil {
		t.Fatalf("CreateState: %v", err)
	}

	paused := pipeline.NewState("acct-paused")
	if err := s.CreateState(ctx, paused); err != nil {
		t.Fatalf("CreateState: %v", err)
	}
	paused.SetPause(pipeline.PauseEscalated, "needs a human", nil)
	if err := s.PutState(ctx, paused); err != nil {
		t.Fatalf("PutState: %v", err)
	}

	got, err := s.ListStates(ctx, pipeline.ListOpts{Status: pipeline.StatusExecuting})
	if err != nil {
		t.Fatalf("ListStates: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 executing workflow, got %d", len(got))
	}
	if got[0].ProspectRef != "acct-exec" {
		t.Errorf("ProspectRef = %q, want %q", got[0].ProspectRef, "acct-exec")
	}
}

// ──────────────────────────────────────────────────
// Audit Store tests
// ──────────────────────────────────────────────────

func TestAuditStore_AppendAndList(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	workflowID := id.NewWorkflowID()

	for i, action := range []string{audit.ActionWorkflowCreated, audit.ActionStageStarted} {
		rec := &audit.Record{
			ID:         id.NewAuditID(),
			WorkflowID: workflowID,
			Action:     action,
			Stage:      string(pipeline.StageDiscovery),
			Severity:   audit.SeverityInfo,
			Outcome:    audit.OutcomeSuccess,
			Metadata:   map[string]any{"seq": i},
			CreatedAt:  time.Now().UTC(),
		}
		if err := s.AppendAudit(ctx, rec); err != nil {
			t.Fatalf("AppendAudit: %v", err)
		}
	}

	recs, err := s.ListAudit(ctx, workflowID, audit.ListOpts{})
	if err != nil {
		t.Fatalf("ListAudit: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	if recs[0].Action != audit.ActionWorkflowCreated {
		t.Errorf("records out of append order: first = %q", recs[0].Action)
	}
	if recs[0].Metadata == nil {
		t.Error("metadata not round-tripped")
	}
}

func TestAuditStore_ListNotFound(t *testing.T) {
	s := setupTestStore(t)
	_, err := s.ListAudit(context.Background(), id.NewWorkflowID(), audit.ListOpts{})
	if !errors.Is(err, rainmaker.ErrAuditNotFound) {
		t.Fatalf("expected ErrAuditNotFound, got %v", err)
	}
}

// ──────────────────────────────────────────────────
// Lease Store tests
// ──────────────────────────────────────────────────

func TestLeaseStore_Exclusive(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	workflowID := id.NewWorkflowID()
	ownerA := id.NewOwnerID()
	ownerB := id.NewOwnerID()

	held, err := s.AcquireLease(ctx, workflowID, ownerA, time.Minute)
	if err != nil {
		t.Fatalf("AcquireLease: %v", err)
	}
	if !held {
		t.Fatal("owner A should acquire a free lease")
	}

	held, err = s.AcquireLease(ctx, workflowID, ownerB, time.Minute)
	if err != nil {
		t.Fatalf("AcquireLease: %v", err)
	}
	if held {
		t.Fatal("owner B must not steal an unexpired lease")
	}

	if err := s.ReleaseLease(ctx, workflowID, ownerA); err != nil {
		t.Fatalf("ReleaseLease: %v", err)
	}
	held, err = s.AcquireLease(ctx, workflowID, ownerB, time.Minute)
	if err != nil {
		t.Fatalf("AcquireLease: %v", err)
	}
	if !held {
		t.Fatal("released lease should be acquirable")
	}
}

func TestLeaseStore_ExpiredIsFree(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	workflowID := id.NewWorkflowID()
	ownerA := id.NewOwnerID()
	ownerB := id.NewOwnerID()

	if _, err := s.AcquireLease(ctx, workflowID, ownerA, time.Millisecond); err != nil {
		t.Fatalf("AcquireLease: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	held, err := s.AcquireLease(ctx, workflowID, ownerB, time.Minute)
	if err != nil {
		t.Fatalf("AcquireLease: %v", err)
	}
	if !held {
		t.Fatal("expired lease should be acquirable by a new owner")
	}
}
