package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/victorbash400/rainmaker/audit"
	"github.com/victorbash400/rainmaker/id"
	"github.com/victorbash400/rainmaker/pipeline"
)

// CreateWorkflowRequest is the body for POST /v1/workflows.
type CreateWorkflowRequest struct {
	// ProspectRef identifies the prospect in the upstream CRM.
	ProspectRef string `json:"prospect_ref"`
	// Advance starts driving the pipeline immediately after creation.
	Advance bool `json:"advance,omitempty"`
}

func (a *API) createWorkflow(w http.ResponseWriter, r *http.Request) {
	var req CreateWorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if req.ProspectRef == "" {
		a.writeError(w, http.StatusBadRequest, "prospect_ref is required")
		return
	}

	st, err := a.eng.Create(r.Context(), req.ProspectRef)
	if err != nil {
		a.writeStoreError(w, err)
		return
	}

	if req.Advance {
		a.advanceInBackground(r.Context(), st.ID)
	}
	a.writeJSON(w, http.StatusCreated, st)
}

func (a *API) listWorkflows(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	states, err := a.eng.List(r.Context(), pipeline.ListOpts{
		Limit:  limitOrDefault(limit),
		Offset: offset,
		Status: pipeline.Status(q.Get("status")),
	})
	if err != nil {
		a.writeStoreError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, states)
}

func (a *API) getWorkflow(w http.ResponseWriter, r *http.Request) {
	workflowID, ok := a.workflowID(w, r)
	if !ok {
		return
	}
	st, err := a.eng.Status(r.Context(), workflowID)
	if err != nil {
		a.writeStoreError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, st)
}

// AdvanceResponse acknowledges an asynchronous advance.
type AdvanceResponse struct {
	WorkflowID string `json:"workflow_id"`
	Status     string `json:"status"`
}

// advanceWorkflow kicks the driver asynchronously: a full advance may run
// several stages with backoff in between, far past any sane request
// deadline. The caller observes progress over the event stream.
func (a *API) advanceWorkflow(w http.ResponseWriter, r *http.Request) {
	workflowID, ok := a.workflowID(w, r)
	if !ok {
		return
	}
	if _, err := a.eng.Status(r.Context(), workflowID); err != nil {
		a.writeStoreError(w, err)
		return
	}

	a.advanceInBackground(r.Context(), workflowID)
	a.writeJSON(w, http.StatusAccepted, AdvanceResponse{
		WorkflowID: workflowID.String(),
		Status:     "advancing",
	})
}

func (a *API) advanceInBackground(ctx context.Context, workflowID id.WorkflowID) {
	go func() {
		if err := a.eng.Advance(context.WithoutCancel(ctx), workflowID); err != nil {
			a.logger.Error("background advance failed",
				slog.String("workflow_id", workflowID.String()),
				slog.String("error", err.Error()))
		}
	}()
}

// deliverReply hands the raw request body to the parked workflow as the
// external event payload, then drives the pipeline onward synchronously.
func (a *API) deliverReply(w http.ResponseWriter, r *http.Request) {
	workflowID, ok := a.workflowID(w, r)
	if !ok {
		return
	}

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, fmt.Sprintf("read payload: %v", err))
		return
	}
	if len(payload) == 0 || !json.Valid(payload) {
		a.writeError(w, http.StatusBadRequest, "payload must be a JSON document")
		return
	}

	if err := a.eng.DeliverReply(r.Context(), workflowID, payload); err != nil {
		a.writeStoreError(w, err)
		return
	}

	st, err := a.eng.Status(r.Context(), workflowID)
	if err != nil {
		a.writeStoreError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, st)
}

// AssistRequest is the body for POST /v1/workflows/{id}/assist.
type AssistRequest struct {
	Reason  string          `json:"reason"`
	Context json.RawMessage `json:"context,omitempty"`
}

func (a *API) requestAssistance(w http.ResponseWriter, r *http.Request) {
	workflowID, ok := a.workflowID(w, r)
	if !ok {
		return
	}

	var req AssistRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if req.Reason == "" {
		a.writeError(w, http.StatusBadRequest, "reason is required")
		return
	}

	pause, err := a.eng.RequestAssistance(r.Context(), workflowID, req.Reason, req.Context)
	if err != nil {
		a.writeStoreError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, pause)
}

func (a *API) resumeWorkflow(w http.ResponseWriter, r *http.Request) {
	workflowID, ok := a.workflowID(w, r)
	if !ok {
		return
	}
	if err := a.eng.Resume(r.Context(), workflowID); err != nil {
		a.writeStoreError(w, err)
		return
	}
	st, err := a.eng.Status(r.Context(), workflowID)
	if err != nil {
		a.writeStoreError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, st)
}

func (a *API) cancelWorkflow(w http.ResponseWriter, r *http.Request) {
	workflowID, ok := a.workflowID(w, r)
	if !ok {
		return
	}
	if err := a.eng.Cancel(r.Context(), workflowID); err != nil {
		a.writeStoreError(w, err)
		return
	}
	st, err := a.eng.Status(r.Context(), workflowID)
	if err != nil {
		a.writeStoreError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, st)
}

func (a *API) listAudit(w http.ResponseWriter, r *http.Request) {
	workflowID, ok := a.workflowID(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	records, err := a.eng.Audit(r.Context(), workflowID, audit.ListOpts{
		Limit:  limitOrDefault(limit),
		Offset: offset,
		Action: q.Get("action"),
	})
	if err != nil {
		a.writeStoreError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, records)
}

// workflowID parses the path variable, writing a 400 on failure.
func (a *API) workflowID(w http.ResponseWriter, r *http.Request) (id.WorkflowID, bool) {
	workflowID, err := id.ParseWorkflowID(mux.Vars(r)["workflowID"])
	if err != nil {
		a.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid workflow ID: %v", err))
		return id.Nil, false
	}
	return workflowID, true
}
