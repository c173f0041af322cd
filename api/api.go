// Package api exposes the pipeline engine over HTTP: workflow CRUD and
// control verbs, the audit trail, server-sent event streams per workflow,
// and a WebSocket firehose for dashboards.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/victorbash400/rainmaker"
	"github.com/victorbash400/rainmaker/engine"
)

// defaultListLimit caps unbounded list queries.
const defaultListLimit = 100

// API wires the HTTP handlers for the pipeline engine.
type API struct {
	eng    *engine.Engine
	logger *slog.Logger
}

// New creates an API from a pipeline Engine.
func New(eng *engine.Engine, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{eng: eng, logger: logger}
}

// Handler returns the fully assembled http.Handler with all routes.
func (a *API) Handler() http.Handler {
	r := mux.NewRouter()
	a.RegisterRoutes(r)
	return r
}

// RegisterRoutes registers all pipeline API routes into the given router.
func (a *API) RegisterRoutes(r *mux.Router) {
	v1 := r.PathPrefix("/v1").Subrouter()

	v1.HandleFunc("/workflows", a.createWorkflow).Methods(http.MethodPost)
	v1.HandleFunc("/workflows", a.listWorkflows).Methods(http.MethodGet)
	v1.HandleFunc("/workflows/{workflowID}", a.getWorkflow).Methods(http.MethodGet)

	v1.HandleFunc("/workflows/{workflowID}/advance", a.advanceWorkflow).Methods(http.MethodPost)
	v1.HandleFunc("/workflows/{workflowID}/reply", a.deliverReply).Methods(http.MethodPost)
	v1.HandleFunc("/workflows/{workflowID}/assist", a.requestAssistance).Methods(http.MethodPost)
	v1.HandleFunc("/workflows/{workflowID}/resume", a.resumeWorkflow).Methods(http.MethodPost)
	v1.HandleFunc("/workflows/{workflowID}/cancel", a.cancelWorkflow).Methods(http.MethodPost)

	v1.HandleFunc("/workflows/{workflowID}/audit", a.listAudit).Methods(http.MethodGet)
	v1.HandleFunc("/workflows/{workflowID}/events", a.streamWorkflowEvents).Methods(http.MethodGet)

	v1.HandleFunc("/events/ws", a.eventSocket).Methods(http.MethodGet)
	v1.HandleFunc("/stats", a.stats).Methods(http.MethodGet)
}

// errorResponse is the uniform error body.
type errorResponse struct {
	Error string `json:"error"`
}

func (a *API) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Warn("failed to encode response", slog.String("error", err.Error()))
	}
}

func (a *API) writeError(w http.ResponseWriter, status int, msg string) {
	a.writeJSON(w, status, errorResponse{Error: msg})
}

// writeStoreError maps sentinel errors to HTTP statuses.
func (a *API) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, rainmaker.ErrWorkflowNotFound),
		errors.Is(err, rainmaker.ErrAuditNotFound):
		a.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, rainmaker.ErrTerminal),
		errors.Is(err, rainmaker.ErrPaused),
		errors.Is(err, rainmaker.ErrNotPaused),
		errors.Is(err, rainmaker.ErrInvalidState),
		errors.Is(err, rainmaker.ErrPreconditionUnmet),
		errors.Is(err, rainmaker.ErrNotOwner):
		a.writeError(w, http.StatusConflict, err.Error())
	default:
		a.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func limitOrDefault(n int) int {
	if n <= 0 {
		return defaultListLimit
	}
	return n
}
