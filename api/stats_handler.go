package api

import (
	"net/http"

	"github.com/victorbash400/rainmaker/pipeline"
	"github.com/victorbash400/rainmaker/stream"
)

// WorkflowCounts groups workflow totals by derived status.
type WorkflowCounts struct {
	Executing      int `json:"executing"`
	PausedForHuman int `json:"paused_for_human"`
	NeedsReview    int `json:"needs_review"`
	Completed      int `json:"completed"`
	Cancelled      int `json:"cancelled"`
	Failed         int `json:"failed"`
}

// StatsResponse is the aggregate statistics body.
type StatsResponse struct {
	Workflows WorkflowCounts     `json:"workflows"`
	Broker    stream.BrokerStats `json:"broker"`
}

func (a *API) stats(w http.ResponseWriter, r *http.Request) {
	states, err := a.eng.List(r.Context(), pipeline.ListOpts{})
	if err != nil {
		a.writeStoreError(w, err)
		return
	}

	var counts WorkflowCounts
	for _, st := range states {
		switch st.Status() {
		case pipeline.StatusExecuting:
			counts.Executing++
		case pipeline.StatusPausedForHuman:
			counts.PausedForHuman++
		case pipeline.StatusNeedsReview:
			counts.NeedsReview++
		case pipeline.StatusCompleted:
			counts.Completed++
		case pipeline.StatusCancelled:
			counts.Cancelled++
		case pipeline.StatusFailed:
			counts.Failed++
		}
	}

	a.writeJSON(w, http.StatusOK, StatsResponse{
		Workflows: counts,
		Broker:    a.eng.Broker().Stats(),
	})
}
