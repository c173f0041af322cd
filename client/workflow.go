package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	"github.com/victorbash400/rainmaker/api"
	"github.com/victorbash400/rainmaker/audit"
	"github.com/victorbash400/rainmaker/id"
	"github.com/victorbash400/rainmaker/pipeline"
)

// Create enters a prospect into the pipeline. When advance is true the
// server starts driving the pipeline immediately; progress is observed
// over the event stream.
func (c *Client) Create(ctx context.Context, prospectRef string, advance bool) (*pipeline.State, error) {
	var st pipeline.State
	err := c.do(ctx, http.MethodPost, "/v1/workflows", api.CreateWorkflowRequest{
		ProspectRef: prospectRef,
		Advance:     advance,
	}, &st)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// Get retrieves a workflow's state snapshot.
func (c *Client) Get(ctx context.Context, workflowID id.WorkflowID) (*pipeline.State, error) {
	var st pipeline.State
	if err := c.do(ctx, http.MethodGet, "/v1/workflows/"+workflowID.String(), nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// List returns workflow snapshots, optionally filtered by status.
func (c *Client) List(ctx context.Context, opts pipeline.ListOpts) ([]*pipeline.State, error) {
	q := url.Values{}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		q.Set("offset", strconv.Itoa(opts.Offset))
	}
	if opts.Status != "" {
		q.Set("status", string(opts.Status))
	}

	path := "/v1/workflows"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var states []*pipeline.State
	if err := c.do(ctx, http.MethodGet, path, nil, &states); err != nil {
		return nil, err
	}
	return states, nil
}

// Advance asks the server to drive the workflow onward. The call returns
// as soon as the server has accepted the advance.
func (c *Client) Advance(ctx context.Context, workflowID id.WorkflowID) error {
	var ack api.AdvanceResponse
	return c.do(ctx, http.MethodPost, "/v1/workflows/"+workflowID.String()+"/advance", nil, &ack)
}

// Reply delivers an external event payload (e.g. a prospect's email reply)
// to a workflow parked awaiting one, and returns the state after the
// pipeline has been driven onward.
func (c *Client) Reply(ctx context.Context, workflowID id.WorkflowID, payload json.RawMessage) (*pipeline.State, error) {
	var st pipeline.State
	if err := c.do(ctx, http.MethodPost, "/v1/workflows/"+workflowID.String()+"/reply", payload, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// RequestAssistance pauses a workflow for a human action.
func (c *Client) RequestAssistance(ctx context.Context, workflowID id.WorkflowID, reason string, collabCtx json.RawMessage) (*pipeline.PauseContext, error) {
	var pause pipeline.PauseContext
	err := c.do(ctx, http.MethodPost, "/v1/workflows/"+workflowID.String()+"/assist", api.AssistRequest{
		Reason:  reason,
		Context: collabCtx,
	}, &pause)
	if err != nil {
		return nil, err
	}
	return &pause, nil
}

// Resume lifts a pause after the human has acted and returns the state
// after the pipeline has been driven onward.
func (c *Client) Resume(ctx context.Context, workflowID id.WorkflowID) (*pipeline.State, error) {
	var st pipeline.State
	if err := c.do(ctx, http.MethodPost, "/v1/workflows/"+workflowID.String()+"/resume", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Cancel terminates a workflow.
func (c *Client) Cancel(ctx context.Context, workflowID id.WorkflowID) (*pipeline.State, error) {
	var st pipeline.State
	if err := c.do(ctx, http.MethodPost, "/v1/workflows/"+workflowID.String()+"/cancel", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Audit returns a workflow's audit trail in append order.
func (c *Client) Audit(ctx context.Context, workflowID id.WorkflowID, opts audit.ListOpts) ([]*audit.Record, error) {
	q := url.Values{}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		q.Set("offset", strconv.Itoa(opts.Offset))
	}
	if opts.Action != "" {
		q.Set("action", opts.Action)
	}

	path := "/v1/workflows/" + workflowID.String() + "/audit"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var records []*audit.Record
	if err := c.do(ctx, http.MethodGet, path, nil, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// Stats retrieves workflow counts and broker statistics.
func (c *Client) Stats(ctx context.Context) (*api.StatsResponse, error) {
	var stats api.StatsResponse
	if err := c.do(ctx, http.MethodGet, "/v1/stats", nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}
