// Package middleware provides composable middleware for stage execution.
// Middleware wraps executor calls synchronously and can modify execution
// (recover from panics, log, add tracing, enforce timeouts, etc.).
package middleware

import (
	"context"
	"encoding/json"

	"github.com/victorbash400/rainmaker/pipeline"
)

// Handler is the terminal function that invokes the stage executor.
type Handler func(ctx context.Context) (json.RawMessage, error)

// Middleware wraps a Handler with cross-cutting logic.
// It receives the current context, the workflow being advanced, and the
// next handler to call. Middleware MUST call next to continue the chain
// (unless short-circuiting on error).
type Middleware func(ctx context.Context, st *pipeline.State, next Handler) (json.RawMessage, error)

// Chain composes multiple middleware into a single Middleware.
// Middleware are applied right-to-left: the first middleware in the
// list is the outermost wrapper.
//
// Example: Chain(recover, logging, timeout) executes as:
//
//	recover → logging → timeout → handler
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, st *pipeline.State, next Handler) (json.RawMessage, error) {
		// Build the chain from the end backwards.
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			prev := h
			h = func(ctx context.Context) (json.RawMessage, error) {
				return mw(ctx, st, prev)
			}
		}
		return h(ctx)
	}
}
