package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/victorbash400/rainmaker/pipeline"
)

// Recover returns middleware that recovers from panics in the executor chain.
// Panics are converted to errors and logged with a stack trace.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, st *pipeline.State, next Handler) (result json.RawMessage, retErr error) {
		defer func() {
			if r := recover(); r != nil {
				stack := string(debug.Stack())
				logger.Error("stage executor panicked",
					slog.String("workflow_id", st.ID.String()),
					slog.String("stage", string(st.CurrentStage)),
					slog.Any("panic", r),
					slog.String("stack", stack),
				)
				result = nil
				retErr = fmt.Errorf("panic in stage %s: %v", st.CurrentStage, r)
			}
		}()
		return next(ctx)
	}
}
