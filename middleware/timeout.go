package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/victorbash400/rainmaker/pipeline"
)

// Timeout returns middleware that enforces a per-stage execution deadline.
// If d is non-zero, a context.WithTimeout wraps the executor call. When
// the deadline is exceeded the context is cancelled and the executor
// should return context.DeadlineExceeded.
func Timeout(logger *slog.Logger, d time.Duration) Middleware {
	return func(ctx context.Context, st *pipeline.State, next Handler) (json.RawMessage, error) {
		if d > 0 {
			logger.Debug("stage timeout set",
				slog.String("workflow_id", st.ID.String()),
				slog.Duration("timeout", d),
			)
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}
		return next(ctx)
	}
}
