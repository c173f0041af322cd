package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/victorbash400/rainmaker/pipeline"
)

// Logging returns middleware that logs stage start and completion.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, st *pipeline.State, next Handler) (json.RawMessage, error) {
		logger.Info("stage started",
			slog.String("workflow_id", st.ID.String()),
			slog.String("stage", string(st.CurrentStage)),
			slog.Int("retry_count", st.RetryCount),
		)

		start := time.Now()
		result, err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Error("stage failed",
				slog.String("workflow_id", st.ID.String()),
				slog.String("stage", string(st.CurrentStage)),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("stage completed",
				slog.String("workflow_id", st.ID.String()),
				slog.String("stage", string(st.CurrentStage)),
				slog.Duration("elapsed", elapsed),
			)
		}

		return result, err
	}
}
