// Package middleware provides composable middleware for stage execution.
//
// A [Middleware] is a function that wraps a stage executor call. Middleware
// are composed into a chain using [Chain] and applied before each executor
// invocation. They are applied right-to-left: the first middleware in the
// slice is the outermost wrapper.
//
//	// recover → logging → handler
//	chain := middleware.Chain(middleware.Recover(logger), middleware.Logging(logger))
//
// # Built-in Middleware
//
//   - [Recover] — catches panics and converts them to errors
//   - [Logging] — logs workflow, stage, duration, and outcome at each invocation
//   - [Timeout] — cancels the executor context after a configured duration
//   - [Tracing] — wraps execution in an OpenTelemetry span
//   - [Metrics] — records per-stage duration and outcome counters
//
// # Writing Custom Middleware
//
//	func MyMiddleware() middleware.Middleware {
//	    return func(ctx context.Context, st *pipeline.State, next middleware.Handler) (json.RawMessage, error) {
//	        // pre-processing
//	        result, err := next(ctx)
//	        // post-processing
//	        return result, err
//	    }
//	}
//
// Middleware MUST call next to continue the chain unless intentionally
// short-circuiting (e.g., circuit breaker, rate limiting).
package middleware
