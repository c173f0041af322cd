package rainmaker

import "time"

// Config holds configuration for the Orchestrator.
type Config struct {
	// MaxRetries is how many times a transient stage failure is retried
	// before the workflow escalates to human review.
	MaxRetries int

	// BaseDelay is the initial retry backoff delay. Each retry doubles it.
	BaseDelay time.Duration

	// MaxDelay caps the retry backoff regardless of attempt count.
	MaxDelay time.Duration

	// StageTimeout is an optional deadline applied around every stage
	// executor invocation. Zero disables the deadline; executors are then
	// trusted to enforce their own.
	StageTimeout time.Duration

	// StageRate limits outbound stage executor invocations per second
	// across all workflows. Zero disables the limiter.
	StageRate float64

	// OwnerLeaseTTL is how long a driver's claim on a workflow lasts
	// before the store lease expires. Only used with a lease-capable store.
	OwnerLeaseTTL time.Duration

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxRetries:      3,
		BaseDelay:       2 * time.Second,
		MaxDelay:        1 * time.Minute,
		StageTimeout:    0,
		StageRate:       0,
		OwnerLeaseTTL:   30 * time.Second,
		ShutdownTimeout: 30 * time.Second,
	}
}
