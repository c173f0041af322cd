package rainmaker

import (
	"context"
	"log/slog"
	"time"
)

// Option configures an Orchestrator.
type Option func(*Orchestrator) error

// Storer is the minimal store interface held by the Orchestrator.
// It covers lifecycle operations only. The full composite interface
// (store.Store) is used in subsystem layers that don't create import
// cycles. Implementations satisfy store.Store which embeds all
// subsystem stores.
type Storer interface {
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// hookEmitter is an internal interface for hook lifecycle events.
type hookEmitter interface {
	EmitShutdown(ctx context.Context)
}

// Orchestrator is the central context object for the pipeline core. It is
// constructed once and injected into the driver and its collaborators;
// nothing in this module reads ambient global state.
//
// Create one with New() and functional options, then use the engine
// package to wire the driver, router, gate, and broadcaster around it.
type Orchestrator struct {
	config Config
	logger *slog.Logger
	store  Storer
	hooks  hookEmitter
}

// New creates a new Orchestrator with the given options.
func New(opts ...Option) (*Orchestrator, error) {
	o := &Orchestrator{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}
	return o, nil
}

// Logger returns the orchestrator's logger.
func (o *Orchestrator) Logger() *slog.Logger { return o.logger }

// Store returns the orchestrator's store.
func (o *Orchestrator) Store() Storer { return o.store }

// Config returns a copy of the orchestrator's configuration.
func (o *Orchestrator) Config() Config { return o.config }

// SetHooks sets the hook emitter (called by the engine package).
func (o *Orchestrator) SetHooks(h hookEmitter) { o.hooks = h }

// Close shuts the orchestrator down: hooks are notified, then the store
// is closed.
func (o *Orchestrator) Close(ctx context.Context) error {
	if o.hooks != nil {
		o.hooks.EmitShutdown(ctx)
	}
	if o.store != nil {
		return o.store.Close()
	}
	return nil
}

// WithStore sets the persistence backend for the orchestrator.
// The store must implement Storer at minimum; typically it will be a
// store.Store which embeds all subsystem store interfaces.
func WithStore(s Storer) Option {
	return func(o *Orchestrator) error {
		o.store = s
		return nil
	}
}

// WithLogger sets the structured logger for the orchestrator.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) error {
		o.logger = l
		return nil
	}
}

// WithMaxRetries sets how many transient failures are retried per stage.
func WithMaxRetries(n int) Option {
	return func(o *Orchestrator) error {
		o.config.MaxRetries = n
		return nil
	}
}

// WithBackoffWindow sets the base and maximum retry backoff delays.
func WithBackoffWindow(base, maxDelay time.Duration) Option {
	return func(o *Orchestrator) error {
		o.config.BaseDelay = base
		o.config.MaxDelay = maxDelay
		return nil
	}
}

// WithStageTimeout applies a deadline around every stage executor call.
func WithStageTimeout(d time.Duration) Option {
	return func(o *Orchestrator) error {
		o.config.StageTimeout = d
		return nil
	}
}

// WithStageRate limits outbound stage executor invocations per second.
func WithStageRate(perSecond float64) Option {
	return func(o *Orchestrator) error {
		o.config.StageRate = perSecond
		return nil
	}
}

// WithOwnerLeaseTTL sets the cross-process workflow ownership lease TTL.
func WithOwnerLeaseTTL(d time.Duration) Option {
	return func(o *Orchestrator) error {
		o.config.OwnerLeaseTTL = d
		return nil
	}
}
