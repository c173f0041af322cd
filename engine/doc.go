// Package engine wires the pipeline subsystems together and provides the
// primary application-level API for creating and steering workflows.
//
// The engine package exists to break a fundamental import cycle: the root
// rainmaker package defines Entity (imported by pipeline, audit, etc.)
// and therefore cannot import those packages back. Engine sits above all
// subsystem packages and below the application layer.
//
// # Building an Engine
//
//	o, err := rainmaker.New(
//	    rainmaker.WithStore(pgStore),
//	    rainmaker.WithMaxRetries(3),
//	)
//
//	eng, err := engine.Build(o,
//	    engine.WithExtension(myExtension),
//	    engine.WithMiddleware(myMiddleware),
//	    engine.WithBackoff(backoff.NewExponential(2*time.Second, time.Minute)),
//	)
//
// # Binding Stages
//
//	eng.Bind(driver.Binding{
//	    Stage:    pipeline.StageDiscovery,
//	    Executor: discoveryExecutor,
//	})
//	eng.Bind(driver.Binding{
//	    Stage:       pipeline.StageOutreach,
//	    Executor:    outreachExecutor,
//	    AwaitsReply: true,
//	})
//
// # Running Workflows
//
//	st, err := eng.Create(ctx, "acct-1042")
//	err = eng.Advance(ctx, st.ID)
//
//	// External reply lands for a parked workflow:
//	err = eng.DeliverReply(ctx, st.ID, payload)
//
//	// Operator lifts a review pause:
//	err = eng.Resume(ctx, st.ID)
//
// # Options
//
//   - [WithExtension] — register a lifecycle extension
//   - [WithMiddleware] — add a middleware to the stage execution chain
//   - [WithRouter] — set a custom routing policy
//   - [WithBackoff] — set the retry backoff strategy
//   - [WithTracerProvider] — set the OpenTelemetry tracer provider
//   - [WithMeterProvider] — set the OpenTelemetry meter provider
package engine
