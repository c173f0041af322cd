// Package rainmaker provides the orchestration core for a prospect sales
// pipeline. It owns a prospect's execution state, sequences the six
// processing stages (discovery, enrichment, outreach, conversation,
// proposal, meeting), classifies and recovers from stage failures, pauses
// for human intervention, and broadcasts live progress to observers.
//
// Rainmaker is designed as a library, not a service. Import it, configure
// a store, bind a stage executor per stage, and drive workflows through
// the engine package.
//
// # Quick Start
//
//	orch, err := rainmaker.New(
//	    rainmaker.WithStore(pgStore),
//	    rainmaker.WithMaxRetries(3),
//	)
//
// # Architecture
//
// Each subsystem (pipeline state, gate, audit, owner lease) defines its own
// store interface and a single backend implements all of them. Stage
// executors are external collaborators: the core never interprets their
// result payloads, it only records them and routes on them.
//
// All entity IDs use TypeID — type-prefixed, K-sortable, UUIDv7-based,
// compile-time safe identifiers.
package rainmaker
