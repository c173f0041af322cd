// Package pipeline defines the workflow state model for the sales pipeline
// core: canonical stage tags, the per-prospect workflow state document,
// the classified fault taxonomy, and the pipeline store interface.
//
// The state document is the single source of truth for a workflow. It is
// mutated only by the execution driver (and the human gate on its behalf),
// validated at every persistence boundary, and versioned for additive
// migration. Stage result payloads are opaque to this package: success is
// always evidenced by a recorded payload, never assumed.
package pipeline
