// Package orchestrator sequences a task through the squad pipeline.
//
// A task moves through a fixed state machine: architecture review,
// engineering draft, sandbox validation, deployment approval. Each review
// stage is a full squad evaluation aggregated by a consensus gate. Sandbox
// failures route through the feedback controller, which either queues a
// refined successor or closes the lineage. A critical veto from the
// security auditor terminates the pipeline immediately, overriding any
// other verdicts in flight.
package orchestrator
