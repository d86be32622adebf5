// Package orchestrator drives a notebook through the repair state machine.
//
// # Overview
//
// A repair session executes the notebook, classifies the failure, plans a
// patch (directly or with retrieved documentation), applies it and
// re-validates, looping until the notebook runs or a circuit breaker trips:
//
//	pending → analyzing → (direct_fix | rag_search) → planning → applying
//	        → validating → {success | retry → analyzing | failed}
//
// Every transition is checked against an explicit table, appended to the
// session trace and emitted to an events.Sink.
//
// # Circuit breakers
//
//   - MaxSearchAttempts bounds rag_search entries per iteration.
//   - MaxPlanningAttempts bounds retrieval-augmented planning per iteration.
//   - MaxIterations bounds applied patches per session.
//
// A READY plan always proceeds to applying, even on the last planning attempt.
//
// # Failure handling
//
// Notebook errors, empty retrieval, malformed planner output and unmatched
// patches end the session as failed without returning an error. Only
// infrastructure failures (backup write, notebook unreadable, missing
// execution tool, result file write) and cancellation are returned as
// errors. A backup of the notebook is taken before every patch.
package orchestrator
