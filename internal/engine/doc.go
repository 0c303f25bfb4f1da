// Package engine runs pipelines end to end: it expands and schedules job
// instances, fans them out to the job runner, runs the version arbiter and
// release gate alongside them, and aggregates everything into a persisted
// report. Supervisor layers supersede semantics on top so a newer event for
// the same ref cancels the run it replaces.
package engine
