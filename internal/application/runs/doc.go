// Package runs implements the run tracker: the owner of the run lifecycle
// state machine (RUNNING -> SUCCEEDED | FAILED) and the only writer of run
// documents.
//
// The tracker:
//   - creates runs seeded with the trigger snapshot
//   - appends steps while the run is RUNNING (append-after-terminal is a
//     logged anomaly, never silently dropped)
//   - finalizes exactly once, idempotently
//   - publishes run events to the realtime publisher, fire-and-forget
//
// The sweeper reconciles runs abandoned in RUNNING status after a crash.
package runs
