// Package engine implements the graph executor: the scheduler that walks a
// workflow snapshot for one run, dispatches node handlers through a closed
// registry and coordinates branch/join concurrency.
//
// Within a run, nodes with no dependency edge between them execute
// concurrently. Join synchronization uses an atomically-updated per-run
// predecessor counter so concurrent completions can neither double-fire
// nor stall a join. Cancellation is cooperative: it is checked before each
// node starts and never preempts an in-flight handler.
package engine
