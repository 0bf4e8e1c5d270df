// Package workers implements the bounded worker pool executing admitted
// trigger jobs.
//
// The pool manages a fixed number of goroutines that:
//   - Dequeue jobs from the bounded handoff queue
//   - Run the graph executor for each job
//   - Report queue depth and worker states to metrics
//
// Enqueue never blocks: a full queue rejects synchronously so trigger
// floods turn into backpressure instead of resource exhaustion. The
// health monitor tracks worker status and logs metrics.
package workers
