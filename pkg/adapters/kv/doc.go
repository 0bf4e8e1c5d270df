// Package kv provides key-value bookkeeping implementations.
//
// Implementations:
//   - redis: shared state for multi-instance deployments
//   - memory: in-process map, single-instance only
package kv
