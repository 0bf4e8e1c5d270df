// Package storage provides workflow and run store implementations.
//
// Implementations:
//   - redis: JSON documents with secondary indexes and optional TTL
//   - memory: in-memory for testing and single-instance deployments
package storage
