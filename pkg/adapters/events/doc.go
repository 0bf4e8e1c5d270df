// Package events provides event bus implementations for the realtime
// publisher boundary.
//
// Implementations:
//   - redis: Redis Streams with consumer groups
//   - memory: in-process fan-out for testing
package events
