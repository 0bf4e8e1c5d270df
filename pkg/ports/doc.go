// Package ports defines the interfaces between the engine core and its
// adapters: event bus, run and workflow stores, key-value bookkeeping,
// metrics and the LLM provider.
//
// Implementations:
//   - pkg/adapters/events: redis (Streams), memory
//   - pkg/adapters/storage: redis, memory
//   - pkg/adapters/kv: redis, memory
//   - pkg/adapters/metrics: prometheus
//   - pkg/adapters/llm: anthropic
package ports
