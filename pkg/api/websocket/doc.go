// Package websocket provides real-time run event streaming.
//
// Clients connect per run and receive runCreated, stepCompleted and
// runCompleted events as JSON text frames. Delivery is best-effort: events
// a slow consumer cannot keep up with are dropped, never buffered against
// the executing run.
package websocket
