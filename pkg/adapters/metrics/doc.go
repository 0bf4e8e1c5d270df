// Package metrics provides metrics collector implementations.
//
// Implementations:
//   - prometheus: counters, histograms and gauges served via promhttp
package metrics
