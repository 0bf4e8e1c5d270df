// Package domain defines the core workflow engine types: workflow graphs
// (nodes, edges), runs with their step logs, canonical trigger payloads and
// realtime run events.
//
// Types here carry no behavior beyond structural validation; execution
// semantics live in the application packages.
package domain
