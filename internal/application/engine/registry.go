package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/jcoler76/nectar-api-sub011/pkg/domain"
)

// NodeInput is what a handler receives: the node with its configuration
// already resolved against the execution context, the trigger snapshot and
// the outputs of completed upstream nodes.
type NodeInput struct {
	Node    domain.Node
	Config  map[string]any
	Trigger domain.TriggerPayload
	Outputs map[string]map[string]any
}

// NodeResult is a handler's successful outcome. Branches names the source
// handles whose outgoing edges should be followed; nil follows all edges.
type NodeResult struct {
	Output   map[string]any
	Branches []string
}

// Handler executes one node kind. Handlers are registered at startup into
// a closed registry; there is no open-ended runtime dispatch.
type Handler interface {
	// Kind returns the node kind this handler is bound to.
	Kind() domain.NodeKind

	// ErrorTolerant marks handlers whose nodes execute even when a
	// required predecessor reported an error.
	ErrorTolerant() bool

	// Execute runs the node. The context carries the per-node timeout.
	Execute(ctx context.Context, in NodeInput) (*NodeResult, error)
}

// Registry is the fixed node-kind to handler mapping built at startup.
type Registry struct {
	handlers map[domain.NodeKind]Handler
}

// NewRegistry builds a registry from the given handlers. Duplicate or
// unknown kinds are a startup error.
func NewRegistry(handlers ...Handler) (*Registry, error) {
	r := &Registry{handlers: make(map[domain.NodeKind]Handler, len(handlers))}
	for _, h := range handlers {
		kind := h.Kind()
		if !kind.Known() {
			return nil, fmt.Errorf("handler registered for unknown node kind %q", kind)
		}
		if _, exists := r.handlers[kind]; exists {
			return nil, fmt.Errorf("duplicate handler for node kind %q", kind)
		}
		r.handlers[kind] = h
	}
	return r, nil
}

// Resolve returns the handler for a node kind.
func (r *Registry) Resolve(kind domain.NodeKind) (Handler, bool) {
	h, ok := r.handlers[kind]
	return h, ok
}

// Kinds returns the registered node kinds, sorted.
func (r *Registry) Kinds() []domain.NodeKind {
	kinds := make([]domain.NodeKind, 0, len(r.handlers))
	for k := range r.handlers {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// ValidateWorkflow checks that every node kind in the workflow has a
// registered handler, on top of the graph's structural validation.
func (r *Registry) ValidateWorkflow(wf *domain.Workflow) error {
	if err := wf.Validate(); err != nil {
		return err
	}
	for _, n := range wf.Nodes {
		if _, ok := r.handlers[n.Kind]; !ok {
			return fmt.Errorf("no handler registered for node kind %q (node %s)", n.Kind, n.ID)
		}
	}
	return nil
}
