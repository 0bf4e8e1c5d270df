package domain

import (
	"fmt"
	"time"
)

// NodeKind identifies the behavior bound to a node. The set is closed:
// handlers are registered per kind at startup and unknown kinds fail
// workflow validation rather than dispatch.
type NodeKind string

const (
	NodeTriggerForm     NodeKind = "trigger:form"
	NodeTriggerFile     NodeKind = "trigger:file"
	NodeTriggerEmail    NodeKind = "trigger:email"
	NodeTriggerDatabase NodeKind = "trigger:database"
	NodeTriggerSchedule NodeKind = "trigger:schedule"

	NodeActionEcho      NodeKind = "action:echo"
	NodeActionHTTP      NodeKind = "action:http"
	NodeActionCondition NodeKind = "action:condition"
	NodeActionDelay     NodeKind = "action:delay"
	NodeActionTransform NodeKind = "action:transform"
	NodeActionLLM       NodeKind = "action:llm"
)

// knownNodeKinds is the closed enumeration of valid node kinds.
var knownNodeKinds = map[NodeKind]bool{
	NodeTriggerForm:     true,
	NodeTriggerFile:     true,
	NodeTriggerEmail:    true,
	NodeTriggerDatabase: true,
	NodeTriggerSchedule: true,
	NodeActionEcho:      true,
	NodeActionHTTP:      true,
	NodeActionCondition: true,
	NodeActionDelay:     true,
	NodeActionTransform: true,
	NodeActionLLM:       true,
}

// IsTrigger reports whether the kind is a graph entry point.
func (k NodeKind) IsTrigger() bool {
	switch k {
	case NodeTriggerForm, NodeTriggerFile, NodeTriggerEmail, NodeTriggerDatabase, NodeTriggerSchedule:
		return true
	}
	return false
}

// Known reports whether the kind belongs to the closed enumeration.
func (k NodeKind) Known() bool {
	return knownNodeKinds[k]
}

// Position is the node's placement in the graph editor. Execution ignores it.
type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Node is a single vertex of a workflow graph.
type Node struct {
	ID   string   `json:"id"`
	Kind NodeKind `json:"kind"`

	// Config is handler-specific and opaque to the executor, except for
	// a few reserved keys: "timeout", "continue_on_error" and, on trigger
	// nodes, the credential keys consumed by the security gate.
	Config map[string]any `json:"config,omitempty"`

	// Optional nodes do not fail the run when they end in error or timeout.
	Optional bool `json:"optional,omitempty"`

	Position Position `json:"position,omitempty"`
}

// Edge connects two nodes. SourceHandle selects a branch output of the
// source node; TargetHandle names a specific join input on the target.
type Edge struct {
	ID           string `json:"id"`
	Source       string `json:"source"`
	Target       string `json:"target"`
	SourceHandle string `json:"source_handle,omitempty"`
	TargetHandle string `json:"target_handle,omitempty"`
}

// Workflow is a customer-defined node/edge graph started by trigger events.
// The definition is read-only to the engine; runs execute against a snapshot
// taken at admission time.
type Workflow struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Active   bool   `json:"active"`
	Schedule string `json:"schedule,omitempty"`
	Nodes    []Node `json:"nodes"`
	Edges    []Edge `json:"edges"`
	OwnerID  string `json:"owner_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Node returns the node with the given id.
func (w *Workflow) Node(id string) (*Node, bool) {
	for i := range w.Nodes {
		if w.Nodes[i].ID == id {
			return &w.Nodes[i], true
		}
	}
	return nil, false
}

// FindTrigger returns the first node of the given trigger kind.
func (w *Workflow) FindTrigger(kind NodeKind) (*Node, bool) {
	for i := range w.Nodes {
		if w.Nodes[i].Kind == kind {
			return &w.Nodes[i], true
		}
	}
	return nil, false
}

// Clone returns a deep copy of the workflow. The executor snapshots the
// definition at run start so concurrent edits cannot affect an in-flight run.
func (w *Workflow) Clone() *Workflow {
	cp := *w
	cp.Nodes = make([]Node, len(w.Nodes))
	for i, n := range w.Nodes {
		cp.Nodes[i] = n
		if n.Config != nil {
			cp.Nodes[i].Config = cloneMap(n.Config)
		}
	}
	cp.Edges = make([]Edge, len(w.Edges))
	copy(cp.Edges, w.Edges)
	return &cp
}

// Validate checks the structural invariants of the graph: unique node ids,
// known node kinds, at least one trigger node, edges referencing existing
// nodes and acyclicity.
func (w *Workflow) Validate() error {
	if w.ID == "" {
		return fmt.Errorf("workflow ID is required")
	}
	if len(w.Nodes) == 0 {
		return fmt.Errorf("workflow must have at least one node")
	}

	nodeIDs := make(map[string]bool, len(w.Nodes))
	hasTrigger := false
	for _, n := range w.Nodes {
		if n.ID == "" {
			return fmt.Errorf("node ID is required")
		}
		if nodeIDs[n.ID] {
			return fmt.Errorf("duplicate node ID: %s", n.ID)
		}
		nodeIDs[n.ID] = true
		if !n.Kind.Known() {
			return fmt.Errorf("unknown node kind %q on node %s", n.Kind, n.ID)
		}
		if n.Kind.IsTrigger() {
			hasTrigger = true
		}
	}
	if !hasTrigger {
		return fmt.Errorf("workflow must have at least one trigger node")
	}

	indegree := make(map[string]int, len(w.Nodes))
	for _, e := range w.Edges {
		if !nodeIDs[e.Source] {
			return fmt.Errorf("edge %s references non-existent source node: %s", e.ID, e.Source)
		}
		if !nodeIDs[e.Target] {
			return fmt.Errorf("edge %s references non-existent target node: %s", e.ID, e.Target)
		}
		indegree[e.Target]++
	}

	// Kahn's algorithm: a topological order exists iff the graph is acyclic.
	queue := make([]string, 0, len(w.Nodes))
	for id := range nodeIDs {
		if indegree[id] == 0 {
			queue = append(queue, id)
		}
	}
	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		for _, e := range w.Edges {
			if e.Source != id {
				continue
			}
			indegree[e.Target]--
			if indegree[e.Target] == 0 {
				queue = append(queue, e.Target)
			}
		}
	}
	if visited != len(w.Nodes) {
		return fmt.Errorf("workflow graph contains a cycle")
	}

	return nil
}

func cloneMap(m map[string]any) map[string]any {
	cp := make(map[string]any, len(m))
	for k, v := range m {
		switch tv := v.(type) {
		case map[string]any:
			cp[k] = cloneMap(tv)
		case []any:
			s := make([]any, len(tv))
			for i, item := range tv {
				if im, ok := item.(map[string]any); ok {
					s[i] = cloneMap(im)
				} else {
					s[i] = item
				}
			}
			cp[k] = s
		default:
			cp[k] = v
		}
	}
	return cp
}
