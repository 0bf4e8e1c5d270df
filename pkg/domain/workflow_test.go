package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validWorkflow() *Workflow {
	return &Workflow{
		ID:     "wf-1",
		Name:   "test",
		Active: true,
		Nodes: []Node{
			{ID: "t1", Kind: NodeTriggerForm, Config: map[string]any{"token": "s3cret"}},
			{ID: "a1", Kind: NodeActionEcho},
		},
		Edges: []Edge{
			{ID: "e1", Source: "t1", Target: "a1"},
		},
	}
}

func TestWorkflowValidate(t *testing.T) {
	t.Run("valid workflow passes", func(t *testing.T) {
		assert.NoError(t, validWorkflow().Validate())
	})

	t.Run("missing id", func(t *testing.T) {
		wf := validWorkflow()
		wf.ID = ""
		assert.ErrorContains(t, wf.Validate(), "workflow ID is required")
	})

	t.Run("duplicate node ids", func(t *testing.T) {
		wf := validWorkflow()
		wf.Nodes = append(wf.Nodes, Node{ID: "a1", Kind: NodeActionEcho})
		assert.ErrorContains(t, wf.Validate(), "duplicate node ID")
	})

	t.Run("unknown node kind", func(t *testing.T) {
		wf := validWorkflow()
		wf.Nodes[1].Kind = "action:teleport"
		assert.ErrorContains(t, wf.Validate(), "unknown node kind")
	})

	t.Run("no trigger node", func(t *testing.T) {
		wf := &Workflow{
			ID:    "wf-2",
			Nodes: []Node{{ID: "a1", Kind: NodeActionEcho}},
		}
		assert.ErrorContains(t, wf.Validate(), "at least one trigger node")
	})

	t.Run("edge references missing node", func(t *testing.T) {
		wf := validWorkflow()
		wf.Edges = append(wf.Edges, Edge{ID: "e2", Source: "a1", Target: "ghost"})
		assert.ErrorContains(t, wf.Validate(), "non-existent target")
	})

	t.Run("cycle is rejected", func(t *testing.T) {
		wf := validWorkflow()
		wf.Nodes = append(wf.Nodes, Node{ID: "a2", Kind: NodeActionEcho})
		wf.Edges = append(wf.Edges,
			Edge{ID: "e2", Source: "a1", Target: "a2"},
			Edge{ID: "e3", Source: "a2", Target: "a1"},
		)
		assert.ErrorContains(t, wf.Validate(), "cycle")
	})
}

func TestWorkflowClone(t *testing.T) {
	wf := validWorkflow()
	cp := wf.Clone()

	cp.Nodes[0].Config["token"] = "changed"
	cp.Edges[0].Target = "elsewhere"
	cp.Nodes = append(cp.Nodes, Node{ID: "new", Kind: NodeActionEcho})

	assert.Equal(t, "s3cret", wf.Nodes[0].Config["token"])
	assert.Equal(t, "a1", wf.Edges[0].Target)
	assert.Len(t, wf.Nodes, 2)
}

func TestFindTrigger(t *testing.T) {
	wf := validWorkflow()

	node, ok := wf.FindTrigger(NodeTriggerForm)
	require.True(t, ok)
	assert.Equal(t, "t1", node.ID)

	_, ok = wf.FindTrigger(NodeTriggerEmail)
	assert.False(t, ok)
}

func TestNodeKindClassification(t *testing.T) {
	assert.True(t, NodeTriggerSchedule.IsTrigger())
	assert.False(t, NodeActionHTTP.IsTrigger())
	assert.True(t, NodeActionLLM.Known())
	assert.False(t, NodeKind("action:invented").Known())
}
