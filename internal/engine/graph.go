// Package engine interprets flow graphs: it materializes a FlowExecution
// per run, walks the version's DAG in dependency order, and records one
// ExecutionStep plus a log stream per node.
package engine

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/flowline/backend/internal/apperr"
)

// Node types with engine-defined behavior. Anything else is treated as an
// action and resolved through the node's kind or a dotted provider type.
const (
	NodeStart     = "start"
	NodeTrigger   = "trigger"
	NodeEnd       = "end"
	NodeCondition = "condition"
	NodeTransform = "transform"
	NodeAction    = "action"
)

// Action kinds the engine knows how to run.
const (
	KindHTTP       = "http"
	KindEmail      = "email"
	KindDatabase   = "database"
	KindSalesforce = "salesforce"
)

// Graph is the decoded shape of FlowVersion.graph.
type Graph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`

	byID map[string]*Node
}

// Node is one vertex. Config is decoded lazily into the typed variant for
// the node's (type, kind) pair.
type Node struct {
	ID     string          `json:"id"`
	Type   string          `json:"type"`
	Kind   string          `json:"kind,omitempty"`
	Label  string          `json:"label,omitempty"`
	X      float64         `json:"x,omitempty"`
	Y      float64         `json:"y,omitempty"`
	Config json.RawMessage `json:"config,omitempty"`
}

// Edge is a directed dependency: To runs after From.
type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// DisplayName is what log lines call the node.
func (n *Node) DisplayName() string {
	if n.Label != "" {
		return n.Label
	}
	return n.ID
}

// IsProviderType reports whether the node's type is a dotted provider
// operation such as "mtn.requestToPay".
func (n *Node) IsProviderType() bool {
	return strings.Contains(n.Type, ".")
}

// ProviderOp splits a dotted type into provider and operation.
func (n *Node) ProviderOp() (provider, op string) {
	parts := strings.SplitN(n.Type, ".", 2)
	if len(parts) != 2 {
		return "", ""
	}
	return strings.ToLower(parts[0]), parts[1]
}

// DecodeGraph parses and validates a graph document. Node ids must be unique
// and every edge endpoint must name an existing node. Cycle detection is
// deferred to plan construction.
func DecodeGraph(raw json.RawMessage) (*Graph, error) {
	if len(raw) == 0 {
		return nil, apperr.New(apperr.KindInvalidGraph, "graph is empty")
	}
	var g Graph
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, apperr.Wrap(apperr.KindInvalidGraph, "graph is not valid JSON", err)
	}
	if len(g.Nodes) == 0 {
		return nil, apperr.New(apperr.KindInvalidGraph, "graph has no nodes")
	}

	g.byID = make(map[string]*Node, len(g.Nodes))
	for i := range g.Nodes {
		n := &g.Nodes[i]
		if n.ID == "" {
			return nil, apperr.New(apperr.KindInvalidGraph, "node with empty id")
		}
		if _, dup := g.byID[n.ID]; dup {
			return nil, apperr.Newf(apperr.KindInvalidGraph, "duplicate node id %q", n.ID)
		}
		g.byID[n.ID] = n
	}
	for _, e := range g.Edges {
		if _, ok := g.byID[e.From]; !ok {
			return nil, apperr.Newf(apperr.KindInvalidGraph, "edge references unknown node %q", e.From)
		}
		if _, ok := g.byID[e.To]; !ok {
			return nil, apperr.Newf(apperr.KindInvalidGraph, "edge references unknown node %q", e.To)
		}
	}
	return &g, nil
}

// NodeByID returns the node for an id.
func (g *Graph) NodeByID(id string) (*Node, bool) {
	n, ok := g.byID[id]
	return n, ok
}

// Predecessors returns the ids of nodes with an edge into id, in edge order.
func (g *Graph) Predecessors(id string) []string {
	var preds []string
	for _, e := range g.Edges {
		if e.To == id {
			preds = append(preds, e.From)
		}
	}
	return preds
}

// Typed node configs. Decoded at execution time so a bad config fails the
// step that owns it, not the whole plan.

type ConditionConfig struct {
	Condition string `json:"condition"`
}

type TransformConfig struct {
	Transformation string   `json:"transformation"`
	Fields         []string `json:"fields,omitempty"`
}

type HTTPConfig struct {
	URL     string            `json:"url"`
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    json.RawMessage   `json:"body,omitempty"`
}

type EmailConfig struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// ProviderConfig carries free-form parameters for dotted provider types.
type ProviderConfig struct {
	Params map[string]interface{} `json:"params,omitempty"`
}

func decodeConfig(n *Node, out interface{}) error {
	if len(n.Config) == 0 {
		return nil
	}
	if err := json.Unmarshal(n.Config, out); err != nil {
		return fmt.Errorf("node %s config: %w", n.ID, err)
	}
	return nil
}
