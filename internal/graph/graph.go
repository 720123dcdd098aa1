// Package graph holds the project knowledge graph: typed nodes for
// projects, teams, resources, decisions, risks and capabilities, joined by
// typed edges. Edges point from the dependent or owned entity to the thing
// it depends on or is owned by, so upstream is outgoing and downstream is
// incoming.
package graph

import (
	"fmt"
	"sort"
	"sync"

	"github.com/contextcore/contextcore/internal/model"
)

type NodeType string

const (
	NodeProject    NodeType = "project"
	NodeTeam       NodeType = "team"
	NodeResource   NodeType = "resource"
	NodeDecision   NodeType = "decision"
	NodeRisk       NodeType = "risk"
	NodeCapability NodeType = "capability"
)

type EdgeType string

const (
	EdgeDependsOn   EdgeType = "depends_on"
	EdgeManages     EdgeType = "manages"
	EdgeOwnedBy     EdgeType = "owned_by"
	EdgeImplements  EdgeType = "implements"
	EdgeExposesRisk EdgeType = "exposes_risk"
	EdgeProvides    EdgeType = "provides"
)

type Node struct {
	ID         string         `json:"id"`
	Type       NodeType       `json:"type"`
	Label      string         `json:"label"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

func (n *Node) attr(key string) any {
	if n.Attributes == nil {
		return nil
	}
	return n.Attributes[key]
}

// Critical reports a project node whose criticality is "critical".
func (n *Node) Critical() bool {
	s, _ := n.attr("criticality").(string)
	return n.Type == NodeProject && s == "critical"
}

// External reports a placeholder project that no descriptor defines.
func (n *Node) External() bool {
	b, _ := n.attr("external").(bool)
	return b
}

type Edge struct {
	Source     string         `json:"source"`
	Target     string         `json:"target"`
	Type       EdgeType       `json:"type"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

type edgeKey struct {
	source, target string
	typ            EdgeType
}

// Graph is built once and then queried. Every edge's endpoints exist as
// nodes; AddEdge enforces it.
type Graph struct {
	nodes   map[string]*Node
	edges   []Edge
	edgeSet map[edgeKey]bool

	mu       sync.Mutex
	indexed  bool
	outgoing map[string][]int
	incoming map[string][]int
}

func New() *Graph {
	return &Graph{
		nodes:   make(map[string]*Node),
		edgeSet: make(map[edgeKey]bool),
	}
}

// AddNode inserts n, or returns the node already stored under n.ID. A
// stored external placeholder is replaced by a defined project.
func (g *Graph) AddNode(n *Node) *Node {
	if cur, ok := g.nodes[n.ID]; ok {
		if !(cur.External() && n.Type == NodeProject && !n.External()) {
			return cur
		}
	}
	g.nodes[n.ID] = n
	g.invalidate()
	return n
}

// AddEdge adds e unless an edge with the same endpoints and type exists.
func (g *Graph) AddEdge(e Edge) error {
	if _, ok := g.nodes[e.Source]; !ok {
		return fmt.Errorf("edge %s: source %q is not a node", e.Type, e.Source)
	}
	if _, ok := g.nodes[e.Target]; !ok {
		return fmt.Errorf("edge %s: target %q is not a node", e.Type, e.Target)
	}
	k := edgeKey{e.Source, e.Target, e.Type}
	if g.edgeSet[k] {
		return nil
	}
	g.edgeSet[k] = true
	g.edges = append(g.edges, e)
	g.invalidate()
	return nil
}

func (g *Graph) invalidate() {
	g.mu.Lock()
	g.indexed = false
	g.mu.Unlock()
}

func (g *Graph) Node(id string) (*Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

func (g *Graph) NodeCount() int { return len(g.nodes) }
func (g *Graph) EdgeCount() int { return len(g.edges) }

// Nodes returns every node ordered by id.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, 0, len(g.nodes))
	for _, n := range g.nodes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// NodesOfType returns the nodes of type t ordered by id.
func (g *Graph) NodesOfType(t NodeType) []*Node {
	var out []*Node
	for _, n := range g.Nodes() {
		if n.Type == t {
			out = append(out, n)
		}
	}
	return out
}

// Edges returns every edge ordered by source, target, type.
func (g *Graph) Edges() []Edge {
	out := append([]Edge(nil), g.edges...)
	sort.Slice(out, func(i, j int) bool { return edgeLess(out[i], out[j]) })
	return out
}

func edgeLess(a, b Edge) bool {
	if a.Source != b.Source {
		return a.Source < b.Source
	}
	if a.Target != b.Target {
		return a.Target < b.Target
	}
	return a.Type < b.Type
}

// index builds the adjacency lists on first use after a mutation.
func (g *Graph) index() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.indexed {
		return
	}
	g.outgoing = make(map[string][]int, len(g.nodes))
	g.incoming = make(map[string][]int, len(g.nodes))
	order := make([]int, len(g.edges))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(i, j int) bool { return edgeLess(g.edges[order[i]], g.edges[order[j]]) })
	for _, i := range order {
		e := g.edges[i]
		g.outgoing[e.Source] = append(g.outgoing[e.Source], i)
		g.incoming[e.Target] = append(g.incoming[e.Target], i)
	}
	g.indexed = true
}

// Outgoing returns the edges leaving id, optionally filtered by type.
func (g *Graph) Outgoing(id string, types ...EdgeType) []Edge {
	g.index()
	return g.pick(g.outgoing[id], types)
}

// Incoming returns the edges arriving at id, optionally filtered by type.
func (g *Graph) Incoming(id string, types ...EdgeType) []Edge {
	g.index()
	return g.pick(g.incoming[id], types)
}

func (g *Graph) pick(idx []int, types []EdgeType) []Edge {
	out := make([]Edge, 0, len(idx))
	for _, i := range idx {
		e := g.edges[i]
		if len(types) == 0 || containsType(types, e.Type) {
			out = append(out, e)
		}
	}
	return out
}

func containsType(types []EdgeType, t EdgeType) bool {
	for _, x := range types {
		if x == t {
			return true
		}
	}
	return false
}

// NodeNotFoundError is returned by queries rooted at an unknown id. It
// matches model.ErrNotFound.
type NodeNotFoundError struct {
	ID   string
	Type NodeType
}

func (e *NodeNotFoundError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("%s %q not found in graph", e.Type, e.ID)
	}
	return fmt.Sprintf("node %q not found in graph", e.ID)
}

func (e *NodeNotFoundError) Is(target error) bool {
	return target == model.ErrNotFound
}

// require returns the node stored under id, which must be of type t when
// t is set.
func (g *Graph) require(id string, t NodeType) (*Node, error) {
	n, ok := g.nodes[NormalizeKey(id)]
	if !ok || (t != "" && n.Type != t) {
		return nil, &NodeNotFoundError{ID: id, Type: t}
	}
	return n, nil
}
