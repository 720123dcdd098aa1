package graph

// Export is the full-fidelity form of a graph: every node and edge with
// its attributes. Slices are sorted, so equal graphs marshal to identical
// JSON.
type Export struct {
	Nodes []Node         `json:"nodes"`
	Edges []Edge         `json:"edges"`
	Stats map[string]int `json:"stats"`
}

func (g *Graph) ToDict() Export {
	nodes := g.Nodes()
	out := Export{
		Nodes: make([]Node, 0, len(nodes)),
		Edges: g.Edges(),
		Stats: map[string]int{"nodes": len(nodes), "edges": len(g.edges)},
	}
	for _, n := range nodes {
		out.Nodes = append(out.Nodes, *n)
		out.Stats[string(n.Type)]++
	}
	return out
}

type VisNode struct {
	ID       string   `json:"id"`
	Type     NodeType `json:"type"`
	Label    string   `json:"label"`
	Critical bool     `json:"critical,omitempty"`
	External bool     `json:"external,omitempty"`
}

type VisLink struct {
	Source string   `json:"source"`
	Target string   `json:"target"`
	Type   EdgeType `json:"type"`
}

// Visualization is the nodes/links shape force-directed renderers expect.
type Visualization struct {
	Nodes []VisNode `json:"nodes"`
	Links []VisLink `json:"links"`
}

func (g *Graph) ToVisualizationFormat() Visualization {
	v := Visualization{Nodes: []VisNode{}, Links: []VisLink{}}
	for _, n := range g.Nodes() {
		v.Nodes = append(v.Nodes, VisNode{
			ID:       n.ID,
			Type:     n.Type,
			Label:    n.Label,
			Critical: n.Critical(),
			External: n.External(),
		})
	}
	for _, e := range g.Edges() {
		v.Links = append(v.Links, VisLink{Source: e.Source, Target: e.Target, Type: e.Type})
	}
	return v
}
