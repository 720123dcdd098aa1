package graph

import (
	"sort"
)

// Impact is the downstream blast radius of a change to one node.
type Impact struct {
	Root     string `json:"root"`
	MaxDepth int    `json:"max_depth"`
	// Affected lists the downstream projects, ordered by id.
	Affected []string `json:"affected"`
	// Depths maps each affected project to its shortest distance from Root.
	Depths           map[string]int `json:"depths"`
	Critical         []string       `json:"critical"`
	Teams            []string       `json:"teams"`
	TotalBlastRadius int            `json:"total_blast_radius"`
}

// ImpactAnalysis walks incoming edges breadth-first from root for at most
// maxDepth hops. Only project nodes count toward the blast radius; the
// root itself is never counted.
func (g *Graph) ImpactAnalysis(root string, maxDepth int) (*Impact, error) {
	start, err := g.require(root, "")
	if err != nil {
		return nil, err
	}

	res := &Impact{
		Root:     start.ID,
		MaxDepth: maxDepth,
		Affected: []string{},
		Depths:   map[string]int{},
		Critical: []string{},
		Teams:    []string{},
	}

	depth := map[string]int{start.ID: 0}
	queue := []string{start.ID}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if depth[cur] >= maxDepth {
			continue
		}
		for _, e := range g.Incoming(cur) {
			if _, seen := depth[e.Source]; seen {
				continue
			}
			depth[e.Source] = depth[cur] + 1
			queue = append(queue, e.Source)
		}
	}

	teams := map[string]bool{}
	for id, d := range depth {
		n := g.nodes[id]
		if id == start.ID || n.Type != NodeProject {
			continue
		}
		res.Affected = append(res.Affected, id)
		res.Depths[id] = d
		if n.Critical() {
			res.Critical = append(res.Critical, id)
		}
		for _, e := range g.Outgoing(id, EdgeOwnedBy) {
			teams[g.nodes[e.Target].Label] = true
		}
	}
	sort.Strings(res.Affected)
	sort.Strings(res.Critical)
	res.Teams = sortedKeys(teams)
	res.TotalBlastRadius = len(res.Affected)
	return res, nil
}

// Dependencies is the one-hop neighbourhood of a project.
type Dependencies struct {
	Project         string   `json:"project"`
	Upstream        []string `json:"upstream"`
	Downstream      []string `json:"downstream"`
	SharedResources []string `json:"shared_resources"`
	SharedADRs      []string `json:"shared_adrs"`
	// SharedWith lists other projects linked to any of this project's
	// resources.
	SharedWith []string `json:"shared_with"`
}

func (g *Graph) GetDependencies(project string) (*Dependencies, error) {
	p, err := g.require(project, NodeProject)
	if err != nil {
		return nil, err
	}

	up, down, resources, adrs, sharers := map[string]bool{}, map[string]bool{}, map[string]bool{}, map[string]bool{}, map[string]bool{}
	for _, e := range g.Outgoing(p.ID) {
		switch t := g.nodes[e.Target]; {
		case t.Type == NodeProject && e.Type == EdgeDependsOn:
			up[t.ID] = true
		case t.Type == NodeResource:
			resources[t.ID] = true
			for _, in := range g.Incoming(t.ID) {
				if in.Source != p.ID && g.nodes[in.Source].Type == NodeProject {
					sharers[in.Source] = true
				}
			}
		case t.Type == NodeDecision:
			adrs[t.ID] = true
		}
	}
	for _, e := range g.Incoming(p.ID, EdgeDependsOn) {
		if g.nodes[e.Source].Type == NodeProject {
			down[e.Source] = true
		}
	}

	return &Dependencies{
		Project:         p.ID,
		Upstream:        sortedKeys(up),
		Downstream:      sortedKeys(down),
		SharedResources: sortedKeys(resources),
		SharedADRs:      sortedKeys(adrs),
		SharedWith:      sortedKeys(sharers),
	}, nil
}

// FindPath returns the shortest path from one node to another ignoring
// edge direction, or nil when they are not connected. A node's path to
// itself is the node alone.
func (g *Graph) FindPath(from, to string) ([]string, error) {
	src, err := g.require(from, "")
	if err != nil {
		return nil, err
	}
	dst, err := g.require(to, "")
	if err != nil {
		return nil, err
	}
	if src.ID == dst.ID {
		return []string{src.ID}, nil
	}

	parent := map[string]string{src.ID: ""}
	queue := []string{src.ID}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range g.neighbours(cur) {
			if _, seen := parent[next]; seen {
				continue
			}
			parent[next] = cur
			if next == dst.ID {
				return tracePath(parent, dst.ID), nil
			}
			queue = append(queue, next)
		}
	}
	return nil, nil
}

// neighbours returns the ids adjacent to id in either direction, ordered by
// id so equal-length paths resolve the same way every time.
func (g *Graph) neighbours(id string) []string {
	set := map[string]bool{}
	for _, e := range g.Outgoing(id) {
		set[e.Target] = true
	}
	for _, e := range g.Incoming(id) {
		set[e.Source] = true
	}
	return sortedKeys(set)
}

func tracePath(parent map[string]string, end string) []string {
	var path []string
	for cur := end; cur != ""; cur = parent[cur] {
		path = append(path, cur)
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

type RiskCount struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

// GetRiskExposure counts risk types across the projects owned by team,
// ordered by count descending then type. team may be the team name or its
// node id.
func (g *Graph) GetRiskExposure(team string) ([]RiskCount, error) {
	t, err := g.require(team, NodeTeam)
	if err != nil {
		t, err = g.require(TeamKey(team), NodeTeam)
		if err != nil {
			return nil, &NodeNotFoundError{ID: team, Type: NodeTeam}
		}
	}

	counts := map[string]int{}
	for _, owned := range g.Incoming(t.ID, EdgeOwnedBy) {
		if g.nodes[owned.Source].Type != NodeProject {
			continue
		}
		for _, e := range g.Outgoing(owned.Source, EdgeExposesRisk) {
			counts[g.nodes[e.Target].Label]++
		}
	}

	out := make([]RiskCount, 0, len(counts))
	for typ, n := range counts {
		out = append(out, RiskCount{Type: typ, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Type < out[j].Type
	})
	return out, nil
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
