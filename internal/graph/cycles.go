package graph

// DependencyCycles reports the cycles among project depends_on edges. Each
// cycle starts and ends with the same project id.
func (g *Graph) DependencyCycles() [][]string {
	projects := g.NodesOfType(NodeProject)
	names := make([]string, 0, len(projects))
	deps := make(map[string][]string, len(projects))
	for _, p := range projects {
		names = append(names, p.ID)
		for _, e := range g.Outgoing(p.ID, EdgeDependsOn) {
			if g.nodes[e.Target].Type == NodeProject {
				deps[p.ID] = append(deps[p.ID], e.Target)
			}
		}
	}

	residual := kahnResidual(names, deps)
	if len(residual) == 0 {
		return nil
	}
	return findCycles(names, deps, residual)
}

// kahnResidual runs Kahn's algorithm and returns the nodes it could not
// order, i.e. those on or behind a cycle.
func kahnResidual(names []string, deps map[string][]string) map[string]bool {
	inDegree := make(map[string]int, len(names))
	forward := make(map[string][]string)
	for node, ds := range deps {
		for _, dep := range ds {
			inDegree[node]++
			forward[dep] = append(forward[dep], node)
		}
	}

	var queue []string
	for _, n := range names {
		if inDegree[n] == 0 {
			queue = append(queue, n)
		}
	}
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		for _, dependent := range forward[node] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	residual := make(map[string]bool)
	for _, n := range names {
		if inDegree[n] > 0 {
			residual[n] = true
		}
	}
	return residual
}

// findCycles walks the residual nodes depth-first and records one cycle per
// back edge found.
func findCycles(names []string, deps map[string][]string, residual map[string]bool) [][]string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int)
	parent := make(map[string]string)
	var cycles [][]string

	var dfs func(node string)
	dfs = func(node string) {
		color[node] = gray
		for _, dep := range deps[node] {
			if !residual[dep] {
				continue
			}
			switch color[dep] {
			case gray:
				path := []string{dep}
				for cur := node; cur != dep; cur = parent[cur] {
					path = append(path, cur)
				}
				path = append(path, dep)
				for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
					path[i], path[j] = path[j], path[i]
				}
				cycles = append(cycles, path)
			case white:
				parent[dep] = node
				dfs(dep)
			}
		}
		color[node] = black
	}

	for _, n := range names {
		if residual[n] && color[n] == white {
			dfs(n)
		}
	}
	return cycles
}
