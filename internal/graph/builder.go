package graph

import (
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/contextcore/contextcore/internal/descriptor"
)

// NormalizeKey trims s and puts it in Unicode NFC so the same name typed
// on different systems collapses to one node.
func NormalizeKey(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

func ProjectKey(id string) string { return NormalizeKey(id) }

// reservedPrefixes mark the key spaces of non-project nodes.
var reservedPrefixes = []string{"team:", "adr:", "capability:", "risk:"}

// ReservedProjectKey reports whether key would land in another node type's
// key space. Resource keys are the ones containing a slash.
func ReservedProjectKey(key string) bool {
	if strings.Contains(key, "/") {
		return true
	}
	for _, p := range reservedPrefixes {
		if strings.HasPrefix(key, p) {
			return true
		}
	}
	return false
}

func TeamKey(name string) string { return "team:" + NormalizeKey(name) }

func DecisionKey(id string) string { return "adr:" + NormalizeKey(id) }

func CapabilityKey(id string) string { return "capability:" + NormalizeKey(id) }

// ResourceKey is kind/namespace/name with the kind lowercased. A renamed
// resource gets a new key; nothing merges it with the old one.
func ResourceKey(kind, namespace, name string) string {
	return strings.ToLower(NormalizeKey(kind)) + "/" + NormalizeKey(namespace) + "/" + NormalizeKey(name)
}

func RiskKey(project, riskType string, n int) string {
	return fmt.Sprintf("risk:%s:%s:%d", NormalizeKey(project), NormalizeKey(riskType), n)
}

// managedKinds are workload objects a project runs itself; any other
// target kind is something it depends on.
var managedKinds = map[string]bool{
	"deployment":  true,
	"statefulset": true,
	"daemonset":   true,
	"service":     true,
	"ingress":     true,
	"cronjob":     true,
	"job":         true,
	"configmap":   true,
}

func targetEdgeType(kind string) EdgeType {
	if managedKinds[strings.ToLower(NormalizeKey(kind))] {
		return EdgeManages
	}
	return EdgeDependsOn
}

// BuildStats summarizes one Build call.
type BuildStats struct {
	Projects int
	// Skipped counts descriptors without a resolvable project id.
	Skipped int
	// Rejected counts project ids and dependency targets dropped because
	// they use a reserved key prefix or contain a slash.
	Rejected int
	// External counts placeholder projects created for undeclared
	// dependencies.
	External int
}

// Build constructs a graph from descriptors. Projects are added before any
// edge so a dependency on a later descriptor resolves to the defined
// project instead of a placeholder.
func Build(ds []descriptor.Descriptor) (*Graph, BuildStats) {
	g := New()
	var stats BuildStats

	valid := make([]descriptor.Descriptor, 0, len(ds))
	for _, d := range ds {
		id := ProjectKey(d.ProjectID())
		if id == "" {
			stats.Skipped++
			continue
		}
		if ReservedProjectKey(id) {
			stats.Rejected++
			continue
		}
		valid = append(valid, d)
		if n, ok := g.Node(id); ok && n.Type == NodeProject {
			continue
		}
		g.AddNode(projectNode(id, d))
		stats.Projects++
	}

	for _, d := range valid {
		external, rejected := addRelations(g, ProjectKey(d.ProjectID()), d)
		stats.External += external
		stats.Rejected += rejected
	}
	return g, stats
}

func projectNode(id string, d descriptor.Descriptor) *Node {
	attrs := map[string]any{
		"namespace": d.Namespace(),
		"external":  false,
	}
	if c := d.Criticality(); c != "" {
		attrs["criticality"] = c
	}
	if v := d.BusinessValue(); v != "" {
		attrs["business_value"] = v
	}
	if owners := d.Owners(); len(owners) > 0 {
		attrs["owners"] = owners
	}
	if d.Source != "" {
		attrs["source"] = d.Source
	}
	return &Node{ID: id, Type: NodeProject, Label: id, Attributes: attrs}
}

// addRelations adds every node and edge a descriptor declares and returns
// how many placeholder projects it had to create and how many dependency
// targets it rejected. AddEdge cannot fail here: both endpoints are added
// first.
func addRelations(g *Graph, project string, d descriptor.Descriptor) (external, rejected int) {
	link := func(target string, typ EdgeType, attrs map[string]any) {
		_ = g.AddEdge(Edge{Source: project, Target: target, Type: typ, Attributes: attrs})
	}

	for _, t := range d.Targets() {
		if NormalizeKey(t.Kind) == "" || NormalizeKey(t.Name) == "" {
			continue
		}
		key := ResourceKey(t.Kind, t.Namespace, t.Name)
		g.AddNode(&Node{ID: key, Type: NodeResource, Label: NormalizeKey(t.Name), Attributes: map[string]any{
			"kind":      NormalizeKey(t.Kind),
			"namespace": NormalizeKey(t.Namespace),
			"name":      NormalizeKey(t.Name),
		}})
		link(key, targetEdgeType(t.Kind), nil)
	}

	for _, dep := range d.DependsOn() {
		key := ProjectKey(dep)
		if key == "" || key == project {
			continue
		}
		if ReservedProjectKey(key) {
			rejected++
			continue
		}
		if _, ok := g.Node(key); !ok {
			g.AddNode(&Node{ID: key, Type: NodeProject, Label: key, Attributes: map[string]any{"external": true}})
			external++
		}
		link(key, EdgeDependsOn, nil)
	}

	for _, owner := range d.Owners() {
		key := TeamKey(owner)
		g.AddNode(&Node{ID: key, Type: NodeTeam, Label: NormalizeKey(owner)})
		link(key, EdgeOwnedBy, nil)
	}

	for i, r := range d.Risks() {
		if NormalizeKey(r.Type) == "" {
			continue
		}
		key := RiskKey(project, r.Type, i)
		attrs := map[string]any{"risk_type": NormalizeKey(r.Type), "project": project}
		if r.Priority != "" {
			attrs["priority"] = r.Priority
		}
		if r.Description != "" {
			attrs["description"] = r.Description
		}
		if r.Component != "" {
			attrs["component"] = r.Component
		}
		g.AddNode(&Node{ID: key, Type: NodeRisk, Label: NormalizeKey(r.Type), Attributes: attrs})
		var edgeAttrs map[string]any
		if r.Priority != "" {
			edgeAttrs = map[string]any{"priority": r.Priority}
		}
		link(key, EdgeExposesRisk, edgeAttrs)
	}

	for _, adr := range d.ADRs() {
		key := DecisionKey(adr)
		g.AddNode(&Node{ID: key, Type: NodeDecision, Label: NormalizeKey(adr)})
		link(key, EdgeImplements, nil)
	}

	for _, c := range d.Capabilities() {
		key := CapabilityKey(c)
		g.AddNode(&Node{ID: key, Type: NodeCapability, Label: NormalizeKey(c)})
		link(key, EdgeProvides, nil)
	}
	return external, rejected
}
