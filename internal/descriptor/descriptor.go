// Package descriptor reads project descriptors. Two document shapes are in
// circulation for the same fields: the nested ProjectContext shape
// (spec.project.id, spec.business.owners, ...) and a flat shape (project_id,
// owners, ...). Every accessor tries the nested path first, then the flat
// one, then falls back to a default, so the graph builder never probes
// documents itself.
package descriptor

import (
	"fmt"
	"strings"
)

const DefaultNamespace = "default"

// Descriptor is one schema-on-read project document.
type Descriptor struct {
	// Source names the file the descriptor came from, if any.
	Source string
	data   map[string]any
}

func New(data map[string]any) Descriptor {
	return Descriptor{data: data}
}

// Raw returns the underlying document.
func (d Descriptor) Raw() map[string]any {
	return d.data
}

type Target struct {
	Kind      string `json:"kind"`
	Name      string `json:"name"`
	Namespace string `json:"namespace"`
}

type Risk struct {
	Type        string `json:"type"`
	Priority    string `json:"priority"`
	Description string `json:"description"`
	Component   string `json:"component"`
}

func (d Descriptor) ProjectID() string {
	return d.firstString(
		[]string{"spec", "project", "id"},
		[]string{"project_id"},
		[]string{"metadata", "name"},
		[]string{"name"},
	)
}

func (d Descriptor) Namespace() string {
	if ns := d.firstString([]string{"metadata", "namespace"}, []string{"namespace"}); ns != "" {
		return ns
	}
	return DefaultNamespace
}

func (d Descriptor) Criticality() string {
	return strings.ToLower(d.firstString(
		[]string{"spec", "business", "criticality"},
		[]string{"criticality"},
	))
}

// Critical reports a criticality of "critical".
func (d Descriptor) Critical() bool {
	return d.Criticality() == "critical"
}

func (d Descriptor) BusinessValue() string {
	return d.firstString(
		[]string{"spec", "business", "value"},
		[]string{"business_value"},
	)
}

func (d Descriptor) Owners() []string {
	return d.firstList(
		[]string{"spec", "business", "owners"},
		[]string{"spec", "business", "owner"},
		[]string{"owners"},
		[]string{"owner"},
		[]string{"team"},
	)
}

func (d Descriptor) DependsOn() []string {
	return d.firstList(
		[]string{"spec", "dependencies"},
		[]string{"depends_on"},
	)
}

func (d Descriptor) ADRs() []string {
	return d.firstList(
		[]string{"spec", "design", "adrs"},
		[]string{"spec", "design", "adr"},
		[]string{"adrs"},
	)
}

func (d Descriptor) Capabilities() []string {
	return d.firstList(
		[]string{"spec", "capabilities"},
		[]string{"capabilities"},
	)
}

// Targets returns the declared dependency targets. A target without a
// namespace inherits the descriptor's.
func (d Descriptor) Targets() []Target {
	raw, ok := d.first([]string{"spec", "targets"}, []string{"targets"})
	if !ok {
		return nil
	}
	items, _ := raw.([]any)
	ns := d.Namespace()
	out := make([]Target, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		t := Target{
			Kind:      asString(m["kind"]),
			Name:      asString(m["name"]),
			Namespace: asString(m["namespace"]),
		}
		if t.Namespace == "" {
			t.Namespace = ns
		}
		out = append(out, t)
	}
	return out
}

func (d Descriptor) Risks() []Risk {
	raw, ok := d.first([]string{"spec", "risks"}, []string{"risks"})
	if !ok {
		return nil
	}
	items, _ := raw.([]any)
	out := make([]Risk, 0, len(items))
	for _, item := range items {
		switch v := item.(type) {
		case map[string]any:
			out = append(out, Risk{
				Type:        asString(v["type"]),
				Priority:    asString(v["priority"]),
				Description: asString(v["description"]),
				Component:   asString(v["component"]),
			})
		case string:
			out = append(out, Risk{Type: strings.TrimSpace(v)})
		}
	}
	return out
}

// first returns the value at the first path that is present and non-empty.
func (d Descriptor) first(paths ...[]string) (any, bool) {
	for _, p := range paths {
		if v, ok := lookup(d.data, p); ok && !empty(v) {
			return v, true
		}
	}
	return nil, false
}

func (d Descriptor) firstString(paths ...[]string) string {
	v, _ := d.first(paths...)
	return asString(v)
}

func (d Descriptor) firstList(paths ...[]string) []string {
	v, ok := d.first(paths...)
	if !ok {
		return nil
	}
	return asStringList(v)
}

func lookup(m map[string]any, path []string) (any, bool) {
	var cur any = m
	for _, key := range path {
		node, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = node[key]; !ok {
			return nil, false
		}
	}
	return cur, cur != nil
}

func empty(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(x) == ""
	case []any:
		return len(x) == 0
	case map[string]any:
		return len(x) == 0
	}
	return false
}

func asString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(x)
	case fmt.Stringer:
		return strings.TrimSpace(x.String())
	default:
		return strings.TrimSpace(fmt.Sprint(x))
	}
}

// asStringList accepts a scalar, a list of scalars, or a list of mappings
// identified by one of id, name, project, team.
func asStringList(v any) []string {
	items, ok := v.([]any)
	if !ok {
		items = []any{v}
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		var s string
		if m, ok := item.(map[string]any); ok {
			for _, key := range []string{"id", "name", "project", "team"} {
				if s = asString(m[key]); s != "" {
					break
				}
			}
		} else {
			s = asString(item)
		}
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
