package mcpserver

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/contextcore/contextcore/internal/graph"
)

// ─── ImpactTool ─────────────────────────────────────────────────────────────

type ImpactTool struct {
	graph        *graph.Graph
	defaultDepth int
}

func NewImpactTool(g *graph.Graph, defaultDepth int) *ImpactTool {
	return &ImpactTool{graph: g, defaultDepth: defaultDepth}
}

func (t *ImpactTool) Definition() mcp.Tool {
	return mcp.NewTool("graph_impact",
		mcp.WithDescription(
			"Blast radius of a change: the projects that depend on the given node, directly or transitively, "+
				"with the critical ones and their owning teams.",
		),
		mcp.WithString("project_id",
			mcp.Required(),
			mcp.Description("Project id, or any node id such as a resource key kind/namespace/name"),
		),
		mcp.WithNumber("max_depth",
			mcp.Description(fmt.Sprintf("Maximum hops to follow (default %d)", t.defaultDepth)),
		),
	)
}

func (t *ImpactTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("project_id", "")
	if id == "" {
		return mcp.NewToolResultError("'project_id' is required"), nil
	}
	depth := intArg(req, "max_depth", t.defaultDepth)
	if depth < 0 {
		return mcp.NewToolResultError("'max_depth' must not be negative"), nil
	}
	res, err := t.graph.ImpactAnalysis(id, depth)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(res)
}

// ─── DependenciesTool ───────────────────────────────────────────────────────

type DependenciesTool struct {
	graph *graph.Graph
}

func NewDependenciesTool(g *graph.Graph) *DependenciesTool {
	return &DependenciesTool{graph: g}
}

func (t *DependenciesTool) Definition() mcp.Tool {
	return mcp.NewTool("graph_dependencies",
		mcp.WithDescription("One-hop dependencies of a project: upstream and downstream projects, shared resources and ADRs."),
		mcp.WithString("project_id", mcp.Required(), mcp.Description("Project id")),
	)
}

func (t *DependenciesTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("project_id", "")
	if id == "" {
		return mcp.NewToolResultError("'project_id' is required"), nil
	}
	deps, err := t.graph.GetDependencies(id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(deps)
}

// ─── PathTool ───────────────────────────────────────────────────────────────

type PathTool struct {
	graph *graph.Graph
}

func NewPathTool(g *graph.Graph) *PathTool {
	return &PathTool{graph: g}
}

func (t *PathTool) Definition() mcp.Tool {
	return mcp.NewTool("graph_path",
		mcp.WithDescription("Shortest chain of relations between two nodes, ignoring edge direction."),
		mcp.WithString("from", mcp.Required(), mcp.Description("Start node id")),
		mcp.WithString("to", mcp.Required(), mcp.Description("End node id")),
	)
}

func (t *PathTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	from := req.GetString("from", "")
	to := req.GetString("to", "")
	if from == "" || to == "" {
		return mcp.NewToolResultError("'from' and 'to' are required"), nil
	}
	path, err := t.graph.FindPath(from, to)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if path == nil {
		return mcp.NewToolResultText(fmt.Sprintf("No path between %s and %s.", from, to)), nil
	}
	return jsonResult(map[string]any{"path": path, "hops": len(path) - 1})
}

// ─── RiskExposureTool ───────────────────────────────────────────────────────

type RiskExposureTool struct {
	graph *graph.Graph
}

func NewRiskExposureTool(g *graph.Graph) *RiskExposureTool {
	return &RiskExposureTool{graph: g}
}

func (t *RiskExposureTool) Definition() mcp.Tool {
	return mcp.NewTool("graph_risk_exposure",
		mcp.WithDescription("Risk types across the projects a team owns, most frequent first."),
		mcp.WithString("team", mcp.Required(), mcp.Description("Team name")),
	)
}

func (t *RiskExposureTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	team := req.GetString("team", "")
	if team == "" {
		return mcp.NewToolResultError("'team' is required"), nil
	}
	risks, err := t.graph.GetRiskExposure(team)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]any{"team": team, "risks": risks})
}

// ─── ExportTool ─────────────────────────────────────────────────────────────

type ExportTool struct {
	graph *graph.Graph
}

func NewExportTool(g *graph.Graph) *ExportTool {
	return &ExportTool{graph: g}
}

func (t *ExportTool) Definition() mcp.Tool {
	return mcp.NewTool("graph_export",
		mcp.WithDescription("The whole graph, either with every attribute (dict) or as nodes/links for rendering (visualization)."),
		mcp.WithString("format",
			mcp.Description("dict or visualization (default visualization)"),
			mcp.Enum("dict", "visualization"),
		),
	)
}

func (t *ExportTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	switch f := req.GetString("format", "visualization"); f {
	case "dict":
		return jsonResult(t.graph.ToDict())
	case "visualization":
		return jsonResult(t.graph.ToVisualizationFormat())
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown format %q: use dict or visualization", f)), nil
	}
}
