// Package mcpserver exposes graph queries and handoff operations as MCP
// tools so agents can call them over stdio.
//
// Each tool is a struct with its dependencies injected through the
// constructor, a Definition that returns the tool schema and a Handle that
// serves one call.
package mcpserver

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/contextcore/contextcore/internal/graph"
	"github.com/contextcore/contextcore/internal/handoff"
)

// Version is set at build time via ldflags.
var Version = "dev"

type Deps struct {
	// Graph is built once before serving; nil leaves the graph tools out.
	Graph           *graph.Graph
	DefaultMaxDepth int
	// Manager is the requester side; nil leaves the handoff tools out.
	Manager *handoff.Manager
}

// Tool is implemented by every tool handler in this package.
type Tool interface {
	Definition() mcp.Tool
	Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
}

// New builds the server with every tool its dependencies allow.
func New(deps Deps) *server.MCPServer {
	s := server.NewMCPServer(
		"contextcore",
		Version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(instructions),
	)
	for _, t := range Tools(deps) {
		s.AddTool(t.Definition(), t.Handle)
	}
	return s
}

// Tools returns the tool handlers New registers.
func Tools(deps Deps) []Tool {
	var out []Tool
	if deps.Graph != nil {
		depth := deps.DefaultMaxDepth
		if depth <= 0 {
			depth = 3
		}
		out = append(out,
			NewImpactTool(deps.Graph, depth),
			NewDependenciesTool(deps.Graph),
			NewPathTool(deps.Graph),
			NewRiskExposureTool(deps.Graph),
			NewExportTool(deps.Graph),
		)
	}
	if deps.Manager != nil {
		out = append(out,
			NewCreateHandoffTool(deps.Manager),
			NewHandoffStatusTool(deps.Manager),
			NewAwaitHandoffTool(deps.Manager),
			NewProvideInputTool(deps.Manager),
			NewListInputsTool(deps.Manager),
		)
	}
	return out
}

func Serve(s *server.MCPServer) error {
	return server.ServeStdio(s)
}

const instructions = `contextcore answers questions about project relationships and delegates work to other agents.
Graph tools: graph_impact (who is affected if a project changes), graph_dependencies, graph_path, graph_risk_exposure, graph_export.
Handoff tools: handoff_create, handoff_status, handoff_await, handoff_list_inputs, handoff_provide_input.
A handoff_await that reports client_timeout only means you stopped waiting; the handoff may still finish.`
