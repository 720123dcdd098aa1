package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/contextcore/contextcore/internal/mcpserver"
)

// MCPOptions holds flags for the mcp command.
type MCPOptions struct {
	*RootOptions
	Agent   string
	Dir     string
	NoGraph bool
}

// NewMCPCommand creates the mcp command, which serves the MCP tools over
// stdio. Logs go to stderr; stdout carries the protocol.
func NewMCPCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MCPOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve graph and handoff tools over MCP stdio",
		Long: `Starts an MCP server on stdin/stdout. The graph is built once at startup from
--dir (default: graph.descriptors_dir); when no directory is available the
graph tools are left out. Handoff tools act as --agent.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd, opts.RootOptions, func(ctx context.Context, e *env, out *OutputFormatter) error {
				deps := mcpserver.Deps{
					DefaultMaxDepth: e.cfg.Graph.DefaultMaxDepth,
					Manager:         e.manager(opts.Agent),
				}

				gopts := &GraphOptions{RootOptions: opts.RootOptions, Dir: opts.Dir}
				if gopts.Dir == "" {
					gopts.Dir = e.cfg.Graph.DescriptorsDir
				}
				if !opts.NoGraph && descriptorsDirExists(gopts.Dir) {
					g, rep, err := loadGraph(ctx, gopts, e.cfg)
					if err != nil {
						return err
					}
					for _, line := range rep.Invalid {
						e.log.Warnf("descriptor_skipped %s", line)
					}
					e.log.Infof("graph_built dir=%s projects=%d nodes=%d edges=%d", rep.Dir, rep.Projects, rep.Nodes, rep.Edges)
					deps.Graph = g
				} else {
					e.log.Infof("graph tools disabled dir=%q", gopts.Dir)
				}

				mcpserver.Version = Version
				return mcpserver.Serve(mcpserver.New(deps))
			})
		},
	}
	cmd.Flags().StringVar(&opts.Agent, "agent", "", "requester agent id for handoff tools (default: agent.id from config)")
	cmd.Flags().StringVar(&opts.Dir, "dir", "", "descriptor directory")
	cmd.Flags().BoolVar(&opts.NoGraph, "no-graph", false, "serve handoff tools only")
	return cmd
}
