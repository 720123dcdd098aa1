package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/contextcore/contextcore/internal/descriptor"
	"github.com/contextcore/contextcore/internal/graph"
	"github.com/contextcore/contextcore/internal/model"
	"github.com/contextcore/contextcore/internal/yaml"
)

// GraphOptions holds flags shared by the graph subcommands.
type GraphOptions struct {
	*RootOptions
	Dir      string
	Validate bool
	Strict   bool
}

// BuildReport summarizes one graph build.
type BuildReport struct {
	Dir         string   `json:"dir"`
	Descriptors int      `json:"descriptors"`
	Projects    int      `json:"projects"`
	External    int      `json:"external"`
	Skipped     int      `json:"skipped"`
	Rejected    int      `json:"rejected"`
	Nodes       int      `json:"nodes"`
	Edges       int      `json:"edges"`
	Invalid     []string `json:"invalid,omitempty"`
}

// NewGraphCommand creates the graph command group.
func NewGraphCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &GraphOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Query the project knowledge graph",
		Long: `Builds the knowledge graph from the project descriptors in --dir (default:
graph.descriptors_dir) and runs one query on it. Descriptors may be YAML or
JSON, one per file or several in a list.`,
	}
	cmd.PersistentFlags().StringVar(&opts.Dir, "dir", "", "descriptor directory")
	cmd.PersistentFlags().BoolVar(&opts.Validate, "validate", false, "check descriptors against the schema and skip invalid ones (default: graph.validate_schema)")
	cmd.PersistentFlags().BoolVar(&opts.Strict, "strict", false, "fail when any descriptor is invalid")

	cmd.AddCommand(
		newGraphBuildCommand(opts),
		newGraphImpactCommand(opts),
		newGraphDepsCommand(opts),
		newGraphPathCommand(opts),
		newGraphRiskCommand(opts),
		newGraphExportCommand(opts),
		newGraphCyclesCommand(opts),
	)
	return cmd
}

// loadGraph reads, optionally validates and builds the graph.
func loadGraph(ctx context.Context, opts *GraphOptions, cfg model.Config) (*graph.Graph, BuildReport, error) {
	dir := opts.Dir
	if dir == "" {
		dir = cfg.Graph.DescriptorsDir
	}
	rep := BuildReport{Dir: dir}
	if dir == "" {
		return nil, rep, NewExitError(ExitCommandError, "no descriptor directory: set graph.descriptors_dir or pass --dir")
	}

	ds, err := descriptor.LoadDir(ctx, dir)
	if err != nil {
		return nil, rep, WrapExitError(ExitCommandError, "load descriptors", err)
	}
	rep.Descriptors = len(ds)

	if opts.Validate || opts.Strict || cfg.Graph.ValidateSchema {
		v, err := descriptor.NewValidator()
		if err != nil {
			return nil, rep, err
		}
		valid, verr := v.ValidateAll(ds)
		if verr != nil {
			for _, line := range strings.Split(verr.Error(), "\n") {
				rep.Invalid = append(rep.Invalid, line)
			}
			if opts.Strict {
				return nil, rep, WrapExitError(ExitFailure, fmt.Sprintf("%d invalid descriptors", len(ds)-len(valid)), verr)
			}
		}
		ds = valid
	}

	g, stats := graph.Build(ds)
	rep.Projects = stats.Projects
	rep.External = stats.External
	rep.Skipped = stats.Skipped
	rep.Rejected = stats.Rejected
	rep.Nodes = g.NodeCount()
	rep.Edges = g.EdgeCount()
	return g, rep, nil
}

// graphCommand builds a graph subcommand whose run gets the built graph.
func graphCommand(opts *GraphOptions, cmd *cobra.Command,
	run func(cmd *cobra.Command, args []string, g *graph.Graph, rep BuildReport, cfg model.Config, out *OutputFormatter) error) *cobra.Command {
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(opts.RootOptions)
		if err != nil {
			return err
		}
		out := opts.formatter(cmd)
		g, rep, err := loadGraph(cmd.Context(), opts, cfg)
		if err != nil {
			return err
		}
		for _, line := range rep.Invalid {
			out.VerboseLog("skipped %s", line)
		}
		return run(cmd, args, g, rep, cfg, out)
	}
	return cmd
}

// queryError maps an unknown node to a failure exit and anything else to a
// command error.
func queryError(message string, err error) error {
	if errors.Is(err, model.ErrNotFound) {
		return WrapExitError(ExitFailure, message, err)
	}
	return WrapExitError(ExitCommandError, message, err)
}

func newGraphBuildCommand(opts *GraphOptions) *cobra.Command {
	return graphCommand(opts, &cobra.Command{
		Use:   "build",
		Short: "Build the graph and report what it contains",
		Args:  cobra.NoArgs,
	}, func(cmd *cobra.Command, args []string, g *graph.Graph, rep BuildReport, cfg model.Config, out *OutputFormatter) error {
		text := fmt.Sprintf("%d descriptors, %d projects (%d external, %d skipped), %d nodes, %d edges",
			rep.Descriptors, rep.Projects, rep.External, rep.Skipped, rep.Nodes, rep.Edges)
		if rep.Rejected > 0 {
			text += fmt.Sprintf("\n%d project ids rejected (reserved prefix or slash)", rep.Rejected)
		}
		if len(rep.Invalid) > 0 {
			text += fmt.Sprintf("\n%d invalid:\n  %s", len(rep.Invalid), strings.Join(rep.Invalid, "\n  "))
		}
		return out.Success(rep, text)
	})
}

func newGraphImpactCommand(opts *GraphOptions) *cobra.Command {
	var depth int
	cmd := graphCommand(opts, &cobra.Command{
		Use:   "impact <node-id>",
		Short: "Projects affected by a change to a project or resource",
		Args:  cobra.ExactArgs(1),
	}, func(cmd *cobra.Command, args []string, g *graph.Graph, rep BuildReport, cfg model.Config, out *OutputFormatter) error {
		if !cmd.Flags().Changed("depth") {
			depth = cfg.Graph.DefaultMaxDepth
		}
		if depth < 0 {
			return NewExitError(ExitCommandError, "--depth must not be negative")
		}
		res, err := g.ImpactAnalysis(args[0], depth)
		if err != nil {
			return queryError("impact analysis", err)
		}
		var b strings.Builder
		fmt.Fprintf(&b, "%s: %d affected within %d hops", res.Root, res.TotalBlastRadius, res.MaxDepth)
		for _, id := range res.Affected {
			mark := ""
			if slices.Contains(res.Critical, id) {
				mark = "  CRITICAL"
			}
			fmt.Fprintf(&b, "\n  %d  %s%s", res.Depths[id], id, mark)
		}
		if len(res.Teams) > 0 {
			fmt.Fprintf(&b, "\nteams: %s", strings.Join(res.Teams, ", "))
		}
		return out.Success(res, b.String())
	})
	cmd.Flags().IntVar(&depth, "depth", model.DefaultMaxDepth, "maximum hops (default: graph.default_max_depth)")
	return cmd
}

func newGraphDepsCommand(opts *GraphOptions) *cobra.Command {
	return graphCommand(opts, &cobra.Command{
		Use:   "deps <project-id>",
		Short: "One-hop dependencies of a project",
		Args:  cobra.ExactArgs(1),
	}, func(cmd *cobra.Command, args []string, g *graph.Graph, rep BuildReport, cfg model.Config, out *OutputFormatter) error {
		deps, err := g.GetDependencies(args[0])
		if err != nil {
			return queryError("dependencies", err)
		}
		text := fmt.Sprintf("%s\n  upstream:   %s\n  downstream: %s\n  resources:  %s\n  adrs:       %s\n  shares with: %s",
			deps.Project, list(deps.Upstream), list(deps.Downstream), list(deps.SharedResources),
			list(deps.SharedADRs), list(deps.SharedWith))
		return out.Success(deps, text)
	})
}

func newGraphPathCommand(opts *GraphOptions) *cobra.Command {
	return graphCommand(opts, &cobra.Command{
		Use:   "path <from> <to>",
		Short: "Shortest chain of relations between two nodes",
		Args:  cobra.ExactArgs(2),
	}, func(cmd *cobra.Command, args []string, g *graph.Graph, rep BuildReport, cfg model.Config, out *OutputFormatter) error {
		path, err := g.FindPath(args[0], args[1])
		if err != nil {
			return queryError("find path", err)
		}
		if path == nil {
			if err := out.Success(map[string]any{"path": nil}, fmt.Sprintf("no path between %s and %s", args[0], args[1])); err != nil {
				return err
			}
			return &ExitError{Code: ExitFailure, Message: "no path", Reported: true}
		}
		return out.Success(map[string]any{"path": path, "hops": len(path) - 1}, strings.Join(path, " -> "))
	})
}

func newGraphRiskCommand(opts *GraphOptions) *cobra.Command {
	return graphCommand(opts, &cobra.Command{
		Use:   "risk <team>",
		Short: "Risk types across the projects a team owns",
		Args:  cobra.ExactArgs(1),
	}, func(cmd *cobra.Command, args []string, g *graph.Graph, rep BuildReport, cfg model.Config, out *OutputFormatter) error {
		risks, err := g.GetRiskExposure(args[0])
		if err != nil {
			return queryError("risk exposure", err)
		}
		lines := []string{args[0]}
		for _, r := range risks {
			lines = append(lines, fmt.Sprintf("  %-16s %d", r.Type, r.Count))
		}
		if len(risks) == 0 {
			lines = append(lines, "  no risks recorded")
		}
		return out.Success(risks, strings.Join(lines, "\n"))
	})
}

func newGraphExportCommand(opts *GraphOptions) *cobra.Command {
	var as, file string
	cmd := graphCommand(opts, &cobra.Command{
		Use:   "export",
		Short: "Write the whole graph as JSON",
		Long: `--as dict writes every node and edge with its attributes plus counts.
--as visualization writes {nodes, links} ready for a force-directed layout.`,
		Args: cobra.NoArgs,
	}, func(cmd *cobra.Command, args []string, g *graph.Graph, rep BuildReport, cfg model.Config, out *OutputFormatter) error {
		var v any
		switch as {
		case "dict":
			v = g.ToDict()
		case "visualization":
			v = g.ToVisualizationFormat()
		default:
			return NewExitError(ExitCommandError, fmt.Sprintf("unknown export %q: use dict or visualization", as))
		}
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return err
		}
		data = append(data, '\n')
		if file == "" {
			_, err := cmd.OutOrStdout().Write(data)
			return err
		}
		if err := yaml.ReplaceFile(file, data); err != nil {
			return WrapExitError(ExitCommandError, "write export", err)
		}
		return out.Success(map[string]any{"file": file, "nodes": rep.Nodes, "edges": rep.Edges},
			fmt.Sprintf("wrote %s (%d nodes, %d edges)", file, rep.Nodes, rep.Edges))
	})
	cmd.Flags().StringVar(&as, "as", "visualization", "dict|visualization")
	cmd.Flags().StringVarP(&file, "output", "o", "", "write to file instead of stdout")
	return cmd
}

func newGraphCyclesCommand(opts *GraphOptions) *cobra.Command {
	return graphCommand(opts, &cobra.Command{
		Use:   "cycles",
		Short: "Report dependency cycles between projects",
		Args:  cobra.NoArgs,
	}, func(cmd *cobra.Command, args []string, g *graph.Graph, rep BuildReport, cfg model.Config, out *OutputFormatter) error {
		cycles := g.DependencyCycles()
		if cycles == nil {
			cycles = [][]string{}
		}
		if len(cycles) == 0 {
			return out.Success(cycles, "no dependency cycles")
		}
		lines := make([]string, 0, len(cycles))
		for _, c := range cycles {
			lines = append(lines, strings.Join(c, " -> "))
		}
		if err := out.Success(cycles, strings.Join(lines, "\n")); err != nil {
			return err
		}
		return &ExitError{Code: ExitFailure, Message: fmt.Sprintf("%d dependency cycles", len(cycles)), Reported: true}
	})
}

func list(s []string) string {
	if len(s) == 0 {
		return "-"
	}
	return strings.Join(s, ", ")
}

// descriptorsDirExists reports whether the configured directory can be
// loaded; the MCP server starts without graph tools otherwise.
func descriptorsDirExists(dir string) bool {
	if dir == "" {
		return false
	}
	info, err := os.Stat(dir)
	return err == nil && info.IsDir()
}
