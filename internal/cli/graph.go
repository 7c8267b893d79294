package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Output the dependency graph in DOT format",
	Long: `Generates a visual representation of the resource dependency graph
in Graphviz DOT format. Pipe the output to 'dot' to generate an image:

  picklr-aws graph | dot -Tpng > graph.png`,
	Args: cobra.NoArgs,
	RunE: runGraph,
}

func runGraph(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	p, err := loadProject(cmd)
	if err != nil {
		return err
	}
	dag, err := p.engine.Graph(p.file.Config)
	if err != nil {
		return fmt.Errorf("failed to build graph: %w", err)
	}

	addrs := make(map[string]string, len(p.file.Resources))
	for _, res := range p.file.Resources {
		addrs[res.Name] = res.Address()
	}

	fmt.Fprintln(out, "digraph picklr {")
	fmt.Fprintln(out, "  rankdir = \"BT\";")
	fmt.Fprintln(out, "  node [shape = rect];")
	fmt.Fprintln(out)
	for _, name := range dag.CreationOrder() {
		fmt.Fprintf(out, "  %q;\n", addrs[name])
	}
	fmt.Fprintln(out)
	for _, name := range dag.CreationOrder() {
		for _, dep := range dag.Dependencies(name) {
			fmt.Fprintf(out, "  %q -> %q;\n", addrs[name], addrs[dep])
		}
	}
	fmt.Fprintln(out, "}")
	return nil
}
