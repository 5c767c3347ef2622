package graph

import (
	"fmt"
	"io"
)

// WriteDot renders the graph in graphviz dot form for diagnostics. Three
// modes are supported: "hier" draws embedded subgraphs as clusters, "flat"
// expands them into their parent, and "exec" is the flat form annotated with
// the number of sweep contexts the run would enumerate.
func (g *Graph) WriteDot(w io.Writer, mode string, contexts int) error {
	if _, err := fmt.Fprintf(w, "digraph %q {\n  rankdir=LR;\n", g.name); err != nil {
		return err
	}
	if mode == "hier" {
		// Needed for lhead/ltail so edges clip at cluster borders.
		fmt.Fprintln(w, "  compound=true;")
	}
	if mode == "exec" && contexts > 0 {
		fmt.Fprintf(w, "  label=\"%s (%d contexts)\";\n", g.name, contexts)
	}

	switch mode {
	case "hier":
		g.writeHier(w, "")
	default:
		g.writeFlat(w, "")
	}

	_, err := fmt.Fprintln(w, "}")
	return err
}

// writeHier renders one nesting level, recursing into embedded graphs as
// labeled clusters.
func (g *Graph) writeHier(w io.Writer, prefix string) {
	for _, s := range g.Stages() {
		if s.Invocation.Kind == KindSubgraph {
			fmt.Fprintf(w, "  subgraph \"cluster_%s%s\" {\n    label=%q;\n", prefix, s.Name, s.Name)
			s.Invocation.Sub.writeHier(w, prefix+s.Name+".")
			fmt.Fprintln(w, "  }")
			continue
		}
		fmt.Fprintf(w, "  %q;\n", prefix+s.Name)
	}
	g.writeEdges(w, prefix, true)
}

// writeFlat renders every stage of this graph and its embedded graphs at one
// level, with embedded stage names qualified by their host stage.
func (g *Graph) writeFlat(w io.Writer, prefix string) {
	for _, s := range g.Stages() {
		if s.Invocation.Kind == KindSubgraph {
			s.Invocation.Sub.writeFlat(w, prefix+s.Name+".")
			continue
		}
		fmt.Fprintf(w, "  %q;\n", prefix+s.Name)
	}
	g.writeEdges(w, prefix, false)
}

// writeEdges draws every upstream binding of this nesting level. An edge
// touching an embedded stage lands on the child stage named by the dotted
// external port; a cluster name is never a node, so in hier form the cluster
// boundary is kept with lhead/ltail instead.
func (g *Graph) writeEdges(w io.Writer, prefix string, hier bool) {
	for _, s := range g.Stages() {
		for _, p := range s.Inputs {
			b := s.bindings[p.Name]
			if b.Kind != Upstream {
				continue
			}
			src := prefix + b.Stage
			dst := prefix + s.Name
			attrs := fmt.Sprintf("label=%q", b.Port+" -> "+p.Name)
			if up, ok := g.stages[b.Stage]; ok && up.Invocation.Kind == KindSubgraph {
				src = fmt.Sprintf("%s%s.%s", prefix, b.Stage, stageOfDottedPort(b.Port))
				if hier {
					attrs += fmt.Sprintf(", ltail=\"cluster_%s%s\"", prefix, b.Stage)
				}
			}
			if s.Invocation.Kind == KindSubgraph {
				dst = fmt.Sprintf("%s%s.%s", prefix, s.Name, stageOfDottedPort(p.Name))
				if hier {
					attrs += fmt.Sprintf(", lhead=\"cluster_%s%s\"", prefix, s.Name)
				}
			}
			fmt.Fprintf(w, "  %q -> %q [%s];\n", src, dst, attrs)
		}
	}
}

// stageOfDottedPort returns the stage component of a "stage.port" external
// port name.
func stageOfDottedPort(port string) string {
	for i := 0; i < len(port); i++ {
		if port[i] == '.' {
			return port[:i]
		}
	}
	return port
}
