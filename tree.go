package taski

import (
	"fmt"
	"reflect"

	"github.com/m1gwings/treedrawer/tree"
)

// renderTree lays out graph rooted at root using treedrawer, the same
// library the teacher's extensions/graph_debug.go uses to print a scope's
// dependency tree on failure. Cross-package move: the teacher draws
// reactive value nodes; here the nodes are task classes and an edge means
// "depends on".
func renderTree(graph *DependencyGraph, root reflect.Type) string {
	t := tree.NewTree(tree.NodeString(typeName(root)))
	visited := make(map[reflect.Type]bool)
	buildTreeNode(t, graph, root, visited)
	return t.String()
}

func buildTreeNode(node *tree.Tree, graph *DependencyGraph, t reflect.Type, visited map[reflect.Type]bool) {
	if visited[t] {
		return
	}
	visited[t] = true
	for _, dep := range graph.Dependencies(t) {
		label := typeName(dep)
		if graph.cycleBack(t, dep, visited) {
			label = fmt.Sprintf("%s (cycle)", label)
		}
		child := node.AddChild(tree.NodeString(label))
		buildTreeNode(child, graph, dep, visited)
	}
}

// cycleBack reports whether dep has already been visited higher up the
// current render path, purely as a display hint so Tree doesn't recurse
// forever on a graph that (outside of an already-rejected cycle) still
// gets rendered for diagnostics.
func (g *DependencyGraph) cycleBack(from, dep reflect.Type, visited map[reflect.Type]bool) bool {
	return visited[dep]
}
