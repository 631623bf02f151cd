package taski

import (
	"reflect"
	"testing"
)

func TestAnalyze_ResolvesDiamond(t *testing.T) {
	graph, err := buildGraph(facadeRootType)
	if err != nil {
		t.Fatalf("buildGraph failed: %v", err)
	}

	rootDeps := graph.Dependencies(facadeRootType)
	if !containsType(rootDeps, facadeAType) || !containsType(rootDeps, facadeBType) {
		t.Fatalf("expected facadeRoot to statically depend on facadeA and facadeB, got %v", namesOf(rootDeps))
	}

	aDeps := graph.Dependencies(facadeAType)
	if !containsType(aDeps, facadeLeafType) {
		t.Fatalf("expected facadeA to statically depend on facadeLeaf, got %v", namesOf(aDeps))
	}
}

func TestAnalyze_LeafHasNoDeps(t *testing.T) {
	graph := newDependencyGraph(facadeLeafType)
	if err := analyze(facadeLeafType, graph); err != nil {
		t.Fatalf("analyze failed: %v", err)
	}
	if deps := graph.Dependencies(facadeLeafType); len(deps) != 0 {
		t.Fatalf("expected facadeLeaf to have no dependencies, got %v", namesOf(deps))
	}
}

func TestBuildGraph_DetectsCycle(t *testing.T) {
	// Directly assemble a cyclic graph (bypassing source analysis) to
	// confirm that detectCycle, the up-front check buildGraph turns into a
	// CircularDependencyError, finds the cycle.
	a := reflect.TypeOf(gA{})
	b := reflect.TypeOf(gB{})
	g := newDependencyGraph(a)
	g.addEdge(a, b)
	g.addEdge(b, a)

	if cycle := g.detectCycle(); cycle == nil {
		t.Fatalf("expected the hand-built graph to contain a cycle")
	}
}

func containsType(list []reflect.Type, want reflect.Type) bool {
	for _, t := range list {
		if t == want {
			return true
		}
	}
	return false
}

func namesOf(list []reflect.Type) []string {
	out := make([]string, len(list))
	for i, t := range list {
		out[i] = typeName(t)
	}
	return out
}
