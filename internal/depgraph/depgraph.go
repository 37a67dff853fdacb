// Package depgraph turns service dependency edges into the node and link
// lists drawn by the dependency graph views.
package depgraph

import (
	"cmp"
	"slices"

	"github.com/tobert/traceview/internal/model"
)

// FallbackDAGMaxNumServices is used when no DAG size limit is configured.
const FallbackDAGMaxNumServices = 100

// Node is one service in the graph. CallCount is the total of all edges
// touching the service.
type Node struct {
	Name      string `json:"name"`
	CallCount int64  `json:"callCount"`
}

// Link is one directed parent to child relation. Duplicate input edges are
// merged and their call counts summed into Value.
type Link struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Value  int64  `json:"value"`
}

// Graph is the drawable form of a dependency edge list.
type Graph struct {
	Nodes []Node `json:"nodes"`
	Links []Link `json:"links"`
}

type linkKey struct{ source, target string }

// Build merges edges into a graph. Nodes and links appear in the order their
// first edge appears in the input.
func Build(edges []model.DependencyEdge) *Graph {
	g := &Graph{Nodes: []Node{}, Links: []Link{}}
	nodeIdx := make(map[string]int)
	linkIdx := make(map[linkKey]int)

	touch := func(name string, calls int64) {
		i, ok := nodeIdx[name]
		if !ok {
			i = len(g.Nodes)
			nodeIdx[name] = i
			g.Nodes = append(g.Nodes, Node{Name: name})
		}
		g.Nodes[i].CallCount += calls
	}

	for _, e := range edges {
		touch(e.Parent, e.CallCount)
		if e.Child != e.Parent {
			touch(e.Child, e.CallCount)
		}

		key := linkKey{e.Parent, e.Child}
		if i, ok := linkIdx[key]; ok {
			g.Links[i].Value += e.CallCount
			continue
		}
		linkIdx[key] = len(g.Links)
		g.Links = append(g.Links, Link{Source: e.Parent, Target: e.Child, Value: e.CallCount})
	}
	return g
}

// EdgesFromTraces counts cross-service parent/child span pairs. Calls within
// a single service are not dependencies and are skipped. The result is sorted
// by parent then child so repeated calls over the same traces agree.
func EdgesFromTraces(traces []*model.TraceData) []model.DependencyEdge {
	counts := make(map[linkKey]int64)
	for _, t := range traces {
		byID := make(map[string]*model.Span, len(t.Spans))
		for _, span := range t.Spans {
			byID[span.SpanID] = span
		}
		for _, span := range t.Spans {
			parent, ok := byID[span.ParentSpanID]
			if !ok {
				continue
			}
			from := serviceOf(t, parent)
			to := serviceOf(t, span)
			if from == "" || to == "" || from == to {
				continue
			}
			counts[linkKey{from, to}]++
		}
	}

	edges := make([]model.DependencyEdge, 0, len(counts))
	for k, n := range counts {
		edges = append(edges, model.DependencyEdge{Parent: k.source, Child: k.target, CallCount: n})
	}
	slices.SortFunc(edges, func(a, b model.DependencyEdge) int {
		return cmp.Or(cmp.Compare(a.Parent, b.Parent), cmp.Compare(a.Child, b.Child))
	})
	return edges
}

func serviceOf(t *model.TraceData, span *model.Span) string {
	if p, ok := t.Processes[span.ProcessID]; ok {
		return p.ServiceName
	}
	return ""
}
