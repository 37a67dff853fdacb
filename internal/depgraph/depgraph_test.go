package depgraph

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tobert/traceview/internal/model"
)

func TestBuildMergesDuplicateEdges(t *testing.T) {
	g := Build([]model.DependencyEdge{
		{Parent: "A", Child: "B", CallCount: 3},
		{Parent: "A", Child: "B", CallCount: 2},
		{Parent: "B", Child: "C", CallCount: 1},
	})

	want := &Graph{
		Nodes: []Node{
			{Name: "A", CallCount: 5},
			{Name: "B", CallCount: 6},
			{Name: "C", CallCount: 1},
		},
		Links: []Link{
			{Source: "A", Target: "B", Value: 5},
			{Source: "B", Target: "C", Value: 1},
		},
	}
	if diff := cmp.Diff(want, g); diff != "" {
		t.Errorf("Build() mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildEmpty(t *testing.T) {
	g := Build(nil)
	assert.Empty(t, g.Nodes)
	assert.Empty(t, g.Links)
	assert.NotNil(t, g.Nodes, "empty graph should marshal as [] not null")
}

func TestBuildSelfCall(t *testing.T) {
	g := Build([]model.DependencyEdge{{Parent: "A", Child: "A", CallCount: 4}})
	require.Len(t, g.Nodes, 1)
	assert.Equal(t, int64(4), g.Nodes[0].CallCount)
	require.Len(t, g.Links, 1)
	assert.Equal(t, Link{Source: "A", Target: "A", Value: 4}, g.Links[0])
}

func TestBuildKeepsDirection(t *testing.T) {
	g := Build([]model.DependencyEdge{
		{Parent: "A", Child: "B", CallCount: 1},
		{Parent: "B", Child: "A", CallCount: 1},
	})
	assert.Len(t, g.Links, 2)
}

func TestGraphTypes(t *testing.T) {
	tests := []struct {
		name   string
		deps   int
		max    int
		wantDA bool
	}{
		{"under limit", 3, 10, true},
		{"at limit", 10, 10, true},
		{"over limit", 11, 10, false},
		{"fallback allows 100", 100, 0, true},
		{"fallback rejects 101", 101, 0, false},
		{"negative uses fallback", 50, -1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			types := GraphTypes(tt.deps, tt.max)
			assert.Equal(t, ForceDirected, types[0])
			assert.Equal(t, tt.wantDA, len(types) == 2 && types[1] == DAG)
		})
	}
}

func TestEdgesFromTraces(t *testing.T) {
	now := time.Now()
	trace := &model.TraceData{
		TraceID: "t1",
		Processes: map[string]*model.Process{
			"p1": {ServiceName: "frontend"},
			"p2": {ServiceName: "api"},
			"p3": {ServiceName: "db"},
		},
		Spans: []*model.Span{
			{SpanID: "1", ProcessID: "p1", StartTime: now},
			{SpanID: "2", ParentSpanID: "1", ProcessID: "p2"},
			{SpanID: "3", ParentSpanID: "2", ProcessID: "p2"},
			{SpanID: "4", ParentSpanID: "3", ProcessID: "p3"},
			{SpanID: "5", ParentSpanID: "2", ProcessID: "p3"},
			{SpanID: "6", ParentSpanID: "missing", ProcessID: "p3"},
		},
	}

	edges := EdgesFromTraces([]*model.TraceData{trace, trace})
	assert.Equal(t, []model.DependencyEdge{
		{Parent: "api", Child: "db", CallCount: 4},
		{Parent: "frontend", Child: "api", CallCount: 2},
	}, edges)
}
