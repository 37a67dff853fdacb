package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func traceAt(id string, start int, dur time.Duration, spans int) *TraceData {
	td := &TraceData{
		TraceID:   id,
		StartTime: time.Unix(int64(start), 0),
		Duration:  dur,
	}
	for i := 0; i < spans; i++ {
		td.Spans = append(td.Spans, &Span{SpanID: fmt.Sprintf("%s-%d", id, i)})
	}
	return td
}

func ids(traces []*TraceData) []string {
	out := make([]string, len(traces))
	for i, t := range traces {
		out[i] = t.TraceID
	}
	return out
}

func TestSortTraces(t *testing.T) {
	fixture := func() []*TraceData {
		return []*TraceData{
			traceAt("a", 10, 5*time.Millisecond, 3),
			traceAt("b", 30, 100*time.Millisecond, 1),
			traceAt("c", 20, 3*time.Millisecond, 7),
		}
	}

	tests := []struct {
		key  SortKey
		want []string
	}{
		{MostRecent, []string{"b", "c", "a"}},
		{LongestFirst, []string{"b", "a", "c"}},
		{ShortestFirst, []string{"c", "a", "b"}},
		{MostSpans, []string{"c", "a", "b"}},
		{LeastSpans, []string{"b", "a", "c"}},
		{"", []string{"b", "c", "a"}},
		{"BOGUS", []string{"b", "c", "a"}},
	}

	for _, tt := range tests {
		t.Run(string(tt.key), func(t *testing.T) {
			traces := fixture()
			SortTraces(traces, tt.key)
			assert.Equal(t, tt.want, ids(traces))
		})
	}
}

func TestSortTracesBreaksTiesByID(t *testing.T) {
	traces := []*TraceData{
		traceAt("z", 1, time.Second, 1),
		traceAt("m", 1, time.Second, 1),
		traceAt("a", 1, time.Second, 1),
	}
	SortTraces(traces, LongestFirst)
	assert.Equal(t, []string{"a", "m", "z"}, ids(traces))
}

func TestParseSortKey(t *testing.T) {
	assert.Equal(t, LongestFirst, ParseSortKey("longest_first"))
	assert.Equal(t, MostSpans, ParseSortKey(" MOST_SPANS "))
	assert.Equal(t, DefaultSortKey, ParseSortKey(""))
	assert.Equal(t, DefaultSortKey, ParseSortKey("oldest"))
	assert.True(t, ShortestFirst.Valid())
	assert.False(t, SortKey("x").Valid())
}

func TestListStatus(t *testing.T) {
	assert.Equal(t, ListUnloaded, Unloaded[string]().Status())
	assert.Equal(t, ListEmpty, Loaded[string](nil).Status())
	assert.Equal(t, ListPopulated, Loaded([]string{"svc"}).Status())

	items, ok := Unloaded[string]().Items()
	assert.False(t, ok)
	assert.Nil(t, items)

	items, ok = Loaded([]string{}).Items()
	assert.True(t, ok)
	assert.Empty(t, items)
}

func TestListJSON(t *testing.T) {
	data, err := json.Marshal(Unloaded[string]())
	require.NoError(t, err)
	assert.JSONEq(t, "null", string(data))

	data, err = json.Marshal(Loaded[string](nil))
	require.NoError(t, err)
	assert.JSONEq(t, "[]", string(data))

	data, err = json.Marshal(Loaded([]string{"a", "b"}))
	require.NoError(t, err)
	assert.JSONEq(t, `["a","b"]`, string(data))

	var l List[string]
	require.NoError(t, json.Unmarshal([]byte("[]"), &l))
	assert.Equal(t, ListEmpty, l.Status())
	require.NoError(t, json.Unmarshal([]byte("null"), &l))
	assert.Equal(t, ListUnloaded, l.Status())
}

func TestFetchError(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewFetchError(KindService, cause, "fetching services from %s", "backend")

	assert.Equal(t, "fetching services from backend: connection refused", err.Error())
	assert.ErrorIs(t, err, cause)

	wrapped := fmt.Errorf("refresh: %w", err)
	assert.True(t, IsKind(wrapped, KindService))
	assert.False(t, IsKind(wrapped, KindTrace))
	assert.False(t, IsKind(cause, KindService))

	bare := &FetchError{Kind: KindDependency, Message: "no dependencies"}
	assert.Equal(t, "no dependencies", bare.Error())
	assert.Equal(t, "dependency fetch", bare.Kind.String())
}

func TestStateCopies(t *testing.T) {
	s := NewState()
	loc := s.WithLocation("?service=api")
	sorted := loc.WithSortBy(LongestFirst)

	assert.Same(t, s.Trace, loc.Trace)
	assert.Same(t, s.Services, sorted.Services)
	assert.Equal(t, "", s.Router.Search)
	assert.Equal(t, "service=api", loc.Router.RawQuery())
	assert.Equal(t, SortKey(""), loc.SearchForm.SortBy)
	assert.Equal(t, LongestFirst, sorted.SearchForm.SortBy)
	assert.Equal(t, ListUnloaded, s.Services.Services.Status())
}

func TestTraceDataServices(t *testing.T) {
	td := &TraceData{
		Processes: map[string]*Process{
			"p1": {ServiceName: "api"},
			"p2": {ServiceName: "db"},
		},
		Spans: []*Span{
			{ProcessID: "p1"},
			{ProcessID: "p2", Error: true},
			{ProcessID: "p1"},
			{ProcessID: "missing"},
		},
	}
	assert.Equal(t, []string{"api", "db"}, td.Services())
	assert.Equal(t, 1, td.ErrorCount())
}
