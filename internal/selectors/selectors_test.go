package selectors

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tobert/traceview/internal/model"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func newTrace(id string, start, dur time.Duration, spans int) *model.TraceData {
	t := &model.TraceData{
		TraceID:   id,
		TraceName: "svc: op-" + id,
		StartTime: epoch.Add(start),
		Duration:  dur,
	}
	for i := 0; i < spans; i++ {
		t.Spans = append(t.Spans, &model.Span{TraceID: id, SpanID: fmt.Sprintf("%s-%d", id, i)})
	}
	return t
}

// searchState builds a trace sub-state whose search results are the given
// traces, all loaded.
func searchState(traces ...*model.TraceData) *model.TraceState {
	ts := &model.TraceState{
		Traces: make(map[string]*model.TraceRecord),
		Search: model.SearchState{State: model.FetchDone, Results: []string{}},
	}
	for _, t := range traces {
		ts.Traces[t.TraceID] = &model.TraceRecord{ID: t.TraceID, State: model.FetchDone, Data: t}
		ts.Search.Results = append(ts.Search.Results, t.TraceID)
	}
	return ts
}

func fixtureState() *model.State {
	st := model.NewState()
	st.Trace = searchState(
		newTrace("a", 10*time.Second, 5*time.Millisecond, 3),
		newTrace("b", 30*time.Second, 100*time.Millisecond, 1),
		newTrace("c", 20*time.Second, 3*time.Millisecond, 7),
	)
	st.Services = &model.ServicesState{
		Services:             model.Loaded([]string{"frontend", "api"}),
		OperationsForService: map[string][]string{"frontend": {"GET /"}},
	}
	st.TraceDiff = &model.CohortState{Cohort: []string{"b", "zzz"}}
	return st
}

func ids(traces []*model.TraceData) []string {
	out := make([]string, len(traces))
	for i, t := range traces {
		out[i] = t.TraceID
	}
	return out
}

func TestSelectTraceView(t *testing.T) {
	view := SelectTraceView(fixtureState().Trace)
	assert.Equal(t, []string{"a", "b", "c"}, ids(view.Traces), "search order is kept")
	assert.Equal(t, 100*time.Millisecond, view.MaxDuration)
	assert.False(t, view.LoadingTraces)
	assert.NoError(t, view.TraceError)
}

func TestSelectTraceViewEmpty(t *testing.T) {
	view := SelectTraceView(searchState())
	assert.Empty(t, view.Traces)
	assert.Equal(t, time.Duration(0), view.MaxDuration)
}

func TestSelectTraceViewLoading(t *testing.T) {
	ts := searchState()
	ts.Search.State = model.FetchLoading
	assert.True(t, SelectTraceView(ts).LoadingTraces)

	ts = searchState()
	ts.Search.State = model.FetchFailed
	ts.Search.Error = errors.New("boom")
	view := SelectTraceView(ts)
	assert.False(t, view.LoadingTraces)
	assert.EqualError(t, view.TraceError, "boom")
}

func TestSelectTraceViewPanicsOnUnresolvedResult(t *testing.T) {
	ts := searchState(newTrace("a", 0, time.Millisecond, 1))
	ts.Search.Results = append(ts.Search.Results, "ghost")
	assert.Panics(t, func() { SelectTraceView(ts) })

	ts = searchState()
	ts.Traces["pending"] = &model.TraceRecord{ID: "pending", State: model.FetchLoading}
	ts.Search.Results = []string{"pending"}
	assert.Panics(t, func() { SelectTraceView(ts) })
}

func TestTraceViewSelectorCaches(t *testing.T) {
	sel := NewTraceViewSelector()
	st := fixtureState()

	first := sel(st.Trace)
	assert.Same(t, first, sel(st.Trace))

	// Same contents behind a new pointer is a new input.
	copied := *st.Trace
	assert.NotSame(t, first, sel(&copied))
}

func TestSelectDiffCohort(t *testing.T) {
	st := fixtureState()
	st.Trace.Traces["loading"] = &model.TraceRecord{ID: "loading", State: model.FetchLoading}
	st.TraceDiff = &model.CohortState{Cohort: []string{"c", "missing", "loading"}}

	got := SelectDiffCohort(st.Trace, st.TraceDiff)
	require.Len(t, got, 3)

	assert.Equal(t, "c", got[0].ID)
	assert.Equal(t, model.FetchDone, got[0].State)
	assert.Same(t, st.Trace.Traces["c"].Data, got[0].Data)

	assert.Equal(t, CohortEntry{ID: "missing"}, got[1])

	assert.Equal(t, model.FetchLoading, got[2].State)
	assert.Nil(t, got[2].Data)

	assert.Equal(t, []string{"missing"}, PendingCohortIDs(got))
}

func TestSelectDiffCohortEmpty(t *testing.T) {
	got := SelectDiffCohort(searchState(), &model.CohortState{})
	assert.Empty(t, got)
	assert.Nil(t, PendingCohortIDs(got))
}

func TestDiffCohortSelectorCaches(t *testing.T) {
	sel := NewDiffCohortSelector()
	st := fixtureState()

	first := sel(st.Trace, st.TraceDiff)
	again := sel(st.Trace, st.TraceDiff)
	assert.Same(t, &first[0], &again[0])

	changed := sel(st.Trace, &model.CohortState{Cohort: []string{"b", "zzz"}})
	assert.NotSame(t, &first[0], &changed[0])
}

func TestSortTracesLeavesInputAlone(t *testing.T) {
	traces := SelectTraceView(fixtureState().Trace).Traces
	sorted := SortTraces(traces, model.MostSpans)
	assert.Equal(t, []string{"c", "a", "b"}, ids(sorted))
	assert.Equal(t, []string{"a", "b", "c"}, ids(traces))
}

func TestSortStage(t *testing.T) {
	stage := NewSortStage()
	traces := SelectTraceView(fixtureState().Trace).Traces

	recent := stage(traces, model.MostRecent)
	assert.Equal(t, []string{"b", "c", "a"}, ids(recent))
	again := stage(traces, model.MostRecent)
	assert.Same(t, &recent[0], &again[0])

	longest := stage(traces, model.LongestFirst)
	assert.Equal(t, []string{"b", "a", "c"}, ids(longest))
	assert.NotSame(t, &recent[0], &longest[0])

	// Unknown and empty keys sort like the default.
	assert.Equal(t, []string{"b", "c", "a"}, ids(stage(traces, "")))
	assert.Equal(t, []string{"b", "c", "a"}, ids(stage(traces, "NOPE")))
}

func TestSelectServices(t *testing.T) {
	t.Run("unloaded", func(t *testing.T) {
		view := SelectServices(&model.ServicesState{Loading: true})
		assert.True(t, view.LoadingServices)
		assert.Equal(t, model.ListUnloaded, view.Services.Status())
	})

	t.Run("empty", func(t *testing.T) {
		view := SelectServices(&model.ServicesState{Services: model.Loaded([]string{})})
		assert.Equal(t, model.ListEmpty, view.Services.Status())
	})

	t.Run("populated", func(t *testing.T) {
		view := SelectServices(fixtureState().Services)
		items, loaded := view.Services.Items()
		require.True(t, loaded)
		assert.Equal(t, []ServiceOperations{
			{Name: "frontend", Operations: []string{"GET /"}},
			{Name: "api", Operations: []string{}},
		}, items)
	})

	t.Run("error", func(t *testing.T) {
		err := model.NewFetchError(model.KindService, errors.New("503"), "failed to load services")
		view := SelectServices(&model.ServicesState{Error: err})
		assert.Same(t, err, view.ServiceError)
	})
}

func TestServicesSelectorCaches(t *testing.T) {
	sel := NewServicesSelector()
	st := fixtureState()
	assert.Same(t, sel(st.Services), sel(st.Services))
}

func TestCollectErrors(t *testing.T) {
	traceErr := errors.New("trace")
	svcErr := errors.New("service")

	assert.Nil(t, CollectErrors(nil, nil))
	assert.Equal(t, []error{traceErr}, CollectErrors(traceErr, nil))
	assert.Equal(t, []error{svcErr}, CollectErrors(nil, svcErr))
	assert.Equal(t, []error{traceErr, svcErr}, CollectErrors(traceErr, svcErr))
}

func TestParseQueryFlags(t *testing.T) {
	tests := []struct {
		search    string
		embed     bool
		hide      bool
		noCompare bool
		homepage  bool
		initial   bool
	}{
		{search: "", homepage: true},
		{search: "?", homepage: true},
		{search: "?embed", embed: true},
		{search: "embed=1&hideGraph", embed: true, hide: true},
		{search: "?disableComparision=true", noCompare: true},
		{search: "?disableComparison=true"},
		{search: "?service=api&limit=20", initial: true},
		{search: "?traceID=abc&traceID=def", initial: true},
	}
	for _, tt := range tests {
		t.Run(tt.search, func(t *testing.T) {
			f := ParseQueryFlags(model.Location{Search: tt.search})
			assert.Equal(t, tt.embed, f.IsEmbed, "embed")
			assert.Equal(t, tt.hide, f.HideGraph, "hideGraph")
			assert.Equal(t, tt.noCompare, f.DisableComparison, "disableComparision")
			assert.Equal(t, tt.homepage, f.IsHomepage, "homepage")
			assert.Equal(t, tt.initial, f.NeedsInitialSearch(), "initial search")
			assert.NotNil(t, f.Query)
		})
	}
}

func TestParseQueryFlagsRepeatedKeys(t *testing.T) {
	f := ParseQueryFlags(model.Location{Search: "?traceID=a&traceID=b"})
	assert.Equal(t, []string{"a", "b"}, f.Query["traceID"])
}

func TestSearchPageProps(t *testing.T) {
	st := fixtureState().WithLocation("?service=frontend&embed").WithSortBy(model.LongestFirst)
	st.Trace.Search.Error = errors.New("partial")
	st.Services.Error = errors.New("catalog")

	props := NewSearchPage().Props(st)

	assert.Equal(t, "frontend", props.Query.Get("service"))
	assert.Equal(t, props.Query, props.URLQueryParams())
	assert.True(t, props.IsEmbed)
	assert.False(t, props.IsHomepage)
	assert.True(t, props.NeedsInitialSearch)
	assert.Equal(t, []string{"b", "a", "c"}, ids(props.TraceResults))
	assert.Equal(t, 100*time.Millisecond, props.MaxTraceDuration)
	assert.Equal(t, model.LongestFirst, props.SortTracesBy)
	assert.Equal(t, []string{"partial", "catalog"}, props.ErrorMessages())
	assert.Equal(t, 2, props.Services.Len())
	require.Len(t, props.DiffCohort, 2)
	assert.Equal(t, []string{"zzz"}, props.CohortToFetch)
}

func TestSearchPageReusesWorkAcrossSnapshots(t *testing.T) {
	page := NewSearchPage()
	st := fixtureState()

	first := page.Props(st)
	assert.Nil(t, first.Errors)

	// Navigation only: every derived collection is reused.
	moved := page.Props(st.WithLocation("?hideGraph"))
	assert.True(t, moved.HideGraph)
	assert.Same(t, &first.TraceResults[0], &moved.TraceResults[0])
	assert.Same(t, &first.DiffCohort[0], &moved.DiffCohort[0])

	// Re-sorting does not touch the cohort.
	resorted := page.Props(st.WithSortBy(model.MostSpans))
	assert.NotSame(t, &first.TraceResults[0], &resorted.TraceResults[0])
	assert.Same(t, &first.DiffCohort[0], &resorted.DiffCohort[0])
	assert.Equal(t, []string{"c", "a", "b"}, ids(resorted.TraceResults))
}

func TestSearchPagesAreIndependent(t *testing.T) {
	one, two := NewSearchPage(), NewSearchPage()
	st := fixtureState()
	other := fixtureState()

	a1 := one.Props(st)
	two.Props(other)
	a2 := one.Props(st)
	assert.Same(t, &a1.TraceResults[0], &a2.TraceResults[0], "second page must not evict the first page's cells")
}

func TestSelectDependencyPage(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		props := SelectDependencyPage(&model.DependenciesState{Loading: true}, 0)
		assert.True(t, props.Loading)
		assert.Nil(t, props.Nodes)
		assert.Nil(t, props.Links)
		assert.Len(t, props.GraphTypes, 2)
	})

	t.Run("edges", func(t *testing.T) {
		state := &model.DependenciesState{Dependencies: []model.DependencyEdge{
			{Parent: "A", Child: "B", CallCount: 3},
			{Parent: "A", Child: "B", CallCount: 2},
			{Parent: "B", Child: "C", CallCount: 1},
		}}
		props := SelectDependencyPage(state, 2)
		assert.Len(t, props.Nodes, 3)
		require.Len(t, props.Links, 2)
		assert.Equal(t, int64(5), props.Links[0].Value)
		assert.Len(t, props.GraphTypes, 1, "3 edges exceed a DAG limit of 2")
	})

	t.Run("error", func(t *testing.T) {
		err := model.NewFetchError(model.KindDependency, nil, "no dependencies")
		props := SelectDependencyPage(&model.DependenciesState{Error: err}, 0)
		assert.True(t, model.IsKind(props.Error, model.KindDependency))
	})
}

func TestDependencyPageSelectorCaches(t *testing.T) {
	sel := NewDependencyPageSelector()
	state := &model.DependenciesState{Dependencies: []model.DependencyEdge{{Parent: "A", Child: "B", CallCount: 1}}}
	first := sel(state, 10)
	assert.Same(t, first, sel(state, 10))
	assert.NotSame(t, first, sel(state, 20))
}
