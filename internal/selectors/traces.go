// Package selectors derives render-ready view models from store snapshots.
//
// Every selector is a pure function of the sub-state it is given. The
// memoized variants wrap those functions in a private memo.Cell, so a selector
// instance must belong to a single page/call site; see SearchPage.
package selectors

import (
	"fmt"
	"time"

	"github.com/tobert/traceview/internal/memo"
	"github.com/tobert/traceview/internal/model"
)

// TraceView is the trace slice of the search page view model.
type TraceView struct {
	// Traces are in search result order.
	Traces        []*model.TraceData
	MaxDuration   time.Duration
	TraceError    error
	LoadingTraces bool
}

// SelectTraceView resolves the search result ids against the trace map.
//
// Every result id must have a loaded record; the fetch layer only publishes
// results after their traces arrive. A missing record is a bug upstream and
// panics rather than rendering a partial list.
//
// MaxDuration is zero when there are no traces.
func SelectTraceView(state *model.TraceState) *TraceView {
	search := state.Search
	view := &TraceView{
		Traces:        make([]*model.TraceData, 0, len(search.Results)),
		TraceError:    search.Error,
		LoadingTraces: search.State == model.FetchLoading,
	}
	for _, id := range search.Results {
		rec, ok := state.Traces[id]
		if !ok || rec.Data == nil {
			panic(fmt.Sprintf("selectors: search result %q has no loaded trace record", id))
		}
		view.Traces = append(view.Traces, rec.Data)
		view.MaxDuration = max(view.MaxDuration, rec.Data.Duration)
	}
	return view
}

// NewTraceViewSelector returns SelectTraceView behind a private cell keyed on
// the trace sub-state pointer.
func NewTraceViewSelector() func(*model.TraceState) *TraceView {
	return memo.New(SelectTraceView).Get
}
