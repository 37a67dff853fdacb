package selectors

import (
	"slices"

	"github.com/tobert/traceview/internal/memo"
	"github.com/tobert/traceview/internal/model"
)

// SortTraces returns a sorted copy of traces. The input is shared with other
// consumers of the trace view and is never reordered.
func SortTraces(traces []*model.TraceData, by model.SortKey) []*model.TraceData {
	out := slices.Clone(traces)
	model.SortTraces(out, by)
	return out
}

type sortArgs struct {
	traces []*model.TraceData
	by     model.SortKey
}

// NewSortStage memoizes SortTraces on slice identity and sort key.
func NewSortStage() func([]*model.TraceData, model.SortKey) []*model.TraceData {
	cell := memo.NewFunc(
		func(a sortArgs) []*model.TraceData { return SortTraces(a.traces, a.by) },
		func(a, b sortArgs) bool { return a.by == b.by && memo.SameSlice(a.traces, b.traces) },
	)
	return func(traces []*model.TraceData, by model.SortKey) []*model.TraceData {
		return cell.Get(sortArgs{traces: traces, by: by})
	}
}
