package selectors

import (
	"github.com/tobert/traceview/internal/memo"
	"github.com/tobert/traceview/internal/model"
)

// CohortEntry is one trace in the comparison cohort. Data is nil, and State
// is FetchUnset, when the trace is not in the store yet.
type CohortEntry struct {
	ID    string           `json:"id"`
	State model.FetchState `json:"state,omitempty"`
	Data  *model.TraceData `json:"data,omitempty"`
	Error error            `json:"-"`
}

// SelectDiffCohort resolves each cohort id against the trace map, keeping
// the cohort order. The result always has one entry per cohort id.
func SelectDiffCohort(traces *model.TraceState, cohort *model.CohortState) []CohortEntry {
	out := make([]CohortEntry, len(cohort.Cohort))
	for i, id := range cohort.Cohort {
		out[i] = CohortEntry{ID: id}
		if rec, ok := traces.Traces[id]; ok {
			out[i].State = rec.State
			out[i].Data = rec.Data
			out[i].Error = rec.Error
		}
	}
	return out
}

// NewDiffCohortSelector memoizes SelectDiffCohort on the (traces, cohort)
// pointer pair.
func NewDiffCohortSelector() func(*model.TraceState, *model.CohortState) []CohortEntry {
	return memo.Func2(memo.New2(SelectDiffCohort))
}

// PendingCohortIDs returns the cohort ids that have never been requested.
func PendingCohortIDs(entries []CohortEntry) []string {
	var ids []string
	for _, e := range entries {
		if e.State == model.FetchUnset {
			ids = append(ids, e.ID)
		}
	}
	return ids
}
