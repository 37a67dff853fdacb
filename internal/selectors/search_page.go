package selectors

import (
	"net/url"
	"time"

	"github.com/tobert/traceview/internal/model"
)

// SearchPageProps is the view model of the trace search page.
type SearchPageProps struct {
	Query             url.Values    `json:"query"`
	DiffCohort        []CohortEntry `json:"diffCohort"`
	IsEmbed           bool          `json:"embedded"`
	HideGraph         bool          `json:"hideGraph"`
	DisableComparison bool          `json:"disableComparision"`
	IsHomepage        bool          `json:"isHomepage"`
	LoadingServices   bool          `json:"loadingServices"`
	LoadingTraces     bool          `json:"loadingTraces"`

	Services     model.List[ServiceOperations] `json:"services"`
	TraceResults []*model.TraceData            `json:"traceResults"`

	// Errors holds the trace error and then the service error, skipping
	// whichever is nil. It is nil when neither failed.
	Errors []error `json:"-"`

	MaxTraceDuration time.Duration `json:"maxTraceDuration"`
	SortTracesBy     model.SortKey `json:"sortTracesBy"`

	// NeedsInitialSearch is set when the location names a service or trace
	// id, so the page should search on open.
	NeedsInitialSearch bool `json:"needsInitialSearch"`
	// CohortToFetch lists cohort ids that have never been requested.
	CohortToFetch []string `json:"cohortToFetch,omitempty"`
}

// URLQueryParams returns the parsed location query. It is the same map as
// Query.
func (p *SearchPageProps) URLQueryParams() url.Values {
	return p.Query
}

// ErrorMessages returns Errors as strings for serialization.
func (p *SearchPageProps) ErrorMessages() []string {
	if p.Errors == nil {
		return nil
	}
	msgs := make([]string, len(p.Errors))
	for i, err := range p.Errors {
		msgs[i] = err.Error()
	}
	return msgs
}

// SearchPage owns the memo cells behind one search page. Create one per
// page; two pages sharing a SearchPage thrash each other's cells.
//
// A SearchPage is not safe for concurrent use.
type SearchPage struct {
	traceView  func(*model.TraceState) *TraceView
	diffCohort func(*model.TraceState, *model.CohortState) []CohortEntry
	sortStage  func([]*model.TraceData, model.SortKey) []*model.TraceData
	services   func(*model.ServicesState) *ServicesView
}

// NewSearchPage returns a page with fresh, empty cells.
func NewSearchPage() *SearchPage {
	return &SearchPage{
		traceView:  NewTraceViewSelector(),
		diffCohort: NewDiffCohortSelector(),
		sortStage:  NewSortStage(),
		services:   NewServicesSelector(),
	}
}

// Props assembles the search page view model from one store snapshot.
// Derived collections are reused as long as the sub-states they depend on
// keep their identity across snapshots.
func (p *SearchPage) Props(state *model.State) *SearchPageProps {
	flags := ParseQueryFlags(state.Router)
	traces := p.traceView(state.Trace)
	cohort := p.diffCohort(state.Trace, state.TraceDiff)
	services := p.services(state.Services)

	return &SearchPageProps{
		Query:              flags.Query,
		DiffCohort:         cohort,
		IsEmbed:            flags.IsEmbed,
		HideGraph:          flags.HideGraph,
		DisableComparison:  flags.DisableComparison,
		IsHomepage:         flags.IsHomepage,
		LoadingServices:    services.LoadingServices,
		LoadingTraces:      traces.LoadingTraces,
		Services:           services.Services,
		TraceResults:       p.sortStage(traces.Traces, state.SearchForm.SortBy),
		Errors:             CollectErrors(traces.TraceError, services.ServiceError),
		MaxTraceDuration:   traces.MaxDuration,
		SortTracesBy:       state.SearchForm.SortBy,
		NeedsInitialSearch: flags.NeedsInitialSearch(),
		CohortToFetch:      PendingCohortIDs(cohort),
	}
}
