package model

import "strings"

// CohortState holds the trace ids selected for side-by-side comparison, in
// the order the user added them.
type CohortState struct {
	Cohort []string
}

// Location is the router location of the current screen. Search is the raw
// query string, with or without a leading '?'.
type Location struct {
	Search string
}

// SearchForm holds the search form values that influence presentation.
type SearchForm struct {
	SortBy SortKey
}

// State is one immutable snapshot of the whole store. Sub-states are shared
// between snapshots until an action replaces them, so pointer identity of a
// sub-state tells whether it changed.
type State struct {
	Trace        *TraceState
	TraceDiff    *CohortState
	Services     *ServicesState
	Dependencies *DependenciesState
	Router       Location
	SearchForm   SearchForm
}

// NewState returns the initial snapshot: nothing loaded, empty cohort.
func NewState() *State {
	return &State{
		Trace: &TraceState{
			Traces: make(map[string]*TraceRecord),
		},
		TraceDiff: &CohortState{},
		Services: &ServicesState{
			Services:             Unloaded[string](),
			OperationsForService: make(map[string][]string),
		},
		Dependencies: &DependenciesState{},
	}
}

// WithLocation returns a shallow copy of s pointing at a different router
// location. All sub-states keep their identity.
func (s *State) WithLocation(search string) *State {
	next := *s
	next.Router = Location{Search: search}
	return &next
}

// WithSortBy returns a shallow copy of s with a different sort key.
func (s *State) WithSortBy(key SortKey) *State {
	next := *s
	next.SearchForm.SortBy = key
	return &next
}

// RawQuery returns the location's query string without the leading '?'.
func (l Location) RawQuery() string {
	return strings.TrimPrefix(l.Search, "?")
}
