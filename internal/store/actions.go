package store

import (
	"slices"

	"github.com/tobert/traceview/internal/model"
)

// Navigate records a new router location. Only the location changes, so
// every derived collection stays cached.
func (s *Store) Navigate(search string) *model.State {
	return s.update(func(st *model.State) *model.State {
		if st.Router.Search == search {
			return st
		}
		return st.WithLocation(search)
	})
}

// SetSortBy changes the search result order.
func (s *Store) SetSortBy(key model.SortKey) *model.State {
	return s.update(func(st *model.State) *model.State {
		if st.SearchForm.SortBy == key {
			return st
		}
		return st.WithSortBy(key)
	})
}

// SearchStarted marks a search for query as in flight. Previous results are
// dropped so the result list never refers to traces from another query.
func (s *Store) SearchStarted(query string) *model.State {
	return s.update(func(st *model.State) *model.State {
		ts := copyTraces(st.Trace)
		ts.Search = model.SearchState{Query: query, State: model.FetchLoading}
		return withTrace(st, ts)
	})
}

// SearchSucceeded stores the found traces and publishes them as the result
// set, in the order given.
func (s *Store) SearchSucceeded(query string, traces []*model.TraceData) *model.State {
	return s.update(func(st *model.State) *model.State {
		ts := copyTraces(st.Trace)
		results := make([]string, 0, len(traces))
		for _, t := range traces {
			ts.Traces[t.TraceID] = &model.TraceRecord{ID: t.TraceID, State: model.FetchDone, Data: t}
			results = append(results, t.TraceID)
		}
		ts.Search = model.SearchState{Query: query, Results: results, State: model.FetchDone}
		return withTrace(st, ts)
	})
}

// SearchFailed records a failed search. The result list is emptied.
func (s *Store) SearchFailed(query string, err error) *model.State {
	return s.update(func(st *model.State) *model.State {
		ts := copyTraces(st.Trace)
		ts.Search = model.SearchState{Query: query, Results: []string{}, State: model.FetchFailed, Error: err}
		return withTrace(st, ts)
	})
}

// TracesRequested marks individual traces as loading. Traces that are already
// loaded keep their data.
func (s *Store) TracesRequested(ids ...string) *model.State {
	return s.update(func(st *model.State) *model.State {
		var ts *model.TraceState
		for _, id := range ids {
			if rec, ok := st.Trace.Traces[id]; ok && rec.State == model.FetchDone {
				continue
			}
			if ts == nil {
				ts = copyTraces(st.Trace)
			}
			ts.Traces[id] = &model.TraceRecord{ID: id, State: model.FetchLoading}
		}
		if ts == nil {
			return st
		}
		return withTrace(st, ts)
	})
}

// TraceLoaded stores a single fetched trace.
func (s *Store) TraceLoaded(data *model.TraceData) *model.State {
	return s.update(func(st *model.State) *model.State {
		ts := copyTraces(st.Trace)
		ts.Traces[data.TraceID] = &model.TraceRecord{ID: data.TraceID, State: model.FetchDone, Data: data}
		return withTrace(st, ts)
	})
}

// TraceFailed records that fetching id failed. A trace that is already loaded
// keeps its data, since search results may still point at it.
func (s *Store) TraceFailed(id string, err error) *model.State {
	return s.update(func(st *model.State) *model.State {
		if rec, ok := st.Trace.Traces[id]; ok && rec.State == model.FetchDone && rec.Data != nil {
			return st
		}
		ts := copyTraces(st.Trace)
		ts.Traces[id] = &model.TraceRecord{ID: id, State: model.FetchFailed, Error: err}
		return withTrace(st, ts)
	})
}

// CohortAdd appends id to the comparison cohort. Adding an id that is already
// present is a no-op.
func (s *Store) CohortAdd(id string) *model.State {
	return s.update(func(st *model.State) *model.State {
		if slices.Contains(st.TraceDiff.Cohort, id) {
			return st
		}
		return withCohort(st, append(cloneIDs(st.TraceDiff.Cohort), id))
	})
}

// CohortRemove drops id from the comparison cohort, if present.
func (s *Store) CohortRemove(id string) *model.State {
	return s.update(func(st *model.State) *model.State {
		i := slices.Index(st.TraceDiff.Cohort, id)
		if i < 0 {
			return st
		}
		return withCohort(st, slices.Delete(cloneIDs(st.TraceDiff.Cohort), i, i+1))
	})
}

// CohortClear empties the comparison cohort.
func (s *Store) CohortClear() *model.State {
	return s.update(func(st *model.State) *model.State {
		if len(st.TraceDiff.Cohort) == 0 {
			return st
		}
		return withCohort(st, nil)
	})
}

// ServicesStarted marks the service catalog as loading.
func (s *Store) ServicesStarted() *model.State {
	return s.update(func(st *model.State) *model.State {
		ss := copyServices(st.Services)
		ss.Loading = true
		ss.Error = nil
		return withServices(st, ss)
	})
}

// ServicesLoaded stores the service catalog.
func (s *Store) ServicesLoaded(names []string) *model.State {
	return s.update(func(st *model.State) *model.State {
		ss := copyServices(st.Services)
		ss.Loading = false
		ss.Error = nil
		ss.Services = model.Loaded(cloneIDs(names))
		return withServices(st, ss)
	})
}

// ServicesFailed records a catalog fetch failure. Any previously loaded
// catalog is kept.
func (s *Store) ServicesFailed(err error) *model.State {
	return s.update(func(st *model.State) *model.State {
		ss := copyServices(st.Services)
		ss.Loading = false
		ss.Error = err
		return withServices(st, ss)
	})
}

// OperationsLoaded stores the operations of one service.
func (s *Store) OperationsLoaded(service string, operations []string) *model.State {
	return s.update(func(st *model.State) *model.State {
		ss := copyServices(st.Services)
		ss.OperationsForService[service] = cloneIDs(operations)
		return withServices(st, ss)
	})
}

// DependenciesStarted marks the dependency edges as loading.
func (s *Store) DependenciesStarted() *model.State {
	return s.update(func(st *model.State) *model.State {
		return withDependencies(st, &model.DependenciesState{
			Dependencies: st.Dependencies.Dependencies,
			Loading:      true,
		})
	})
}

// DependenciesLoaded stores a new set of dependency edges.
func (s *Store) DependenciesLoaded(edges []model.DependencyEdge) *model.State {
	return s.update(func(st *model.State) *model.State {
		return withDependencies(st, &model.DependenciesState{Dependencies: slices.Clone(edges)})
	})
}

// DependenciesFailed records a dependency fetch failure and clears the edges.
func (s *Store) DependenciesFailed(err error) *model.State {
	return s.update(func(st *model.State) *model.State {
		return withDependencies(st, &model.DependenciesState{Error: err})
	})
}
