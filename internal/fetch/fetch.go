// Package fetch runs backend requests and records their progress in the
// store: every action dispatches a loading transition first and then either
// the result or a model.FetchError.
package fetch

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tobert/traceview/internal/model"
	"github.com/tobert/traceview/internal/selectors"
	"github.com/tobert/traceview/internal/storage"
	"github.com/tobert/traceview/internal/store"
)

// Backend answers trace queries. storage.TraceStorage implements it.
type Backend interface {
	FindTraces(ctx context.Context, q storage.TraceQuery) ([]*model.TraceData, error)
	GetTrace(ctx context.Context, traceID string) (*model.TraceData, error)
	GetServices(ctx context.Context) ([]string, error)
	GetOperations(ctx context.Context, service string) ([]string, error)
	GetDependencies(ctx context.Context, endTs time.Time, lookback time.Duration) ([]model.DependencyEdge, error)
}

// DefaultParallelism bounds concurrent single-trace fetches.
const DefaultParallelism = 4

// Fetcher dispatches fetch actions into a store.
type Fetcher struct {
	backend     Backend
	store       *store.Store
	logger      *slog.Logger
	now         func() time.Time
	parallelism int
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithLogger sets the logger; slog.Default() is used otherwise.
func WithLogger(l *slog.Logger) Option {
	return func(f *Fetcher) { f.logger = l }
}

// WithClock overrides time.Now, for lookback windows in tests.
func WithClock(now func() time.Time) Option {
	return func(f *Fetcher) { f.now = now }
}

// WithParallelism bounds concurrent trace fetches in FetchMultipleTraces.
func WithParallelism(n int) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.parallelism = n
		}
	}
}

// New returns a Fetcher writing into st.
func New(backend Backend, st *store.Store, opts ...Option) *Fetcher {
	f := &Fetcher{
		backend:     backend,
		store:       st,
		logger:      slog.Default(),
		now:         time.Now,
		parallelism: DefaultParallelism,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Store returns the store the fetcher writes into.
func (f *Fetcher) Store() *store.Store {
	return f.store
}

// SearchTraces runs the search described by query and publishes its results.
// Trace id lookups bypass the query and resolve each id directly; ids that
// do not exist are left out of the result.
func (f *Fetcher) SearchTraces(ctx context.Context, query url.Values) error {
	key := query.Encode()
	f.store.SearchStarted(key)

	req, err := ParseSearchQuery(query, f.now())
	if err != nil {
		ferr := model.NewFetchError(model.KindTrace, err, "invalid search")
		f.store.SearchFailed(key, ferr)
		return ferr
	}

	var traces []*model.TraceData
	if len(req.TraceIDs) > 0 {
		traces, err = f.lookupTraces(ctx, req.TraceIDs)
	} else {
		traces, err = f.backend.FindTraces(ctx, req.Query)
	}
	if err != nil {
		ferr := model.NewFetchError(model.KindTrace, err, "failed to search traces")
		f.store.SearchFailed(key, ferr)
		f.logger.Warn("trace search failed", "query", key, "error", err)
		return ferr
	}

	f.store.SearchSucceeded(key, traces)
	f.logger.Debug("trace search done", "query", key, "results", len(traces))
	return nil
}

func (f *Fetcher) lookupTraces(ctx context.Context, ids []string) ([]*model.TraceData, error) {
	var traces []*model.TraceData
	for _, id := range ids {
		t, err := f.backend.GetTrace(ctx, id)
		if err != nil {
			if errors.Is(err, storage.ErrTraceNotFound) {
				continue
			}
			return nil, err
		}
		traces = append(traces, t)
	}
	return traces, nil
}

// FetchTrace loads one trace into the trace map.
func (f *Fetcher) FetchTrace(ctx context.Context, traceID string) error {
	f.store.TracesRequested(traceID)

	t, err := f.backend.GetTrace(ctx, traceID)
	if err != nil {
		ferr := model.NewFetchError(model.KindTrace, err, "failed to fetch trace %s", traceID)
		f.store.TraceFailed(traceID, ferr)
		return ferr
	}
	f.store.TraceLoaded(t)
	return nil
}

// FetchMultipleTraces loads several traces concurrently. Every id ends in
// either the loaded or the failed state; the first error is returned.
func (f *Fetcher) FetchMultipleTraces(ctx context.Context, traceIDs []string) error {
	if len(traceIDs) == 0 {
		return nil
	}
	f.store.TracesRequested(traceIDs...)

	var g errgroup.Group
	g.SetLimit(f.parallelism)
	for _, id := range traceIDs {
		g.Go(func() error {
			t, err := f.backend.GetTrace(ctx, id)
			if err != nil {
				ferr := model.NewFetchError(model.KindTrace, err, "failed to fetch trace %s", id)
				f.store.TraceFailed(id, ferr)
				return ferr
			}
			f.store.TraceLoaded(t)
			return nil
		})
	}
	return g.Wait()
}

// FetchCohort loads the cohort traces that have never been requested.
func (f *Fetcher) FetchCohort(ctx context.Context) error {
	st := f.store.State()
	pending := selectors.PendingCohortIDs(selectors.SelectDiffCohort(st.Trace, st.TraceDiff))
	return f.FetchMultipleTraces(ctx, pending)
}

// FetchServices loads the service catalog.
func (f *Fetcher) FetchServices(ctx context.Context) error {
	f.store.ServicesStarted()

	names, err := f.backend.GetServices(ctx)
	if err != nil {
		ferr := model.NewFetchError(model.KindService, err, "failed to fetch services")
		f.store.ServicesFailed(ferr)
		f.logger.Warn("service fetch failed", "error", err)
		return ferr
	}
	f.store.ServicesLoaded(names)
	return nil
}

// FetchServiceOperations loads the operations of one service.
func (f *Fetcher) FetchServiceOperations(ctx context.Context, service string) error {
	ops, err := f.backend.GetOperations(ctx, service)
	if err != nil {
		ferr := model.NewFetchError(model.KindService, err, "failed to fetch operations for %s", service)
		f.store.ServicesFailed(ferr)
		return ferr
	}
	f.store.OperationsLoaded(service, ops)
	return nil
}

// FetchAllServiceOperations loads the catalog and then every service's
// operations.
func (f *Fetcher) FetchAllServiceOperations(ctx context.Context) error {
	if err := f.FetchServices(ctx); err != nil {
		return err
	}
	names, _ := f.store.State().Services.Services.Items()
	for _, name := range names {
		if err := f.FetchServiceOperations(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

// FetchDependencies loads dependency edges for traces that started in the
// lookback window ending now. A zero lookback covers all stored traces.
func (f *Fetcher) FetchDependencies(ctx context.Context, lookback time.Duration) error {
	f.store.DependenciesStarted()

	edges, err := f.backend.GetDependencies(ctx, f.now(), lookback)
	if err != nil {
		ferr := model.NewFetchError(model.KindDependency, err, "failed to fetch dependencies")
		f.store.DependenciesFailed(ferr)
		f.logger.Warn("dependency fetch failed", "error", err)
		return ferr
	}
	f.store.DependenciesLoaded(edges)
	return nil
}
