// Package webui serves the search and dependency view models over HTTP and
// pushes search page updates over WebSocket.
package webui

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/tobert/traceview/internal/fetch"
	"github.com/tobert/traceview/internal/model"
	"github.com/tobert/traceview/internal/selectors"
	"github.com/tobert/traceview/internal/store"
)

//go:embed static/index.html
var staticFiles embed.FS

// DefaultSelectorCacheSize is the number of distinct search locations that
// keep their own selector set.
const DefaultSelectorCacheSize = 64

// Options configures a Server.
type Options struct {
	DagMaxNumServices  int
	SelectorCacheSize  int
	DependencyLookback time.Duration
	Logger             *slog.Logger
}

// pageEntry is the selector set of one search location. Memo cells are not
// safe for concurrent use, so each set has its own lock.
type pageEntry struct {
	mu   sync.Mutex
	page *selectors.SearchPage
}

// Server serves the embedded web UI, the JSON API and WebSocket updates.
type Server struct {
	fetcher *fetch.Fetcher
	store   *store.Store
	opts    Options
	logger  *slog.Logger

	pages *lru.Cache[string, *pageEntry]

	cellMu   sync.Mutex
	depPage  func(*model.DependenciesState, int) *selectors.DependencyPageProps
	services func(*model.ServicesState) *selectors.ServicesView
}

// New creates a web UI server reading from and dispatching into f's store.
func New(f *fetch.Fetcher, opts Options) (*Server, error) {
	if opts.SelectorCacheSize <= 0 {
		opts.SelectorCacheSize = DefaultSelectorCacheSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	pages, err := lru.New[string, *pageEntry](opts.SelectorCacheSize)
	if err != nil {
		return nil, err
	}
	return &Server{
		fetcher:  f,
		store:    f.Store(),
		opts:     opts,
		logger:   logger.With("component", "webui"),
		pages:    pages,
		depPage:  selectors.NewDependencyPageSelector(),
		services: selectors.NewServicesSelector(),
	}, nil
}

// RegisterRoutes attaches web UI routes to an existing ServeMux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ui/", s.handleUI)
	mux.HandleFunc("GET /ui", s.handleUIRedirect)
	mux.HandleFunc("GET /api/search", s.handleSearch)
	mux.HandleFunc("GET /api/dependencies", s.handleDependencies)
	mux.HandleFunc("GET /api/services", s.handleServices)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("POST /api/cohort/{id}", s.handleCohortAdd)
	mux.HandleFunc("DELETE /api/cohort/{id}", s.handleCohortRemove)
	mux.HandleFunc("PUT /api/sort", s.handleSort)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
}

// Handler returns a mux with all routes registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return mux
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.logger.Info("🖥️  web UI listening", "url", "http://"+addr+"/ui/")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleUIRedirect(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/ui/", http.StatusMovedPermanently)
}

func (s *Server) handleUI(w http.ResponseWriter, r *http.Request) {
	data, err := staticFiles.ReadFile("static/index.html")
	if err != nil {
		http.Error(w, "UI not found", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

// searchResponse is the JSON shape of a search page.
type searchResponse struct {
	*selectors.SearchPageProps
	Errors     []string `json:"errors,omitempty"`
	Generation uint64   `json:"generation"`
}

// pageFor returns the selector set of a location, creating it on first use.
func (s *Server) pageFor(location string) *pageEntry {
	if e, ok := s.pages.Get(location); ok {
		return e
	}
	e := &pageEntry{page: selectors.NewSearchPage()}
	if prev, ok, _ := s.pages.PeekOrAdd(location, e); ok {
		return prev
	}
	return e
}

// searchProps derives the search page of a location. Selectors panic on a
// trace state they cannot reconcile; that comes back as an error and leaves
// the page's lock released.
func (s *Server) searchProps(location string) (resp *searchResponse, err error) {
	e := s.pageFor(location)
	gen := s.store.Generation()
	st := s.store.State().WithLocation(location)

	e.mu.Lock()
	defer e.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("search page selector failed", "location", location, "panic", r)
			resp, err = nil, fmt.Errorf("inconsistent trace state: %v", r)
		}
	}()

	props := e.page.Props(st)
	return &searchResponse{SearchPageProps: props, Errors: props.ErrorMessages(), Generation: gen}, nil
}

// loadedSearchProps derives the page of a location and derives it again if
// ensureLoaded had to fetch anything for it.
func (s *Server) loadedSearchProps(ctx context.Context, location string) (*searchResponse, error) {
	resp, err := s.searchProps(location)
	if err != nil {
		return nil, err
	}
	if s.ensureLoaded(ctx, resp.SearchPageProps) {
		return s.searchProps(location)
	}
	return resp, nil
}

// ensureLoaded starts whatever fetches the props say the page is missing:
// the service catalog, the search named by the location and unrequested
// cohort traces. It reports whether anything was fetched.
func (s *Server) ensureLoaded(ctx context.Context, props *selectors.SearchPageProps) bool {
	fetched := false
	if props.Services.Status() == model.ListUnloaded && !props.LoadingServices {
		if err := s.fetcher.FetchAllServiceOperations(ctx); err != nil {
			s.logger.Warn("service fetch failed", "error", err)
		}
		fetched = true
	}
	if query := props.URLQueryParams(); props.NeedsInitialSearch && s.store.State().Trace.Search.Query != query.Encode() {
		// Errors land in the store and come back through the props.
		_ = s.fetcher.SearchTraces(ctx, query)
		fetched = true
	}
	if len(props.CohortToFetch) > 0 {
		_ = s.fetcher.FetchMultipleTraces(ctx, props.CohortToFetch)
		fetched = true
	}
	return fetched
}

// handleSearch returns the search page for the request's query string, which
// is the page location.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	resp, err := s.loadedSearchProps(r.Context(), r.URL.RawQuery)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, resp)
}

// dependencyResponse is the JSON shape of the dependency page.
type dependencyResponse struct {
	*selectors.DependencyPageProps
	Error string `json:"error,omitempty"`
}

func (s *Server) handleDependencies(w http.ResponseWriter, r *http.Request) {
	st := s.store.State().Dependencies
	if (st.Dependencies == nil && !st.Loading && st.Error == nil) || r.URL.Query().Has("refresh") {
		_ = s.fetcher.FetchDependencies(r.Context(), s.opts.DependencyLookback)
	}

	props := s.dependencyProps()
	resp := dependencyResponse{DependencyPageProps: props}
	if props.Error != nil {
		resp.Error = props.Error.Error()
	}
	writeJSON(w, resp)
}

func (s *Server) handleServices(w http.ResponseWriter, r *http.Request) {
	if s.store.State().Services.Services.Status() == model.ListUnloaded || r.URL.Query().Has("refresh") {
		_ = s.fetcher.FetchAllServiceOperations(r.Context())
	}

	view := s.servicesView()
	resp := servicesResponse{Loading: view.LoadingServices, Services: view.Services}
	if view.ServiceError != nil {
		resp.Error = view.ServiceError.Error()
	}
	writeJSON(w, resp)
}

func (s *Server) dependencyProps() *selectors.DependencyPageProps {
	s.cellMu.Lock()
	defer s.cellMu.Unlock()
	return s.depPage(s.store.State().Dependencies, s.opts.DagMaxNumServices)
}

func (s *Server) servicesView() *selectors.ServicesView {
	s.cellMu.Lock()
	defer s.cellMu.Unlock()
	return s.services(s.store.State().Services)
}

type servicesResponse struct {
	Loading  bool                                    `json:"loading"`
	Services model.List[selectors.ServiceOperations] `json:"services"`
	Error    string                                  `json:"error,omitempty"`
}

type statusResponse struct {
	Generation uint64 `json:"generation"`
	Traces     int    `json:"traces"`
	Cohort     int    `json:"cohort"`
	SortBy     string `json:"sort_by"`
	Pages      int    `json:"pages"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.store.State()
	sortBy := st.SearchForm.SortBy
	if !sortBy.Valid() {
		sortBy = model.DefaultSortKey
	}
	writeJSON(w, statusResponse{
		Generation: s.store.Generation(),
		Traces:     len(st.Trace.Traces),
		Cohort:     len(st.TraceDiff.Cohort),
		SortBy:     string(sortBy),
		Pages:      s.pages.Len(),
	})
}

func (s *Server) handleCohortAdd(w http.ResponseWriter, r *http.Request) {
	id := strings.ToLower(r.PathValue("id"))
	s.store.CohortAdd(id)
	if err := s.fetcher.FetchCohort(r.Context()); err != nil {
		s.logger.Debug("cohort fetch incomplete", "error", err)
	}
	writeJSON(w, map[string][]string{"cohort": s.store.State().TraceDiff.Cohort})
}

func (s *Server) handleCohortRemove(w http.ResponseWriter, r *http.Request) {
	s.store.CohortRemove(strings.ToLower(r.PathValue("id")))
	writeJSON(w, map[string][]string{"cohort": s.store.State().TraceDiff.Cohort})
}

func (s *Server) handleSort(w http.ResponseWriter, r *http.Request) {
	key := model.SortKey(strings.ToUpper(r.URL.Query().Get("by")))
	if !key.Valid() {
		http.Error(w, "unknown sort key "+url.QueryEscape(string(key)), http.StatusBadRequest)
		return
	}
	s.store.SetSortBy(key)
	writeJSON(w, map[string]model.SortKey{"sort_by": key})
}

// handleWebSocket streams the search page for the connection's query string
// whenever the store changes.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // Allow any origin for localhost dev
	})
	if err != nil {
		return
	}
	defer conn.CloseNow()

	ctx := conn.CloseRead(r.Context())
	location := r.URL.RawQuery

	notifyCh, unsubscribe := s.store.Subscribe()
	defer unsubscribe()

	lastGen := s.store.Generation()
	resp, err := s.loadedSearchProps(ctx, location)
	if !s.sendSearch(ctx, conn, resp, err) {
		return
	}
	if resp != nil {
		lastGen = resp.Generation
	}

	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return

		case <-notifyCh:
			gen := s.store.Generation()
			if gen == lastGen {
				continue
			}
			lastGen = gen
			resp, err := s.searchProps(location)
			if !s.sendSearch(ctx, conn, resp, err) {
				return
			}

		case <-keepalive.C:
			if err := conn.Ping(ctx); err != nil {
				return
			}
		}
	}
}

func (s *Server) sendWS(ctx context.Context, conn *websocket.Conn, v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("failed to marshal update", "error", err)
		return false
	}

	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data) == nil
}

// sendSearch pushes a search page, or the error that kept it from being
// derived. The connection stays open after an error so a later store change
// can recover the page.
func (s *Server) sendSearch(ctx context.Context, conn *websocket.Conn, resp *searchResponse, err error) bool {
	if err != nil {
		return s.sendWS(ctx, conn, errorResponse{Error: err.Error()})
	}
	return s.sendWS(ctx, conn, resp)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, cause error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(errorResponse{Error: cause.Error()}); err != nil {
		slog.Warn("webui: failed to write JSON", "error", err)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("webui: failed to write JSON", "error", err)
	}
}
