// Package mcpserver exposes the trace search, comparison cohort and
// dependency views to agents over the Model Context Protocol.
package mcpserver

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/tobert/traceview/internal/fetch"
	"github.com/tobert/traceview/internal/filereader"
	"github.com/tobert/traceview/internal/model"
	"github.com/tobert/traceview/internal/selectors"
	"github.com/tobert/traceview/internal/storage"
	"github.com/tobert/traceview/internal/store"
)

// Options configures the MCP server.
type Options struct {
	// Endpoint is the OTLP gRPC address advertised to agents.
	Endpoint           string
	DagMaxNumServices  int
	DependencyLookback time.Duration
	Version            string
	Logger             *slog.Logger
}

// Server wraps the MCP server around a fetcher and the trace storage it
// reads from. Agent tool calls dispatch through the fetcher and answer from
// the same selectors the web UI uses.
type Server struct {
	mcpServer *mcp.Server
	fetcher   *fetch.Fetcher
	store     *store.Store
	traces    *storage.TraceStorage
	opts      Options
	logger    *slog.Logger

	// Memo cells are not safe for concurrent use; tool calls can overlap.
	viewMu   sync.Mutex
	page     *selectors.SearchPage
	depPage  func(*model.DependenciesState, int) *selectors.DependencyPageProps
	location string

	// File sources - directories being watched for OTLP JSONL files
	fileSourcesMu sync.RWMutex
	fileSources   map[string]*filereader.FileSource
}

// NewServer creates an MCP server dispatching into f's store. traces backs
// the file sources and stats tools.
func NewServer(f *fetch.Fetcher, traces *storage.TraceStorage, opts Options) (*Server, error) {
	if f == nil {
		return nil, fmt.Errorf("fetcher cannot be nil")
	}
	if traces == nil {
		return nil, fmt.Errorf("trace storage cannot be nil")
	}
	if opts.DependencyLookback <= 0 {
		opts.DependencyLookback = fetch.DefaultLookback
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		fetcher:     f,
		store:       f.Store(),
		traces:      traces,
		opts:        opts,
		logger:      logger.With("component", "mcp"),
		page:        selectors.NewSearchPage(),
		depPage:     selectors.NewDependencyPageSelector(),
		fileSources: make(map[string]*filereader.FileSource),
	}

	s.mcpServer = mcp.NewServer(&mcp.Implementation{
		Name:    "traceview",
		Title:   "Trace search and service dependencies for agents",
		Version: opts.Version,
	}, &mcp.ServerOptions{
		Instructions: `Trace search server. Captures OTLP traces in memory and serves search, comparison and dependency views.

Workflow: get_otlp_endpoint -> set OTEL_EXPORTER_OTLP_ENDPOINT -> run program -> search_traces / get_dependency_graph.

Tools: search_traces (filtered, sorted search), sort_traces, get_trace (waterfall), manage_cohort (pick traces to compare), get_services, get_dependency_graph.
Resources: traceview://endpoint, traceview://stats, traceview://services, traceview://dependencies, traceview://cohort, traceview://file-sources.`,
		SubscribeHandler:   func(_ context.Context, _ *mcp.SubscribeRequest) error { return nil },
		UnsubscribeHandler: func(_ context.Context, _ *mcp.UnsubscribeRequest) error { return nil },
	})

	s.registerTools()
	s.registerResources()

	return s, nil
}

// Run starts the MCP server on stdio transport.
// This method blocks until the context is cancelled or EOF is received on stdin.
func (s *Server) Run(ctx context.Context) error {
	err := s.mcpServer.Run(ctx, &mcp.StdioTransport{})
	s.stopAllFileSources()
	return err
}

// MCPServer returns the underlying mcp.Server for use with alternative transports.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcpServer
}

// Shutdown performs cleanup when using non-stdio transports.
func (s *Server) Shutdown() {
	s.stopAllFileSources()
}

// searchProps derives the search page for location from the current store
// state and remembers the location for later sort and cohort calls.
func (s *Server) searchProps(location string) (*selectors.SearchPageProps, error) {
	s.viewMu.Lock()
	defer s.viewMu.Unlock()
	s.location = location
	return s.derive(func() *selectors.SearchPageProps { return s.page.Props(s.store.State().WithLocation(location)) })
}

// currentProps re-derives the page of the last searched location.
func (s *Server) currentProps() (*selectors.SearchPageProps, error) {
	s.viewMu.Lock()
	defer s.viewMu.Unlock()
	return s.derive(func() *selectors.SearchPageProps { return s.page.Props(s.store.State().WithLocation(s.location)) })
}

// derive runs a search page selector, turning a selector panic into an
// error so one inconsistent snapshot cannot take the server down.
func (s *Server) derive(fn func() *selectors.SearchPageProps) (props *selectors.SearchPageProps, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("search page selector failed", "panic", r)
			err = fmt.Errorf("inconsistent trace state: %v", r)
		}
	}()
	return fn(), nil
}

func (s *Server) dependencyProps() *selectors.DependencyPageProps {
	s.viewMu.Lock()
	defer s.viewMu.Unlock()
	return s.depPage(s.store.State().Dependencies, s.opts.DagMaxNumServices)
}

// AddFileSource starts reading OTLP JSONL from directory into the trace
// storage. When activeOnly is true, rotated archives are skipped.
func (s *Server) AddFileSource(ctx context.Context, directory string, activeOnly bool) error {
	s.fileSourcesMu.Lock()
	defer s.fileSourcesMu.Unlock()

	if _, exists := s.fileSources[directory]; exists {
		return fmt.Errorf("directory %s is already being watched", directory)
	}

	fs, err := filereader.New(filereader.Config{
		Directory:  directory,
		ActiveOnly: activeOnly,
		Watch:      true,
		Logger:     s.logger,
	}, s.traces)
	if err != nil {
		return fmt.Errorf("failed to create file source: %w", err)
	}
	// The source outlives the tool call that added it.
	if err := fs.Start(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("failed to start file source: %w", err)
	}

	s.fileSources[directory] = fs
	return nil
}

// RemoveFileSource stops and removes a file source.
// The source is removed from the map under the lock, then stopped
// outside the lock so fs.Stop cannot block other operations.
func (s *Server) RemoveFileSource(directory string) error {
	s.fileSourcesMu.Lock()
	fs, exists := s.fileSources[directory]
	if !exists {
		s.fileSourcesMu.Unlock()
		return fmt.Errorf("directory %s is not being watched", directory)
	}
	delete(s.fileSources, directory)
	s.fileSourcesMu.Unlock()

	fs.Stop()
	return nil
}

// FileSourceStats returns stats for all file sources, ordered by directory.
func (s *Server) FileSourceStats() []filereader.Stats {
	s.fileSourcesMu.RLock()
	defer s.fileSourcesMu.RUnlock()

	stats := make([]filereader.Stats, 0, len(s.fileSources))
	for _, fs := range s.fileSources {
		stats = append(stats, fs.Stats())
	}
	slices.SortFunc(stats, func(a, b filereader.Stats) int {
		return cmp.Compare(a.Directory, b.Directory)
	})
	return stats
}

// stopAllFileSources stops all file sources (called on shutdown).
func (s *Server) stopAllFileSources() {
	s.fileSourcesMu.Lock()
	sources := make([]*filereader.FileSource, 0, len(s.fileSources))
	for _, fs := range s.fileSources {
		sources = append(sources, fs)
	}
	clear(s.fileSources)
	s.fileSourcesMu.Unlock()

	for _, fs := range sources {
		fs.Stop()
	}
}
