package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/tobert/traceview/internal/fetch"
	"github.com/tobert/traceview/internal/model"
	"github.com/tobert/traceview/internal/selectors"
	"github.com/tobert/traceview/internal/viz"
)

// Tools are thin wrappers over the web UI's flow: dispatch a fetch into the
// store, then answer from the selectors. Every tool returns structured output
// plus a text rendering for agents that read content only.

func (s *Server) registerTools() {
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "get_otlp_endpoint",
		Description: "START HERE: Get the OTLP gRPC endpoint traces are received on. Set OTEL_EXPORTER_OTLP_ENDPOINT=<endpoint> when running instrumented programs, then search the captured traces.",
	}, s.handleGetOTLPEndpoint)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "search_traces",
		Description: "Search captured traces by service, operation, tags, duration bounds and lookback window, or look up trace ids directly. Results come back in the requested order (MOST_RECENT, LONGEST_FIRST, SHORTEST_FIRST, MOST_SPANS, LEAST_SPANS) along with the longest duration in the set.",
	}, s.handleSearchTraces)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "sort_traces",
		Description: "Change the order of the last search's results without searching again.",
	}, s.handleSortTraces)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "get_trace",
		Description: "Load one trace by id and render its span waterfall: service.operation per span, nested by parent, with timing bars and error markers.",
	}, s.handleGetTrace)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "manage_cohort",
		Description: "Maintain the comparison cohort, the set of traces picked for side-by-side comparison. Actions: 'add' and 'remove' take trace_ids, 'clear' empties it, 'list' shows each member with its load state. Added traces are fetched right away.",
	}, s.handleManageCohort)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "get_services",
		Description: "List the services seen in captured traces with the operations of each.",
	}, s.handleGetServices)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "get_dependency_graph",
		Description: "Build the service dependency graph from captured traces: services with their call totals, caller to callee links, and the graph layouts suited to its size.",
	}, s.handleGetDependencyGraph)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "add_file_source",
		Description: "Load OTLP JSONL trace files from a directory (e.g. an OpenTelemetry Collector file exporter output) and keep tailing them.",
	}, s.handleAddFileSource)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "remove_file_source",
		Description: "Stop watching a directory added with add_file_source. Traces already loaded stay in the buffer.",
	}, s.handleRemoveFileSource)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "clear_traces",
		Description: "Drop every buffered span, e.g. before a new test run. The last search and the service list are refreshed; cohort traces already loaded stay until removed.",
	}, s.handleClearTraces)
}

// Tool 1: get_otlp_endpoint

type GetOTLPEndpointInput struct{}

type GetOTLPEndpointOutput struct {
	Endpoint        string            `json:"endpoint" jsonschema:"OTLP gRPC endpoint address"`
	Protocol        string            `json:"protocol" jsonschema:"Protocol type (grpc)"`
	EnvironmentVars map[string]string `json:"environment_vars" jsonschema:"Suggested environment variables for configuring applications"`
}

func (s *Server) handleGetOTLPEndpoint(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input GetOTLPEndpointInput,
) (*mcp.CallToolResult, GetOTLPEndpointOutput, error) {
	if s.opts.Endpoint == "" {
		return nil, GetOTLPEndpointOutput{}, fmt.Errorf("OTLP receiver is not running")
	}
	return &mcp.CallToolResult{}, GetOTLPEndpointOutput{
		Endpoint: s.opts.Endpoint,
		Protocol: "grpc",
		EnvironmentVars: map[string]string{
			"OTEL_EXPORTER_OTLP_ENDPOINT": s.opts.Endpoint,
			"OTEL_EXPORTER_OTLP_PROTOCOL": "grpc",
			"OTEL_EXPORTER_OTLP_INSECURE": "true",
		},
	}, nil
}

// Tool 2: search_traces

type SearchTracesInput struct {
	Service     string            `json:"service,omitempty" jsonschema:"Service name"`
	Operation   string            `json:"operation,omitempty" jsonschema:"Operation (span) name; 'all' or empty matches any"`
	Tags        map[string]string `json:"tags,omitempty" jsonschema:"Span or process tags that must all match"`
	Lookback    string            `json:"lookback,omitempty" jsonschema:"Search window ending now, e.g. '15m', '1h', '2d' (default 1h)"`
	MinDuration string            `json:"min_duration,omitempty" jsonschema:"Minimum trace duration, e.g. '100ms'"`
	MaxDuration string            `json:"max_duration,omitempty" jsonschema:"Maximum trace duration, e.g. '2s'"`
	Limit       int               `json:"limit,omitempty" jsonschema:"Maximum number of traces (default 20)"`
	TraceIDs    []string          `json:"trace_ids,omitempty" jsonschema:"Look these trace ids up directly; other filters are ignored"`
	SortBy      string            `json:"sort_by,omitempty" jsonschema:"MOST_RECENT, LONGEST_FIRST, SHORTEST_FIRST, MOST_SPANS or LEAST_SPANS"`
}

type TraceSummary struct {
	TraceID    string   `json:"trace_id" jsonschema:"Trace ID (hex)"`
	Name       string   `json:"name" jsonschema:"Root service and operation"`
	StartTime  string   `json:"start_time" jsonschema:"Trace start (RFC 3339)"`
	DurationMs float64  `json:"duration_ms" jsonschema:"Trace duration in milliseconds"`
	SpanCount  int      `json:"span_count" jsonschema:"Number of spans"`
	ErrorCount int      `json:"error_count" jsonschema:"Number of spans with errors"`
	Services   []string `json:"services" jsonschema:"Services in the trace"`
}

type SearchTracesOutput struct {
	Query         string         `json:"query" jsonschema:"Search location query string"`
	SortBy        string         `json:"sort_by" jsonschema:"Order of the results"`
	Traces        []TraceSummary `json:"traces" jsonschema:"Matching traces in sort order"`
	MaxDurationMs float64        `json:"max_duration_ms" jsonschema:"Longest trace duration in the result set"`
	Errors        []string       `json:"errors,omitempty" jsonschema:"Trace or service fetch errors"`
}

func (s *Server) handleSearchTraces(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input SearchTracesInput,
) (*mcp.CallToolResult, SearchTracesOutput, error) {
	query, err := input.values()
	if err != nil {
		return nil, SearchTracesOutput{}, err
	}
	if input.SortBy != "" {
		key := model.SortKey(strings.ToUpper(input.SortBy))
		if !key.Valid() {
			return nil, SearchTracesOutput{}, fmt.Errorf("invalid sort_by: %s", input.SortBy)
		}
		s.store.SetSortBy(key)
	}

	location := query.Encode()
	s.store.Navigate("?" + location)
	// Fetch errors land in the store and come back through the props.
	_ = s.fetcher.SearchTraces(ctx, query)

	props, err := s.searchProps(location)
	if err != nil {
		return nil, SearchTracesOutput{}, err
	}
	out := searchOutput(props)
	out.Query = location
	return textToolResult(viz.SearchResults(props, 100)), out, nil
}

// values converts the input to search page query parameters.
func (in SearchTracesInput) values() (url.Values, error) {
	q := url.Values{}
	set := func(key, value string) {
		if value != "" {
			q.Set(key, value)
		}
	}
	set(fetch.ParamService, in.Service)
	set(fetch.ParamOperation, in.Operation)
	set(fetch.ParamLookback, in.Lookback)
	set(fetch.ParamMinDuration, in.MinDuration)
	set(fetch.ParamMaxDuration, in.MaxDuration)
	if in.Limit > 0 {
		q.Set(fetch.ParamLimit, strconv.Itoa(in.Limit))
	}
	if len(in.TraceIDs) > 0 {
		q.Set(fetch.ParamTraceID, strings.Join(in.TraceIDs, ","))
	}
	if len(in.Tags) > 0 {
		tags, err := json.Marshal(in.Tags)
		if err != nil {
			return nil, fmt.Errorf("encode tags: %w", err)
		}
		q.Set(fetch.ParamTags, string(tags))
	}
	return q, nil
}

func searchOutput(props *selectors.SearchPageProps) SearchTracesOutput {
	out := SearchTracesOutput{
		SortBy:        string(props.SortTracesBy),
		Traces:        make([]TraceSummary, len(props.TraceResults)),
		MaxDurationMs: durationMs(props.MaxTraceDuration),
		Errors:        props.ErrorMessages(),
	}
	for i, t := range props.TraceResults {
		out.Traces[i] = summarize(t)
	}
	return out
}

func summarize(t *model.TraceData) TraceSummary {
	return TraceSummary{
		TraceID:    t.TraceID,
		Name:       t.TraceName,
		StartTime:  t.StartTime.Format(time.RFC3339Nano),
		DurationMs: durationMs(t.Duration),
		SpanCount:  len(t.Spans),
		ErrorCount: t.ErrorCount(),
		Services:   t.Services(),
	}
}

// Tool 3: sort_traces

type SortTracesInput struct {
	SortBy string `json:"sort_by" jsonschema:"MOST_RECENT, LONGEST_FIRST, SHORTEST_FIRST, MOST_SPANS or LEAST_SPANS"`
}

func (s *Server) handleSortTraces(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input SortTracesInput,
) (*mcp.CallToolResult, SearchTracesOutput, error) {
	key := model.SortKey(strings.ToUpper(input.SortBy))
	if !key.Valid() {
		return nil, SearchTracesOutput{}, fmt.Errorf("invalid sort_by: %s", input.SortBy)
	}
	s.store.SetSortBy(key)

	props, err := s.currentProps()
	if err != nil {
		return nil, SearchTracesOutput{}, err
	}
	return textToolResult(viz.SearchResults(props, 100)), searchOutput(props), nil
}

// Tool 4: get_trace

type GetTraceInput struct {
	TraceID string `json:"trace_id" jsonschema:"Trace ID (hex)"`
}

type GetTraceOutput struct {
	Trace TraceSummary `json:"trace" jsonschema:"Trace summary"`
}

func (s *Server) handleGetTrace(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input GetTraceInput,
) (*mcp.CallToolResult, GetTraceOutput, error) {
	id := strings.ToLower(strings.TrimSpace(input.TraceID))
	if id == "" {
		return nil, GetTraceOutput{}, fmt.Errorf("trace_id is required")
	}
	if err := s.fetcher.FetchTrace(ctx, id); err != nil {
		return nil, GetTraceOutput{}, err
	}

	rec := s.store.State().Trace.Traces[id]
	if rec == nil || rec.Data == nil {
		return nil, GetTraceOutput{}, fmt.Errorf("trace %s not loaded", id)
	}
	return textToolResult(viz.Waterfall(rec.Data, 100)), GetTraceOutput{Trace: summarize(rec.Data)}, nil
}

// Tool 5: manage_cohort

type ManageCohortInput struct {
	Action   string   `json:"action" jsonschema:"Action: 'add', 'remove', 'clear' or 'list'"`
	TraceIDs []string `json:"trace_ids,omitempty" jsonschema:"Trace ids (required for 'add' and 'remove')"`
}

type CohortMember struct {
	TraceID string        `json:"trace_id" jsonschema:"Trace ID (hex)"`
	State   string        `json:"state,omitempty" jsonschema:"Load state: LOADING, DONE or ERROR; empty when never requested"`
	Error   string        `json:"error,omitempty" jsonschema:"Fetch error for failed traces"`
	Trace   *TraceSummary `json:"trace,omitempty" jsonschema:"Summary of a loaded trace"`
}

type ManageCohortOutput struct {
	Action  string         `json:"action" jsonschema:"Action performed"`
	Cohort  []CohortMember `json:"cohort" jsonschema:"Cohort members in the order they were added"`
	Message string         `json:"message" jsonschema:"Status message"`
}

func (s *Server) handleManageCohort(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input ManageCohortInput,
) (*mcp.CallToolResult, ManageCohortOutput, error) {
	var message string
	switch input.Action {
	case "add":
		if len(input.TraceIDs) == 0 {
			return nil, ManageCohortOutput{}, fmt.Errorf("trace_ids required for add action")
		}
		for _, id := range input.TraceIDs {
			s.store.CohortAdd(strings.ToLower(id))
		}
		// Per-trace failures are recorded on the cohort entries.
		_ = s.fetcher.FetchCohort(ctx)
		message = fmt.Sprintf("Added %d trace(s)", len(input.TraceIDs))

	case "remove":
		if len(input.TraceIDs) == 0 {
			return nil, ManageCohortOutput{}, fmt.Errorf("trace_ids required for remove action")
		}
		for _, id := range input.TraceIDs {
			s.store.CohortRemove(strings.ToLower(id))
		}
		message = fmt.Sprintf("Removed %d trace(s)", len(input.TraceIDs))

	case "clear":
		s.store.CohortClear()
		message = "Cleared the cohort"

	case "list":
		message = "Current cohort"

	default:
		return nil, ManageCohortOutput{}, fmt.Errorf("invalid action: %s (must be 'add', 'remove', 'clear' or 'list')", input.Action)
	}

	props, err := s.currentProps()
	if err != nil {
		return nil, ManageCohortOutput{}, err
	}
	out := ManageCohortOutput{
		Action:  input.Action,
		Cohort:  cohortMembers(props.DiffCohort),
		Message: message,
	}
	return textToolResult(viz.Cohort(props.DiffCohort)), out, nil
}

func cohortMembers(entries []selectors.CohortEntry) []CohortMember {
	members := make([]CohortMember, len(entries))
	for i, e := range entries {
		members[i] = CohortMember{TraceID: e.ID, State: e.State.String()}
		if e.Error != nil {
			members[i].Error = e.Error.Error()
		}
		if e.Data != nil {
			sum := summarize(e.Data)
			members[i].Trace = &sum
		}
	}
	return members
}

// Tool 6: get_services

type GetServicesInput struct{}

type ServiceInfo struct {
	Name       string   `json:"name" jsonschema:"Service name"`
	Operations []string `json:"operations" jsonschema:"Operation names"`
}

type GetServicesOutput struct {
	Services []ServiceInfo `json:"services" jsonschema:"Services in name order"`
}

func (s *Server) handleGetServices(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input GetServicesInput,
) (*mcp.CallToolResult, GetServicesOutput, error) {
	if err := s.fetcher.FetchAllServiceOperations(ctx); err != nil {
		return nil, GetServicesOutput{}, err
	}

	props, err := s.currentProps()
	if err != nil {
		return nil, GetServicesOutput{}, err
	}
	items, _ := props.Services.Items()
	out := GetServicesOutput{Services: make([]ServiceInfo, len(items))}
	for i, svc := range items {
		out.Services[i] = ServiceInfo{Name: svc.Name, Operations: svc.Operations}
	}
	return textToolResult(viz.Services(props.Services)), out, nil
}

// Tool 7: get_dependency_graph

type GetDependencyGraphInput struct {
	Lookback string `json:"lookback,omitempty" jsonschema:"Window of traces to build from, e.g. '1h', '2d' (default from server config)"`
}

type ServiceNode struct {
	Name      string `json:"name" jsonschema:"Service name"`
	CallCount int64  `json:"call_count" jsonschema:"Total calls on edges touching the service"`
}

type ServiceLink struct {
	Parent    string `json:"parent" jsonschema:"Calling service"`
	Child     string `json:"child" jsonschema:"Called service"`
	CallCount int64  `json:"call_count" jsonschema:"Number of calls"`
}

type GetDependencyGraphOutput struct {
	Nodes      []ServiceNode `json:"nodes" jsonschema:"Services in first-seen order"`
	Links      []ServiceLink `json:"links" jsonschema:"Caller to callee links with summed call counts"`
	GraphTypes []string      `json:"graph_types" jsonschema:"Layouts suited to the graph size"`
}

func (s *Server) handleGetDependencyGraph(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input GetDependencyGraphInput,
) (*mcp.CallToolResult, GetDependencyGraphOutput, error) {
	lookback := s.opts.DependencyLookback
	if input.Lookback != "" {
		d, err := fetch.ParseLookback(input.Lookback)
		if err != nil {
			return nil, GetDependencyGraphOutput{}, fmt.Errorf("invalid lookback: %w", err)
		}
		lookback = d
	}
	if err := s.fetcher.FetchDependencies(ctx, lookback); err != nil {
		return nil, GetDependencyGraphOutput{}, err
	}

	props := s.dependencyProps()
	out := GetDependencyGraphOutput{
		Nodes:      make([]ServiceNode, len(props.Nodes)),
		Links:      make([]ServiceLink, len(props.Links)),
		GraphTypes: make([]string, len(props.GraphTypes)),
	}
	for i, n := range props.Nodes {
		out.Nodes[i] = ServiceNode{Name: n.Name, CallCount: n.CallCount}
	}
	for i, l := range props.Links {
		out.Links[i] = ServiceLink{Parent: l.Source, Child: l.Target, CallCount: l.Value}
	}
	for i, gt := range props.GraphTypes {
		out.GraphTypes[i] = gt.Key
	}
	return textToolResult(viz.Dependencies(props)), out, nil
}

// Tool 8: add_file_source

type AddFileSourceInput struct {
	Directory  string `json:"directory" jsonschema:"Directory holding OTLP JSONL files or a traces/ subdirectory"`
	ActiveOnly bool   `json:"active_only,omitempty" jsonschema:"Load only the active traces.jsonl, skipping rotated archives"`
}

type FileSourceOutput struct {
	Directory string `json:"directory" jsonschema:"Directory"`
	Message   string `json:"message" jsonschema:"Status message"`
}

func (s *Server) handleAddFileSource(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input AddFileSourceInput,
) (*mcp.CallToolResult, FileSourceOutput, error) {
	if input.Directory == "" {
		return nil, FileSourceOutput{}, fmt.Errorf("directory is required")
	}
	if err := s.AddFileSource(ctx, input.Directory, input.ActiveOnly); err != nil {
		return nil, FileSourceOutput{}, err
	}
	return &mcp.CallToolResult{}, FileSourceOutput{
		Directory: input.Directory,
		Message:   fmt.Sprintf("Watching %s", input.Directory),
	}, nil
}

// Tool 9: remove_file_source

type RemoveFileSourceInput struct {
	Directory string `json:"directory" jsonschema:"Directory passed to add_file_source"`
}

func (s *Server) handleRemoveFileSource(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input RemoveFileSourceInput,
) (*mcp.CallToolResult, FileSourceOutput, error) {
	if err := s.RemoveFileSource(input.Directory); err != nil {
		return nil, FileSourceOutput{}, err
	}
	return &mcp.CallToolResult{}, FileSourceOutput{
		Directory: input.Directory,
		Message:   fmt.Sprintf("Stopped watching %s", input.Directory),
	}, nil
}

// Tool 10: clear_traces

type ClearTracesInput struct{}

type ClearTracesOutput struct {
	SpansCleared int    `json:"spans_cleared"`
	Message      string `json:"message"`
}

func (s *Server) handleClearTraces(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input ClearTracesInput,
) (*mcp.CallToolResult, ClearTracesOutput, error) {
	cleared := s.traces.Stats().SpanCount
	s.traces.Clear()

	s.viewMu.Lock()
	location := s.location
	s.viewMu.Unlock()

	// Failures are recorded in the store and surface on the next read.
	if location != "" {
		if query, err := url.ParseQuery(strings.TrimPrefix(location, "?")); err == nil {
			_ = s.fetcher.SearchTraces(ctx, query)
		}
	}
	_ = s.fetcher.FetchAllServiceOperations(ctx)

	s.logger.Info("🧹 cleared trace buffer", "spans", cleared)
	return &mcp.CallToolResult{}, ClearTracesOutput{
		SpansCleared: cleared,
		Message:      fmt.Sprintf("Cleared %d spans", cleared),
	}, nil
}

func textToolResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

func durationMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
