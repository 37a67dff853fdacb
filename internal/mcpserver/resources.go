package mcpserver

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/tobert/traceview/internal/viz"
)

// registerResources registers all MCP resources and resource templates.
func (s *Server) registerResources() {
	s.mcpServer.AddResource(&mcp.Resource{
		URI:         "traceview://endpoint",
		Name:        "endpoint",
		Description: "OTLP gRPC endpoint address and environment variable suggestions.",
		MIMEType:    "text/plain",
	}, s.handleEndpointResource)

	s.mcpServer.AddResource(&mcp.Resource{
		URI:         "traceview://stats",
		Name:        "stats",
		Description: "Span buffer fill level, trace count and store generation.",
		MIMEType:    "text/plain",
	}, s.handleStatsResource)

	s.mcpServer.AddResource(&mcp.Resource{
		URI:         "traceview://services",
		Name:        "services",
		Description: "Services seen in captured traces with their operations.",
		MIMEType:    "text/plain",
	}, s.handleServicesResource)

	s.mcpServer.AddResource(&mcp.Resource{
		URI:         "traceview://dependencies",
		Name:        "dependencies",
		Description: "Service dependency graph over the configured lookback window.",
		MIMEType:    "text/plain",
	}, s.handleDependenciesResource)

	s.mcpServer.AddResource(&mcp.Resource{
		URI:         "traceview://cohort",
		Name:        "cohort",
		Description: "Traces picked for comparison with their load state.",
		MIMEType:    "text/plain",
	}, s.handleCohortResource)

	s.mcpServer.AddResource(&mcp.Resource{
		URI:         "traceview://file-sources",
		Name:        "file-sources",
		Description: "Directories being watched for OTLP JSONL.",
		MIMEType:    "text/plain",
	}, s.handleFileSourcesResource)

	s.mcpServer.AddResourceTemplate(&mcp.ResourceTemplate{
		URITemplate: "traceview://traces/{traceId}",
		Name:        "trace",
		Description: "Span waterfall of one trace.",
		MIMEType:    "text/plain",
	}, s.handleTraceResource)
}

// ─── Static resource handlers ───────────────────────────────────────────

func (s *Server) handleEndpointResource(
	ctx context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	var b strings.Builder
	b.WriteString("OTLP Endpoint\n")
	b.WriteString("═════════════\n")
	if s.opts.Endpoint == "" {
		b.WriteString("  (receiver not running)\n")
		return textResult(req.Params.URI, b.String()), nil
	}
	fmt.Fprintf(&b, "  Address:   %s\n", s.opts.Endpoint)
	b.WriteString("  Protocol:  grpc\n")
	b.WriteString("\nEnvironment\n")
	fmt.Fprintf(&b, "  OTEL_EXPORTER_OTLP_ENDPOINT=%s\n", s.opts.Endpoint)
	b.WriteString("  OTEL_EXPORTER_OTLP_PROTOCOL=grpc\n")
	b.WriteString("  OTEL_EXPORTER_OTLP_INSECURE=true\n")

	return textResult(req.Params.URI, b.String()), nil
}

func (s *Server) handleStatsResource(
	ctx context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	stats := s.traces.Stats()
	st := s.store.State()

	var b strings.Builder
	b.WriteString("Trace Buffer\n")
	b.WriteString("════════════\n")
	fmt.Fprintf(&b, "  Spans:      %s / %s (%s)\n", fmtNum(stats.SpanCount), fmtNum(stats.Capacity), fmtPct(stats.SpanCount, stats.Capacity))
	fmt.Fprintf(&b, "  Traces:     %s\n", fmtNum(stats.TraceCount))
	fmt.Fprintf(&b, "  Loaded:     %s\n", fmtNum(len(st.Trace.Traces)))
	fmt.Fprintf(&b, "  Cohort:     %d\n", len(st.TraceDiff.Cohort))
	fmt.Fprintf(&b, "  Generation: %d\n", s.store.Generation())

	return textResult(req.Params.URI, b.String()), nil
}

func (s *Server) handleServicesResource(
	ctx context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	if err := s.fetcher.FetchAllServiceOperations(ctx); err != nil {
		return nil, fmt.Errorf("fetch services: %w", err)
	}
	props, err := s.currentProps()
	if err != nil {
		return nil, err
	}
	return textResult(req.Params.URI, viz.Services(props.Services)), nil
}

func (s *Server) handleDependenciesResource(
	ctx context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	if err := s.fetcher.FetchDependencies(ctx, s.opts.DependencyLookback); err != nil {
		return nil, fmt.Errorf("fetch dependencies: %w", err)
	}
	return textResult(req.Params.URI, viz.Dependencies(s.dependencyProps())), nil
}

func (s *Server) handleCohortResource(
	ctx context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	props, err := s.currentProps()
	if err != nil {
		return nil, err
	}
	return textResult(req.Params.URI, viz.Cohort(props.DiffCohort)), nil
}

func (s *Server) handleFileSourcesResource(
	ctx context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	stats := s.FileSourceStats()

	var b strings.Builder
	fmt.Fprintf(&b, "File Sources (%d)\n", len(stats))
	b.WriteString("════════════════\n")
	if len(stats) == 0 {
		b.WriteString("  (none)\n")
	}
	for _, st := range stats {
		watching := ""
		if st.Watching {
			watching = ", watching"
		}
		fmt.Fprintf(&b, "  • %s (%d files%s)\n", st.Directory, st.FilesTracked, watching)
	}

	return textResult(req.Params.URI, b.String()), nil
}

// ─── Resource template handlers ─────────────────────────────────────────

func (s *Server) handleTraceResource(
	ctx context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	id, err := extractURIParam(req.Params.URI, "traceview://traces/")
	if err != nil {
		return nil, mcp.ResourceNotFoundError(req.Params.URI)
	}
	id = strings.ToLower(id)
	if err := s.fetcher.FetchTrace(ctx, id); err != nil {
		return nil, mcp.ResourceNotFoundError(req.Params.URI)
	}
	rec := s.store.State().Trace.Traces[id]
	if rec == nil || rec.Data == nil {
		return nil, mcp.ResourceNotFoundError(req.Params.URI)
	}
	return textResult(req.Params.URI, viz.Waterfall(rec.Data, 100)), nil
}

// ─── Helpers ────────────────────────────────────────────────────────────

// extractURIParam extracts the parameter value from a URI by stripping the prefix
// and URL-decoding the remainder.
func extractURIParam(uri, prefix string) (string, error) {
	if !strings.HasPrefix(uri, prefix) {
		return "", fmt.Errorf("invalid URI: %s", uri)
	}
	param := strings.TrimPrefix(uri, prefix)
	if param == "" {
		return "", fmt.Errorf("empty parameter in URI: %s", uri)
	}
	decoded, err := url.PathUnescape(param)
	if err != nil {
		return "", fmt.Errorf("invalid encoding in URI: %w", err)
	}
	return decoded, nil
}

// textResult wraps a string in a ReadResourceResult.
func textResult(uri, text string) *mcp.ReadResourceResult {
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      uri,
			MIMEType: "text/plain",
			Text:     text,
		}},
	}
}

// fmtNum formats an integer with comma separators (e.g. 10,000).
func fmtNum(n int) string {
	if n < 0 {
		return "-" + fmtNum(-n)
	}
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}
	var result strings.Builder
	remainder := len(s) % 3
	if remainder > 0 {
		result.WriteString(s[:remainder])
	}
	for i := remainder; i < len(s); i += 3 {
		if result.Len() > 0 {
			result.WriteByte(',')
		}
		result.WriteString(s[i : i+3])
	}
	return result.String()
}

// fmtPct formats a percentage like "62%" or "100%".
func fmtPct(count, capacity int) string {
	if capacity == 0 {
		return "─"
	}
	return fmt.Sprintf("%.0f%%", float64(count)/float64(capacity)*100)
}
