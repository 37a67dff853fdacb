package mcpserver

import (
	"context"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readReq(uri string) *mcp.ReadResourceRequest {
	return &mcp.ReadResourceRequest{
		Params: &mcp.ReadResourceParams{URI: uri},
	}
}

func readText(t *testing.T, result *mcp.ReadResourceResult) string {
	t.Helper()
	require.Len(t, result.Contents, 1)
	return result.Contents[0].Text
}

func TestEndpointResource(t *testing.T) {
	srv := newTestServer(t)
	result, err := srv.handleEndpointResource(context.Background(), readReq("traceview://endpoint"))
	require.NoError(t, err)
	text := readText(t, result)
	assert.Contains(t, text, "Address:   127.0.0.1:4317")
	assert.Contains(t, text, "OTEL_EXPORTER_OTLP_ENDPOINT=127.0.0.1:4317")
}

func TestStatsResource(t *testing.T) {
	srv := newTestServer(t)
	result, err := srv.handleStatsResource(context.Background(), readReq("traceview://stats"))
	require.NoError(t, err)
	text := readText(t, result)
	assert.Contains(t, text, "/ 10,000")
	assert.Contains(t, text, "Traces:     25")
	assert.Contains(t, text, "Cohort:     0")
}

func TestServicesResource(t *testing.T) {
	srv := newTestServer(t)
	result, err := srv.handleServicesResource(context.Background(), readReq("traceview://services"))
	require.NoError(t, err)
	text := readText(t, result)
	assert.Contains(t, text, "Services (6)")
	assert.Contains(t, text, "• frontend")
	assert.Contains(t, text, "GET /checkout")
}

func TestDependenciesResource(t *testing.T) {
	srv := newTestServer(t)
	result, err := srv.handleDependenciesResource(context.Background(), readReq("traceview://dependencies"))
	require.NoError(t, err)
	text := readText(t, result)
	assert.Contains(t, text, "layouts: Force Directed Graph, DAG")
	assert.Contains(t, text, "cart → redis")
}

func TestCohortResource(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	result, err := srv.handleCohortResource(ctx, readReq("traceview://cohort"))
	require.NoError(t, err)
	assert.Contains(t, readText(t, result), "(empty)")

	srv.store.CohortAdd("0123456789abcdef0123456789abcdef")
	result, err = srv.handleCohortResource(ctx, readReq("traceview://cohort"))
	require.NoError(t, err)
	assert.Contains(t, readText(t, result), "01234567  not fetched")
}

func TestFileSourcesResourceEmpty(t *testing.T) {
	srv := newTestServer(t)
	result, err := srv.handleFileSourcesResource(context.Background(), readReq("traceview://file-sources"))
	require.NoError(t, err)
	assert.Contains(t, readText(t, result), "(none)")
}

func TestTraceResource(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	_, search, err := srv.handleSearchTraces(ctx, nil, SearchTracesInput{Service: "frontend", Limit: 1})
	require.NoError(t, err)
	require.Len(t, search.Traces, 1)
	id := search.Traces[0].TraceID

	result, err := srv.handleTraceResource(ctx, readReq("traceview://traces/"+id))
	require.NoError(t, err)
	assert.Contains(t, readText(t, result), "Trace "+id[:8])

	_, err = srv.handleTraceResource(ctx, readReq("traceview://traces/0123456789abcdef0123456789abcdef"))
	assert.Error(t, err)

	_, err = srv.handleTraceResource(ctx, readReq("traceview://traces/"))
	assert.Error(t, err)
}

func TestExtractURIParam(t *testing.T) {
	got, err := extractURIParam("traceview://traces/abc%20def", "traceview://traces/")
	require.NoError(t, err)
	assert.Equal(t, "abc def", got)

	_, err = extractURIParam("other://traces/abc", "traceview://traces/")
	assert.Error(t, err)
}

func TestFmtNum(t *testing.T) {
	assert.Equal(t, "0", fmtNum(0))
	assert.Equal(t, "999", fmtNum(999))
	assert.Equal(t, "10,000", fmtNum(10000))
	assert.Equal(t, "1,234,567", fmtNum(1234567))
	assert.Equal(t, "-1,000", fmtNum(-1000))
}
