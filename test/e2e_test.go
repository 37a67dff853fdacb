package test

import (
	"context"
	"net/url"
	"strings"
	"testing"
	"time"

	collectortrace "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	resourcepb "go.opentelemetry.io/proto/otlp/resource/v1"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/tobert/traceview/internal/demo"
	"github.com/tobert/traceview/internal/fetch"
	"github.com/tobert/traceview/internal/model"
	"github.com/tobert/traceview/internal/otlpreceiver"
	"github.com/tobert/traceview/internal/selectors"
	"github.com/tobert/traceview/internal/storage"
	"github.com/tobert/traceview/internal/store"
	"github.com/tobert/traceview/internal/viz"
)

// pipeline is the serve wiring without any user-facing surface.
type pipeline struct {
	traces  *storage.TraceStorage
	store   *store.Store
	fetcher *fetch.Fetcher
	client  collectortrace.TraceServiceClient
}

func startPipeline(t *testing.T, capacity int) *pipeline {
	t.Helper()

	traces := storage.NewTraceStorage(capacity)
	st := store.New()
	fetcher := fetch.New(traces, st)

	otlpServer, err := otlpreceiver.NewServer(
		otlpreceiver.Config{Host: "127.0.0.1", Port: 0}, // ephemeral port
		traces,
	)
	if err != nil {
		t.Fatalf("failed to create OTLP server: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- otlpServer.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("OTLP server stopped with error: %v", err)
		}
	})
	t.Logf("OTLP server listening on %s", otlpServer.Endpoint())

	conn, err := grpc.NewClient(otlpServer.Endpoint(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("failed to create grpc client: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	return &pipeline{
		traces:  traces,
		store:   st,
		fetcher: fetcher,
		client:  collectortrace.NewTraceServiceClient(conn),
	}
}

func (p *pipeline) export(t *testing.T, rss []*tracepb.ResourceSpans) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := p.client.Export(ctx, &collectortrace.ExportTraceServiceRequest{ResourceSpans: rss}); err != nil {
		t.Fatalf("failed to export spans: %v", err)
	}
}

func stringAttr(k, v string) *commonpb.KeyValue {
	return &commonpb.KeyValue{Key: k, Value: &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: v}}}
}

// TestEndToEnd verifies the complete workflow:
// 1. Start OTLP gRPC receiver in front of the span buffer
// 2. Send a two-span trace via OTLP gRPC
// 3. Search through the fetch layer into the store
// 4. Derive the search page and render it
func TestEndToEnd(t *testing.T) {
	p := startPipeline(t, 1000)

	now := time.Now()
	traceID := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	rootID := []byte{1, 2, 3, 4, 5, 6, 7, 8}

	p.export(t, []*tracepb.ResourceSpans{{
		Resource: &resourcepb.Resource{Attributes: []*commonpb.KeyValue{
			stringAttr("service.name", "e2e-test-service"),
			stringAttr("deployment.environment", "test"),
		}},
		ScopeSpans: []*tracepb.ScopeSpans{{
			Spans: []*tracepb.Span{
				{
					TraceId:           traceID,
					SpanId:            rootID,
					Name:              "e2e-test-span",
					Kind:              tracepb.Span_SPAN_KIND_SERVER,
					StartTimeUnixNano: uint64(now.UnixNano()),
					EndTimeUnixNano:   uint64(now.Add(150 * time.Millisecond).UnixNano()),
					Attributes:        []*commonpb.KeyValue{stringAttr("test.type", "e2e")},
					Status:            &tracepb.Status{Code: tracepb.Status_STATUS_CODE_OK},
				},
				{
					TraceId:           traceID,
					SpanId:            []byte{2, 2, 2, 2, 2, 2, 2, 2},
					ParentSpanId:      rootID,
					Name:              "db.query",
					Kind:              tracepb.Span_SPAN_KIND_CLIENT,
					StartTimeUnixNano: uint64(now.Add(10 * time.Millisecond).UnixNano()),
					EndTimeUnixNano:   uint64(now.Add(100 * time.Millisecond).UnixNano()),
					Status:            &tracepb.Status{Code: tracepb.Status_STATUS_CODE_ERROR},
				},
			},
		}},
	}})

	stats := p.traces.Stats()
	if stats.SpanCount != 2 || stats.TraceCount != 1 {
		t.Fatalf("expected 2 spans in 1 trace, got %d spans in %d traces", stats.SpanCount, stats.TraceCount)
	}

	query := url.Values{"service": {"e2e-test-service"}, "tags": {`{"test.type":"e2e"}`}}
	location := "?" + query.Encode()
	p.store.Navigate(location)
	if err := p.fetcher.SearchTraces(context.Background(), query); err != nil {
		t.Fatalf("search failed: %v", err)
	}

	props := selectors.NewSearchPage().Props(p.store.State())
	if !props.NeedsInitialSearch {
		t.Error("a location naming a service should ask for an initial search")
	}
	if len(props.Errors) != 0 {
		t.Fatalf("unexpected errors: %v", props.Errors)
	}
	if len(props.TraceResults) != 1 {
		t.Fatalf("expected 1 trace, got %d", len(props.TraceResults))
	}

	trace := props.TraceResults[0]
	expectedTraceID := "0102030405060708090a0b0c0d0e0f10"
	if trace.TraceID != expectedTraceID {
		t.Errorf("expected trace ID %q, got %q", expectedTraceID, trace.TraceID)
	}
	if trace.Duration != 150*time.Millisecond {
		t.Errorf("expected duration 150ms, got %v", trace.Duration)
	}
	if props.MaxTraceDuration != trace.Duration {
		t.Errorf("max duration %v does not match the only trace %v", props.MaxTraceDuration, trace.Duration)
	}

	out := viz.SearchResults(props, 100)
	if !strings.Contains(out, "Traces (1, sorted by MOST_RECENT") {
		t.Errorf("unexpected search output:\n%s", out)
	}

	waterfall := viz.Waterfall(trace, 100)
	for _, want := range []string{"e2e-test-span", "└─", "db.query", "!! ERR"} {
		if !strings.Contains(waterfall, want) {
			t.Errorf("waterfall missing %q:\n%s", want, waterfall)
		}
	}

	t.Log("End-to-end test passed: OTLP -> Storage -> Fetch -> Store -> Selectors")
}

// TestDemoTrafficPipeline exports generated traffic and checks the cohort,
// sort and dependency views built from it.
func TestDemoTrafficPipeline(t *testing.T) {
	p := startPipeline(t, 10_000)
	ctx := context.Background()

	gen := demo.NewGenerator(11, time.Now().Add(-time.Minute))
	for range 15 {
		p.export(t, gen.Trace())
	}

	query := url.Values{"lookback": {"1h"}, "limit": {"100"}}
	p.store.Navigate("?" + query.Encode())
	p.store.SetSortBy(model.LongestFirst)
	if err := p.fetcher.SearchTraces(ctx, query); err != nil {
		t.Fatalf("search failed: %v", err)
	}

	page := selectors.NewSearchPage()
	props := page.Props(p.store.State())
	if len(props.TraceResults) != 15 {
		t.Fatalf("expected 15 traces, got %d", len(props.TraceResults))
	}
	for i := 1; i < len(props.TraceResults); i++ {
		if props.TraceResults[i-1].Duration < props.TraceResults[i].Duration {
			t.Fatalf("results not sorted longest first at %d", i)
		}
	}

	// Cohort: one known trace and one that never arrived.
	known := props.TraceResults[0].TraceID
	missing := "ffffffffffffffffffffffffffffffff"
	p.store.CohortAdd(known)
	p.store.CohortAdd(missing)
	if err := p.fetcher.FetchCohort(ctx); err == nil {
		t.Error("expected an error for the missing cohort trace")
	}

	props = page.Props(p.store.State())
	if len(props.DiffCohort) != 2 {
		t.Fatalf("expected 2 cohort entries, got %d", len(props.DiffCohort))
	}
	if props.DiffCohort[0].Data == nil || props.DiffCohort[0].ID != known {
		t.Errorf("first cohort entry should be the loaded trace, got %+v", props.DiffCohort[0])
	}
	if props.DiffCohort[1].Error == nil || !model.IsKind(props.DiffCohort[1].Error, model.KindTrace) {
		t.Errorf("second cohort entry should carry a trace fetch error, got %+v", props.DiffCohort[1])
	}
	if len(props.CohortToFetch) != 0 {
		t.Errorf("every cohort id was requested, got %v to fetch", props.CohortToFetch)
	}

	// Dependencies
	if err := p.fetcher.FetchDependencies(ctx, time.Hour); err != nil {
		t.Fatalf("dependency fetch failed: %v", err)
	}
	deps := selectors.SelectDependencyPage(p.store.State().Dependencies, 0)
	if deps.Loading || deps.Error != nil {
		t.Fatalf("unexpected dependency state: loading=%v err=%v", deps.Loading, deps.Error)
	}
	if len(deps.Dependencies) == 0 {
		t.Fatal("expected dependency edges from demo traffic")
	}
	for _, e := range deps.Dependencies {
		if e.Parent == e.Child {
			t.Errorf("unexpected self edge %+v", e)
		}
	}
	if len(deps.GraphTypes) != 2 {
		t.Errorf("a small graph should offer both layouts, got %v", deps.GraphTypes)
	}

	t.Log("Demo traffic pipeline test passed")
}
