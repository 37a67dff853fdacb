// Package storage keeps received OTLP spans in a bounded buffer and answers
// the trace, service and dependency queries the fetch layer issues.
package storage

import (
	"cmp"
	"context"
	"errors"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"

	"github.com/tobert/traceview/internal/depgraph"
	"github.com/tobert/traceview/internal/model"
)

// ErrTraceNotFound is returned by GetTrace for ids with no stored spans.
var ErrTraceNotFound = errors.New("trace not found")

// StoredSpan wraps a protobuf span with indexed fields for efficient querying.
// It preserves the full OTLP hierarchy: ResourceSpans -> ScopeSpans -> Span.
type StoredSpan struct {
	ResourceSpan *tracepb.ResourceSpans
	ScopeSpan    *tracepb.ScopeSpans
	Span         *tracepb.Span

	// Indexed fields for fast lookup
	TraceID      string
	SpanID       string
	ParentSpanID string
	ServiceName  string
	SpanName     string
}

// TraceStorage stores and indexes OTLP trace spans.
// It implements the otlpreceiver.SpanReceiver interface.
type TraceStorage struct {
	spans      *RingBuffer[*StoredSpan]
	traceIndex map[string][]*StoredSpan // trace_id -> spans
	mu         sync.RWMutex              // protects traceIndex

	// Incremented on every ReceiveSpans call.
	generation atomic.Uint64
}

// NewTraceStorage creates a new trace storage holding at most capacity spans.
func NewTraceStorage(capacity int) *TraceStorage {
	return &TraceStorage{
		spans:      NewRingBuffer[*StoredSpan](capacity),
		traceIndex: make(map[string][]*StoredSpan),
	}
}

// ReceiveSpans implements otlpreceiver.SpanReceiver.
func (ts *TraceStorage) ReceiveSpans(ctx context.Context, resourceSpans []*tracepb.ResourceSpans) error {
	for _, rs := range resourceSpans {
		serviceName := extractServiceName(rs.Resource)

		for _, ss := range rs.ScopeSpans {
			for _, span := range ss.Spans {
				stored := &StoredSpan{
					ResourceSpan: rs,
					ScopeSpan:    ss,
					Span:         span,
					TraceID:      idToString(span.TraceId),
					SpanID:       idToString(span.SpanId),
					ParentSpanID: idToString(span.ParentSpanId),
					ServiceName:  serviceName,
					SpanName:     span.Name,
				}
				ts.addSpan(stored)
			}
		}
	}

	ts.generation.Add(1)
	return nil
}

// addSpan stores a span and keeps the trace index in step with the buffer:
// a span evicted from the buffer leaves the index too. ts.mu is held across
// the buffer write so concurrent writers index spans in eviction order.
func (ts *TraceStorage) addSpan(span *StoredSpan) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	evicted, ok := ts.spans.Add(span)
	ts.traceIndex[span.TraceID] = append(ts.traceIndex[span.TraceID], span)
	if !ok {
		return
	}
	remaining := slices.DeleteFunc(ts.traceIndex[evicted.TraceID], func(s *StoredSpan) bool {
		return s == evicted
	})
	if len(remaining) == 0 {
		delete(ts.traceIndex, evicted.TraceID)
	} else {
		ts.traceIndex[evicted.TraceID] = remaining
	}
}

// Generation returns a counter that changes whenever spans arrive.
func (ts *TraceStorage) Generation() uint64 {
	return ts.generation.Load()
}

// GetSpansByTraceID returns a copy of the spans stored for traceID.
func (ts *TraceStorage) GetSpansByTraceID(traceID string) []*StoredSpan {
	ts.mu.RLock()
	defer ts.mu.RUnlock()

	spans := ts.traceIndex[traceID]
	if len(spans) == 0 {
		return nil
	}
	return slices.Clone(spans)
}

// GetTrace builds the trace with the given id.
func (ts *TraceStorage) GetTrace(ctx context.Context, traceID string) (*model.TraceData, error) {
	spans := ts.GetSpansByTraceID(traceID)
	if spans == nil {
		return nil, ErrTraceNotFound
	}
	return buildTrace(traceID, spans), nil
}

// allTraces builds every stored trace.
func (ts *TraceStorage) allTraces(ctx context.Context) ([]*model.TraceData, error) {
	ts.mu.RLock()
	grouped := make(map[string][]*StoredSpan, len(ts.traceIndex))
	for id, spans := range ts.traceIndex {
		grouped[id] = slices.Clone(spans)
	}
	ts.mu.RUnlock()

	traces := make([]*model.TraceData, 0, len(grouped))
	for id, spans := range grouped {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		traces = append(traces, buildTrace(id, spans))
	}
	return traces, nil
}

// FindTraces returns the traces matching q, newest first, capped at q.Limit.
func (ts *TraceStorage) FindTraces(ctx context.Context, q TraceQuery) ([]*model.TraceData, error) {
	all, err := ts.allTraces(ctx)
	if err != nil {
		return nil, err
	}

	matched := slices.DeleteFunc(all, func(t *model.TraceData) bool { return !q.Matches(t) })
	slices.SortFunc(matched, func(a, b *model.TraceData) int {
		return cmp.Or(b.StartTime.Compare(a.StartTime), cmp.Compare(a.TraceID, b.TraceID))
	})
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	return matched, nil
}

// GetServices returns the names of all services with stored spans, sorted.
func (ts *TraceStorage) GetServices(ctx context.Context) ([]string, error) {
	seen := make(map[string]bool)
	for _, s := range ts.spans.GetAll() {
		seen[s.ServiceName] = true
	}
	return slices.Sorted(maps.Keys(seen)), nil
}

// GetOperations returns the span names recorded for service, sorted.
func (ts *TraceStorage) GetOperations(ctx context.Context, service string) ([]string, error) {
	seen := make(map[string]bool)
	for _, s := range ts.spans.GetAll() {
		if s.ServiceName == service {
			seen[s.SpanName] = true
		}
	}
	return slices.Sorted(maps.Keys(seen)), nil
}

// GetDependencies derives service call edges from traces that started in
// (endTs-lookback, endTs]. A zero lookback covers all stored traces.
func (ts *TraceStorage) GetDependencies(ctx context.Context, endTs time.Time, lookback time.Duration) ([]model.DependencyEdge, error) {
	q := TraceQuery{StartTimeMax: endTs}
	if lookback > 0 {
		q.StartTimeMin = endTs.Add(-lookback)
	}
	traces, err := ts.FindTraces(ctx, q)
	if err != nil {
		return nil, err
	}
	return depgraph.EdgesFromTraces(traces), nil
}

// Stats returns current storage statistics.
func (ts *TraceStorage) Stats() StorageStats {
	ts.mu.RLock()
	defer ts.mu.RUnlock()

	return StorageStats{
		SpanCount:  ts.spans.Size(),
		Capacity:   ts.spans.Capacity(),
		TraceCount: len(ts.traceIndex),
	}
}

// Clear removes all stored spans and resets indexes.
func (ts *TraceStorage) Clear() {
	ts.mu.Lock()
	ts.spans.Clear()
	ts.traceIndex = make(map[string][]*StoredSpan)
	ts.mu.Unlock()
	ts.generation.Add(1)
}

// StorageStats contains statistics about trace storage.
type StorageStats struct {
	SpanCount  int `json:"span_count"`
	Capacity   int `json:"capacity"`
	TraceCount int `json:"trace_count"`
}
