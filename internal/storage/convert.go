package storage

import (
	"cmp"
	"encoding/hex"
	"fmt"
	"slices"
	"strconv"
	"time"

	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	resourcepb "go.opentelemetry.io/proto/otlp/resource/v1"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"

	"github.com/tobert/traceview/internal/model"
)

// unknownService is used for resources without a service.name attribute.
const unknownService = "unknown"

// buildTrace assembles the view model of one trace from its stored spans.
// Spans are ordered by start time; each distinct resource becomes a process.
func buildTrace(traceID string, spans []*StoredSpan) *model.TraceData {
	if len(spans) == 0 {
		return nil
	}

	data := &model.TraceData{
		TraceID:   traceID,
		Processes: make(map[string]*model.Process),
		Spans:     make([]*model.Span, 0, len(spans)),
	}
	processIDs := make(map[*resourcepb.Resource]string)

	var start, end uint64
	for _, s := range spans {
		pid, ok := processIDs[s.ResourceSpan.GetResource()]
		if !ok {
			pid = fmt.Sprintf("p%d", len(processIDs)+1)
			processIDs[s.ResourceSpan.GetResource()] = pid
			data.Processes[pid] = &model.Process{
				ServiceName: s.ServiceName,
				Tags:        convertAttributes(s.ResourceSpan.GetResource().GetAttributes()),
			}
		}

		span := s.Span
		data.Spans = append(data.Spans, &model.Span{
			TraceID:       traceID,
			SpanID:        s.SpanID,
			ParentSpanID:  s.ParentSpanID,
			OperationName: span.Name,
			ProcessID:     pid,
			StartTime:     time.Unix(0, int64(span.StartTimeUnixNano)),
			Duration:      spanDuration(span),
			Tags:          convertAttributes(span.Attributes),
			Error:         span.GetStatus().GetCode() == tracepb.Status_STATUS_CODE_ERROR,
		})

		if start == 0 || span.StartTimeUnixNano < start {
			start = span.StartTimeUnixNano
		}
		end = max(end, span.EndTimeUnixNano)
	}

	slices.SortStableFunc(data.Spans, func(a, b *model.Span) int {
		return a.StartTime.Compare(b.StartTime)
	})

	data.StartTime = time.Unix(0, int64(start))
	data.EndTime = time.Unix(0, int64(max(start, end)))
	data.Duration = data.EndTime.Sub(data.StartTime)
	data.TraceName = traceName(data)
	return data
}

// traceName is "service: operation" of the root span, or of the earliest span
// when the root has not arrived.
func traceName(t *model.TraceData) string {
	if len(t.Spans) == 0 {
		return ""
	}
	ids := make(map[string]bool, len(t.Spans))
	for _, s := range t.Spans {
		ids[s.SpanID] = true
	}
	root := t.Spans[0]
	for _, s := range t.Spans {
		if s.ParentSpanID == "" || !ids[s.ParentSpanID] {
			root = s
			break
		}
	}
	service := unknownService
	if p, ok := t.Processes[root.ProcessID]; ok {
		service = p.ServiceName
	}
	return service + ": " + root.OperationName
}

func spanDuration(span *tracepb.Span) time.Duration {
	if span.EndTimeUnixNano < span.StartTimeUnixNano {
		return 0
	}
	return time.Duration(span.EndTimeUnixNano - span.StartTimeUnixNano)
}

func convertAttributes(attrs []*commonpb.KeyValue) []model.KeyValue {
	if len(attrs) == 0 {
		return nil
	}
	out := make([]model.KeyValue, 0, len(attrs))
	for _, kv := range attrs {
		out = append(out, model.KeyValue{Key: kv.Key, Value: attributeString(kv.Value)})
	}
	slices.SortStableFunc(out, func(a, b model.KeyValue) int { return cmp.Compare(a.Key, b.Key) })
	return out
}

// attributeString renders an attribute value for display and tag matching.
func attributeString(value *commonpb.AnyValue) string {
	if value == nil {
		return ""
	}

	switch v := value.Value.(type) {
	case *commonpb.AnyValue_StringValue:
		return v.StringValue
	case *commonpb.AnyValue_IntValue:
		return strconv.FormatInt(v.IntValue, 10)
	case *commonpb.AnyValue_DoubleValue:
		return strconv.FormatFloat(v.DoubleValue, 'g', -1, 64)
	case *commonpb.AnyValue_BoolValue:
		return strconv.FormatBool(v.BoolValue)
	case *commonpb.AnyValue_BytesValue:
		return hex.EncodeToString(v.BytesValue)
	default:
		return ""
	}
}

// extractServiceName extracts the service.name attribute from an OTLP resource.
func extractServiceName(resource *resourcepb.Resource) string {
	for _, attr := range resource.GetAttributes() {
		if attr.Key == "service.name" {
			if sv := attr.Value.GetStringValue(); sv != "" {
				return sv
			}
		}
	}
	return unknownService
}

func idToString(id []byte) string {
	return hex.EncodeToString(id)
}
