package storage

import (
	"time"

	"github.com/tobert/traceview/internal/model"
)

// TraceQuery selects traces for a search. Zero values disable a criterion.
type TraceQuery struct {
	Service   string
	Operation string
	// Tags must all be present, with equal values, on one matching span or
	// its process.
	Tags map[string]string

	StartTimeMin time.Time
	StartTimeMax time.Time
	MinDuration  time.Duration
	MaxDuration  time.Duration

	// Limit caps the number of traces returned; 0 means no limit.
	Limit int
}

// Matches reports whether a built trace satisfies the query.
func (q TraceQuery) Matches(t *model.TraceData) bool {
	if !q.StartTimeMin.IsZero() && t.StartTime.Before(q.StartTimeMin) {
		return false
	}
	if !q.StartTimeMax.IsZero() && t.StartTime.After(q.StartTimeMax) {
		return false
	}
	if q.MinDuration > 0 && t.Duration < q.MinDuration {
		return false
	}
	if q.MaxDuration > 0 && t.Duration > q.MaxDuration {
		return false
	}
	if q.Service == "" && q.Operation == "" && len(q.Tags) == 0 {
		return true
	}
	for _, span := range t.Spans {
		if q.matchesSpan(t, span) {
			return true
		}
	}
	return false
}

func (q TraceQuery) matchesSpan(t *model.TraceData, span *model.Span) bool {
	proc := t.Processes[span.ProcessID]
	if q.Service != "" && (proc == nil || proc.ServiceName != q.Service) {
		return false
	}
	if q.Operation != "" && span.OperationName != q.Operation {
		return false
	}
	for key, want := range q.Tags {
		if got, ok := lookupTag(span.Tags, key); ok && got == want {
			continue
		}
		if proc != nil {
			if got, ok := lookupTag(proc.Tags, key); ok && got == want {
				continue
			}
		}
		return false
	}
	return true
}

func lookupTag(tags []model.KeyValue, key string) (string, bool) {
	for _, kv := range tags {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return "", false
}
