// Package model defines the normalized store state consumed by the view
// selectors: trace records keyed by id, the current search result set, the
// comparison cohort, the service catalog and service dependency edges.
package model

import "time"

// FetchState is the lifecycle of a fetched resource.
type FetchState int

const (
	// FetchUnset means the resource has never been requested.
	FetchUnset FetchState = iota
	FetchLoading
	FetchDone
	FetchFailed
)

func (s FetchState) String() string {
	switch s {
	case FetchLoading:
		return "LOADING"
	case FetchDone:
		return "DONE"
	case FetchFailed:
		return "ERROR"
	default:
		return ""
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s FetchState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// KeyValue is a span or process tag.
type KeyValue struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Process describes the emitting service of a group of spans.
type Process struct {
	ServiceName string     `json:"serviceName"`
	Tags        []KeyValue `json:"tags,omitempty"`
}

// Span is a single timed operation inside a trace.
type Span struct {
	TraceID       string        `json:"traceID"`
	SpanID        string        `json:"spanID"`
	ParentSpanID  string        `json:"parentSpanID,omitempty"`
	OperationName string        `json:"operationName"`
	ProcessID     string        `json:"processID"`
	StartTime     time.Time     `json:"startTime"`
	Duration      time.Duration `json:"duration"`
	Tags          []KeyValue    `json:"tags,omitempty"`
	Error         bool          `json:"error,omitempty"`
}

// TraceData is a fully loaded trace. The selectors only look at TraceID,
// Duration, StartTime and the number of spans; everything else is carried
// through to the rendering layer untouched.
type TraceData struct {
	TraceID   string              `json:"traceID"`
	TraceName string              `json:"traceName"`
	Spans     []*Span             `json:"spans"`
	Processes map[string]*Process `json:"processes"`
	StartTime time.Time           `json:"startTime"`
	EndTime   time.Time           `json:"endTime"`
	Duration  time.Duration       `json:"duration"`
}

// Services returns the distinct service names in the trace in span order.
func (t *TraceData) Services() []string {
	seen := make(map[string]bool)
	var names []string
	for _, span := range t.Spans {
		p, ok := t.Processes[span.ProcessID]
		if !ok || seen[p.ServiceName] {
			continue
		}
		seen[p.ServiceName] = true
		names = append(names, p.ServiceName)
	}
	return names
}

// ErrorCount returns the number of spans flagged as errors.
func (t *TraceData) ErrorCount() int {
	n := 0
	for _, span := range t.Spans {
		if span.Error {
			n++
		}
	}
	return n
}

// TraceRecord is the store entry for one trace id. Data is nil until the
// trace has been loaded.
type TraceRecord struct {
	ID    string     `json:"id"`
	State FetchState `json:"state"`
	Data  *TraceData `json:"data,omitempty"`
	Error error      `json:"-"`
}

// SearchState is the result set of the latest trace search. Results keeps the
// backend's order; presentation order is applied later by sorting.
type SearchState struct {
	Query   string     `json:"query"`
	Results []string   `json:"results"`
	State   FetchState `json:"state"`
	Error   error      `json:"-"`
}

// TraceState is the trace slice of the store.
type TraceState struct {
	Traces map[string]*TraceRecord
	Search SearchState
}
