// Package demo generates synthetic OTLP traces for a small shop backend. The
// output is deterministic for a given seed.
package demo

import (
	"io"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	resourcepb "go.opentelemetry.io/proto/otlp/resource/v1"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"
)

// call is one operation in a scenario and the calls it makes, in order.
type call struct {
	service   string
	operation string
	base      time.Duration
	errRate   float64
	children  []call
}

var scenarios = []call{
	{service: "frontend", operation: "GET /checkout", base: 40 * time.Millisecond, children: []call{
		{service: "cart", operation: "GetCart", base: 5 * time.Millisecond, children: []call{
			{service: "redis", operation: "HGETALL", base: time.Millisecond},
		}},
		{service: "payments", operation: "Charge", base: 30 * time.Millisecond, errRate: 0.1, children: []call{
			{service: "postgres", operation: "INSERT payments", base: 3 * time.Millisecond},
		}},
	}},
	{service: "frontend", operation: "GET /cart", base: 10 * time.Millisecond, children: []call{
		{service: "cart", operation: "GetCart", base: 5 * time.Millisecond, children: []call{
			{service: "redis", operation: "HGETALL", base: time.Millisecond},
		}},
	}},
	{service: "frontend", operation: "GET /products", base: 15 * time.Millisecond, children: []call{
		{service: "catalog", operation: "ListProducts", base: 8 * time.Millisecond, errRate: 0.05, children: []call{
			{service: "postgres", operation: "SELECT products", base: 4 * time.Millisecond},
		}},
	}},
}

// Services lists every service the generator emits, sorted.
var Services = []string{"cart", "catalog", "frontend", "payments", "postgres", "redis"}

// Generator produces demo traces. It is not safe for concurrent use.
type Generator struct {
	rng  *rand.Rand
	ids  io.Reader
	next time.Time
}

// NewGenerator returns a generator whose first trace starts at start.
func NewGenerator(seed uint64, start time.Time) *Generator {
	var key [32]byte
	for i := range 8 {
		key[i] = byte(seed >> (8 * i))
	}
	return &Generator{
		rng:  rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		ids:  rand.NewChaCha8(key),
		next: start,
	}
}

// Traces generates n traces, each starting a little after the previous one.
func (g *Generator) Traces(n int) []*tracepb.ResourceSpans {
	var out []*tracepb.ResourceSpans
	for range n {
		out = append(out, g.Trace()...)
	}
	return out
}

// Trace generates one trace from a randomly chosen scenario, grouped into one
// ResourceSpans per service.
func (g *Generator) Trace() []*tracepb.ResourceSpans {
	scenario := scenarios[g.rng.IntN(len(scenarios))]
	traceID := g.newID()
	start := g.next
	g.next = g.next.Add(time.Duration(50+g.rng.IntN(950)) * time.Millisecond)

	b := &traceBuilder{traceID: traceID[:], byService: make(map[string]*tracepb.ResourceSpans)}
	g.emit(b, scenario, nil, start)
	return b.order
}

type traceBuilder struct {
	traceID   []byte
	byService map[string]*tracepb.ResourceSpans
	order     []*tracepb.ResourceSpans
}

func (b *traceBuilder) add(service string, span *tracepb.Span) {
	rs, ok := b.byService[service]
	if !ok {
		rs = &tracepb.ResourceSpans{
			Resource: &resourcepb.Resource{Attributes: []*commonpb.KeyValue{
				stringAttr("service.name", service),
				stringAttr("telemetry.sdk.name", "traceview-demo"),
			}},
			ScopeSpans: []*tracepb.ScopeSpans{{}},
		}
		b.byService[service] = rs
		b.order = append(b.order, rs)
	}
	rs.ScopeSpans[0].Spans = append(rs.ScopeSpans[0].Spans, span)
}

// emit writes c and its children and returns c's end time.
func (g *Generator) emit(b *traceBuilder, c call, parentID []byte, start time.Time) time.Time {
	id := g.newID()
	spanID := id[:8]

	cursor := start.Add(time.Duration(g.rng.IntN(500)) * time.Microsecond)
	for _, child := range c.children {
		cursor = g.emit(b, child, spanID, cursor)
	}
	jitter := time.Duration(g.rng.Int64N(int64(c.base)))
	end := maxTime(cursor, start.Add(c.base+jitter))

	kind := tracepb.Span_SPAN_KIND_SERVER
	if len(c.children) == 0 {
		kind = tracepb.Span_SPAN_KIND_CLIENT
	}
	span := &tracepb.Span{
		TraceId:           b.traceID,
		SpanId:            spanID,
		ParentSpanId:      parentID,
		Name:              c.operation,
		Kind:              kind,
		StartTimeUnixNano: uint64(start.UnixNano()),
		EndTimeUnixNano:   uint64(end.UnixNano()),
	}
	if c.errRate > 0 && g.rng.Float64() < c.errRate {
		span.Status = &tracepb.Status{Code: tracepb.Status_STATUS_CODE_ERROR, Message: c.operation + " failed"}
		span.Attributes = append(span.Attributes, stringAttr("error.type", "demo"))
	}
	b.add(c.service, span)
	return end
}

func (g *Generator) newID() uuid.UUID {
	id, err := uuid.NewRandomFromReader(g.ids)
	if err != nil {
		// ChaCha8 reads never fail.
		panic(err)
	}
	return id
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func stringAttr(k, v string) *commonpb.KeyValue {
	return &commonpb.KeyValue{Key: k, Value: &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: v}}}
}
