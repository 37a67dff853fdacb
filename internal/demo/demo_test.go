package demo

import (
	"bufio"
	"bytes"
	"context"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	"github.com/tobert/traceview/internal/storage"
)

var start = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func TestGeneratorIsDeterministic(t *testing.T) {
	a := NewGenerator(7, start).Traces(5)
	b := NewGenerator(7, start).Traces(5)
	require.Equal(t, len(a), len(b))
	for i := range a {
		assert.True(t, proto.Equal(a[i], b[i]), "batch %d differs", i)
	}

	c := NewGenerator(8, start).Traces(5)
	assert.False(t, proto.Equal(a[0], c[0]))
}

func TestGeneratedTracesAreWellFormed(t *testing.T) {
	ts := storage.NewTraceStorage(10_000)
	require.NoError(t, ts.ReceiveSpans(context.Background(), NewGenerator(1, start).Traces(50)))

	traces, err := ts.FindTraces(context.Background(), storage.TraceQuery{})
	require.NoError(t, err)
	require.Len(t, traces, 50)

	for _, tr := range traces {
		roots := 0
		for _, span := range tr.Spans {
			if span.ParentSpanID == "" {
				roots++
			}
		}
		assert.Equal(t, 1, roots, "trace %s", tr.TraceID)
		assert.Contains(t, tr.TraceName, "frontend: ")
		assert.Positive(t, tr.Duration)
	}

	services, err := ts.GetServices(context.Background())
	require.NoError(t, err)
	for _, s := range services {
		assert.True(t, slices.Contains(Services, s), "unexpected service %q", s)
	}
}

func TestWriteJSONL(t *testing.T) {
	g := NewGenerator(3, start)
	batches := [][]*tracepb.ResourceSpans{g.Trace(), g.Trace()}

	var buf bytes.Buffer
	require.NoError(t, WriteJSONL(&buf, batches))

	scanner := bufio.NewScanner(&buf)
	lines := 0
	for scanner.Scan() {
		var td tracepb.TracesData
		require.NoError(t, protojson.Unmarshal(scanner.Bytes(), &td))
		assert.Len(t, td.ResourceSpans, len(batches[lines]))
		lines++
	}
	assert.Equal(t, 2, lines)
}
