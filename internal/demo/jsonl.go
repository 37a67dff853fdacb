package demo

import (
	"bufio"
	"fmt"
	"io"

	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"
	"google.golang.org/protobuf/encoding/protojson"
)

// WriteJSONL writes each batch as one OTLP JSON TracesData line, the format
// the collector's file exporter produces and filereader consumes.
func WriteJSONL(w io.Writer, batches [][]*tracepb.ResourceSpans) error {
	bw := bufio.NewWriter(w)
	for i, batch := range batches {
		line, err := protojson.Marshal(&tracepb.TracesData{ResourceSpans: batch})
		if err != nil {
			return fmt.Errorf("failed to marshal batch %d: %w", i, err)
		}
		if _, err := bw.Write(line); err != nil {
			return fmt.Errorf("failed to write batch %d: %w", i, err)
		}
		if err := bw.WriteByte('\n'); err != nil {
			return fmt.Errorf("failed to write batch %d: %w", i, err)
		}
	}
	return bw.Flush()
}
