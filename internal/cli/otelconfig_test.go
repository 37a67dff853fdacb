package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOtelConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "collector.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
receivers:
  otlp:
    protocols:
      grpc:
exporters:
  file/traces:
    path: /var/otel/traces/traces.jsonl
  file/logs:
    path: /var/otel/logs/logs.jsonl
  file:
    path: /var/otel/all/out.jsonl
  otlp/jaeger:
    endpoint: jaeger:4317
  file/dup:
    path: /var/otel/traces/other.jsonl
`), 0o644))

	dirs, err := ParseOtelConfig(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"/var/otel/all", "/var/otel/logs", "/var/otel/traces"}, dirs)
}

func TestParseOtelConfigErrors(t *testing.T) {
	_, err := ParseOtelConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("exporters: [not, a, map"), 0o644))
	_, err = ParseOtelConfig(path)
	assert.Error(t, err)
}
