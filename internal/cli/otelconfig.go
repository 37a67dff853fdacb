package cli

import (
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// OtelCollectorConfig represents the relevant parts of an OpenTelemetry Collector config.
// Only the exporters section is parsed, to find file exporters.
type OtelCollectorConfig struct {
	Exporters map[string]FileExporter `yaml:"exporters"`
}

// FileExporter represents a file exporter configuration.
type FileExporter struct {
	Path string `yaml:"path"`
}

// ParseOtelConfig reads an OpenTelemetry Collector config file and returns
// the directories its file exporters write to, sorted. Exporters count when
// their name is "file" or starts with "file/".
func ParseOtelConfig(configPath string) ([]string, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read otel config: %w", err)
	}

	var config OtelCollectorConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse otel config: %w", err)
	}

	dirSet := make(map[string]struct{})
	for name, exporter := range config.Exporters {
		if (name == "file" || strings.HasPrefix(name, "file/")) && exporter.Path != "" {
			dirSet[filepath.Dir(exporter.Path)] = struct{}{}
		}
	}

	return slices.Sorted(maps.Keys(dirSet)), nil
}
