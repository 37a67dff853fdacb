package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tobert/traceview/internal/fetch"
	"github.com/tobert/traceview/internal/logging"
	"github.com/tobert/traceview/internal/model"
	"github.com/tobert/traceview/internal/webui"
)

// Config holds the runtime configuration of traceview.
// It can be populated from CLI flags, environment, config files, or all of them.
type Config struct {
	// Comment field for user documentation (ignored by the application)
	Comment string `json:"comment,omitempty"`

	// Number of spans kept in the ring buffer
	TraceBufferSize int `json:"trace_buffer_size,omitempty"`

	// OTLP receiver configuration
	OTLPHost string `json:"otlp_host,omitempty"`
	OTLPPort int    `json:"otlp_port,omitempty"`

	// Web UI configuration; a negative port disables the web UI
	WebUIHost string `json:"webui_host,omitempty"`
	WebUIPort int    `json:"webui_port,omitempty"`

	// MCP transport: "stdio" (default) or "none"
	Transport string `json:"transport,omitempty"`

	// View configuration
	DagMaxNumServices  int    `json:"dag_max_num_services,omitempty"`
	DefaultSortBy      string `json:"default_sort_by,omitempty"`
	SelectorCacheSize  int    `json:"selector_cache_size,omitempty"`
	DependencyLookback string `json:"dependency_lookback,omitempty"` // e.g. "1h", "2d"

	// File sources: directories of OTLP JSONL, plus an optional collector
	// config whose file exporters name more directories
	FileSources []string `json:"file_sources,omitempty"`
	OtelConfig  string   `json:"otel_config,omitempty"`
	ActiveOnly  bool     `json:"active_only,omitempty"`

	// Logging configuration
	LogLevel  string `json:"log_level,omitempty"`
	LogFormat string `json:"log_format,omitempty"`
	LogFile   string `json:"log_file,omitempty"`
	Verbose   bool   `json:"verbose,omitempty"`
}

// Transport names.
const (
	TransportStdio = "stdio"
	TransportNone  = "none"
)

// DefaultConfig returns a Config with sensible default values:
// - 10,000 spans in the trace buffer
// - OTLP on localhost, ephemeral port
// - web UI on localhost:16686
// - MCP on stdio
func DefaultConfig() *Config {
	return &Config{
		TraceBufferSize:    10_000,
		OTLPHost:           "127.0.0.1",
		OTLPPort:           0, // 0 means ephemeral port assignment
		WebUIHost:          "127.0.0.1",
		WebUIPort:          16686,
		Transport:          TransportStdio,
		DagMaxNumServices:  0, // 0 means the built-in fallback
		DefaultSortBy:      string(model.DefaultSortKey),
		SelectorCacheSize:  webui.DefaultSelectorCacheSize,
		DependencyLookback: "1h",
		LogLevel:           "info",
		LogFormat:          "text",
	}
}

// Validate checks values that cannot be checked by type alone.
func (c *Config) Validate() error {
	if c.TraceBufferSize <= 0 {
		return fmt.Errorf("trace_buffer_size must be positive, got %d", c.TraceBufferSize)
	}
	switch c.Transport {
	case TransportStdio, TransportNone:
	default:
		return fmt.Errorf("invalid transport %q (must be %q or %q)", c.Transport, TransportStdio, TransportNone)
	}
	if c.DefaultSortBy != "" && !model.SortKey(c.DefaultSortBy).Valid() {
		return fmt.Errorf("invalid default_sort_by %q", c.DefaultSortBy)
	}
	if _, err := c.Lookback(); err != nil {
		return err
	}
	switch c.LogFormat {
	case "", "text", "json":
	default:
		return fmt.Errorf("invalid log_format %q (must be text or json)", c.LogFormat)
	}
	return nil
}

// Lookback returns the parsed dependency lookback window.
func (c *Config) Lookback() (time.Duration, error) {
	if c.DependencyLookback == "" {
		return 0, nil
	}
	return fetch.ParseLookback(c.DependencyLookback)
}

// Logging returns the logging configuration. Verbose raises the level to debug.
func (c *Config) Logging() logging.Config {
	cfg := logging.DefaultConfig()
	if c.LogLevel != "" {
		cfg.Level = c.LogLevel
	}
	if c.Verbose {
		cfg.Level = "debug"
	}
	if c.LogFormat != "" {
		cfg.Format = c.LogFormat
	}
	cfg.FilePath = c.LogFile
	return cfg
}

// LoadConfigFromFile loads configuration from a JSON file at the given path.
// It returns an error if the file cannot be read or parsed.
func LoadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return &config, nil
}

// ProjectConfigName is the per-project config file name.
const ProjectConfigName = ".traceview.json"

// FindProjectConfig searches for a .traceview.json config file.
// It starts in dir and walks up looking for the file,
// stopping when it finds a .git directory (project root) or reaches root.
func FindProjectConfig(dir string) (string, error) {
	for {
		configPath := filepath.Join(dir, ProjectConfigName)
		if _, err := os.Stat(configPath); err == nil {
			return configPath, nil
		}

		// Stop at the repo root even if no config was found
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			break
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", os.ErrNotExist
}

// GlobalConfigPath returns the path to the global config file.
// This is ~/.config/traceview/config.json
func GlobalConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "traceview", "config.json")
}

// MergeConfigs merges two configs with the overlay taking precedence.
// Fields in overlay override corresponding fields in base.
// Returns a new Config with the merged values.
func MergeConfigs(base, overlay *Config) *Config {
	if base == nil {
		base = &Config{}
	}
	if overlay == nil {
		return base
	}

	merged := *base

	if overlay.TraceBufferSize > 0 {
		merged.TraceBufferSize = overlay.TraceBufferSize
	}

	if overlay.OTLPHost != "" {
		merged.OTLPHost = overlay.OTLPHost
	}
	if overlay.OTLPPort != 0 {
		merged.OTLPPort = overlay.OTLPPort
	}

	if overlay.WebUIHost != "" {
		merged.WebUIHost = overlay.WebUIHost
	}
	if overlay.WebUIPort != 0 {
		merged.WebUIPort = overlay.WebUIPort
	}
	if overlay.Transport != "" {
		merged.Transport = overlay.Transport
	}

	if overlay.DagMaxNumServices > 0 {
		merged.DagMaxNumServices = overlay.DagMaxNumServices
	}
	if overlay.DefaultSortBy != "" {
		merged.DefaultSortBy = overlay.DefaultSortBy
	}
	if overlay.SelectorCacheSize > 0 {
		merged.SelectorCacheSize = overlay.SelectorCacheSize
	}
	if overlay.DependencyLookback != "" {
		merged.DependencyLookback = overlay.DependencyLookback
	}

	// File sources accumulate across layers
	if len(overlay.FileSources) > 0 {
		merged.FileSources = append(append([]string(nil), base.FileSources...), overlay.FileSources...)
	}
	if overlay.OtelConfig != "" {
		merged.OtelConfig = overlay.OtelConfig
	}
	if overlay.ActiveOnly {
		merged.ActiveOnly = true
	}

	if overlay.LogLevel != "" {
		merged.LogLevel = overlay.LogLevel
	}
	if overlay.LogFormat != "" {
		merged.LogFormat = overlay.LogFormat
	}
	if overlay.LogFile != "" {
		merged.LogFile = overlay.LogFile
	}
	if overlay.Verbose {
		merged.Verbose = true
	}

	return &merged
}

// LoadEffectiveConfig loads the effective configuration by merging:
// 1. Built-in defaults
// 2. Global config file (if exists)
// 3. Project config file found from the working directory, or the
// explicit config file when configPath is set
// Later sources override earlier ones. Environment and flags are applied on
// top by the commands.
func LoadEffectiveConfig(configPath string) (*Config, error) {
	config := DefaultConfig()

	// Global config is optional; a broken one is ignored
	if globalPath := GlobalConfigPath(); globalPath != "" {
		if globalCfg, err := LoadConfigFromFile(globalPath); err == nil {
			config = MergeConfigs(config, globalCfg)
		}
	}

	if configPath != "" {
		explicitCfg, err := LoadConfigFromFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
		return MergeConfigs(config, explicitCfg), nil
	}

	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get working directory: %w", err)
	}
	if projectPath, err := FindProjectConfig(wd); err == nil {
		projectCfg, err := LoadConfigFromFile(projectPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load project config: %w", err)
		}
		config = MergeConfigs(config, projectCfg)
	}

	return config, nil
}
