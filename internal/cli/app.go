package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/tobert/traceview/internal/logging"
)

// EnvPrefix prefixes every environment variable a flag reads.
const EnvPrefix = "TRACEVIEW_"

// NewApp returns the root traceview command.
func NewApp(version string) *cli.Command {
	return &cli.Command{
		Name:    "traceview",
		Usage:   "Trace search and service dependency views over OTLP",
		Version: version,
		Commands: []*cli.Command{
			ServeCommand(version),
			RenderCommand(),
			DemoCommand(),
			DoctorCommand(version),
		},
	}
}

func env(name string) cli.ValueSourceChain {
	return cli.EnvVars(EnvPrefix + name)
}

// commonFlags are accepted by every command that loads the layered config.
func commonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Config file (default: " + ProjectConfigName + " found from the working directory)",
			Sources: env("CONFIG"),
		},
		&cli.IntFlag{
			Name:    "trace-buffer-size",
			Usage:   "Number of spans to buffer",
			Sources: env("TRACE_BUFFER_SIZE"),
		},
		&cli.IntFlag{
			Name:    "dag-max-num-services",
			Usage:   "Largest dependency count that still offers the DAG layout (0 for the built-in 100)",
			Sources: env("DAG_MAX_NUM_SERVICES"),
		},
		&cli.StringFlag{
			Name:    "sort-by",
			Usage:   "Default result order: MOST_RECENT, LONGEST_FIRST, SHORTEST_FIRST, MOST_SPANS or LEAST_SPANS",
			Sources: env("SORT_BY"),
		},
		&cli.StringFlag{
			Name:    "dependency-lookback",
			Usage:   "Window of traces the dependency graph is built from, e.g. 1h or 2d",
			Sources: env("DEPENDENCY_LOOKBACK"),
		},
		&cli.StringSliceFlag{
			Name:    "file-source",
			Aliases: []string{"f"},
			Usage:   "Directory of OTLP JSONL trace files (repeatable)",
			Sources: env("FILE_SOURCES"),
		},
		&cli.StringFlag{
			Name:    "otel-config",
			Usage:   "OpenTelemetry Collector config; its file exporters become file sources",
			Sources: env("OTEL_CONFIG"),
		},
		&cli.BoolFlag{
			Name:    "active-only",
			Usage:   "Read only active traces.jsonl files, skipping rotated archives",
			Sources: env("ACTIVE_ONLY"),
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level: debug, info, warn or error",
			Sources: env("LOG_LEVEL"),
		},
		&cli.StringFlag{
			Name:    "log-format",
			Usage:   "Log format: text or json",
			Sources: env("LOG_FORMAT"),
		},
		&cli.StringFlag{
			Name:    "log-file",
			Usage:   "Write logs to a rotating file instead of stderr",
			Sources: env("LOG_FILE"),
		},
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"v"},
			Usage:   "Enable verbose logging",
			Sources: env("VERBOSE"),
		},
	}
}

// loadConfig layers flags and their environment variables over the config
// files. Only flags that were actually set override file values.
func loadConfig(cmd *cli.Command) (*Config, error) {
	cfg, err := LoadEffectiveConfig(cmd.String("config"))
	if err != nil {
		return nil, err
	}

	setInt := func(name string, dst *int) {
		if cmd.IsSet(name) {
			*dst = cmd.Int(name)
		}
	}
	setString := func(name string, dst *string) {
		if cmd.IsSet(name) {
			*dst = cmd.String(name)
		}
	}
	setBool := func(name string, dst *bool) {
		if cmd.IsSet(name) {
			*dst = cmd.Bool(name)
		}
	}

	setInt("trace-buffer-size", &cfg.TraceBufferSize)
	setInt("dag-max-num-services", &cfg.DagMaxNumServices)
	setString("sort-by", &cfg.DefaultSortBy)
	setString("dependency-lookback", &cfg.DependencyLookback)
	if cmd.IsSet("file-source") {
		cfg.FileSources = append(cfg.FileSources, cmd.StringSlice("file-source")...)
	}
	setString("otel-config", &cfg.OtelConfig)
	setBool("active-only", &cfg.ActiveOnly)
	setString("log-level", &cfg.LogLevel)
	setString("log-format", &cfg.LogFormat)
	setString("log-file", &cfg.LogFile)
	setBool("verbose", &cfg.Verbose)

	// serve-only flags; IsSet is false for flags a command does not define
	setString("otlp-host", &cfg.OTLPHost)
	setInt("otlp-port", &cfg.OTLPPort)
	setString("webui-host", &cfg.WebUIHost)
	setInt("webui-port", &cfg.WebUIPort)
	setString("transport", &cfg.Transport)
	setInt("selector-cache-size", &cfg.SelectorCacheSize)

	if cfg.DefaultSortBy != "" {
		cfg.DefaultSortBy = strings.ToUpper(strings.TrimSpace(cfg.DefaultSortBy))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// fileSourceDirs returns the configured directories followed by those named
// by the collector config, without duplicates.
func fileSourceDirs(cfg *Config) ([]string, error) {
	dirs := append([]string(nil), cfg.FileSources...)
	if cfg.OtelConfig != "" {
		otelDirs, err := ParseOtelConfig(cfg.OtelConfig)
		if err != nil {
			return nil, err
		}
		dirs = append(dirs, otelDirs...)
	}

	seen := make(map[string]bool, len(dirs))
	unique := dirs[:0]
	for _, d := range dirs {
		if !seen[d] {
			seen[d] = true
			unique = append(unique, d)
		}
	}
	return unique, nil
}

// setupLogging installs the configured logger. The returned cleanup flushes
// and closes a log file.
func setupLogging(cfg *Config) (*slog.Logger, func(), error) {
	logger, closeLog, err := logging.Setup(cfg.Logging())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set up logging: %w", err)
	}
	return logger, func() { _ = closeLog() }, nil
}

// stdout is where a command prints its results.
func stdout(cmd *cli.Command) io.Writer {
	if w := cmd.Root().Writer; w != nil {
		return w
	}
	return os.Stdout
}

// Run runs the root command with args, printing errors the way main does.
func Run(ctx context.Context, version string, args []string) int {
	if err := NewApp(version).Run(ctx, args); err != nil {
		fmt.Fprintf(os.Stderr, "❌ error: %v\n", err)
		return 1
	}
	return 0
}
