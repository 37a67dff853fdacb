package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/tobert/traceview/internal/fetch"
	"github.com/tobert/traceview/internal/mcpserver"
	"github.com/tobert/traceview/internal/model"
	"github.com/tobert/traceview/internal/otlpreceiver"
	"github.com/tobert/traceview/internal/storage"
	"github.com/tobert/traceview/internal/store"
	"github.com/tobert/traceview/internal/webui"
)

// servicesRefreshInterval is how often the service list is reloaded after new
// spans arrive.
const servicesRefreshInterval = 2 * time.Second

// ServeCommand returns the CLI command definition for the 'serve' subcommand.
// This command starts the OTLP gRPC receiver, the web UI and the MCP server.
func ServeCommand(version string) *cli.Command {
	flags := append(commonFlags(),
		&cli.StringFlag{
			Name:    "otlp-host",
			Usage:   "OTLP server bind address",
			Sources: env("OTLP_HOST"),
		},
		&cli.IntFlag{
			Name:    "otlp-port",
			Usage:   "OTLP server port (0 for ephemeral)",
			Sources: env("OTLP_PORT"),
		},
		&cli.StringFlag{
			Name:    "webui-host",
			Usage:   "Web UI bind address",
			Sources: env("WEBUI_HOST"),
		},
		&cli.IntFlag{
			Name:    "webui-port",
			Usage:   "Web UI port (negative to disable)",
			Sources: env("WEBUI_PORT"),
		},
		&cli.StringFlag{
			Name:    "transport",
			Usage:   "MCP transport: stdio or none",
			Sources: env("TRANSPORT"),
		},
		&cli.IntFlag{
			Name:    "selector-cache-size",
			Usage:   "Number of search locations the web UI keeps derived state for",
			Sources: env("SELECTOR_CACHE_SIZE"),
		},
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Start the OTLP receiver, web UI and MCP server",
		Description: `Starts an OTLP gRPC receiver on localhost:0 (ephemeral port), the web UI
on localhost:16686 and an MCP server on stdio. Agents and browsers see the
same search results, cohort and dependency graph.`,
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runServe(ctx, cfg, version)
		},
	}
}

// runServe wires storage, the store, the fetcher and every surface together
// and runs them until a signal arrives or one of them fails.
func runServe(ctx context.Context, cfg *Config, version string) error {
	logger, closeLog, err := setupLogging(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	lookback, err := cfg.Lookback()
	if err != nil {
		return err
	}
	dirs, err := fileSourceDirs(cfg)
	if err != nil {
		return err
	}

	logger.Debug("🔧 configuration",
		"trace_buffer_size", cfg.TraceBufferSize,
		"otlp", net.JoinHostPort(cfg.OTLPHost, strconv.Itoa(cfg.OTLPPort)),
		"webui_port", cfg.WebUIPort,
		"transport", cfg.Transport,
		"sort_by", cfg.DefaultSortBy,
		"dependency_lookback", lookback,
		"file_sources", len(dirs),
	)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. Span buffer, state store and fetch layer
	traces := storage.NewTraceStorage(cfg.TraceBufferSize)
	st := store.NewWithState(model.NewState().WithSortBy(model.ParseSortKey(cfg.DefaultSortBy)))
	fetcher := fetch.New(traces, st, fetch.WithLogger(logger))

	// 2. OTLP gRPC receiver; binds now so the endpoint is known
	receiver, err := otlpreceiver.NewServer(otlpreceiver.Config{
		Host:   cfg.OTLPHost,
		Port:   cfg.OTLPPort,
		Logger: logger,
	}, traces)
	if err != nil {
		return fmt.Errorf("failed to create OTLP server: %w", err)
	}

	// 3. MCP server
	mcpSrv, err := mcpserver.NewServer(fetcher, traces, mcpserver.Options{
		Endpoint:           receiver.Endpoint(),
		DagMaxNumServices:  cfg.DagMaxNumServices,
		DependencyLookback: lookback,
		Version:            version,
		Logger:             logger,
	})
	if err != nil {
		receiver.Stop()
		return fmt.Errorf("failed to create MCP server: %w", err)
	}
	defer mcpSrv.Shutdown()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := receiver.Run(gctx); err != nil {
			return fmt.Errorf("OTLP server error: %w", err)
		}
		return nil
	})

	// 4. File sources
	for _, dir := range dirs {
		if err := mcpSrv.AddFileSource(gctx, dir, cfg.ActiveOnly); err != nil {
			logger.Warn("⚠️  skipping file source", "directory", dir, "error", err)
		}
	}

	// 5. Web UI
	if cfg.WebUIPort >= 0 {
		ui, err := webui.New(fetcher, webui.Options{
			DagMaxNumServices:  cfg.DagMaxNumServices,
			SelectorCacheSize:  cfg.SelectorCacheSize,
			DependencyLookback: lookback,
			Logger:             logger,
		})
		if err != nil {
			stop()
			_ = g.Wait()
			return fmt.Errorf("failed to create web UI: %w", err)
		}
		addr := net.JoinHostPort(cfg.WebUIHost, strconv.Itoa(cfg.WebUIPort))
		g.Go(func() error {
			if err := ui.ListenAndServe(gctx, addr); err != nil {
				return fmt.Errorf("web UI error: %w", err)
			}
			return nil
		})
	}

	// 6. Keep the service list current as spans arrive
	g.Go(func() error {
		refreshServices(gctx, traces, fetcher, logger)
		return nil
	})

	// 7. MCP on stdio; when the client goes away the whole process stops
	switch cfg.Transport {
	case TransportStdio:
		logger.Info("🎯 MCP server ready on stdio", "otlp_endpoint", receiver.Endpoint())
		g.Go(func() error {
			err := mcpSrv.Run(gctx)
			stop()
			if err != nil && gctx.Err() == nil {
				return fmt.Errorf("MCP server error: %w", err)
			}
			return nil
		})
	case TransportNone:
		logger.Info("🎯 running without MCP", "otlp_endpoint", receiver.Endpoint())
	}

	err = g.Wait()
	logger.Info("👋 shut down")
	return err
}

// refreshServices reloads services and operations whenever the span buffer
// has changed since the last pass.
func refreshServices(ctx context.Context, traces *storage.TraceStorage, fetcher *fetch.Fetcher, logger *slog.Logger) {
	ticker := time.NewTicker(servicesRefreshInterval)
	defer ticker.Stop()

	var seen uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		gen := traces.Generation()
		if gen == seen {
			continue
		}
		seen = gen
		if err := fetcher.FetchAllServiceOperations(ctx); err != nil && ctx.Err() == nil {
			logger.Debug("service refresh failed", "error", err)
		}
	}
}
