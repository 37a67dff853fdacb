package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/tobert/traceview/internal/fetch"
	"github.com/tobert/traceview/internal/filereader"
	"github.com/tobert/traceview/internal/model"
	"github.com/tobert/traceview/internal/selectors"
	"github.com/tobert/traceview/internal/storage"
	"github.com/tobert/traceview/internal/store"
	"github.com/tobert/traceview/internal/viz"
)

// renderOptions selects what the render command prints.
type renderOptions struct {
	Query        string
	TraceID      string
	Cohort       []string
	Services     bool
	Dependencies bool
	Width        int

	// Now anchors relative lookbacks; zero means the wall clock.
	Now time.Time
}

// RenderCommand returns the 'render' subcommand, which loads trace files and
// prints the search page without starting any server.
func RenderCommand() *cli.Command {
	flags := append(commonFlags(),
		&cli.StringFlag{
			Name:    "query",
			Aliases: []string{"q"},
			Usage:   `Search location, e.g. "service=frontend&lookback=2d&limit=50"`,
		},
		&cli.StringFlag{
			Name:  "trace",
			Usage: "Print the waterfall of one trace",
		},
		&cli.StringSliceFlag{
			Name:  "compare",
			Usage: "Trace id to add to the comparison cohort (repeatable)",
		},
		&cli.BoolFlag{
			Name:  "services",
			Usage: "Print services and their operations",
		},
		&cli.BoolFlag{
			Name:  "dependencies",
			Usage: "Print the service dependency graph",
		},
		&cli.IntFlag{
			Name:  "width",
			Usage: "Output width in columns",
			Value: 100,
		},
	)

	return &cli.Command{
		Name:      "render",
		Usage:     "Print trace search results from OTLP JSONL files",
		ArgsUsage: "[directory...]",
		Description: `Loads every file source plus the directories given as arguments, runs
one search and prints it. Useful for looking at collector file exporter
output without an agent or browser.`,
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			cfg.FileSources = append(cfg.FileSources, cmd.Args().Slice()...)
			return runRender(ctx, cfg, renderOptions{
				Query:        cmd.String("query"),
				TraceID:      cmd.String("trace"),
				Cohort:       cmd.StringSlice("compare"),
				Services:     cmd.Bool("services"),
				Dependencies: cmd.Bool("dependencies"),
				Width:        cmd.Int("width"),
			}, stdout(cmd))
		},
	}
}

// runRender loads the configured file sources into a fresh buffer and writes
// the requested views to w.
func runRender(ctx context.Context, cfg *Config, opts renderOptions, w io.Writer) error {
	logger, closeLog, err := setupLogging(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	dirs, err := fileSourceDirs(cfg)
	if err != nil {
		return err
	}
	if len(dirs) == 0 {
		return errors.New("no file sources: pass a directory or --file-source")
	}
	lookback, err := cfg.Lookback()
	if err != nil {
		return err
	}
	query, err := url.ParseQuery(strings.TrimPrefix(opts.Query, "?"))
	if err != nil {
		return fmt.Errorf("invalid query %q: %w", opts.Query, err)
	}

	traces := storage.NewTraceStorage(cfg.TraceBufferSize)
	for _, dir := range dirs {
		if err := loadDirectory(ctx, dir, cfg.ActiveOnly, traces, logger); err != nil {
			return err
		}
	}

	st := store.NewWithState(model.NewState().WithSortBy(model.ParseSortKey(cfg.DefaultSortBy)))
	fopts := []fetch.Option{fetch.WithLogger(logger)}
	if !opts.Now.IsZero() {
		fopts = append(fopts, fetch.WithClock(func() time.Time { return opts.Now }))
	}
	fetcher := fetch.New(traces, st, fopts...)

	location := "?" + query.Encode()
	st.Navigate(location)

	// Failures land in the store and are printed with the page.
	_ = fetcher.SearchTraces(ctx, query)
	if opts.Services {
		_ = fetcher.FetchAllServiceOperations(ctx)
	}
	for _, id := range opts.Cohort {
		st.CohortAdd(strings.ToLower(id))
	}
	_ = fetcher.FetchCohort(ctx)

	props := selectors.NewSearchPage().Props(st.State())
	fmt.Fprint(w, viz.SearchResults(props, opts.Width))
	if opts.Services {
		fmt.Fprint(w, "\n", viz.Services(props.Services))
	}
	if len(props.DiffCohort) > 0 {
		fmt.Fprint(w, "\n", viz.Cohort(props.DiffCohort))
	}

	if opts.TraceID != "" {
		id := strings.ToLower(opts.TraceID)
		if err := fetcher.FetchTrace(ctx, id); err != nil {
			return err
		}
		fmt.Fprint(w, "\n", viz.Waterfall(st.State().Trace.Traces[id].Data, opts.Width))
	}

	if opts.Dependencies {
		_ = fetcher.FetchDependencies(ctx, lookback)
		deps := selectors.SelectDependencyPage(st.State().Dependencies, cfg.DagMaxNumServices)
		fmt.Fprint(w, "\n", viz.Dependencies(deps))
	}
	return nil
}

func loadDirectory(ctx context.Context, dir string, activeOnly bool, traces *storage.TraceStorage, logger *slog.Logger) error {
	src, err := filereader.New(filereader.Config{
		Directory:  dir,
		ActiveOnly: activeOnly,
		Logger:     logger,
	}, traces)
	if err != nil {
		return fmt.Errorf("failed to open file source: %w", err)
	}
	n, err := src.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", dir, err)
	}
	logger.Debug("📂 loaded file source", "directory", src.Directory(), "batches", n)
	return nil
}
