package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v3"
	collectortrace "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/tobert/traceview/internal/demo"
)

// demoOptions configures demo trace generation.
type demoOptions struct {
	Dir      string
	Endpoint string
	Traces   int
	Seed     uint64
	Start    time.Time
}

// DemoCommand returns the 'demo' subcommand, which generates synthetic
// traces into a JSONL file, an OTLP endpoint, or both.
func DemoCommand() *cli.Command {
	return &cli.Command{
		Name:  "demo",
		Usage: "Generate synthetic traces",
		Description: `Generates traces of a small shop (frontend, cart, catalog, payments, redis,
postgres). --out writes them as collector file exporter JSONL, --endpoint
exports them to an OTLP gRPC receiver such as a running 'traceview serve'.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "out",
				Aliases: []string{"o"},
				Usage:   "Directory to write traces.jsonl into",
			},
			&cli.StringFlag{
				Name:    "endpoint",
				Usage:   "OTLP gRPC endpoint to export to, e.g. 127.0.0.1:4317",
				Sources: cli.EnvVars("OTEL_EXPORTER_OTLP_ENDPOINT"),
			},
			&cli.IntFlag{
				Name:    "traces",
				Aliases: []string{"n"},
				Usage:   "Number of traces",
				Value:   100,
			},
			&cli.IntFlag{
				Name:  "seed",
				Usage: "Random seed; the same seed produces the same traces",
				Value: 1,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			n := cmd.Int("traces")
			return runDemo(ctx, demoOptions{
				Dir:      cmd.String("out"),
				Endpoint: cmd.String("endpoint"),
				Traces:   n,
				Seed:     uint64(cmd.Int("seed")),
				// Each trace starts at most a second after the previous one,
				// so this keeps all of them inside a default lookback.
				Start: time.Now().Add(-time.Duration(n) * time.Second),
			}, stdout(cmd))
		},
	}
}

func runDemo(ctx context.Context, opts demoOptions, w io.Writer) error {
	if opts.Dir == "" && opts.Endpoint == "" {
		return errors.New("nothing to do: pass --out, --endpoint or both")
	}
	if opts.Traces <= 0 {
		return fmt.Errorf("--traces must be positive, got %d", opts.Traces)
	}

	gen := demo.NewGenerator(opts.Seed, opts.Start)
	batches := make([][]*tracepb.ResourceSpans, opts.Traces)
	for i := range batches {
		batches[i] = gen.Trace()
	}

	if opts.Dir != "" {
		path, err := writeDemoFile(opts.Dir, batches)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "✅ wrote %d traces to %s\n", len(batches), path)
	}

	if opts.Endpoint != "" {
		if err := exportDemo(ctx, opts.Endpoint, batches); err != nil {
			return err
		}
		fmt.Fprintf(w, "✅ exported %d traces to %s\n", len(batches), opts.Endpoint)
	}
	return nil
}

func writeDemoFile(dir string, batches [][]*tracepb.ResourceSpans) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", dir, err)
	}
	path := filepath.Join(dir, "traces.jsonl")
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := demo.WriteJSONL(f, batches); err != nil {
		f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to close %s: %w", path, err)
	}
	return path, nil
}

// exportDemo sends one Export call per trace.
func exportDemo(ctx context.Context, endpoint string, batches [][]*tracepb.ResourceSpans) error {
	conn, err := grpc.NewClient(endpoint, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("failed to create grpc client: %w", err)
	}
	defer conn.Close()

	client := collectortrace.NewTraceServiceClient(conn)
	for i, batch := range batches {
		callCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		_, err := client.Export(callCtx, &collectortrace.ExportTraceServiceRequest{ResourceSpans: batch})
		cancel()
		if err != nil {
			return fmt.Errorf("failed to export trace %d: %w", i, err)
		}
	}
	return nil
}
