// Package otlpreceiver accepts OTLP/gRPC trace exports and hands the spans to
// a SpanReceiver.
package otlpreceiver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	collectortrace "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// SpanReceiver stores received spans. Export may call it concurrently.
type SpanReceiver interface {
	ReceiveSpans(ctx context.Context, spans []*tracepb.ResourceSpans) error
}

// Config holds configuration for the OTLP receiver.
type Config struct {
	Host string // e.g., "127.0.0.1"
	Port int    // 0 for ephemeral port assignment

	Logger *slog.Logger
}

// Server is the OTLP gRPC trace endpoint.
type Server struct {
	listener   net.Listener
	grpcServer *grpc.Server
	logger     *slog.Logger

	spansReceived atomic.Uint64
	exports       atomic.Uint64

	stopOnce sync.Once
}

// NewServer binds the listener and registers the trace service. Nothing is
// served until Run.
func NewServer(cfg Config, receiver SpanReceiver) (*Server, error) {
	if receiver == nil {
		return nil, fmt.Errorf("span receiver cannot be nil")
	}

	addr := net.JoinHostPort(cfg.Host, fmt.Sprint(cfg.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		listener:   listener,
		grpcServer: grpc.NewServer(),
		logger:     logger,
	}
	collectortrace.RegisterTraceServiceServer(s.grpcServer, &traceService{server: s, receiver: receiver})
	return s, nil
}

// Run serves until ctx is cancelled or Stop is called. A graceful stop is not
// an error.
func (s *Server) Run(ctx context.Context) error {
	stopped := make(chan struct{})
	defer close(stopped)
	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-stopped:
		}
	}()

	s.logger.Info("📡 OTLP receiver listening", "endpoint", s.Endpoint())
	err := s.grpcServer.Serve(s.listener)
	if errors.Is(err, grpc.ErrServerStopped) {
		return nil
	}
	return err
}

// Stop gracefully shuts the server down. Safe to call multiple times.
func (s *Server) Stop() {
	s.stopOnce.Do(s.grpcServer.GracefulStop)
}

// Endpoint returns the actual listening address, e.g. "127.0.0.1:54321".
func (s *Server) Endpoint() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stats counts accepted exports and spans.
type Stats struct {
	Exports uint64 `json:"exports"`
	Spans   uint64 `json:"spans"`
}

// Stats returns counters since the server was created.
func (s *Server) Stats() Stats {
	return Stats{Exports: s.exports.Load(), Spans: s.spansReceived.Load()}
}

type traceService struct {
	collectortrace.UnimplementedTraceServiceServer
	server   *Server
	receiver SpanReceiver
}

// Export passes the request's resource spans through unchanged.
func (t *traceService) Export(ctx context.Context, req *collectortrace.ExportTraceServiceRequest) (*collectortrace.ExportTraceServiceResponse, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request cannot be nil")
	}

	if err := t.receiver.ReceiveSpans(ctx, req.ResourceSpans); err != nil {
		t.server.logger.Warn("failed to store exported spans", "error", err)
		return nil, status.Errorf(codes.Unavailable, "failed to receive spans: %v", err)
	}

	n := countSpans(req.ResourceSpans)
	t.server.exports.Add(1)
	t.server.spansReceived.Add(uint64(n))
	t.server.logger.Debug("export received", "spans", n)
	return &collectortrace.ExportTraceServiceResponse{}, nil
}

func countSpans(rss []*tracepb.ResourceSpans) int {
	n := 0
	for _, rs := range rss {
		for _, ss := range rs.ScopeSpans {
			n += len(ss.Spans)
		}
	}
	return n
}
