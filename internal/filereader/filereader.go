// Package filereader loads OTLP traces from JSONL files written by the
// OpenTelemetry Collector's file exporter and keeps tailing them.
package filereader

import (
	"bufio"
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"
	"google.golang.org/protobuf/encoding/protojson"
)

const (
	// OTLP JSON lines can be large for batches with many attributes.
	jsonlBufferInitial = 1 * 1024 * 1024
	jsonlBufferMax     = 10 * 1024 * 1024

	// activeFileName is the file the collector appends to; rotated archives
	// get a timestamp suffix.
	activeFileName = "traces.jsonl"
)

// SpanReceiver accepts decoded spans. storage.TraceStorage implements it.
type SpanReceiver interface {
	ReceiveSpans(ctx context.Context, resourceSpans []*tracepb.ResourceSpans) error
}

// Config holds configuration for a FileSource.
type Config struct {
	// Directory is either a collector output root with a traces/
	// subdirectory or a directory of .jsonl files.
	Directory string

	// ActiveOnly loads traces.jsonl only, skipping rotated archives such as
	// traces-2025-12-09T13-10-56.jsonl.
	ActiveOnly bool

	// Watch keeps tailing files after the initial load.
	Watch bool

	Logger *slog.Logger
}

// FileSource feeds trace files into a SpanReceiver.
type FileSource struct {
	dir        string
	receiver   SpanReceiver
	activeOnly bool
	logger     *slog.Logger

	watcher *fsnotify.Watcher

	// Read positions, so appended data is read once.
	mu          sync.Mutex
	fileOffsets map[string]int64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a FileSource for cfg.Directory.
func New(cfg Config, receiver SpanReceiver) (*FileSource, error) {
	if cfg.Directory == "" {
		return nil, fmt.Errorf("directory is required")
	}
	if receiver == nil {
		return nil, fmt.Errorf("span receiver cannot be nil")
	}

	info, err := os.Stat(cfg.Directory)
	if err != nil {
		return nil, fmt.Errorf("cannot access directory %s: %w", cfg.Directory, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", cfg.Directory)
	}

	dir := cfg.Directory
	if sub := filepath.Join(dir, "traces"); isDir(sub) {
		dir = sub
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	src := &FileSource{
		dir:         dir,
		receiver:    receiver,
		activeOnly:  cfg.ActiveOnly,
		logger:      logger.With("source", dir),
		fileOffsets: make(map[string]int64),
	}
	if cfg.Watch {
		if src.watcher, err = fsnotify.NewWatcher(); err != nil {
			return nil, fmt.Errorf("failed to create file watcher: %w", err)
		}
	}
	return src, nil
}

// Start loads the existing files and, when watching, tails them in the
// background until ctx is cancelled or Stop is called.
func (s *FileSource) Start(ctx context.Context) error {
	if s.watcher != nil {
		if err := s.watcher.Add(s.dir); err != nil {
			return fmt.Errorf("failed to watch %s: %w", s.dir, err)
		}
	}

	total, err := s.Load(ctx)
	if err != nil {
		return fmt.Errorf("initial data load failed: %w", err)
	}
	s.logger.Info("📁 loaded trace files", "batches", total)

	if s.watcher == nil {
		return nil
	}
	watchCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)
	go s.watchLoop(watchCtx)
	return nil
}

// Stop ends tailing and waits for the watcher goroutine.
func (s *FileSource) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.watcher != nil {
		s.watcher.Close()
	}
	s.wg.Wait()
}

// Directory returns the directory holding the trace files.
func (s *FileSource) Directory() string {
	return s.dir
}

// Load reads every trace file once, oldest first, and returns the number of
// batches delivered.
func (s *FileSource) Load(ctx context.Context) (int, error) {
	files, err := s.findJSONLFiles()
	if err != nil {
		return 0, err
	}

	total := 0
	for _, file := range files {
		n, err := s.processFile(ctx, file)
		total += n
		if err != nil {
			if ctx.Err() != nil {
				return total, ctx.Err()
			}
			s.logger.Warn("error loading trace file", "file", file, "error", err)
		}
	}
	return total, nil
}

// findJSONLFiles returns trace files sorted by modification time.
func (s *FileSource) findJSONLFiles() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}

	type fileInfo struct {
		path    string
		modTime time.Time
	}
	var files []fileInfo
	for _, entry := range entries {
		if entry.IsDir() || !isJSONL(entry.Name()) {
			continue
		}
		if s.activeOnly && entry.Name() != activeFileName {
			s.logger.Debug("skipping archived file", "file", entry.Name())
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, fileInfo{path: filepath.Join(s.dir, entry.Name()), modTime: info.ModTime()})
	}

	slices.SortFunc(files, func(a, b fileInfo) int {
		return cmp.Or(a.modTime.Compare(b.modTime), cmp.Compare(a.path, b.path))
	})

	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.path
	}
	return paths, nil
}

// processFile reads path from its last known offset and delivers each
// TracesData line. Bad lines are logged and skipped.
func (s *FileSource) processFile(ctx context.Context, path string) (int, error) {
	s.mu.Lock()
	offset := s.fileOffsets[path]
	s.mu.Unlock()

	file, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer file.Close()

	if info, err := file.Stat(); err == nil && info.Size() < offset {
		// Truncated or replaced.
		offset = 0
	}
	if offset > 0 {
		if _, err := file.Seek(offset, io.SeekStart); err != nil {
			offset = 0
		}
	}

	reader := bufio.NewReaderSize(file, jsonlBufferInitial)
	count := 0
	for {
		if err := ctx.Err(); err != nil {
			return count, err
		}

		line, err := reader.ReadBytes('\n')
		if errors.Is(err, io.EOF) {
			// A partial last line is left for the next write event.
			break
		}
		if err != nil {
			return count, fmt.Errorf("reading %s: %w", path, err)
		}
		offset += int64(len(line))

		line = trimLine(line)
		if len(line) == 0 {
			continue
		}
		if len(line) > jsonlBufferMax {
			s.logger.Warn("skipping oversized line", "file", filepath.Base(path), "bytes", len(line))
			continue
		}

		var data tracepb.TracesData
		if err := protojson.Unmarshal(line, &data); err != nil {
			s.logger.Warn("error parsing trace line", "file", filepath.Base(path), "error", err)
			continue
		}
		if len(data.ResourceSpans) == 0 {
			continue
		}
		if err := s.receiver.ReceiveSpans(ctx, data.ResourceSpans); err != nil {
			return count, fmt.Errorf("failed to store spans from %s: %w", path, err)
		}
		count++
	}

	s.mu.Lock()
	s.fileOffsets[path] = offset
	s.mu.Unlock()
	return count, nil
}

func (s *FileSource) watchLoop(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 || !isJSONL(filepath.Base(event.Name)) {
				continue
			}
			if s.activeOnly && filepath.Base(event.Name) != activeFileName {
				continue
			}

			count, err := s.processFile(ctx, event.Name)
			if err != nil {
				s.logger.Warn("error reading trace file", "file", event.Name, "error", err)
			} else if count > 0 {
				s.logger.Debug("loaded new trace batches", "file", filepath.Base(event.Name), "batches", count)
			}

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("watcher error", "error", err)
		}
	}
}

// Stats describes a file source.
type Stats struct {
	Directory    string `json:"directory"`
	FilesTracked int    `json:"files_tracked"`
	Watching     bool   `json:"watching"`
}

// Stats returns current statistics.
func (s *FileSource) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Directory:    s.dir,
		FilesTracked: len(s.fileOffsets),
		Watching:     s.watcher != nil,
	}
}

func isJSONL(name string) bool {
	return strings.HasSuffix(name, ".jsonl") || strings.Contains(name, ".jsonl.")
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func trimLine(line []byte) []byte {
	for len(line) > 0 && (line[len(line)-1] == '\n' || line[len(line)-1] == '\r') {
		line = line[:len(line)-1]
	}
	return line
}
