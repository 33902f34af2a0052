// Package scan walks a jar, and every jar nested inside it, reporting the
// enum classes it finds.
package scan

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/BadgerOps/jarenums/internal/classfile"
	"github.com/BadgerOps/jarenums/internal/filter"
	"github.com/BadgerOps/jarenums/internal/report"
	"github.com/BadgerOps/jarenums/internal/safety"
	"github.com/klauspost/compress/zip"
)

const (
	classSuffix   = ".class"
	archiveSuffix = ".jar"

	defaultMaxEntrySize = 512 * 1000 * 1000
)

// Options describes the archive layout and classfile marker.
type Options struct {
	// ClassesRoot is stripped from root-archive entry names before they are
	// classified and filtered.
	ClassesRoot string
	// ClasspathIndex names the root entry that switches on ordered traversal.
	ClasspathIndex string
	// Marker is the annotation descriptor reported as avro_generated.
	Marker string
	// MaxEntrySize bounds the decompressed size of any single entry.
	MaxEntrySize int64
}

// DefaultOptions matches the Spring Boot executable jar layout.
func DefaultOptions() Options {
	return Options{
		ClassesRoot:    "BOOT-INF/classes/",
		ClasspathIndex: "BOOT-INF/classpath.idx",
		Marker:         classfile.AvroGenerated,
		MaxEntrySize:   defaultMaxEntrySize,
	}
}

// Stats counts the work done by the last scan.
type Stats struct {
	Archives  int   `json:"archives"`
	Entries   int   `json:"entries"`
	Classes   int   `json:"classes"`
	Enums     int   `json:"enums"`
	BytesRead int64 `json:"bytes_read"`
}

// Scanner runs scans. It is not safe for concurrent use; create one per
// goroutine.
type Scanner struct {
	opts   Options
	filter filter.Evaluator
	logger *slog.Logger
	stats  Stats
}

// New creates a Scanner. A nil evaluator accepts every class.
func New(opts Options, ev filter.Evaluator, logger *slog.Logger) *Scanner {
	if opts.MaxEntrySize <= 0 {
		opts.MaxEntrySize = defaultMaxEntrySize
	}
	if opts.Marker == "" {
		opts.Marker = classfile.AvroGenerated
	}
	if ev == nil {
		ev = filter.AcceptAll{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{
		opts:   opts,
		filter: ev,
		logger: logger,
	}
}

// Stats returns the counters of the most recent ScanFile or Scan call.
func (s *Scanner) Stats() Stats {
	return s.stats
}

// ScanFile opens the jar at path and scans it.
func (s *Scanner) ScanFile(ctx context.Context, path string) (*report.Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening archive: %w", err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat archive: %w", err)
	}
	return s.Scan(ctx, f, fi.Size())
}

// ScanBytes scans an in-memory jar.
func (s *Scanner) ScanBytes(ctx context.Context, data []byte) (*report.Report, error) {
	return s.Scan(ctx, bytes.NewReader(data), int64(len(data)))
}

// Scan treats r as the root archive and returns the finished report. No
// report is returned when any fatal error occurs.
func (s *Scanner) Scan(ctx context.Context, r io.ReaderAt, size int64) (*report.Report, error) {
	s.stats = Stats{}
	agg := report.NewAggregator(s.logger)
	if err := s.Traverse(ctx, r, size, report.Root, agg); err != nil {
		return nil, err
	}
	s.logger.Debug("scan finished",
		"archives", s.stats.Archives,
		"classes", s.stats.Classes,
		"enums", agg.Len(),
	)
	return agg.Report(), nil
}

// Traverse walks one archive level, recursing into nested jars with their
// entry name as source.
func (s *Scanner) Traverse(ctx context.Context, r io.ReaderAt, size int64, src report.Source, agg *report.Aggregator) error {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return fmt.Errorf("opening archive %s: %w", src, err)
	}
	s.stats.Archives++

	files, err := s.plan(zr, src)
	if err != nil {
		return err
	}

	for _, f := range files {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := s.visit(ctx, f, src, agg); err != nil {
			return err
		}
	}
	return nil
}

// plan returns the entries of zr in processing order.
func (s *Scanner) plan(zr *zip.Reader, src report.Source) ([]*zip.File, error) {
	if !src.IsRoot() || s.opts.ClasspathIndex == "" {
		return zr.File, nil
	}

	byName := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		if _, dup := byName[f.Name]; !dup {
			byName[f.Name] = f
		}
	}
	idx, ok := byName[s.opts.ClasspathIndex]
	if !ok {
		return zr.File, nil
	}

	data, err := s.read(idx)
	if err != nil {
		return nil, fmt.Errorf("reading classpath index %s: %w", idx.Name, err)
	}
	listed, err := ParseClasspathIndex(data)
	if err != nil {
		return nil, fmt.Errorf("classpath index %s: %w", idx.Name, err)
	}
	s.logger.Debug("classpath index found, using ordered traversal",
		"index", idx.Name,
		"listed", len(listed),
	)

	var ordered []*zip.File
	for _, f := range zr.File {
		if strings.HasPrefix(f.Name, s.opts.ClassesRoot) {
			ordered = append(ordered, f)
		}
	}
	for _, name := range listed {
		f, ok := byName[name]
		if !ok {
			s.logger.Warn("classpath index entry not found in archive, skipping", "entry", name)
			continue
		}
		ordered = append(ordered, f)
	}
	return ordered, nil
}

func (s *Scanner) visit(ctx context.Context, f *zip.File, src report.Source, agg *report.Aggregator) error {
	if f.FileInfo().IsDir() || strings.HasSuffix(f.Name, "/") {
		return nil
	}
	s.stats.Entries++

	name := s.normalize(f.Name, src)
	switch {
	case strings.HasSuffix(name, classSuffix):
		accepted, err := s.filter.Accepts(name)
		if err != nil {
			return fmt.Errorf("filtering %s in %s: %w", f.Name, src, err)
		}
		if !accepted {
			return nil
		}
		data, err := s.read(f)
		if err != nil {
			return fmt.Errorf("reading %s in %s: %w", f.Name, src, err)
		}
		s.stats.Classes++
		info, err := classfile.ExtractEnum(data, s.opts.Marker)
		if err != nil {
			return fmt.Errorf("parsing %s in %s: %w", f.Name, src, err)
		}
		if info != nil {
			s.stats.Enums++
			agg.Record(*info, src)
		}

	case strings.HasSuffix(name, archiveSuffix):
		data, err := s.read(f)
		if err != nil {
			return fmt.Errorf("reading %s in %s: %w", f.Name, src, err)
		}
		s.logger.Debug("entering nested archive", "archive", f.Name, "parent", src.String(), "size", len(data))
		return s.Traverse(ctx, bytes.NewReader(data), int64(len(data)), report.Nested(f.Name), agg)
	}
	return nil
}

// normalize turns an entry name into the slash-separated name used for
// classification and filtering. Root entries lose the classes-root prefix.
func (s *Scanner) normalize(name string, src report.Source) string {
	name = strings.ReplaceAll(name, `\`, "/")
	if src.IsRoot() && s.opts.ClassesRoot != "" {
		name = strings.TrimPrefix(name, s.opts.ClassesRoot)
	}
	return name
}

func (s *Scanner) read(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := safety.ReadAllWithLimit(rc, s.opts.MaxEntrySize)
	if err != nil {
		return nil, err
	}
	s.stats.BytesRead += int64(len(data))
	return data, nil
}
