// Package scanner discovers template and macro files and processes them on
// a pool of workers.
//
// Discovery walks the configured directories for files with the template
// extension, skipping hidden directories and excluded names. Scanning reads
// every file once, records its CRC32 checksum and hands the content to a
// callback; failures are gathered in an error collector instead of stopping
// the scan.
package scanner

import (
	"context"
	"fmt"
	"hash/crc32"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/conneroisu/weft/internal/errors"
	"github.com/conneroisu/weft/internal/logging"
)

// File is one discovered template file.
type File struct {
	Path     string
	ModTime  time.Time
	Size     int64
	Checksum string
}

// ScanFunc processes the content of one file.
type ScanFunc func(ctx context.Context, file File, src []byte) error

// Scanner finds and processes files with one extension.
type Scanner struct {
	extension string
	exclude   []string
	workers   int
	logger    logging.Logger
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithWorkers sets the number of concurrent workers.
func WithWorkers(n int) Option {
	return func(s *Scanner) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithExclude skips files whose base name matches one of patterns.
func WithExclude(patterns ...string) Option {
	return func(s *Scanner) { s.exclude = append(s.exclude, patterns...) }
}

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) Option {
	return func(s *Scanner) { s.logger = logger }
}

// New creates a scanner for files ending in extension.
func New(extension string, opts ...Option) *Scanner {
	workers := runtime.NumCPU()
	if workers > 8 {
		workers = 8 // Cap at 8 workers for diminishing returns
	}

	s := &Scanner{
		extension: extension,
		workers:   workers,
		logger:    logging.NopLogger{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithComponent("scanner")

	return s
}

// Discover walks roots and returns the matching files sorted by path.
// Roots that do not exist are skipped.
func (s *Scanner) Discover(ctx context.Context, roots ...string) ([]File, error) {
	seen := make(map[string]bool)
	var files []File

	for _, root := range roots {
		root = filepath.Clean(root)
		info, err := os.Stat(root)
		if os.IsNotExist(err) {
			s.logger.Debug(ctx, "Skipping missing directory", "path", root)

			continue
		}
		if err != nil {
			return nil, errors.WrapIO(err, errors.ErrCodeFileNotFound,
				fmt.Sprintf("reading %s", root))
		}
		if !info.IsDir() {
			if s.matches(root) && !seen[root] {
				seen[root] = true
				files = append(files, fileOf(root, info))
			}

			continue
		}

		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if d.IsDir() {
				if path != root && strings.HasPrefix(d.Name(), ".") {
					return filepath.SkipDir
				}

				return nil
			}
			if !s.matches(path) || seen[path] {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return err
			}
			seen[path] = true
			files = append(files, fileOf(path, info))

			return nil
		})
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}

			return nil, errors.WrapIO(err, errors.ErrCodeFileNotFound,
				fmt.Sprintf("walking %s", root))
		}
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })

	return files, nil
}

func (s *Scanner) matches(path string) bool {
	if filepath.Ext(path) != s.extension {
		return false
	}
	base := filepath.Base(path)
	for _, p := range s.exclude {
		if matched, _ := filepath.Match(p, base); matched {
			return false
		}
	}

	return true
}

func fileOf(path string, info fs.FileInfo) File {
	return File{Path: path, ModTime: info.ModTime(), Size: info.Size()}
}

// Scan reads every file on the worker pool and calls fn with its content.
// It returns the files with their checksums filled in, in input order,
// and the collected failures. Files not reached before ctx is done are
// reported as failures too.
func (s *Scanner) Scan(ctx context.Context, files []File, fn ScanFunc) ([]File, *errors.ErrorCollector) {
	collector := errors.NewErrorCollector()
	out := make([]File, len(files))
	copy(out, files)
	if len(files) == 0 {
		return out, collector
	}

	workers := s.workers
	if workers > len(files) {
		workers = len(files)
	}

	jobs := make(chan int, workers*2)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				out[i].Checksum = s.scanFile(ctx, out[i], fn, collector)
			}
		}()
	}

	for i := range out {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	s.logger.Debug(ctx, "Scan finished",
		"files", len(files),
		"workers", workers,
		"failed", len(collector.Entries()))

	return out, collector
}

// scanFile processes one file and returns its checksum.
func (s *Scanner) scanFile(ctx context.Context, file File, fn ScanFunc, collector *errors.ErrorCollector) string {
	if err := ctx.Err(); err != nil {
		collector.Add(file.Path, err)

		return ""
	}

	src, err := os.ReadFile(file.Path)
	if err != nil {
		collector.Add(file.Path, errors.WrapIO(err, errors.ErrCodeFileNotFound,
			fmt.Sprintf("reading %s", file.Path)))

		return ""
	}
	checksum := fmt.Sprintf("%08x", crc32.ChecksumIEEE(src))
	file.Checksum = checksum

	if err := fn(ctx, file, src); err != nil {
		collector.Add(file.Path, err)
	}

	return checksum
}
