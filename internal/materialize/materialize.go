// Package materialize writes a manifest to disk in bounded-parallel chunks.
package materialize

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/splax/sitedeploy/internal/domain"
)

const (
	// DefaultChunkSize bounds how many files are written at once.
	DefaultChunkSize = 8
	// DefaultStreamThreshold is the content size above which writes are streamed.
	DefaultStreamThreshold = 512 << 10

	// DownloadFailedPlaceholder replaces the body of an image that could not be fetched.
	DownloadFailedPlaceholder = "<!-- Image download failed -->"

	streamBlockSize = 32 << 10
	dirPerm         = 0o755
	filePerm        = 0o644
)

// ErrUnsafePath indicates a manifest entry whose path would escape the target root.
var ErrUnsafePath = errors.New("manifest path escapes target root")

// Source produces the bytes of generated and literal entries.
type Source interface {
	Content(ctx context.Context, item domain.FileDescriptor) ([]byte, error)
}

// Fetcher retrieves remote assets for download entries.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (io.ReadCloser, error)
}

// ProgressFunc is invoked after every chunk with the number of items written so far.
type ProgressFunc func(processed, total int)

// Result summarises a completed materialization.
type Result struct {
	ItemCount    int
	BytesWritten int64
}

// Option customises a Materializer.
type Option func(*Materializer)

// WithChunkSize overrides the chunk size. Non-positive values are ignored.
func WithChunkSize(n int) Option {
	return func(m *Materializer) {
		if n > 0 {
			m.chunkSize = n
		}
	}
}

// WithStreamThreshold overrides the streaming threshold. Non-positive values are ignored.
func WithStreamThreshold(n int) Option {
	return func(m *Materializer) {
		if n > 0 {
			m.streamThreshold = n
		}
	}
}

// Materializer writes manifests beneath a target root.
type Materializer struct {
	fetcher         Fetcher
	logger          *slog.Logger
	chunkSize       int
	streamThreshold int
}

// New constructs a Materializer that downloads remote assets through fetcher.
func New(fetcher Fetcher, logger *slog.Logger, opts ...Option) *Materializer {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Materializer{
		fetcher:         fetcher,
		logger:          logger.With("component", "materialize"),
		chunkSize:       DefaultChunkSize,
		streamThreshold: DefaultStreamThreshold,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Materialize creates every directory the manifest needs, then writes the items in
// order-preserving chunks. onProgress fires once with zero processed items after the
// directories exist and again after every chunk. The first fatal error aborts the remaining chunks and leaves
// whatever was already written in place.
func (m *Materializer) Materialize(ctx context.Context, items []domain.FileDescriptor, root string, src Source, onProgress ProgressFunc) (Result, error) {
	if strings.TrimSpace(root) == "" {
		return Result{}, errors.New("materialize: target root required")
	}
	for _, item := range items {
		if err := checkPath(item.Path); err != nil {
			return Result{}, err
		}
	}
	if err := m.createDirectories(ctx, root, items); err != nil {
		return Result{}, err
	}
	if onProgress != nil {
		onProgress(0, len(items))
	}

	var written atomic.Int64
	total := len(items)
	processed := 0
	for start := 0; start < total; start += m.chunkSize {
		end := min(start+m.chunkSize, total)
		chunk := items[start:end]

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(m.chunkSize)
		for _, item := range chunk {
			item := item
			g.Go(func() error {
				n, err := m.writeItem(gctx, root, item, src)
				if err != nil {
					return fmt.Errorf("write %s: %w", item.Path, err)
				}
				written.Add(n)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return Result{ItemCount: processed, BytesWritten: written.Load()}, err
		}
		processed += len(chunk)
		if onProgress != nil {
			onProgress(processed, total)
		}
	}
	return Result{ItemCount: total, BytesWritten: written.Load()}, nil
}

// Directories returns the unique directories that must exist beneath root for items,
// root included, sorted so parents precede children.
func Directories(root string, items []domain.FileDescriptor) []string {
	seen := map[string]struct{}{root: {}}
	for _, item := range items {
		dir := path.Dir(item.Path)
		for dir != "." && dir != "/" {
			seen[filepath.Join(root, filepath.FromSlash(dir))] = struct{}{}
			dir = path.Dir(dir)
		}
	}
	dirs := make([]string, 0, len(seen))
	for dir := range seen {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)
	return dirs
}

func (m *Materializer) createDirectories(ctx context.Context, root string, items []domain.FileDescriptor) error {
	g, _ := errgroup.WithContext(ctx)
	for _, dir := range Directories(root, items) {
		dir := dir
		g.Go(func() error {
			if err := os.MkdirAll(dir, dirPerm); err != nil {
				return fmt.Errorf("create directory %s: %w", dir, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (m *Materializer) writeItem(ctx context.Context, root string, item domain.FileDescriptor, src Source) (int64, error) {
	dest := filepath.Join(root, filepath.FromSlash(item.Path))
	switch item.Kind {
	case domain.SourceCopy:
		return copyFile(item.Ref, dest)
	case domain.SourceDownload:
		return m.download(ctx, item, dest)
	case domain.SourceGenerated, domain.SourceLiteral:
		if src == nil {
			return 0, errors.New("no content source")
		}
		body, err := src.Content(ctx, item)
		if err != nil {
			return 0, err
		}
		if len(body) > m.streamThreshold {
			return writeStreamed(dest, body)
		}
		return writeBuffered(dest, body)
	default:
		return 0, fmt.Errorf("unknown source kind %q", item.Kind)
	}
}

func (m *Materializer) download(ctx context.Context, item domain.FileDescriptor, dest string) (int64, error) {
	n, err := m.fetchTo(ctx, item.Ref, dest)
	if err == nil {
		return n, nil
	}
	m.logger.Warn("asset download failed, writing placeholder", "url", item.Ref, "path", item.Path, "error", err)
	return writeBuffered(dest, []byte(DownloadFailedPlaceholder))
}

func (m *Materializer) fetchTo(ctx context.Context, url, dest string) (int64, error) {
	if m.fetcher == nil {
		return 0, errors.New("no fetcher configured")
	}
	body, err := m.fetcher.Fetch(ctx, url)
	if err != nil {
		return 0, err
	}
	defer body.Close()
	f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, filePerm)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(f, body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return n, err
}

func copyFile(srcPath, dest string) (int64, error) {
	in, err := os.Open(srcPath)
	if err != nil {
		return 0, err
	}
	defer in.Close()
	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, filePerm)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(out, in)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	return n, err
}

func writeBuffered(dest string, body []byte) (int64, error) {
	if err := os.WriteFile(dest, body, filePerm); err != nil {
		return 0, err
	}
	return int64(len(body)), nil
}

// writeStreamed pushes body through a pipe in fixed blocks so the file side only
// ever holds one buffered block.
func writeStreamed(dest string, body []byte) (int64, error) {
	pr, pw := io.Pipe()
	go func() {
		for off := 0; off < len(body); off += streamBlockSize {
			end := min(off+streamBlockSize, len(body))
			if _, err := pw.Write(body[off:end]); err != nil {
				pw.CloseWithError(err)
				return
			}
		}
		pw.Close()
	}()

	f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, filePerm)
	if err != nil {
		pr.CloseWithError(err)
		return 0, err
	}
	w := bufio.NewWriterSize(f, streamBlockSize)
	n, err := io.Copy(w, pr)
	if err == nil {
		err = w.Flush()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		pr.CloseWithError(err)
	}
	return n, err
}

func checkPath(rel string) error {
	if rel == "" || strings.HasPrefix(rel, "/") || filepath.IsAbs(rel) {
		return fmt.Errorf("%w: %q", ErrUnsafePath, rel)
	}
	for _, seg := range strings.Split(rel, "/") {
		if seg == ".." {
			return fmt.Errorf("%w: %q", ErrUnsafePath, rel)
		}
	}
	return nil
}
