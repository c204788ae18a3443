package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/use-agent/cssprobe/models"
)

// ErrOutsideRoot is returned for file pages outside FileOptions.Root.
var ErrOutsideRoot = errors.New("path outside allowed root")

// FileOptions configures the FileEngine.
type FileOptions struct {
	// Root, when set, confines reads to files under this directory.
	Root string

	// MaxBytes caps how much of a file is read. Default: 10 MB.
	MaxBytes int64
}

// FileEngine reads pages from local disk. Only regular files are read, so
// devices and FIFOs are rejected before they can block or stream forever.
type FileEngine struct {
	opts FileOptions
}

func NewFileEngine(opts FileOptions) *FileEngine {
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = 10 * 1024 * 1024
	}
	return &FileEngine{opts: opts}
}

func (e *FileEngine) Name() string { return "file" }

func (e *FileEngine) Kind() models.PageKind { return models.KindFile }

func (e *FileEngine) Fetch(ctx context.Context, req *FetchRequest) (*FetchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := e.resolve(req.Page.Value)
	if err != nil {
		return nil, fmt.Errorf("file_engine: %w", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("file_engine: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("file_engine: %s is not a regular file", path)
	}

	type readResult struct {
		data []byte
		err  error
	}
	done := make(chan readResult, 1)
	go func() {
		data, err := e.read(path)
		done <- readResult{data, err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("file_engine: %s: %w", path, ctx.Err())
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("file_engine: %w", r.err)
		}
		return &FetchResult{
			HTML:       string(r.data),
			FinalURL:   req.Page.Value,
			EngineName: e.Name(),
		}, nil
	}
}

func (e *FileEngine) read(path string) ([]byte, error) {
	f, err := os.Open(path) //nolint:gosec // path checked against Root
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(io.LimitReader(f, e.opts.MaxBytes))
}

// resolve returns the cleaned path, checking it against Root with symlinks
// evaluated.
func (e *FileEngine) resolve(raw string) (string, error) {
	if e.opts.Root == "" {
		return raw, nil
	}
	root, err := filepath.EvalSymlinks(e.opts.Root)
	if err != nil {
		return "", fmt.Errorf("root: %w", err)
	}
	root, err = filepath.Abs(root)
	if err != nil {
		return "", err
	}

	path := raw
	if !filepath.IsAbs(path) {
		path = filepath.Join(root, path)
	}
	path, err = filepath.EvalSymlinks(path)
	if err != nil {
		return "", err
	}
	path, err = filepath.Abs(path)
	if err != nil {
		return "", err
	}

	rel, err := filepath.Rel(root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s: %w", raw, ErrOutsideRoot)
	}
	return path, nil
}

// InlineEngine returns literal HTML as-is.
type InlineEngine struct{}

func NewInlineEngine() *InlineEngine { return &InlineEngine{} }

func (e *InlineEngine) Name() string { return "inline" }

func (e *InlineEngine) Kind() models.PageKind { return models.KindInline }

func (e *InlineEngine) Fetch(_ context.Context, req *FetchRequest) (*FetchResult, error) {
	return &FetchResult{HTML: req.Page.Value, EngineName: e.Name()}, nil
}
