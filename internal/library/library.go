package library

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
	"github.com/italolelis/downloadhub/internal/download"
	"github.com/italolelis/downloadhub/internal/logctx"
	"github.com/italolelis/downloadhub/internal/storage"
	"golang.org/x/sync/errgroup"
)

const (
	defaultContentType = "application/octet-stream"
	scanConcurrency    = 4
)

// PathTraversalError is returned for paths that resolve outside the library root.
type PathTraversalError struct {
	Path string
}

func (e *PathTraversalError) Error() string {
	return fmt.Sprintf("path %q is outside the library root", e.Path)
}

// Service indexes files below the download directory.
type Service struct {
	root string
	// realRoot is root with symlinks resolved. Containment is checked against both.
	realRoot string
	repo     storage.LibraryRepository
}

// NewService creates a library rooted at root.
func NewService(root string, repo storage.LibraryRepository) (*Service, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve library root: %w", err)
	}

	realRoot, err := filepath.EvalSymlinks(abs)
	if err != nil {
		realRoot = abs
	}

	return &Service{root: abs, realRoot: realRoot, repo: repo}, nil
}

// Root returns the absolute library root.
func (s *Service) Root() string {
	return s.root
}

// Register indexes the file at path, which must live below the root. Registering a known path
// returns the stored entry.
func (s *Service) Register(ctx context.Context, path, downloadID string) (*storage.LibraryFile, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path: %w", err)
	}

	rel, err := s.relative(abs)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", rel, err)
	}

	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%s is not a regular file", rel)
	}

	stored, created, err := s.repo.Create(ctx, &storage.LibraryFile{
		Name:        filepath.Base(abs),
		Path:        rel,
		SizeBytes:   info.Size(),
		ContentType: contentType(abs),
		DownloadID:  downloadID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store library file: %w", err)
	}

	if created {
		logctx.LoggerFromContext(ctx).Info("added file to library",
			"path", rel, "size", humanize.Bytes(uint64(info.Size())), "content_type", stored.ContentType)
	}

	return stored, nil
}

// Scan walks the root and registers every regular file not yet indexed. Failures for single
// files are logged and skipped. It returns how many files were added.
func (s *Service) Scan(ctx context.Context) (int, error) {
	logger := logctx.LoggerFromContext(ctx).With("root", s.root)

	if _, err := os.Stat(s.root); errors.Is(err, fs.ErrNotExist) {
		logger.Warn("download directory does not exist, skipping scan")

		return 0, nil
	}

	known, err := s.repo.Paths(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load library paths: %w", err)
	}

	var pending []string

	err = filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			logger.Warn("skipping unreadable path", "path", path, "err", err)

			if d != nil && d.IsDir() {
				return fs.SkipDir
			}

			return nil
		}

		if !d.Type().IsRegular() {
			return nil
		}

		rel, err := s.relative(path)
		if err != nil {
			return nil
		}

		if _, ok := known[rel]; !ok {
			pending = append(pending, path)
		}

		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to walk download directory: %w", err)
	}

	var added atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(scanConcurrency)

	for _, path := range pending {
		g.Go(func() error {
			if _, err := s.Register(gctx, path, ""); err != nil {
				logger.Error("failed to add file to library", "path", path, "err", err)

				return nil
			}

			added.Add(1)

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return int(added.Load()), err
	}

	logger.Info("download directory scan complete", "added", added.Load(), "known", len(known))

	return int(added.Load()), nil
}

func (s *Service) Get(ctx context.Context, id string) (*storage.LibraryFile, error) {
	f, err := s.repo.Get(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, &download.NotFoundError{Resource: "library file", ID: id, Err: err}
	}

	return f, err
}

func (s *Service) List(ctx context.Context, opts storage.ListOptions) ([]storage.LibraryFile, int, error) {
	return s.repo.List(ctx, opts)
}

// Resolve returns the absolute path of f, refusing anything outside the root. Symlinks are
// followed, so a link below the root that points elsewhere is refused too.
func (s *Service) Resolve(f *storage.LibraryFile) (string, error) {
	abs := filepath.Join(s.root, filepath.FromSlash(f.Path))

	if _, err := s.relative(abs); err != nil {
		return "", err
	}

	return abs, nil
}

// relative returns the slash separated path of abs below the root. The path must stay below
// the root both as written and with its symlinks resolved.
func (s *Service) relative(abs string) (string, error) {
	rel, ok := within(s.root, abs)
	if !ok {
		return "", &PathTraversalError{Path: abs}
	}

	resolved, err := filepath.EvalSymlinks(abs)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		// nothing on disk to follow; callers fail on stat or open
	case err != nil:
		return "", fmt.Errorf("failed to resolve %s: %w", rel, err)
	default:
		if _, ok := within(s.realRoot, resolved); !ok {
			return "", &PathTraversalError{Path: abs}
		}
	}

	return filepath.ToSlash(rel), nil
}

func within(root, path string) (string, bool) {
	rel, err := filepath.Rel(root, filepath.Clean(path))
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return "", false
	}

	return rel, true
}

func contentType(path string) string {
	if mt, err := mimetype.DetectFile(path); err == nil && !mt.Is(defaultContentType) {
		return mt.String()
	}

	if byExt := mime.TypeByExtension(filepath.Ext(path)); byExt != "" {
		return byExt
	}

	return defaultContentType
}
