package source

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// TorrentPrefix marks a magnet value that is really a .torrent URL to hand to the engine as is.
const TorrentPrefix = "torrent:"

var (
	ErrUnknownSource  = errors.New("unknown source")
	ErrResultNotFound = errors.New("search result not found")
)

// Result is one search hit offered to the user for confirmation.
type Result struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	SizeBytes *int64 `json:"sizeBytes"`
	Seeds     *int   `json:"seeds"`
	Peers     *int   `json:"peers"`
	Provider  string `json:"provider"`
	Year      *int   `json:"year,omitempty"`
	Quality   string `json:"quality,omitempty"`
}

// Source searches a content catalogue and resolves results to magnet URIs.
type Source interface {
	Name() string
	Search(ctx context.Context, query string) ([]Result, error)
	Magnet(ctx context.Context, resultID string) (string, error)
}

// Detailer is implemented by sources that expose extra metadata for a result.
// The "title" key, when present, names the download.
type Detailer interface {
	Details(ctx context.Context, resultID string) (map[string]any, error)
}

// SplitMagnet strips TorrentPrefix and reports whether it was present.
func SplitMagnet(raw string) (uri string, isTorrentURL bool) {
	if rest, ok := strings.CutPrefix(raw, TorrentPrefix); ok {
		return rest, true
	}

	return raw, false
}

// Registry maps provider names to sources.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]Source
}

func NewRegistry(sources ...Source) *Registry {
	r := &Registry{sources: make(map[string]Source, len(sources))}

	for _, s := range sources {
		r.Register(s)
	}

	return r
}

// Register adds s, replacing any source with the same name. It reports whether one was replaced.
func (r *Registry) Register(s Source) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, replaced := r.sources[s.Name()]
	r.sources[s.Name()] = s

	return replaced
}

// Get returns the source registered under name.
func (r *Registry) Get(name string) (Source, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sources[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSource, name)
	}

	return s, nil
}

// Names returns the registered provider names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.sources))
	for name := range r.sources {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// Error is a failure reported by a content source.
type Error struct {
	Provider  string
	Operation string
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("source %s failed to %s: %v", e.Provider, e.Operation, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
