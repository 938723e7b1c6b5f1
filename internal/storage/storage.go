package storage

import (
	"context"
	"errors"
	"time"

	"github.com/italolelis/downloadhub/internal/download"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// ListOptions selects a page of records. Status filters downloads, Query filters library files by name.
type ListOptions struct {
	Page     int
	PageSize int
	Status   download.Status
	Query    string
}

// Normalize clamps the page to >= 1 and the page size to [1, MaxPageSize].
func (o ListOptions) Normalize() ListOptions {
	if o.Page < 1 {
		o.Page = 1
	}

	switch {
	case o.PageSize < 1:
		o.PageSize = DefaultPageSize
	case o.PageSize > MaxPageSize:
		o.PageSize = MaxPageSize
	}

	return o
}

// Offset returns the number of rows to skip.
func (o ListOptions) Offset() int {
	return (o.Page - 1) * o.PageSize
}

// ProgressUpdate carries the volatile fields the reconciler copies from an engine job.
// A nil SizeBytes keeps the stored size.
type ProgressUpdate struct {
	Progress        int
	DownloadedBytes int64
	ETA             *int64
	SizeBytes       *int64
}

// LibraryFile is a downloaded file available for browsing and streaming.
// Path is relative to the download directory.
type LibraryFile struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Path        string    `json:"path"`
	SizeBytes   int64     `json:"sizeBytes"`
	ContentType string    `json:"contentType"`
	DownloadID  string    `json:"downloadId,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// AuditEntry records a user action. Details is a JSON object.
type AuditEntry struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Action    string    `json:"action"`
	Details   string    `json:"details"`
	IPAddress string    `json:"ipAddress"`
	CreatedAt time.Time `json:"createdAt"`
}

// DownloadRepository persists download records. Updates to rows in a terminal status are
// ignored and reported as not applied.
type DownloadRepository interface {
	Create(ctx context.Context, d *download.Download) error
	Get(ctx context.Context, id string) (*download.Download, error)
	List(ctx context.Context, opts ListOptions) ([]download.Download, int, error)
	ListActive(ctx context.Context) ([]download.Download, error)
	// UpdateStatus sets status and error message. It reports false when the row is terminal.
	UpdateStatus(ctx context.Context, id string, status download.Status, errorMessage string) (bool, error)
	// UpdateProgress returns the progress the row holds afterwards. It reports false when the
	// row is terminal.
	UpdateProgress(ctx context.Context, id string, u ProgressUpdate) (int, bool, error)
	// SetHandle stores the engine handle once; a second call reports false.
	SetHandle(ctx context.Context, id, handle string) (bool, error)
	SetMagnet(ctx context.Context, id, uri string) error
	SetSavePath(ctx context.Context, id, path string) error
}

// LibraryRepository persists library files, unique by relative path.
type LibraryRepository interface {
	// Create inserts f unless its path is known, in which case the stored entry is returned
	// and created is false.
	Create(ctx context.Context, f *LibraryFile) (stored *LibraryFile, created bool, err error)
	Get(ctx context.Context, id string) (*LibraryFile, error)
	List(ctx context.Context, opts ListOptions) ([]LibraryFile, int, error)
	Paths(ctx context.Context) (map[string]struct{}, error)
}

// AuditRepository is an append-only log of user actions.
type AuditRepository interface {
	Create(ctx context.Context, e *AuditEntry) error
	// List returns a page of entries, newest first.
	List(ctx context.Context, opts ListOptions) ([]AuditEntry, int, error)
}
