package sqlite

import (
	"context"
	"database/sql"

	"github.com/italolelis/downloadhub/internal/download"
	"github.com/italolelis/downloadhub/internal/storage"
	"github.com/italolelis/downloadhub/internal/telemetry"
)

// InstrumentedDownloadRepository wraps DownloadRepository with telemetry.
type InstrumentedDownloadRepository struct {
	repo      *DownloadRepository
	telemetry *telemetry.Telemetry
}

// NewInstrumentedDownloadRepository creates a new instrumented download repository.
func NewInstrumentedDownloadRepository(dbConn *sql.DB, tel *telemetry.Telemetry) *InstrumentedDownloadRepository {
	return &InstrumentedDownloadRepository{
		repo:      NewDownloadRepository(dbConn),
		telemetry: tel,
	}
}

var _ storage.DownloadRepository = (*InstrumentedDownloadRepository)(nil)

func (r *InstrumentedDownloadRepository) Create(ctx context.Context, d *download.Download) error {
	return r.telemetry.InstrumentDBOperation(ctx, "create_download", func(ctx context.Context) error {
		return r.repo.Create(ctx, d)
	})
}

func (r *InstrumentedDownloadRepository) Get(ctx context.Context, id string) (*download.Download, error) {
	var result *download.Download

	err := r.telemetry.InstrumentDBOperation(ctx, "get_download", func(ctx context.Context) error {
		var err error
		result, err = r.repo.Get(ctx, id)

		return err
	})

	return result, err
}

func (r *InstrumentedDownloadRepository) List(ctx context.Context, opts storage.ListOptions) ([]download.Download, int, error) {
	var (
		result []download.Download
		total  int
	)

	err := r.telemetry.InstrumentDBOperation(ctx, "list_downloads", func(ctx context.Context) error {
		var err error
		result, total, err = r.repo.List(ctx, opts)

		return err
	})

	return result, total, err
}

func (r *InstrumentedDownloadRepository) ListActive(ctx context.Context) ([]download.Download, error) {
	var result []download.Download

	err := r.telemetry.InstrumentDBOperation(ctx, "list_active_downloads", func(ctx context.Context) error {
		var err error
		result, err = r.repo.ListActive(ctx)

		return err
	})

	return result, err
}

func (r *InstrumentedDownloadRepository) UpdateStatus(ctx context.Context, id string, status download.Status, errorMessage string) (bool, error) {
	var applied bool

	err := r.telemetry.InstrumentDBOperation(ctx, "update_status", func(ctx context.Context) error {
		var err error
		applied, err = r.repo.UpdateStatus(ctx, id, status, errorMessage)

		return err
	})

	return applied, err
}

func (r *InstrumentedDownloadRepository) UpdateProgress(ctx context.Context, id string, u storage.ProgressUpdate) (int, bool, error) {
	var (
		progress int
		applied  bool
	)

	err := r.telemetry.InstrumentDBOperation(ctx, "update_progress", func(ctx context.Context) error {
		var err error
		progress, applied, err = r.repo.UpdateProgress(ctx, id, u)

		return err
	})

	return progress, applied, err
}

func (r *InstrumentedDownloadRepository) SetHandle(ctx context.Context, id, handle string) (bool, error) {
	var applied bool

	err := r.telemetry.InstrumentDBOperation(ctx, "set_handle", func(ctx context.Context) error {
		var err error
		applied, err = r.repo.SetHandle(ctx, id, handle)

		return err
	})

	return applied, err
}

func (r *InstrumentedDownloadRepository) SetMagnet(ctx context.Context, id, uri string) error {
	return r.telemetry.InstrumentDBOperation(ctx, "set_magnet", func(ctx context.Context) error {
		return r.repo.SetMagnet(ctx, id, uri)
	})
}

func (r *InstrumentedDownloadRepository) SetSavePath(ctx context.Context, id, path string) error {
	return r.telemetry.InstrumentDBOperation(ctx, "set_save_path", func(ctx context.Context) error {
		return r.repo.SetSavePath(ctx, id, path)
	})
}

// InstrumentedLibraryRepository wraps LibraryRepository with telemetry.
type InstrumentedLibraryRepository struct {
	repo      *LibraryRepository
	telemetry *telemetry.Telemetry
}

func NewInstrumentedLibraryRepository(dbConn *sql.DB, tel *telemetry.Telemetry) *InstrumentedLibraryRepository {
	return &InstrumentedLibraryRepository{
		repo:      NewLibraryRepository(dbConn),
		telemetry: tel,
	}
}

var _ storage.LibraryRepository = (*InstrumentedLibraryRepository)(nil)

func (r *InstrumentedLibraryRepository) Create(ctx context.Context, f *storage.LibraryFile) (*storage.LibraryFile, bool, error) {
	var (
		stored  *storage.LibraryFile
		created bool
	)

	err := r.telemetry.InstrumentDBOperation(ctx, "create_library_file", func(ctx context.Context) error {
		var err error
		stored, created, err = r.repo.Create(ctx, f)

		return err
	})

	return stored, created, err
}

func (r *InstrumentedLibraryRepository) Get(ctx context.Context, id string) (*storage.LibraryFile, error) {
	var result *storage.LibraryFile

	err := r.telemetry.InstrumentDBOperation(ctx, "get_library_file", func(ctx context.Context) error {
		var err error
		result, err = r.repo.Get(ctx, id)

		return err
	})

	return result, err
}

func (r *InstrumentedLibraryRepository) List(ctx context.Context, opts storage.ListOptions) ([]storage.LibraryFile, int, error) {
	var (
		result []storage.LibraryFile
		total  int
	)

	err := r.telemetry.InstrumentDBOperation(ctx, "list_library_files", func(ctx context.Context) error {
		var err error
		result, total, err = r.repo.List(ctx, opts)

		return err
	})

	return result, total, err
}

func (r *InstrumentedLibraryRepository) Paths(ctx context.Context) (map[string]struct{}, error) {
	var result map[string]struct{}

	err := r.telemetry.InstrumentDBOperation(ctx, "list_library_paths", func(ctx context.Context) error {
		var err error
		result, err = r.repo.Paths(ctx)

		return err
	})

	return result, err
}

// InstrumentedAuditRepository wraps AuditRepository with telemetry.
type InstrumentedAuditRepository struct {
	repo      *AuditRepository
	telemetry *telemetry.Telemetry
}

func NewInstrumentedAuditRepository(dbConn *sql.DB, tel *telemetry.Telemetry) *InstrumentedAuditRepository {
	return &InstrumentedAuditRepository{
		repo:      NewAuditRepository(dbConn),
		telemetry: tel,
	}
}

var _ storage.AuditRepository = (*InstrumentedAuditRepository)(nil)

func (r *InstrumentedAuditRepository) Create(ctx context.Context, e *storage.AuditEntry) error {
	return r.telemetry.InstrumentDBOperation(ctx, "create_audit_entry", func(ctx context.Context) error {
		return r.repo.Create(ctx, e)
	})
}

func (r *InstrumentedAuditRepository) List(ctx context.Context, opts storage.ListOptions) ([]storage.AuditEntry, int, error) {
	var (
		entries []storage.AuditEntry
		total   int
	)

	err := r.telemetry.InstrumentDBOperation(ctx, "list_audit_entries", func(ctx context.Context) error {
		var err error
		entries, total, err = r.repo.List(ctx, opts)

		return err
	})

	return entries, total, err
}
