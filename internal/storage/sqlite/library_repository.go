package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/italolelis/downloadhub/internal/storage"
)

const libraryColumns = `id, name, path, size_bytes, content_type, download_id, created_at`

type LibraryRepository struct {
	db *sql.DB
}

func NewLibraryRepository(dbConn *sql.DB) *LibraryRepository {
	return &LibraryRepository{db: dbConn}
}

var _ storage.LibraryRepository = (*LibraryRepository)(nil)

func (r *LibraryRepository) Create(ctx context.Context, f *storage.LibraryFile) (*storage.LibraryFile, bool, error) {
	entry := *f
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	res, err := r.db.ExecContext(ctx, `
INSERT INTO library_files (id, name, path, size_bytes, content_type, download_id, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(path) DO NOTHING`,
		entry.ID,
		entry.Name,
		entry.Path,
		entry.SizeBytes,
		entry.ContentType,
		nullString(entry.DownloadID),
		entry.CreatedAt,
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert library file: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("failed to read affected rows: %w", err)
	}

	if affected > 0 {
		return &entry, true, nil
	}

	existing, err := scanLibraryFile(r.db.QueryRowContext(ctx,
		`SELECT `+libraryColumns+` FROM library_files WHERE path = ?`, entry.Path))
	if err != nil {
		return nil, false, fmt.Errorf("failed to load existing library file: %w", err)
	}

	return existing, false, nil
}

func (r *LibraryRepository) Get(ctx context.Context, id string) (*storage.LibraryFile, error) {
	f, err := scanLibraryFile(r.db.QueryRowContext(ctx, `SELECT `+libraryColumns+` FROM library_files WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get library file: %w", err)
	}

	return f, nil
}

// List returns a page of library files, newest first. Query matches names as a substring.
func (r *LibraryRepository) List(ctx context.Context, opts storage.ListOptions) ([]storage.LibraryFile, int, error) {
	opts = opts.Normalize()

	where := ""
	args := []any{}

	if q := strings.TrimSpace(opts.Query); q != "" {
		where = ` WHERE name LIKE ? ESCAPE '\'`
		args = append(args, "%"+escapeLike(q)+"%")
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM library_files`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count library files: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+libraryColumns+` FROM library_files`+where+` ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`,
		append(args, opts.PageSize, opts.Offset())...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query library files: %w", err)
	}
	defer rows.Close()

	files := []storage.LibraryFile{}

	for rows.Next() {
		f, err := scanLibraryFile(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan library file: %w", err)
		}

		files = append(files, *f)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate library files: %w", err)
	}

	return files, total, nil
}

// Paths returns the set of known relative paths.
func (r *LibraryRepository) Paths(ctx context.Context) (map[string]struct{}, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT path FROM library_files`)
	if err != nil {
		return nil, fmt.Errorf("failed to query library paths: %w", err)
	}
	defer rows.Close()

	paths := make(map[string]struct{})

	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("failed to scan library path: %w", err)
		}

		paths[p] = struct{}{}
	}

	return paths, rows.Err()
}

func scanLibraryFile(s scanner) (*storage.LibraryFile, error) {
	var (
		f          storage.LibraryFile
		downloadID sql.NullString
	)

	if err := s.Scan(&f.ID, &f.Name, &f.Path, &f.SizeBytes, &f.ContentType, &downloadID, &f.CreatedAt); err != nil {
		return nil, err
	}

	f.DownloadID = downloadID.String

	return &f, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
