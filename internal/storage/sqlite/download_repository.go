package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/italolelis/downloadhub/internal/download"
	"github.com/italolelis/downloadhub/internal/storage"
)

const downloadColumns = `id, name, status, progress, eta, size_bytes, downloaded_bytes, save_path,
	provider, result_id, magnet_uri, error_message, engine_hash, created_at, updated_at`

// notTerminal is appended to every mutating statement so finished rows never change.
var notTerminal = func() string {
	quoted := make([]string, 0, len(download.TerminalStatuses))
	for _, s := range download.TerminalStatuses {
		quoted = append(quoted, "'"+string(s)+"'")
	}

	return "status NOT IN (" + strings.Join(quoted, ", ") + ")"
}()

type DownloadRepository struct {
	db *sql.DB
}

func NewDownloadRepository(dbConn *sql.DB) *DownloadRepository {
	return &DownloadRepository{db: dbConn}
}

var _ storage.DownloadRepository = (*DownloadRepository)(nil)

func (r *DownloadRepository) Create(ctx context.Context, d *download.Download) error {
	now := time.Now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}

	d.UpdatedAt = now

	if d.Status == "" {
		d.Status = download.StatusQueued
	}

	_, err := r.db.ExecContext(ctx, `
INSERT INTO downloads (id, name, status, progress, eta, size_bytes, downloaded_bytes, save_path,
	provider, result_id, magnet_uri, error_message, engine_hash, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID,
		d.Name,
		string(d.Status),
		d.Progress,
		nullInt64(d.ETA),
		nullInt64(d.SizeBytes),
		d.DownloadedBytes,
		d.SavePath,
		d.Provider,
		d.ResultID,
		d.MagnetURI,
		d.ErrorMessage,
		nullString(d.Handle),
		d.CreatedAt,
		d.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert download: %w", err)
	}

	return nil
}

func (r *DownloadRepository) Get(ctx context.Context, id string) (*download.Download, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+downloadColumns+` FROM downloads WHERE id = ?`, id)

	d, err := scanDownload(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get download: %w", err)
	}

	return d, nil
}

// List returns a page of downloads, newest first, and the total number of matching rows.
func (r *DownloadRepository) List(ctx context.Context, opts storage.ListOptions) ([]download.Download, int, error) {
	opts = opts.Normalize()

	where := ""
	args := []any{}

	if opts.Status != "" {
		where = " WHERE status = ?"
		args = append(args, string(opts.Status))
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM downloads`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count downloads: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+downloadColumns+` FROM downloads`+where+` ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`,
		append(args, opts.PageSize, opts.Offset())...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query downloads: %w", err)
	}
	defer rows.Close()

	downloads, err := collectDownloads(rows)
	if err != nil {
		return nil, 0, err
	}

	return downloads, total, nil
}

// ListActive returns every download in a non-terminal status, oldest first.
func (r *DownloadRepository) ListActive(ctx context.Context) ([]download.Download, error) {
	placeholders := make([]string, 0, len(download.ActiveStatuses))
	args := make([]any, 0, len(download.ActiveStatuses))

	for _, s := range download.ActiveStatuses {
		placeholders = append(placeholders, "?")
		args = append(args, string(s))
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+downloadColumns+` FROM downloads WHERE status IN (`+strings.Join(placeholders, ", ")+`) ORDER BY created_at ASC, rowid ASC`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query active downloads: %w", err)
	}
	defer rows.Close()

	return collectDownloads(rows)
}

func (r *DownloadRepository) UpdateStatus(ctx context.Context, id string, status download.Status, errorMessage string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE downloads SET status = ?, error_message = ?, updated_at = ? WHERE id = ? AND `+notTerminal,
		string(status), errorMessage, time.Now().UTC(), id,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update download status: %w", err)
	}

	return r.applied(ctx, res, id)
}

// UpdateProgress never lowers progress of a DOWNLOADING row and returns the stored value.
func (r *DownloadRepository) UpdateProgress(ctx context.Context, id string, u storage.ProgressUpdate) (int, bool, error) {
	var progress int

	err := r.db.QueryRowContext(ctx, `
UPDATE downloads SET
	progress = CASE WHEN status = 'DOWNLOADING' THEN MAX(progress, ?) ELSE ? END,
	downloaded_bytes = ?,
	eta = ?,
	size_bytes = COALESCE(?, size_bytes),
	updated_at = ?
WHERE id = ? AND `+notTerminal+`
RETURNING progress`,
		u.Progress,
		u.Progress,
		u.DownloadedBytes,
		nullInt64(u.ETA),
		nullInt64(u.SizeBytes),
		time.Now().UTC(),
		id,
	).Scan(&progress)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, r.exists(ctx, id)
	}

	if err != nil {
		return 0, false, fmt.Errorf("failed to update download progress: %w", err)
	}

	return progress, true, nil
}

func (r *DownloadRepository) SetHandle(ctx context.Context, id, handle string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE downloads SET engine_hash = ?, updated_at = ? WHERE id = ? AND engine_hash IS NULL`,
		strings.ToLower(handle), time.Now().UTC(), id,
	)
	if err != nil {
		return false, fmt.Errorf("failed to set engine handle: %w", err)
	}

	return r.applied(ctx, res, id)
}

func (r *DownloadRepository) SetMagnet(ctx context.Context, id, uri string) error {
	return r.setField(ctx, id, "magnet_uri", uri)
}

func (r *DownloadRepository) SetSavePath(ctx context.Context, id, path string) error {
	return r.setField(ctx, id, "save_path", path)
}

func (r *DownloadRepository) setField(ctx context.Context, id, column, value string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE downloads SET `+column+` = ?, updated_at = ? WHERE id = ?`,
		value, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to set %s: %w", column, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}

	if affected == 0 {
		return storage.ErrNotFound
	}

	return nil
}

// applied tells a guarded no-op apart from a missing row.
func (r *DownloadRepository) applied(ctx context.Context, res sql.Result, id string) (bool, error) {
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}

	if affected > 0 {
		return true, nil
	}

	return false, r.exists(ctx, id)
}

// exists returns storage.ErrNotFound when no row has id.
func (r *DownloadRepository) exists(ctx context.Context, id string) error {
	var exists int
	if err := r.db.QueryRowContext(ctx, `SELECT 1 FROM downloads WHERE id = ?`, id).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.ErrNotFound
		}

		return fmt.Errorf("failed to check download: %w", err)
	}

	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDownload(s scanner) (*download.Download, error) {
	var (
		d      download.Download
		status string
		eta    sql.NullInt64
		size   sql.NullInt64
		handle sql.NullString
	)

	err := s.Scan(
		&d.ID,
		&d.Name,
		&status,
		&d.Progress,
		&eta,
		&size,
		&d.DownloadedBytes,
		&d.SavePath,
		&d.Provider,
		&d.ResultID,
		&d.MagnetURI,
		&d.ErrorMessage,
		&handle,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	d.Status = download.Status(status)
	d.Handle = handle.String

	if eta.Valid {
		d.ETA = &eta.Int64
	}

	if size.Valid {
		d.SizeBytes = &size.Int64
	}

	return &d, nil
}

func collectDownloads(rows *sql.Rows) ([]download.Download, error) {
	downloads := []download.Download{}

	for rows.Next() {
		d, err := scanDownload(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan download: %w", err)
		}

		downloads = append(downloads, *d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate downloads: %w", err)
	}

	return downloads, nil
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}

	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}
