package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/italolelis/downloadhub/internal/storage"
)

type AuditRepository struct {
	db *sql.DB
}

func NewAuditRepository(dbConn *sql.DB) *AuditRepository {
	return &AuditRepository{db: dbConn}
}

var _ storage.AuditRepository = (*AuditRepository)(nil)

func (r *AuditRepository) Create(ctx context.Context, e *storage.AuditEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}

	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	if e.Details == "" {
		e.Details = "{}"
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO audit_logs (id, user_id, action, details, ip_address, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.UserID, e.Action, e.Details, e.IPAddress, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}

	return nil
}

func (r *AuditRepository) List(ctx context.Context, opts storage.ListOptions) ([]storage.AuditEntry, int, error) {
	opts = opts.Normalize()

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_logs`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count audit entries: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `
SELECT id, user_id, action, details, ip_address, created_at FROM audit_logs
ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`,
		opts.PageSize, opts.Offset(),
	)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query audit entries: %w", err)
	}
	defer rows.Close()

	entries := []storage.AuditEntry{}

	for rows.Next() {
		var e storage.AuditEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Action, &e.Details, &e.IPAddress, &e.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("failed to scan audit entry: %w", err)
		}

		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate audit entries: %w", err)
	}

	return entries, total, nil
}
