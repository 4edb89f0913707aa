package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/clinovia/labpipe/internal/config"
	"github.com/clinovia/labpipe/internal/core"
	"github.com/clinovia/labpipe/internal/models"
)

type DatabaseClient struct {
	db *sql.DB
}

func NewDatabaseClient(ctx context.Context, cfg *config.Config) (core.DbClient, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database client configuration is nil")
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is empty")
	}

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// Sensible pool settings for an API service; adjust as needed.
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := EnsureBootstrapped(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	return &DatabaseClient{db: db}, nil
}

func (c *DatabaseClient) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

func (c *DatabaseClient) CreateDocument(ctx context.Context, doc *models.Document) error {
	if doc == nil {
		return errors.New("nil document")
	}
	const q = `
		INSERT INTO documents
			(id, uploaded_by, file_name, file_key, file_url, mime_type, file_size_bytes,
			 content_hash, processing_status, created_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, $9, COALESCE($10, now()))
	`
	_, err := c.db.ExecContext(ctx, q,
		doc.ID, doc.UploadedBy, doc.FileName, doc.FileKey, doc.FileURL, doc.MimeType,
		doc.FileSizeBytes, doc.ContentHash, doc.ProcessingStatus, doc.CreatedAt)
	return err
}

func (c *DatabaseClient) GetDocumentByID(ctx context.Context, id string) (*models.Document, error) {
	const q = `
		SELECT id, uploaded_by, file_name, file_key, file_url, mime_type, file_size_bytes,
		       content_hash, processing_status, COALESCE(processing_error, ''),
		       COALESCE(extraction_provider, ''), created_at, completed_at
		FROM documents
		WHERE id = $1
	`
	var d models.Document
	err := c.db.QueryRowContext(ctx, q, id).Scan(
		&d.ID, &d.UploadedBy, &d.FileName, &d.FileKey, &d.FileURL, &d.MimeType,
		&d.FileSizeBytes, &d.ContentHash, &d.ProcessingStatus, &d.ProcessingError,
		&d.ExtractionProvider, &d.CreatedAt, &d.CompletedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (c *DatabaseClient) ListDocumentsByStatus(ctx context.Context, statuses []models.ProcessingStatus, limit int) ([]models.Document, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	const q = `
		SELECT id, uploaded_by, file_name, file_key, file_url, mime_type, file_size_bytes,
		       content_hash, processing_status, COALESCE(processing_error, ''),
		       COALESCE(extraction_provider, ''), created_at, completed_at
		FROM documents
		WHERE processing_status = ANY($1)
		ORDER BY created_at ASC
		LIMIT $2
	`
	ss := make([]string, len(statuses))
	for i, s := range statuses {
		ss[i] = string(s)
	}
	rows, err := c.db.QueryContext(ctx, q, ss, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Document
	for rows.Next() {
		var d models.Document
		if err := rows.Scan(
			&d.ID, &d.UploadedBy, &d.FileName, &d.FileKey, &d.FileURL, &d.MimeType,
			&d.FileSizeBytes, &d.ContentHash, &d.ProcessingStatus, &d.ProcessingError,
			&d.ExtractionProvider, &d.CreatedAt, &d.CompletedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (c *DatabaseClient) DeleteDocument(ctx context.Context, id string) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, id)
	return err
}

// UpdateDocumentStatusIf performs the status write only when the row is still
// in `from`. This is the gate that makes cancellation authoritative: the
// worker's terminal write loses if a cancel already moved the row.
func (c *DatabaseClient) UpdateDocumentStatusIf(ctx context.Context, id string, from, to models.ProcessingStatus, procErr string, provider models.ExtractionProvider, completedAt *time.Time) (bool, error) {
	const q = `
		UPDATE documents
		SET processing_status = $3,
		    processing_error = NULLIF($4, ''),
		    extraction_provider = COALESCE(NULLIF($5, ''), extraction_provider),
		    completed_at = COALESCE($6, completed_at)
		WHERE id = $1 AND processing_status = $2
	`
	res, err := c.db.ExecContext(ctx, q, id, from, to, procErr, string(provider), completedAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (c *DatabaseClient) LookupHash(ctx context.Context, hash string) (*models.Document, error) {
	const q = `
		SELECT d.id, d.uploaded_by, d.file_name, d.file_key, d.file_url, d.mime_type,
		       d.file_size_bytes, d.content_hash, d.processing_status,
		       COALESCE(d.processing_error, ''), COALESCE(d.extraction_provider, ''),
		       d.created_at, d.completed_at
		FROM known_hashes h
		JOIN documents d ON d.id = h.document_id
		WHERE h.content_hash = $1
	`
	var d models.Document
	err := c.db.QueryRowContext(ctx, q, hash).Scan(
		&d.ID, &d.UploadedBy, &d.FileName, &d.FileKey, &d.FileURL, &d.MimeType,
		&d.FileSizeBytes, &d.ContentHash, &d.ProcessingStatus, &d.ProcessingError,
		&d.ExtractionProvider, &d.CreatedAt, &d.CompletedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (c *DatabaseClient) RecordHash(ctx context.Context, hash, documentID string) (bool, error) {
	const q = `
		INSERT INTO known_hashes (content_hash, document_id)
		VALUES ($1, $2)
		ON CONFLICT (content_hash) DO NOTHING
	`
	res, err := c.db.ExecContext(ctx, q, hash, documentID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (c *DatabaseClient) GetUploadToken(ctx context.Context, id string) (*models.UploadToken, error) {
	const q = `
		SELECT id, token_hash, label, owner_id, usage_count, created_at
		FROM upload_tokens
		WHERE id = $1
	`
	var t models.UploadToken
	err := c.db.QueryRowContext(ctx, q, id).Scan(
		&t.ID, &t.TokenHash, &t.Label, &t.OwnerID, &t.UsageCount, &t.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (c *DatabaseClient) IncrementUploadTokenUsage(ctx context.Context, id string) error {
	_, err := c.db.ExecContext(ctx, `UPDATE upload_tokens SET usage_count = usage_count + 1 WHERE id = $1`, id)
	return err
}
