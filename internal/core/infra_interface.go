package core

import (
	"context"
	"time"

	"github.com/clinovia/labpipe/internal/models"
)

// DbClient defines all persistence operations the pipeline needs.
// It abstracts Postgres so higher layers never depend on a specific DB.
type DbClient interface {
	CreateDocument(ctx context.Context, doc *models.Document) error
	GetDocumentByID(ctx context.Context, id string) (*models.Document, error)
	ListDocumentsByStatus(ctx context.Context, statuses []models.ProcessingStatus, limit int) ([]models.Document, error)
	DeleteDocument(ctx context.Context, id string) error

	// UpdateDocumentStatusIf writes the status only when the row is still in
	// `from` (compare-and-swap). Returns false when it was not. Error and
	// provider are optional: an empty provider leaves the column untouched,
	// an empty error clears it. completedAt is set for terminal statuses.
	UpdateDocumentStatusIf(ctx context.Context, id string, from, to models.ProcessingStatus, procErr string, provider models.ExtractionProvider, completedAt *time.Time) (bool, error)

	// LookupHash returns the document already recorded for this content hash,
	// or nil if the hash is unknown.
	LookupHash(ctx context.Context, hash string) (*models.Document, error)
	// RecordHash inserts hash -> documentID; returns false when another
	// ingestion recorded the hash first.
	RecordHash(ctx context.Context, hash, documentID string) (bool, error)

	GetUploadToken(ctx context.Context, id string) (*models.UploadToken, error)
	IncrementUploadTokenUsage(ctx context.Context, id string) error

	Close() error
}

// ObjectClient defines interactions with S3 or any object storage.
type ObjectClient interface {
	UploadFile(ctx context.Context, bucket, key string, data []byte, contentType string) (url string, err error)
	DeleteFile(ctx context.Context, bucket, key string) error
	GetFile(ctx context.Context, bucket, key string) ([]byte, error)
}

// ExtractionProvider turns a stored report (by URL) into structured fields.
// One implementation per backend.
type ExtractionProvider interface {
	Name() models.ExtractionProvider
	Extract(ctx context.Context, fileURL, mimeType string) (*models.ExtractionResult, error)
}

// Dispatcher is what ingestion paths use to hand a freshly created Document
// to the background worker without blocking the request.
type Dispatcher interface {
	Dispatch(documentID string)
}
