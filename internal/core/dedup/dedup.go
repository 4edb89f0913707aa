// Package dedup computes content fingerprints and checks them against the
// durable known-hash index so identical bytes are stored exactly once, no
// matter which upload path they arrive through.
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/clinovia/labpipe/internal/core"
	"github.com/clinovia/labpipe/internal/models"
)

// Fingerprint returns the hex SHA-256 digest of data. Deterministic and
// independent of file name or upload path.
func Fingerprint(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

type Engine struct {
	db core.DbClient
}

func NewEngine(db core.DbClient) *Engine {
	return &Engine{db: db}
}

// IsDuplicate reports whether hash is already recorded, returning the
// existing document when it is.
func (e *Engine) IsDuplicate(ctx context.Context, hash string) (*models.Document, bool, error) {
	doc, err := e.db.LookupHash(ctx, hash)
	if err != nil {
		return nil, false, err
	}
	return doc, doc != nil, nil
}

// Record claims hash for documentID. Returns false when a concurrent
// ingestion claimed it first; the caller is expected to compensate.
func (e *Engine) Record(ctx context.Context, hash, documentID string) (bool, error) {
	return e.db.RecordHash(ctx, hash, documentID)
}
