// Package worker drives pending Documents through the extraction fallback
// chain. Two dispatch modes coexist: an immediate channel fed right after a
// Document is created, and a periodic sweep that re-scans for pending rows
// (covering dropped dispatches and crash recovery).
package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/clinovia/labpipe/internal/core"
	"github.com/clinovia/labpipe/internal/metrics"
	"github.com/clinovia/labpipe/internal/models"
)

// Extractor is the slice of the fallback chain the worker needs.
type Extractor interface {
	Extract(ctx context.Context, fileURL, mimeType string) (*models.ExtractionResult, models.ExtractionProvider, error)
}

type Worker struct {
	db      core.DbClient
	chain   Extractor
	log     *zap.Logger
	metrics *metrics.Collector

	jobs       chan string
	sweepEvery time.Duration
	poolSize   int

	mu       sync.Mutex
	inflight map[string]struct{}
}

func New(db core.DbClient, chain Extractor, sweepEvery time.Duration, poolSize int, log *zap.Logger, mc *metrics.Collector) *Worker {
	if sweepEvery <= 0 {
		sweepEvery = 30 * time.Second
	}
	if poolSize <= 0 {
		poolSize = 4
	}
	return &Worker{
		db:         db,
		chain:      chain,
		log:        log,
		metrics:    mc,
		jobs:       make(chan string, 256),
		sweepEvery: sweepEvery,
		poolSize:   poolSize,
		inflight:   make(map[string]struct{}),
	}
}

// Start launches the consumer pool and the pending sweep. Both stop when
// ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	for i := 0; i < w.poolSize; i++ {
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case docID := <-w.jobs:
					if _, err := w.ProcessOne(ctx, docID); err != nil {
						w.log.Error("document processing failed",
							zap.String("document_id", docID),
							zap.Error(err),
						)
					}
				}
			}
		}()
	}

	go func() {
		ticker := time.NewTicker(w.sweepEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.sweep(ctx)
			}
		}
	}()
}

// Dispatch hands a document id to the pool without blocking the caller.
// If the queue is full the sweep picks the row up on its next pass.
func (w *Worker) Dispatch(documentID string) {
	select {
	case w.jobs <- documentID:
	default:
		w.log.Warn("dispatch queue full, deferring to sweep",
			zap.String("document_id", documentID))
	}
}

func (w *Worker) sweep(ctx context.Context) {
	docs, err := w.db.ListDocumentsByStatus(ctx, []models.ProcessingStatus{models.StatusPending}, 200)
	if err != nil {
		w.log.Error("pending sweep query failed", zap.Error(err))
		return
	}
	for _, d := range docs {
		w.Dispatch(d.ID)
	}
}

// claim serializes attempts per document id. Distinct documents run in
// parallel across the pool.
func (w *Worker) claim(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, busy := w.inflight[id]; busy {
		return false
	}
	w.inflight[id] = struct{}{}
	return true
}

func (w *Worker) release(id string) {
	w.mu.Lock()
	delete(w.inflight, id)
	w.mu.Unlock()
}

// ProcessOne runs one extraction attempt and writes the terminal status.
// Terminal writes are compare-and-swap on `processing`, so a cancel that
// landed mid-extraction wins and this attempt's result is dropped.
func (w *Worker) ProcessOne(ctx context.Context, docID string) (models.ProcessingStatus, error) {
	if !w.claim(docID) {
		return "", nil
	}
	defer w.release(docID)

	doc, err := w.db.GetDocumentByID(ctx, docID)
	if err != nil {
		return "", err
	}
	if doc == nil {
		w.log.Warn("dispatched document no longer exists", zap.String("document_id", docID))
		return "", nil
	}

	switch doc.ProcessingStatus {
	case models.StatusPending:
		ok, err := w.db.UpdateDocumentStatusIf(ctx, docID, models.StatusPending, models.StatusProcessing, "", "", nil)
		if err != nil {
			return "", err
		}
		if !ok {
			// Raced with a cancel or another dispatch path.
			return "", nil
		}
	case models.StatusProcessing:
		// Reprocess sets processing directly before dispatching.
	default:
		return "", nil
	}

	res, provider, extractErr := w.chain.Extract(ctx, doc.FileURL, doc.MimeType)

	now := time.Now()
	var (
		status  models.ProcessingStatus
		procErr string
	)
	switch {
	case extractErr != nil:
		status = models.StatusFailed
		procErr = extractErr.Error()
	case res.HasTestData():
		status = models.StatusCompleted
	default:
		status = models.StatusDiscarded
		procErr = "no test results found"
	}

	wrote, err := w.db.UpdateDocumentStatusIf(ctx, docID, models.StatusProcessing, status, procErr, provider, &now)
	if err != nil {
		return "", err
	}
	if !wrote {
		w.log.Info("terminal write superseded by cancellation",
			zap.String("document_id", docID),
			zap.String("dropped_status", string(status)),
		)
		return "", nil
	}

	if w.metrics != nil {
		w.metrics.ExtractionOutcomes.WithLabelValues(string(status), string(provider)).Inc()
	}
	w.log.Info("document processed",
		zap.String("document_id", docID),
		zap.String("status", string(status)),
		zap.String("provider", string(provider)),
	)
	return status, nil
}

// PendingStats aggregates a batch "process all pending" run.
type PendingStats struct {
	TotalProcessed int `json:"total_processed"`
	Completed      int `json:"completed"`
	Failed         int `json:"failed"`
	Discarded      int `json:"discarded"`
	Duplicate      int `json:"duplicate"`
}

// ProcessAllPending synchronously runs the extraction path over every
// currently-pending Document and returns aggregate counts.
func (w *Worker) ProcessAllPending(ctx context.Context) (*PendingStats, error) {
	docs, err := w.db.ListDocumentsByStatus(ctx, []models.ProcessingStatus{models.StatusPending}, 1000)
	if err != nil {
		return nil, err
	}

	stats := &PendingStats{}
	for _, d := range docs {
		status, err := w.ProcessOne(ctx, d.ID)
		if err != nil {
			w.log.Error("process-all-pending: document failed",
				zap.String("document_id", d.ID), zap.Error(err))
			continue
		}
		if status == "" {
			continue
		}
		stats.TotalProcessed++
		switch status {
		case models.StatusCompleted:
			stats.Completed++
		case models.StatusFailed:
			stats.Failed++
		case models.StatusDiscarded:
			stats.Discarded++
		}
	}
	return stats, nil
}
