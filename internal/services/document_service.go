package services

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/clinovia/labpipe/internal/core"
	"github.com/clinovia/labpipe/internal/models"
)

var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrCannotCancel     = errors.New("document already reached a terminal state")
	ErrCannotReprocess  = errors.New("document is not in a reprocessable state")
)

const cancelledReason = "cancelled"

// DocumentService exposes the manual lifecycle operations: reprocess and
// cancel, single and batch. Only the worker ever sets a terminal status
// through extraction; these are the user-triggered transitions.
type DocumentService struct {
	db         core.DbClient
	dispatcher core.Dispatcher
	log        *zap.Logger
}

func NewDocumentService(db core.DbClient, dispatcher core.Dispatcher, log *zap.Logger) *DocumentService {
	return &DocumentService{db: db, dispatcher: dispatcher, log: log}
}

func (s *DocumentService) Get(ctx context.Context, id string) (*models.Document, error) {
	doc, err := s.db.GetDocumentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, ErrDocumentNotFound
	}
	return doc, nil
}

// Reprocess moves a failed or discarded document back to processing,
// clearing its error, and hands it to the worker.
func (s *DocumentService) Reprocess(ctx context.Context, id string) error {
	for _, from := range []models.ProcessingStatus{models.StatusFailed, models.StatusDiscarded} {
		ok, err := s.db.UpdateDocumentStatusIf(ctx, id, from, models.StatusProcessing, "", "", nil)
		if err != nil {
			return err
		}
		if ok {
			s.log.Info("document queued for reprocessing", zap.String("document_id", id))
			s.dispatcher.Dispatch(id)
			return nil
		}
	}

	doc, err := s.db.GetDocumentByID(ctx, id)
	if err != nil {
		return err
	}
	if doc == nil {
		return ErrDocumentNotFound
	}
	return ErrCannotReprocess
}

// ReprocessBatch reprocesses up to limit documents currently in any of the
// given statuses (only failed/discarded are eligible). Returns how many
// were queued.
func (s *DocumentService) ReprocessBatch(ctx context.Context, statuses []models.ProcessingStatus, limit int) (int, error) {
	var eligible []models.ProcessingStatus
	for _, st := range statuses {
		if st == models.StatusFailed || st == models.StatusDiscarded {
			eligible = append(eligible, st)
		}
	}
	if len(eligible) == 0 {
		return 0, nil
	}

	docs, err := s.db.ListDocumentsByStatus(ctx, eligible, limit)
	if err != nil {
		return 0, err
	}

	var queued int
	for _, d := range docs {
		if err := s.Reprocess(ctx, d.ID); err != nil {
			s.log.Warn("batch reprocess skipped document",
				zap.String("document_id", d.ID), zap.Error(err))
			continue
		}
		queued++
	}
	return queued, nil
}

// Cancel flips a pending or processing document to discarded with reason
// "cancelled". The CAS write is what makes cancellation authoritative over
// an in-flight extraction: the worker's later terminal write finds the row
// no longer in processing and drops its result.
func (s *DocumentService) Cancel(ctx context.Context, id string) error {
	now := time.Now()
	for _, from := range []models.ProcessingStatus{models.StatusPending, models.StatusProcessing} {
		ok, err := s.db.UpdateDocumentStatusIf(ctx, id, from, models.StatusDiscarded, cancelledReason, "", &now)
		if err != nil {
			return err
		}
		if ok {
			s.log.Info("document cancelled", zap.String("document_id", id))
			return nil
		}
	}

	doc, err := s.db.GetDocumentByID(ctx, id)
	if err != nil {
		return err
	}
	if doc == nil {
		return ErrDocumentNotFound
	}
	return ErrCannotCancel
}

// CancelResult reports one id's outcome in a batch cancel.
type CancelResult struct {
	DocumentID string `json:"document_id"`
	Cancelled  bool   `json:"cancelled"`
	Error      string `json:"error,omitempty"`
}

// CancelBatch cancels each id independently; one terminal document never
// aborts the rest.
func (s *DocumentService) CancelBatch(ctx context.Context, ids []string) []CancelResult {
	out := make([]CancelResult, 0, len(ids))
	for _, id := range ids {
		r := CancelResult{DocumentID: id}
		if err := s.Cancel(ctx, id); err != nil {
			r.Error = err.Error()
		} else {
			r.Cancelled = true
		}
		out = append(out, r)
	}
	return out
}
