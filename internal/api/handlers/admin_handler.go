package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/clinovia/labpipe/internal/core/worker"
	"github.com/clinovia/labpipe/internal/models"
	"github.com/clinovia/labpipe/internal/services"
)

// AdminHandler exposes the operational endpoints: reprocess, cancel and
// the batch "process all pending" sweep.
type AdminHandler struct {
	docs   *services.DocumentService
	worker *worker.Worker
	log    *zap.Logger
}

func NewAdminHandler(docs *services.DocumentService, w *worker.Worker, log *zap.Logger) *AdminHandler {
	return &AdminHandler{docs: docs, worker: w, log: log}
}

func (h *AdminHandler) GetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := h.docs.Get(r.Context(), chi.URLParam(r, "documentID"))
	if err != nil {
		if errors.Is(err, services.ErrDocumentNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *AdminHandler) Reprocess(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "documentID")
	if err := h.docs.Reprocess(r.Context(), id); err != nil {
		switch {
		case errors.Is(err, services.ErrDocumentNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, services.ErrCannotReprocess):
			writeError(w, http.StatusConflict, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"document_id": id, "status": string(models.StatusProcessing)})
}

type reprocessBatchRequest struct {
	Statuses []string `json:"statuses"`
	Limit    int      `json:"limit"`
}

func (h *AdminHandler) ReprocessBatch(w http.ResponseWriter, r *http.Request) {
	var req reprocessBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	statuses := make([]models.ProcessingStatus, 0, len(req.Statuses))
	for _, s := range req.Statuses {
		if !models.ValidStatus(s) {
			writeError(w, http.StatusBadRequest, "unknown status: "+s)
			return
		}
		statuses = append(statuses, models.ProcessingStatus(s))
	}

	queued, err := h.docs.ReprocessBatch(r.Context(), statuses, req.Limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]int{"queued": queued})
}

func (h *AdminHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "documentID")
	if err := h.docs.Cancel(r.Context(), id); err != nil {
		switch {
		case errors.Is(err, services.ErrDocumentNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, services.ErrCannotCancel):
			writeError(w, http.StatusConflict, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"document_id": id, "status": string(models.StatusDiscarded)})
}

type cancelBatchRequest struct {
	DocumentIDs []string `json:"document_ids"`
}

func (h *AdminHandler) CancelBatch(w http.ResponseWriter, r *http.Request) {
	var req cancelBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.DocumentIDs) == 0 {
		writeError(w, http.StatusBadRequest, "document_ids required")
		return
	}
	writeJSON(w, http.StatusOK, h.docs.CancelBatch(r.Context(), req.DocumentIDs))
}

// ProcessPending synchronously runs every pending document through the
// extraction path and returns aggregate counts.
func (h *AdminHandler) ProcessPending(w http.ResponseWriter, r *http.Request) {
	stats, err := h.worker.ProcessAllPending(r.Context())
	if err != nil {
		h.log.Error("process-all-pending failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
