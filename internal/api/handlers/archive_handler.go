package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/clinovia/labpipe/internal/core/archive"
	"github.com/clinovia/labpipe/internal/services"
)

// ArchiveHandler is the asynchronous large-archive surface: submit returns
// a job id immediately, progress is polled.
type ArchiveHandler struct {
	ingest *services.IngestService
	log    *zap.Logger
}

func NewArchiveHandler(ingest *services.IngestService, log *zap.Logger) *ArchiveHandler {
	return &ArchiveHandler{ingest: ingest, log: log}
}

func (h *ArchiveHandler) Submit(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "user_id not found in context")
		return
	}

	name, _, data, err := readFormFile(r, "file")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	job, err := h.ingest.SubmitArchiveJob(r.Context(), userID, name, data)
	if err != nil {
		if errors.Is(err, archive.ErrUnsupportedArchive) {
			writeError(w, http.StatusUnsupportedMediaType, err.Error())
			return
		}
		h.log.Error("archive job submit failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (h *ArchiveHandler) JobStatus(w http.ResponseWriter, r *http.Request) {
	job, err := h.ingest.ArchiveJob(chi.URLParam(r, "jobID"))
	if err != nil {
		if errors.Is(err, archive.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, job)
}
