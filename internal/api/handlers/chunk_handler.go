package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/clinovia/labpipe/internal/core/archive"
	"github.com/clinovia/labpipe/internal/core/chunkstore"
	"github.com/clinovia/labpipe/internal/services"
)

// ChunkHandler exposes the chunked-upload protocol: init, add, finalize,
// status, abort. Finalize feeds the reassembled bytes into the same
// ingestion path as a direct upload.
type ChunkHandler struct {
	chunks *chunkstore.Manager
	ingest *services.IngestService
	log    *zap.Logger
}

func NewChunkHandler(chunks *chunkstore.Manager, ingest *services.IngestService, log *zap.Logger) *ChunkHandler {
	return &ChunkHandler{chunks: chunks, ingest: ingest, log: log}
}

type chunkInitRequest struct {
	SessionID      string `json:"session_id"`
	FileName       string `json:"file_name"`
	TotalChunks    int    `json:"total_chunks"`
	TotalSizeBytes int64  `json:"total_size_bytes"`
}

func (h *ChunkHandler) Init(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "user_id not found in context")
		return
	}

	var req chunkInitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionID == "" || req.FileName == "" || req.TotalChunks < 1 {
		writeError(w, http.StatusBadRequest, "session_id, file_name and total_chunks are required")
		return
	}

	if err := h.chunks.Init(req.SessionID, req.FileName, req.TotalChunks, req.TotalSizeBytes, userID); err != nil {
		if errors.Is(err, chunkstore.ErrSessionExists) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"session_id": req.SessionID})
}

// AddChunk stores one piece; the index comes from the query string and the
// raw bytes from the body, so clients don't pay multipart overhead per chunk.
func (h *ChunkHandler) AddChunk(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	index, err := strconv.Atoi(r.URL.Query().Get("index"))
	if err != nil || index < 0 {
		writeError(w, http.StatusBadRequest, "index query parameter required")
		return
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "read chunk body")
		return
	}

	status, err := h.chunks.AddChunk(sessionID, index, data)
	if err != nil {
		if errors.Is(err, chunkstore.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// Finalize reassembles the upload and hands it to ingestion. Archives go to
// the background job path (chunking is how a large archive arrives); single
// files go straight through IngestFile. The session is cleaned up on
// success; on a protocol violation it stays so the client can retransmit
// the missing pieces.
func (h *ChunkHandler) Finalize(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	data, fileName, ownerID, err := h.chunks.Finalize(sessionID)
	if err != nil {
		var missing *chunkstore.MissingChunkError
		switch {
		case errors.Is(err, chunkstore.ErrSessionNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, chunkstore.ErrSessionIncomplete), errors.As(err, &missing):
			writeError(w, http.StatusConflict, err.Error())
		default:
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}

	if archive.IsArchive(fileName) {
		job, err := h.ingest.SubmitArchiveJob(r.Context(), ownerID, fileName, data)
		if err != nil {
			h.log.Error("finalized archive submit failed",
				zap.String("session_id", sessionID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		h.chunks.Cleanup(sessionID)
		writeJSON(w, http.StatusAccepted, job)
		return
	}

	res := h.ingest.IngestFile(r.Context(), ownerID, fileName, "", data)
	h.chunks.Cleanup(sessionID)
	writeFileResult(w, res)
}

func (h *ChunkHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.chunks.Status(chi.URLParam(r, "sessionID")))
}

// Abort drops a session regardless of its state. Idempotent.
func (h *ChunkHandler) Abort(w http.ResponseWriter, r *http.Request) {
	h.chunks.Cleanup(chi.URLParam(r, "sessionID"))
	w.WriteHeader(http.StatusNoContent)
}
