package handlers

import (
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/clinovia/labpipe/internal/services"
)

const maxUploadMemory = 64 << 20 // 64 MB

type UploadHandler struct {
	ingest *services.IngestService
	tokens *services.TokenService
	log    *zap.Logger
}

func NewUploadHandler(ingest *services.IngestService, tokens *services.TokenService, log *zap.Logger) *UploadHandler {
	return &UploadHandler{ingest: ingest, tokens: tokens, log: log}
}

// UploadSingle accepts one file and responds as soon as it is durably
// stored; extraction continues in the background.
func (h *UploadHandler) UploadSingle(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "user_id not found in context")
		return
	}

	name, mime, data, err := readFormFile(r, "file")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res := h.ingest.IngestFile(r.Context(), userID, name, mime, data)
	writeFileResult(w, res)
}

// UploadBulk accepts multiple files under the "files" field; a failure in
// one file never aborts the batch.
func (h *UploadHandler) UploadBulk(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "user_id not found in context")
		return
	}

	files, err := readFormFiles(r, "files")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result := h.ingest.IngestBatch(r.Context(), userID, files)
	writeJSON(w, http.StatusOK, result)
}

// UploadArchive processes a small archive synchronously and returns the
// per-entry results.
func (h *UploadHandler) UploadArchive(w http.ResponseWriter, r *http.Request) {
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

	result, err := h.ingest.IngestArchiveSync(r.Context(), userID, name, data)
	if err != nil {
		writeArchiveError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// QuickUpload is the token-authenticated path for unauthenticated clients
// (clinic scanners, fax bridges). The bearer token is a permanent,
// usage-counted record; files land under the token owner's account.
func (h *UploadHandler) QuickUpload(w http.ResponseWriter, r *http.Request) {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		writeError(w, http.StatusUnauthorized, "missing upload token")
		return
	}

	token, err := h.tokens.Validate(r.Context(), strings.TrimPrefix(auth, "Bearer "))
	if err != nil {
		if errors.Is(err, services.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "invalid upload token")
			return
		}
		h.log.Error("token validation failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "token validation failed")
		return
	}

	files, err := readFormFiles(r, "files")
	if err != nil || len(files) == 0 {
		writeError(w, http.StatusBadRequest, "no files provided")
		return
	}

	result := h.ingest.IngestBatch(r.Context(), token.OwnerID, files)
	writeJSON(w, http.StatusOK, result)
}

func writeFileResult(w http.ResponseWriter, res services.FileResult) {
	switch res.Status {
	case "error":
		if res.Error == services.ErrInvalidFileType.Error() {
			writeJSON(w, http.StatusUnsupportedMediaType, res)
			return
		}
		writeJSON(w, http.StatusInternalServerError, res)
	default:
		writeJSON(w, http.StatusAccepted, res)
	}
}

func writeArchiveError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrArchiveTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, err.Error())
	default:
		writeError(w, http.StatusBadRequest, err.Error())
	}
}

func readFormFile(r *http.Request, field string) (name, mime string, data []byte, err error) {
	if err = r.ParseMultipartForm(maxUploadMemory); err != nil {
		return "", "", nil, errors.New("invalid multipart form")
	}
	file, header, err := r.FormFile(field)
	if err != nil {
		return "", "", nil, errors.New("invalid file")
	}
	defer file.Close()

	data, err = io.ReadAll(file)
	if err != nil {
		return "", "", nil, errors.New("read file")
	}
	// Strip any path components the client sent along.
	return filepath.Base(header.Filename), header.Header.Get("Content-Type"), data, nil
}

func readFormFiles(r *http.Request, field string) ([]services.UploadFile, error) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		return nil, errors.New("invalid multipart form")
	}
	if r.MultipartForm == nil {
		return nil, errors.New("no files provided")
	}

	var out []services.UploadFile
	for _, header := range r.MultipartForm.File[field] {
		f, err := header.Open()
		if err != nil {
			return nil, errors.New("invalid file")
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, errors.New("read file")
		}
		out = append(out, services.UploadFile{
			Name: filepath.Base(header.Filename),
			Mime: header.Header.Get("Content-Type"),
			Data: data,
		})
	}
	if len(out) == 0 {
		return nil, errors.New("no files provided")
	}
	return out, nil
}
