package handlers

import (
	"encoding/json"
	"net/http"

	middleware "github.com/clinovia/labpipe/internal/api/middlewares"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func userIDFrom(r *http.Request) (string, bool) {
	return middleware.UserIDFrom(r.Context())
}
